package webbrowse

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/zoernert/vsi-sub004/config"
)

const browserUserAgent = "vsi-research-agent/1.0 (+https://github.com/zoernert/vsi-sub004)"

// jsSettleDelay gives client-side rendering a moment to finish when the
// caller asked to wait for JavaScript.
const jsSettleDelay = 2 * time.Second

// ChromeNavigator drives Chrome through the DevTools protocol. With a remote
// URL configured it attaches to the browser-automation service; otherwise it
// launches a local headless instance per call.
type ChromeNavigator struct {
	remoteURL string
	headless  bool
}

func NewChromeNavigator(cfg config.BrowserConfig) *ChromeNavigator {
	return &ChromeNavigator{remoteURL: cfg.RemoteURL, headless: cfg.Headless}
}

// browserContext builds the chromedp context chain for one command.
func (n *ChromeNavigator) browserContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.remoteURL != "" {
		actx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, n.remoteURL)
		bctx, cancelBrowser := chromedp.NewContext(actx)
		return bctx, func() {
			cancelBrowser()
			cancelAlloc()
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", n.headless),
		chromedp.UserAgent(browserUserAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	bctx, cancelBrowser := chromedp.NewContext(actx)
	return bctx, func() {
		cancelBrowser()
		cancelAlloc()
	}
}

func (n *ChromeNavigator) Navigate(ctx context.Context, url string, waitForJS bool) (string, error) {
	bctx, cancel := n.browserContext(ctx)
	defer cancel()

	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if waitForJS {
		actions = append(actions, chromedp.Sleep(jsSettleDelay))
	}
	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(bctx, actions...); err != nil {
		return "", err
	}
	return html, nil
}

func (n *ChromeNavigator) Screenshot(ctx context.Context, url string) ([]byte, error) {
	bctx, cancel := n.browserContext(ctx)
	defer cancel()

	var buf []byte
	err := chromedp.Run(bctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.FullScreenshot(&buf, 90),
	)
	if err != nil {
		return nil, err
	}
	return buf, nil
}
