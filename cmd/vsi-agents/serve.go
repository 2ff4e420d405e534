package main

import (
	"github.com/spf13/cobra"

	"github.com/zoernert/vsi-sub004/config"
	srv "github.com/zoernert/vsi-sub004/internal/server"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if serveAddr == "" {
				serveAddr = getenv("VSI_HTTP_ADDR", "")
			}
			s, err := srv.New(cfg)
			if err != nil {
				return err
			}
			return s.Run(serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serve.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}
