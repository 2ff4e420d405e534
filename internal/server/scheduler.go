package server

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/zoernert/vsi-sub004/config"
	"github.com/zoernert/vsi-sub004/internal/agent"
)

const schedulerRunTimeout = 10 * time.Minute

// Scheduler refreshes standing research queries on a cron schedule. Redis is
// used for a dedupe lock when several instances share a backend; with the
// in-memory backend the lock is skipped.
type Scheduler struct {
	cfg      config.ResearchConfig
	pipeline *agent.Pipeline
	rdb      *redis.Client
	logger   *log.Logger
	stop     chan struct{}

	mu      sync.Mutex
	lastRun map[string]time.Time
}

func NewScheduler(cfg config.ResearchConfig, pipeline *agent.Pipeline, rdb *redis.Client, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	return &Scheduler{
		cfg:      cfg,
		pipeline: pipeline,
		rdb:      rdb,
		logger:   logger,
		stop:     make(chan struct{}),
		lastRun:  map[string]time.Time{},
	}
}

func (s *Scheduler) Start() {
	s.logger.Printf("scheduling %d standing queries (%s)", len(s.cfg.Queries), s.cfg.RefreshCron)
	ticker := time.NewTicker(1 * time.Minute)
	go func() {
		for {
			select {
			case <-s.stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) Shutdown() {
	close(s.stop)
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	for _, query := range s.cfg.Queries {
		id := queryID(query)
		if !isDue(s.cfg.RefreshCron, s.last(id)) {
			continue
		}

		// distributed lock to avoid duplicate runs; expires on its own
		if s.rdb != nil {
			lockKey := "sched:lock:" + id
			ok, _ := s.rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if !ok {
				continue
			}
		}
		s.markRun(id)

		go func(query string) {
			// jitter to avoid stampedes
			time.Sleep(time.Duration(250+int64(time.Now().UnixNano()%250)) * time.Millisecond)
			runCtx, cancel := context.WithTimeout(context.Background(), schedulerRunTimeout)
			defer cancel()
			result, err := s.pipeline.Run(runCtx, query)
			if err != nil {
				s.logger.Printf("scheduled run for %q failed: %v", query, err)
				return
			}
			s.logger.Printf("scheduled run %s for %q: %d sources, %d themes",
				result.RunID, query, result.Analysis.SourcesAnalyzed, len(result.Analysis.Themes))
		}(query)
	}
}

func (s *Scheduler) last(id string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.lastRun[id]; ok {
		return &t
	}
	return nil
}

func (s *Scheduler) markRun(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[id] = time.Now()
}

func queryID(query string) string {
	sum := sha1.Sum([]byte(query))
	return hex.EncodeToString(sum[:6])
}

// isDue determines whether a query on cronSpec should run now given its last
// run time. Supports "@daily", "@hourly", and standard 5-field cron
// expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// Fallback: treat as @daily if invalid
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			// never run, due now
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
