package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/promtior/rag-assistant/internal/store"
)

const ingestLockKey = "ingest:lock"

// Scheduler re-runs the ingest pipeline on the configured cron schedule
// so answers track the source websites. The redis lock keeps multiple
// replicas from ingesting at the same time.
type Scheduler struct {
	Store    *store.Store
	Ingester Ingester
	Sources  []string
	Schedule string // cron spec, @daily or @hourly
	Rdb      *redis.Client
	Cache    *AnswerCache
	Metrics  *Metrics
	Logger   *log.Logger
	Stop     chan struct{}

	RefreshIndex func(ctx context.Context) error
}

func (s *Scheduler) Start() {
	if s.Schedule == "" {
		return
	}
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	last, err := s.Store.LatestIngestTime(ctx)
	if err != nil {
		s.Logger.Printf("read last ingest time: %v", err)
		return
	}
	if !isDue(s.Schedule, last) {
		return
	}

	if s.Rdb != nil {
		ok, _ := s.Rdb.SetNX(ctx, ingestLockKey, "1", 10*time.Minute).Result()
		if !ok {
			return
		}
		defer s.Rdb.Del(ctx, ingestLockKey)
	}

	s.Logger.Printf("scheduled ingest starting")
	if _, err := s.Ingester.Run(ctx, s.Sources); err != nil {
		if s.Metrics != nil {
			s.Metrics.IngestRuns.WithLabelValues("failed").Inc()
		}
		s.Logger.Printf("scheduled ingest failed: %v", err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.IngestRuns.WithLabelValues("succeeded").Inc()
	}
	s.Cache.Flush(ctx)
	if s.RefreshIndex != nil {
		if err := s.RefreshIndex(ctx); err != nil {
			s.Logger.Printf("refresh keyword index: %v", err)
		}
	}
}

// isDue determines whether the schedule should fire now given the last
// successful run. Supports "@daily", "@hourly" and standard 5-field cron
// expressions; an unparsable spec falls back to @daily.
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
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
