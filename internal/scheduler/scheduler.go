// Package scheduler fires the periodic sample-signal broadcast.
//
// The trigger is a cron @every entry owned by the process lifecycle: Start
// and Stop are explicit, and RunNow fires one cycle synchronously so tests
// never wait on a wall clock. Cron runs each firing in its own goroutine, so
// a fire while a previous broadcast is still running is possible; the
// broadcast engine tolerates that.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"signalbot/pkg/logx"
)

const DefaultSampleText = "Sample signal: BTC/USDT — BUY"

type Config struct {
	Interval   time.Duration
	SampleText string
}

// Job is the broadcast hook invoked on every cycle.
type Job func(ctx context.Context, text string)

type Service struct {
	mu  sync.Mutex
	cfg Config
	job Job
	log logx.Logger

	c      *cron.Cron
	entry  cron.EntryID
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, job Job, log logx.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.SampleText == "" {
		cfg.SampleText = DefaultSampleText
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, job: job, log: log}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.c = cron.New()
	id, err := s.c.AddFunc(everySpec(s.cfg.Interval), s.fire)
	if err != nil {
		s.c = nil
		s.cancel()
		return fmt.Errorf("schedule broadcast: %w", err)
	}
	s.entry = id
	s.c.Start()
	s.log.Info("periodic broadcast scheduled", logx.Duration("interval", s.cfg.Interval))
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		// Stop returns a context that is done once running jobs finish.
		<-c.Stop().Done()
		s.log.Info("periodic broadcast stopped")
	}
}

// Apply updates interval and sample text at runtime, rescheduling the cron
// entry only when the interval actually changed.
func (s *Service) Apply(cfg Config) error {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.SampleText == "" {
		cfg.SampleText = DefaultSampleText
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := cfg.Interval != s.cfg.Interval
	s.cfg = cfg
	if !changed || s.c == nil {
		return nil
	}

	s.c.Remove(s.entry)
	id, err := s.c.AddFunc(everySpec(cfg.Interval), s.fire)
	if err != nil {
		return fmt.Errorf("reschedule broadcast: %w", err)
	}
	s.entry = id
	s.log.Info("broadcast interval changed", logx.Duration("interval", cfg.Interval))
	return nil
}

// RunNow fires one cycle synchronously.
func (s *Service) RunNow(ctx context.Context) {
	s.mu.Lock()
	job := s.job
	text := s.cfg.SampleText
	s.mu.Unlock()
	if job != nil {
		job(ctx, text)
	}
}

func (s *Service) fire() {
	s.mu.Lock()
	job := s.job
	text := s.cfg.SampleText
	ctx := s.ctx
	s.mu.Unlock()
	if job == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	job(ctx, text)
}

func everySpec(d time.Duration) string {
	return "@every " + d.String()
}
