// Package broadcast implements the one-to-many send over all currently
// subscribed users.
//
// Per-recipient failures never abort the run: the engine attempts every
// recipient and returns a Report of what happened. Two broadcasts may run
// concurrently (timer-fired and admin-fired); duplicate delivery in that
// window is accepted, the in-flight counter makes overlap visible in logs.
package broadcast

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"signalbot/internal/transport"
	"signalbot/pkg/logx"
)

// Lister is the slice of the store the engine needs.
type Lister interface {
	ListSubscribedIDs(ctx context.Context) ([]int64, error)
}

// Report summarizes one broadcast run. Total == Sent + Failed once the run
// has finished.
type Report struct {
	Total  int
	Sent   int
	Failed int
	Took   time.Duration
}

func (r Report) String() string {
	return fmt.Sprintf("sent %d/%d (failed %d) in %s", r.Sent, r.Total, r.Failed, r.Took.Round(time.Millisecond))
}

type Engine struct {
	store  Lister
	sender transport.Sender
	log    logx.Logger

	inflight atomic.Int64
}

func New(store Lister, sender transport.Sender, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{store: store, sender: sender, log: log}
}

// Broadcast sends text to every currently subscribed user, one at a time.
// It returns an error only when the subscriber list cannot be read; send
// failures are logged per recipient and counted in the Report.
func (e *Engine) Broadcast(ctx context.Context, text string) (Report, error) {
	start := time.Now()

	n := e.inflight.Add(1)
	defer e.inflight.Add(-1)
	if n > 1 {
		e.log.Warn("overlapping broadcasts", logx.Int64("in_flight", n))
	}

	ids, err := e.store.ListSubscribedIDs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list subscribers: %w", err)
	}

	rep := Report{Total: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			// Process shutdown mid-run; remaining recipients are skipped.
			rep.Failed += rep.Total - rep.Sent - rep.Failed
			break
		}
		if _, err := e.sender.SendText(ctx, id, text, nil); err != nil {
			rep.Failed++
			e.log.Warn("broadcast send failed", logx.Int64("user", id), logx.Err(err))
			continue
		}
		rep.Sent++
	}
	rep.Took = time.Since(start)

	e.log.Info("broadcast finished",
		logx.Int("total", rep.Total),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Took))
	return rep, nil
}

// InFlight reports how many broadcasts are currently running.
func (e *Engine) InFlight() int64 { return e.inflight.Load() }
