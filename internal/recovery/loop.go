// Package recovery implements the background loop that walks BROKEN
// agents back to AVAILABLE. Every decision this loop makes is
// serialised through one channel consumer. Discovery separately
// restores a BROKEN(OFFLINE) agent it finds reachable again, outside
// this loop.
package recovery

import (
	"context"
	"time"

	"github.com/partarstu/agentic-qa-framework/internal/agentrpc"
	"github.com/partarstu/agentic-qa-framework/internal/logging"
	"github.com/partarstu/agentic-qa-framework/internal/model"
	"github.com/partarstu/agentic-qa-framework/internal/registry"
)

const (
	// giveUpAfter is the ceiling past which a recovery entry is
	// abandoned rather than retried forever.
	giveUpAfter = 24 * time.Hour
	// requeueBackoff is constant, not exponential: a steady retry
	// cadence is the simplest behavior that still bounds load on a
	// flaky agent.
	requeueBackoff = 60 * time.Second
)

// Transport is the subset of agentrpc.Client the recovery loop drives.
type Transport interface {
	Probe(ctx context.Context, baseURL string) error
	CancelTask(ctx context.Context, baseURL, taskID string) (agentrpc.Event, error)
}

// Loop drains a channel of recovery Entry values and attempts to bring
// each agent back to AVAILABLE.
type Loop struct {
	reg *registry.Registry
	rpc Transport
	ch  chan Entry
}

// NewLoop constructs a Loop. bufSize sizes the internal channel the
// Dispatcher enqueues onto and this loop re-enqueues onto after a
// backoff; Channel returns it for wiring into Dispatcher.New.
func NewLoop(reg *registry.Registry, rpc Transport, bufSize int) *Loop {
	return &Loop{reg: reg, rpc: rpc, ch: make(chan Entry, bufSize)}
}

// Channel returns the channel the Dispatcher enqueues recovery.Entry
// values onto.
func (l *Loop) Channel() chan Entry { return l.ch }

// Run drains the recovery channel until ctx is cancelled. It is meant
// to be started once, in its own goroutine, at process startup.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-l.ch:
			l.handle(ctx, e)
		}
	}
}

func (l *Loop) handle(ctx context.Context, e Entry) {
	if time.Since(e.EnqueuedAt) > giveUpAfter {
		logging.Warnf("recovery: giving up on agent %s after %s", e.AgentID, giveUpAfter)
		return
	}

	snap, ok := l.reg.Get(e.AgentID)
	if !ok {
		return
	}
	if snap.Status != model.StatusBroken {
		// Already recovered (or removed and re-registered) by another path.
		return
	}

	switch snap.Context.BrokenReason {
	case model.BrokenReasonOffline:
		l.recoverOffline(ctx, e, snap)
	case model.BrokenReasonTaskStuck:
		l.recoverTaskStuck(ctx, e, snap)
	default:
		logging.Warnf("recovery: agent %s broken with no reason set, probing anyway", e.AgentID)
		l.recoverOffline(ctx, e, snap)
	}
}

func (l *Loop) recoverOffline(ctx context.Context, e Entry, snap model.AgentSnapshot) {
	if err := l.rpc.Probe(ctx, snap.Card.URL); err == nil {
		l.reg.UpdateStatus(e.AgentID, model.StatusAvailable, "", "")
		logging.Infof("recovery: agent %s back online", e.AgentID)
		return
	}
	l.requeue(e)
}

func (l *Loop) recoverTaskStuck(ctx context.Context, e Entry, snap model.AgentSnapshot) {
	event, cancelErr := l.rpc.CancelTask(ctx, snap.Card.URL, snap.Context.StuckTaskID)
	if cancelErr == nil && event.Task.State == model.TaskStateCanceled {
		l.reg.UpdateStatus(e.AgentID, model.StatusAvailable, "", "")
		logging.Infof("recovery: agent %s acknowledged cancel, restored to available", e.AgentID)
		return
	}
	if cancelErr == nil {
		logging.Warnf("recovery: agent %s responded to cancel with state %s, not treating as recovered",
			e.AgentID, event.Task.State)
	}

	// The agent didn't acknowledge the cancel; fall back to a plain
	// reachability check before giving up on this round.
	if probeErr := l.rpc.Probe(ctx, snap.Card.URL); probeErr == nil {
		l.reg.UpdateStatus(e.AgentID, model.StatusAvailable, "", "")
		logging.Infof("recovery: agent %s reachable though cancel was not acked, restored to available", e.AgentID)
		return
	}

	l.reg.UpdateStatus(e.AgentID, model.StatusBroken, model.BrokenReasonOffline, "")
	l.requeue(e)
}

func (l *Loop) requeue(e Entry) {
	go func() {
		time.Sleep(requeueBackoff)
		select {
		case l.ch <- e:
		default:
			logging.Warnf("recovery: channel full, dropping re-enqueue for agent %s", e.AgentID)
		}
	}()
}
