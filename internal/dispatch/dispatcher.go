// Package dispatch implements the Dispatcher: the atomic
// reserve -> send -> await -> release unit of work that is the heart
// of the orchestrator core.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/partarstu/agentic-qa-framework/internal/agentrpc"
	"github.com/partarstu/agentic-qa-framework/internal/history"
	"github.com/partarstu/agentic-qa-framework/internal/logging"
	"github.com/partarstu/agentic-qa-framework/internal/model"
	"github.com/partarstu/agentic-qa-framework/internal/orcherr"
	"github.com/partarstu/agentic-qa-framework/internal/recovery"
	"github.com/partarstu/agentic-qa-framework/internal/registry"
	"github.com/partarstu/agentic-qa-framework/internal/router"
)

const (
	initialBackoff = 2 * time.Second
	backoffFactor  = 1.5
	maxBackoff     = 30 * time.Second
)

// Transport is the southbound RPC surface the Dispatcher drives.
// agentrpc.Client satisfies it; tests substitute a stub.
type Transport interface {
	SendMessage(ctx context.Context, baseURL string, payload any) (<-chan agentrpc.Event, error)
}

// Dispatcher drives one dispatch attempt at a time per call; concurrent
// calls against different agents proceed in parallel.
type Dispatcher struct {
	reg      *registry.Registry
	rtr      *router.Router
	rpc      Transport
	tasks    *history.TaskHistory
	errs     *history.ErrorHistory
	recovery chan<- recovery.Entry
	timeout  time.Duration

	selectionMu sync.Mutex
}

// New constructs a Dispatcher. recoveryCh is the multi-producer,
// single-consumer channel the Recovery Loop drains.
func New(reg *registry.Registry, rtr *router.Router, rpc Transport, tasks *history.TaskHistory,
	errs *history.ErrorHistory, recoveryCh chan<- recovery.Entry, taskTimeout time.Duration) *Dispatcher {
	return &Dispatcher{reg: reg, rtr: rtr, rpc: rpc, tasks: tasks, errs: errs, recovery: recoveryCh, timeout: taskTimeout}
}

// Dispatch runs one complete dispatch attempt for taskDescription,
// carrying payload as the outgoing message body. The agent is chosen by
// the Router from the full AVAILABLE set.
func (d *Dispatcher) Dispatch(ctx context.Context, payload any, taskDescription string) (model.TaskRecord, error) {
	if d.reg.Size() == 0 {
		return model.TaskRecord{}, d.record(orcherr.New(orcherr.KindNoAgents, "no agents registered"), "", "")
	}

	agentID, card, err := d.reserve(ctx, taskDescription)
	if err != nil {
		return model.TaskRecord{}, d.record(err, "", agentID)
	}

	return d.run(ctx, agentID, card, payload, taskDescription)
}

// DispatchToAgent runs one complete dispatch attempt against a specific,
// already-selected agent rather than consulting the Router. It is used
// by the worker-pool scheduler, which has already
// matched agentID to a capability label and only needs the atomic
// reserve -> send -> await -> release machinery.
func (d *Dispatcher) DispatchToAgent(ctx context.Context, agentID string, payload any, taskDescription string) (model.TaskRecord, error) {
	card, ok := d.reg.Reserve(agentID)
	if !ok {
		return model.TaskRecord{}, d.record(orcherr.New(orcherr.KindNoneSuitable, "agent is no longer available"), "", agentID)
	}
	return d.run(ctx, agentID, card, payload, taskDescription)
}

// run drives the stream once an agent has already been reserved
// shared by Dispatch and DispatchToAgent.
func (d *Dispatcher) run(ctx context.Context, agentID string, card model.AgentCard, payload any, taskDescription string) (model.TaskRecord, error) {
	taskID := uuid.NewString()
	rec := model.TaskRecord{
		TaskID:      taskID,
		AgentID:     agentID,
		AgentName:   card.Name,
		Description: taskDescription,
		Status:      model.TaskRunning,
		StartTime:   time.Now(),
	}
	d.tasks.Add(rec)
	d.reg.SetCurrentTask(agentID, taskID)

	ctxTimeout, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	events, err := d.rpc.SendMessage(ctxTimeout, card.URL, payload)
	if err != nil {
		return d.finalizeTransport(agentID, taskID, err)
	}

	var lastRemoteTaskID string
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return d.finalizeProtocol(agentID, taskID, fmt.Errorf("stream ended before a terminal task state"))
			}
			switch e.Kind {
			case agentrpc.EventProgress:
				logging.Infof("task %s progress: %s", taskID, e.Progress)
			case agentrpc.EventError:
				return d.finalizeProtocol(agentID, taskID, e.Err)
			case agentrpc.EventTask:
				lastRemoteTaskID = e.Task.TaskID
				if e.Task.State.IsTerminal() {
					return d.finalizeSuccess(agentID, taskID, e.Task)
				}
			}
		case <-ctxTimeout.Done():
			return d.finalizeTimeout(agentID, taskID, lastRemoteTaskID)
		}
	}
}

// reserve is the wait-and-reserve loop, run
// under a selection lock distinct from the registry lock.
func (d *Dispatcher) reserve(ctx context.Context, taskDescription string) (string, model.AgentCard, error) {
	deadline := time.Now().Add(d.timeout)
	backoff := initialBackoff

	for {
		d.selectionMu.Lock()
		available := d.reg.GetAvailableAgents()
		if len(available) == 0 {
			d.selectionMu.Unlock()
			if time.Now().After(deadline) {
				return "", model.AgentCard{}, orcherr.New(orcherr.KindReservationTimeout,
					"no agent became available before the reservation deadline")
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", model.AgentCard{}, ctx.Err()
			}
			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		id, err := d.rtr.SelectOne(ctx, taskDescription)
		if err != nil {
			d.selectionMu.Unlock()
			return "", model.AgentCard{}, err
		}
		if id == "" {
			d.selectionMu.Unlock()
			return "", model.AgentCard{}, orcherr.New(orcherr.KindNoneSuitable, "no suitable agent for task")
		}

		card, ok := d.reg.Reserve(id)
		d.selectionMu.Unlock()
		if ok {
			return id, card, nil
		}
		// The oracle's answer went stale between selection and the
		// under-lock re-check (another dispatch won the race); retry.
	}
}

func (d *Dispatcher) finalizeSuccess(agentID, taskID string, snap model.TaskSnapshot) (model.TaskRecord, error) {
	text, agentLogs, otherFiles := firstTextAndLogs(snap.Artifacts)
	status := model.TaskCompleted
	errMsg := ""
	if snap.State != model.TaskStateCompleted {
		status = model.TaskFailed
		errMsg = fmt.Sprintf("remote task ended in state %s", snap.State)
	}

	var final model.TaskRecord
	d.tasks.Update(taskID, func(r model.TaskRecord) model.TaskRecord {
		r.Status = status
		r.EndTime = time.Now()
		r.AgentLogs = agentLogs
		r.ErrorMessage = errMsg
		r.Files = otherFiles
		r.ResultText = text
		final = r
		return r
	})

	d.reg.UpdateStatus(agentID, model.StatusAvailable, "", "")

	if status == model.TaskFailed {
		return final, d.record(orcherr.New(orcherr.KindProtocolError,
			"agent returned a terminal failed/rejected state with no transport error"), taskID, agentID)
	}
	return final, nil
}

// finalizeProtocol handles a JSON-RPC error envelope or a stream that
// ended before a terminal state: the task fails but the agent's
// confidence is untouched, it stays AVAILABLE.
func (d *Dispatcher) finalizeProtocol(agentID, taskID string, cause error) (model.TaskRecord, error) {
	d.finalizeFailed(taskID, cause)
	d.reg.UpdateStatus(agentID, model.StatusAvailable, "", "")
	wrapped := orcherr.Wrap(orcherr.KindProtocolError, "agent protocol error", cause)
	return model.TaskRecord{}, d.record(wrapped, taskID, agentID)
}

// finalizeTimeout handles a per-event or overall deadline elapsing:
// the agent is demoted to BROKEN(TASK_STUCK) and enqueued for
// recovery.
func (d *Dispatcher) finalizeTimeout(agentID, taskID, stuckTaskID string) (model.TaskRecord, error) {
	d.finalizeFailed(taskID, fmt.Errorf("task execution timed out"))
	d.reg.UpdateStatus(agentID, model.StatusBroken, model.BrokenReasonTaskStuck, stuckTaskID)
	d.enqueueRecovery(agentID)
	return model.TaskRecord{}, d.record(orcherr.New(orcherr.KindTimedOut, "task execution timed out"), taskID, agentID)
}

// finalizeTransport handles any other exception finalising the RPC
// (connection refused, mid-stream reset, etc): the agent is demoted
// to BROKEN(OFFLINE) and enqueued for recovery.
func (d *Dispatcher) finalizeTransport(agentID, taskID string, cause error) (model.TaskRecord, error) {
	d.finalizeFailed(taskID, cause)
	d.reg.UpdateStatus(agentID, model.StatusBroken, model.BrokenReasonOffline, "")
	d.enqueueRecovery(agentID)
	wrapped := orcherr.Wrap(orcherr.KindAgentCrashed, "agent transport failure", cause)
	return model.TaskRecord{}, d.record(wrapped, taskID, agentID)
}

func (d *Dispatcher) finalizeFailed(taskID string, cause error) {
	d.tasks.Update(taskID, func(r model.TaskRecord) model.TaskRecord {
		r.Status = model.TaskFailed
		r.EndTime = time.Now()
		r.ErrorMessage = cause.Error()
		return r
	})
}

func (d *Dispatcher) enqueueRecovery(agentID string) {
	select {
	case d.recovery <- recovery.Entry{AgentID: agentID, EnqueuedAt: time.Now()}:
	default:
		logging.Warnf("recovery channel full, dropping enqueue for agent %s", agentID)
	}
}

// record appends an ErrorRecord for any surfaced error, and returns
// err unchanged so callers can `return x, d.record(err, ...)`.
func (d *Dispatcher) record(err error, taskID, agentID string) error {
	oe, _ := orcherr.As(err)
	msg := err.Error()
	if oe != nil {
		msg = string(oe.Kind) + ": " + oe.Message
	}
	d.errs.Add(model.ErrorRecord{
		Message: msg,
		TaskID:  taskID,
		AgentID: agentID,
		Module:  "dispatch",
	})
	return err
}
