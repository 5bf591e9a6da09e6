// Package workerpool implements the worker-pool scheduler: one FIFO
// queue per capability label, one worker goroutine per agent in that
// label's pool, tail-requeue on a worker's dispatch failure, and a
// synthesized error result when the last surviving worker in a pool
// dies. The queue is a slice guarded by a mutex and drained by one
// goroutine per matched agent, which polls registry status instead of
// blocking on a semaphore.
package workerpool

import (
	"context"
	"sync"
	"time"

	"github.com/partarstu/agentic-qa-framework/internal/logging"
	"github.com/partarstu/agentic-qa-framework/internal/model"
)

// statusPollInterval is the brief sleep a worker takes when its agent is
// BUSY or the queue is momentarily empty but other dispatches are still
// in flight.
const statusPollInterval = 20 * time.Millisecond

// Item is one unit of work enqueued onto a label's pool.
type Item struct {
	ID          string
	Description string
	Payload     any
}

// Result is the outcome of one item after the pool has run to
// completion: either a TaskRecord from a successful dispatch, or a
// synthesized error result preserving the agent name and last error
// when no worker survived to retry the item.
type Result struct {
	ItemID     string
	AgentID    string
	AgentName  string
	TaskRecord model.TaskRecord
	Err        error
}

// Registry is the subset of registry.Registry a worker needs.
type Registry interface {
	Get(id string) (model.AgentSnapshot, bool)
}

// Dispatcher is the subset of dispatch.Dispatcher a worker drives:
// single-item execution against an already-selected agent.
type Dispatcher interface {
	DispatchToAgent(ctx context.Context, agentID string, payload any, taskDescription string) (model.TaskRecord, error)
}

type pool struct {
	mu       sync.Mutex
	queue    []Item
	inFlight int
	exited   map[string]bool
	results  []Result
}

// Run drains items across one worker per id in agentIDs. It blocks
// until the queue has drained and every worker has exited, then
// returns every item's Result in completion order.
func Run(ctx context.Context, reg Registry, disp Dispatcher, agentIDs []string, items []Item) []Result {
	p := &pool{
		queue:  append([]Item(nil), items...),
		exited: make(map[string]bool, len(agentIDs)),
	}
	for _, id := range agentIDs {
		p.exited[id] = false
	}

	var wg sync.WaitGroup
	for _, id := range agentIDs {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			p.workerLoop(ctx, reg, disp, agentID)
		}(id)
	}
	wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results
}

func (p *pool) workerLoop(ctx context.Context, reg Registry, disp Dispatcher, agentID string) {
	for {
		select {
		case <-ctx.Done():
			p.markExited(agentID)
			return
		default:
		}

		snap, ok := reg.Get(agentID)
		if !ok || snap.Status == model.StatusBroken {
			p.markExited(agentID)
			return
		}
		if snap.Status == model.StatusBusy {
			time.Sleep(statusPollInterval)
			continue
		}

		item, ok := p.popFront()
		if !ok {
			if p.drainedAndIdle() {
				p.markExited(agentID)
				return
			}
			time.Sleep(statusPollInterval)
			continue
		}

		p.beginDispatch()
		rec, err := disp.DispatchToAgent(ctx, agentID, item.Payload, item.Description)

		// inFlight stays incremented until the requeue/finalize decision
		// below has landed the item somewhere (queue or results), so a
		// sibling worker's drainedAndIdle check never sees a gap where
		// the item is counted nowhere.
		if err != nil {
			if p.othersAlive(agentID) {
				logging.Warnf("workerpool: agent %s failed item %s, requeuing for a surviving worker", agentID, item.ID)
				p.pushBack(item)
				p.endDispatch()
				p.markExited(agentID)
				return
			}
			logging.Warnf("workerpool: agent %s was the last surviving worker, synthesizing error result for item %s", agentID, item.ID)
			p.appendResult(Result{ItemID: item.ID, AgentID: agentID, AgentName: snap.Card.Name, TaskRecord: rec, Err: err})
			p.endDispatch()
			p.markExited(agentID)
			return
		}

		p.appendResult(Result{ItemID: item.ID, AgentID: agentID, AgentName: snap.Card.Name, TaskRecord: rec})
		p.endDispatch()
	}
}

func (p *pool) popFront() (Item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return Item{}, false
	}
	item := p.queue[0]
	p.queue = p.queue[1:]
	return item, true
}

// pushBack re-queues a failed item at the tail. This is intentional,
// to avoid a hot-loop retry on a poisoned item against the same set of
// candidate agents.
func (p *pool) pushBack(item Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, item)
}

func (p *pool) beginDispatch() {
	p.mu.Lock()
	p.inFlight++
	p.mu.Unlock()
}

func (p *pool) endDispatch() {
	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
}

func (p *pool) drainedAndIdle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) == 0 && p.inFlight == 0
}

func (p *pool) markExited(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited[agentID] = true
}

func (p *pool) othersAlive(agentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, exited := range p.exited {
		if id != agentID && !exited {
			return true
		}
	}
	return false
}

func (p *pool) appendResult(r Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, r)
}
