// Package pool implements the Manager Pool: an index-keyed reconciler that
// compares an incoming data vector against the live set of task.Manager
// instances and performs create/update/destroy operations per slot.
package pool

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/gappylul/eirenewatch/internal/task"
)

// Pool maps slot index to task.Manager and reconciles that map against
// successive (config, data[]) vectors.
type Pool struct {
	template *task.TaskTemplate
	log      *zap.SugaredLogger

	managers map[int]*task.Manager
}

// New creates a Pool sharing template across every manager it creates.
func New(template *task.TaskTemplate, log *zap.SugaredLogger) *Pool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pool{
		template: template,
		log:      log,
		managers: make(map[int]*task.Manager),
	}
}

// Trigger reconciles the pool against data. Slots present in data but absent
// from the pool get a new manager created and updated; slots present in
// both get updated; slots absent from data but present in the pool get torn
// down and removed. Indices are processed in ascending order, sequentially:
// no operation on slot i+1 starts before the one on slot i completes.
//
// Any error escaping the reconciliation loop is caught and logged; the pool
// remains usable.
func (p *Pool) Trigger(ctx context.Context, config any, data []any) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("pool: reconciliation panicked", "panic", fmt.Sprintf("%v", r))
		}
	}()

	n := len(data)
	if m := p.maxManagerIndex(); m+1 > n {
		n = m + 1
	}

	for i := 0; i < n; i++ {
		var d any
		defined := i < len(data)
		if defined {
			d = data[i]
		}

		mgr, exists := p.managers[i]

		if !defined {
			if exists {
				mgr.Teardown(ctx)
				delete(p.managers, i)
			}
			continue
		}

		if !exists {
			mgr = task.NewManager(p.template, fmt.Sprintf("%d", i))
			p.managers[i] = mgr
		}
		if err := mgr.Update(ctx, config, d); err != nil {
			p.log.Errorw("pool: update failed", "slot", i, "error", err)
		}
	}
}

// Teardown tears down every manager still held by the pool: for each, it
// first awaits the active task's completion (swallowing errors), then
// invokes Teardown. After Teardown returns, every previously-held manager
// has had Teardown called exactly once.
func (p *Pool) Teardown(ctx context.Context) {
	indices := make([]int, 0, len(p.managers))
	for i := range p.managers {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	for _, i := range indices {
		mgr := p.managers[i]
		mgr.AwaitActive()
		mgr.Teardown(ctx)
		delete(p.managers, i)
	}
}

// Len reports how many managers the pool currently holds.
func (p *Pool) Len() int { return len(p.managers) }

func (p *Pool) maxManagerIndex() int {
	max := -1
	for i := range p.managers {
		if i > max {
			max = i
		}
	}
	return max
}
