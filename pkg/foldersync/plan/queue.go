package plan

import (
	"path"
	"sort"

	"github.com/gammazero/toposort"
	"gitlab.com/tozd/go/errors"

	"github.com/arthur-debert/foldersync/pkg/foldersync/core"
)

// Queue holds operations and orders them so that every operation runs after
// the ones it depends on:
//   - a Delete runs before anything created at the same path,
//   - a Delete runs before anything beneath the deleted path,
//   - a CreateDirectory runs before anything created beneath it.
//
// After Resolve, deletions come first and the remaining operations keep a
// dependency-respecting order.
type Queue struct {
	ops      []core.Operation
	idIndex  map[core.OperationID]int
	resolved bool
	warnings []*core.EntryError
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		idIndex: make(map[core.OperationID]int),
	}
}

// Add appends operations to the queue. Duplicate IDs are rejected.
func (q *Queue) Add(ops ...core.Operation) error {
	for _, op := range ops {
		if op.ID == "" {
			return errors.Errorf("operation %s has no id", op)
		}
		if _, exists := q.idIndex[op.ID]; exists {
			return errors.Errorf("operation with ID '%s' already exists in the queue", op.ID)
		}
		q.idIndex[op.ID] = len(q.ops)
		q.ops = append(q.ops, op)
		q.resolved = false
	}
	return nil
}

// Len returns the number of queued operations.
func (q *Queue) Len() int {
	return len(q.ops)
}

// Operations returns a copy of the queued operations, in resolved order once
// Resolve has been called.
func (q *Queue) Operations() []core.Operation {
	out := make([]core.Operation, len(q.ops))
	copy(out, q.ops)
	return out
}

// Warnings lists the entries the planner had to leave out of this plan.
func (q *Queue) Warnings() []*core.EntryError {
	return append([]*core.EntryError(nil), q.warnings...)
}

// Resolve orders the queue using a topological sort over path dependencies.
func (q *Queue) Resolve() error {
	if q.resolved || len(q.ops) == 0 {
		q.resolved = true
		return nil
	}

	sortedIDs, err := toposort.Toposort(q.edges())
	if err != nil {
		return errors.Errorf("circular dependency detected: %w", err)
	}

	resolved := make([]core.Operation, 0, len(q.ops))
	placed := make(map[core.OperationID]bool, len(q.ops))
	for _, idInterface := range sortedIDs {
		idStr, ok := idInterface.(string)
		if !ok {
			return errors.Errorf("unexpected type in topological sort result: %T", idInterface)
		}
		id := core.OperationID(idStr)
		if idx, exists := q.idIndex[id]; exists && !placed[id] {
			resolved = append(resolved, q.ops[idx])
			placed[id] = true
		}
	}
	// operations with no dependencies and no dependents keep their queue order
	for _, op := range q.ops {
		if !placed[op.ID] {
			resolved = append(resolved, op)
			placed[op.ID] = true
		}
	}

	// Every edge starts at a Delete or points between creates, so moving all
	// deletions to the front keeps the order valid.
	sort.SliceStable(resolved, func(i, j int) bool {
		return resolved[i].Type == core.OpDelete && resolved[j].Type != core.OpDelete
	})

	q.ops = resolved
	q.idIndex = make(map[core.OperationID]int, len(resolved))
	for i, op := range resolved {
		q.idIndex[op.ID] = i
	}
	q.resolved = true
	return nil
}

// Dependencies returns the IDs op must wait for.
func (q *Queue) Dependencies(op core.Operation) []core.OperationID {
	deletes, mkdirs := q.pathIndex()
	return dependenciesOf(op, deletes, mkdirs)
}

func (q *Queue) pathIndex() (deletes, mkdirs map[string]core.OperationID) {
	deletes = make(map[string]core.OperationID)
	mkdirs = make(map[string]core.OperationID)
	for _, op := range q.ops {
		switch op.Type {
		case core.OpDelete:
			deletes[op.Path] = op.ID
		case core.OpCreateDirectory:
			mkdirs[op.Path] = op.ID
		}
	}
	return deletes, mkdirs
}

func (q *Queue) edges() []toposort.Edge {
	deletes, mkdirs := q.pathIndex()
	var edges []toposort.Edge
	for _, op := range q.ops {
		for _, dep := range dependenciesOf(op, deletes, mkdirs) {
			// dependency must come first
			edges = append(edges, toposort.Edge{string(dep), string(op.ID)})
		}
	}
	return edges
}

func dependenciesOf(op core.Operation, deletes, mkdirs map[string]core.OperationID) []core.OperationID {
	var deps []core.OperationID
	isCreate := op.Type != core.OpDelete

	if isCreate {
		if id, ok := deletes[op.Path]; ok {
			deps = append(deps, id)
		}
	}
	for dir := path.Dir(op.Path); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if id, ok := deletes[dir]; ok {
			deps = append(deps, id)
		}
		if isCreate {
			if id, ok := mkdirs[dir]; ok {
				deps = append(deps, id)
			}
		}
	}
	return deps
}
