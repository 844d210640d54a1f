package gosocketcluster

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

type callResult struct {
	data json.RawMessage
	err  error
}

// callRegistry correlates outstanding requests with their responses.
// Each pending slot is resolved at most once, by resolve or closeAll.
type callRegistry struct {
	lastID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan callResult
	err     error
}

func newCallRegistry() *callRegistry {
	return &callRegistry{
		pending: make(map[int64]chan callResult),
	}
}

// nextID returns a fresh call id. Ids start at 1 and are never reused.
func (r *callRegistry) nextID() int64 {
	return r.lastID.Add(1)
}

func (r *callRegistry) register(id int64) (<-chan callResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	if _, ok := r.pending[id]; ok {
		return nil, errors.Errorf("call %d already pending", id)
	}

	slot := make(chan callResult, 1)
	r.pending[id] = slot
	return slot, nil
}

func (r *callRegistry) resolve(id int64, result callResult) error {
	r.mu.Lock()
	slot, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()

	if !ok {
		return ErrUnknownCall
	}

	slot <- result
	return nil
}

// evict drops a slot without resolving it
func (r *callRegistry) evict(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.pending[id]
	delete(r.pending, id)
	return ok
}

// closeAll fails every pending slot with err and rejects later registrations
func (r *callRegistry) closeAll(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.err = err
	for id, slot := range r.pending {
		slot <- callResult{err: err}
		delete(r.pending, id)
	}
}

func (r *callRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
