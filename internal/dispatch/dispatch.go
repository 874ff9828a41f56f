// Package dispatch hands jobs to judging workers and collects what they
// send back.
package dispatch

import (
	"context"
	"sync"

	"github.com/programme-lv/evalcore/api"
)

// Dispatcher queues a job request for a worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, req api.JobRequest) error
}

// Memory keeps dispatched requests in order. It serves tests and dry runs.
type Memory struct {
	mu   sync.Mutex
	reqs []api.JobRequest
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Dispatch(ctx context.Context, req api.JobRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	return nil
}

// Drain returns the queued requests and empties the queue.
func (m *Memory) Drain() []api.JobRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	reqs := m.reqs
	m.reqs = nil
	return reqs
}
