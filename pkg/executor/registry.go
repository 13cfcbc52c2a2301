package executor

import (
	"os"
	"sync"
)

// handle tracks one running job process. done is closed when the supervising
// goroutine observes process exit.
type handle struct {
	process *os.Process
	done    chan struct{}

	mu        sync.Mutex
	cancelled bool
}

func (h *handle) markCancelled() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
}

func (h *handle) wasCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// Registry is the single piece of cross-goroutine mutable state in the
// executor: job ID to running-process handle. It is an owned object injected
// into the Executor so tests can construct isolated instances. The lock is
// never held across a blocking wait.
type Registry struct {
	mu   sync.Mutex
	jobs map[int]*handle
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[int]*handle)}
}

func (r *Registry) add(jobID int, h *handle) {
	r.mu.Lock()
	r.jobs[jobID] = h
	r.mu.Unlock()
}

func (r *Registry) remove(jobID int) {
	r.mu.Lock()
	delete(r.jobs, jobID)
	r.mu.Unlock()
}

func (r *Registry) get(jobID int) (*handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.jobs[jobID]
	return h, ok
}

// IDs returns the IDs of all currently tracked jobs.
func (r *Registry) IDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of currently tracked jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
