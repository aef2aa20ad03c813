package scheduler

import (
	"sort"
	"sync"
)

const defaultHistorySize = 200

// History keeps the most recent executions in memory, newest last.
type History struct {
	mu    sync.Mutex
	size  int
	execs []JobExecution
}

func NewHistory(size int) *History {
	return &History{size: size}
}

func (h *History) Add(exec JobExecution) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.execs = append(h.execs, exec)
	if over := len(h.execs) - h.size; over > 0 {
		h.execs = append([]JobExecution(nil), h.execs[over:]...)
	}
}

// Update replaces the execution with the same ID, if still retained.
func (h *History) Update(exec JobExecution) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.execs) - 1; i >= 0; i-- {
		if h.execs[i].ID == exec.ID {
			h.execs[i] = exec
			return
		}
	}
}

// List returns up to limit executions, newest first. An empty jobID
// matches every job.
func (h *History) List(jobID string, limit int) []JobExecution {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]JobExecution, 0)
	for i := len(h.execs) - 1; i >= 0; i-- {
		if jobID != "" && h.execs[i].JobID != jobID {
			continue
		}
		out = append(out, h.execs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func sortJobs(jobs []Job) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].ID < jobs[j].ID
	})
}
