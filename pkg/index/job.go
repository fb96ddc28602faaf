package index

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus reports the current or most recent index build.
type JobStatus struct {
	ID       string    `json:"id,omitempty"`
	Running  bool      `json:"running"`
	Mode     string    `json:"mode,omitempty"`
	Files    []string  `json:"files,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	Chunks   int       `json:"chunks"`
	Started  time.Time `json:"started,omitempty"`
	Finished time.Time `json:"finished,omitempty"`
}

// JobStore serializes index builds process-wide: a second trigger
// while one is running is rejected, not queued.
type JobStore struct {
	mu      sync.Mutex
	running bool
	last    JobStatus
}

func NewJobStore() *JobStore { return &JobStore{} }

// TryStart claims the single build slot. Returns the job ID and true
// on success, or "" and false when a build is already running.
func (s *JobStore) TryStart(mode string, files []string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return "", false
	}
	s.running = true
	s.last = JobStatus{
		ID:      uuid.NewString(),
		Running: true,
		Mode:    mode,
		Files:   files,
		Started: time.Now(),
	}
	return s.last.ID, true
}

// Finish releases the slot and records the outcome.
func (s *JobStore) Finish(chunks int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.last.Running = false
	s.last.Finished = time.Now()
	s.last.Chunks = chunks
	if err != nil {
		s.last.Error = err.Error()
	} else {
		s.last.OK = true
	}
}

// Status returns a copy of the latest job record.
func (s *JobStore) Status() JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
