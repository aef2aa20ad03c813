package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/qualys/compliance-console/internal/dashboard"
)

var ErrJobNotFound = errors.New("job not found")

// Job is a recurring console action.
type Job struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	JobType  JobType    `json:"job_type"`
	Enabled  bool       `json:"enabled"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	NextRun  *time.Time `json:"next_run,omitempty"`
}

type JobType string

const (
	JobTypeScan           JobType = "scan"
	JobTypeGenerateReport JobType = "generate_report"
)

type JobExecution struct {
	ID        string          `json:"id"`
	JobID     string          `json:"job_id"`
	Status    ExecutionStatus `json:"status"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Error     string          `json:"error,omitempty"`
	Output    string          `json:"output,omitempty"`
}

type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// JobHandler runs one job and returns a short description of the outcome.
type JobHandler func(ctx context.Context, job *Job) (string, error)

type Scheduler struct {
	cron     *cron.Cron
	history  *History
	handlers map[JobType]JobHandler
	jobs     map[string]*Job
	entries  map[string]cron.EntryID
	mu       sync.RWMutex
	logger   *slog.Logger
	now      func() time.Time
	execSeq  atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cron.NewParser(
				cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
			)),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		history:  NewHistory(defaultHistorySize),
		handlers: make(map[JobType]JobHandler),
		jobs:     make(map[string]*Job),
		entries:  make(map[string]cron.EntryID),
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Scheduler) RegisterHandler(jobType JobType, handler JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobType] = handler
}

// AddJob registers job and schedules it when enabled.
func (s *Scheduler) AddJob(job *Job) error {
	if job.ID == "" {
		job.ID = job.Name
	}
	if job.ID == "" {
		return errors.New("job name is required")
	}

	s.mu.Lock()
	if _, dup := s.jobs[job.ID]; dup {
		s.mu.Unlock()
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	s.mu.Unlock()

	if job.Enabled {
		if err := s.scheduleJob(job); err != nil {
			s.mu.Lock()
			delete(s.jobs, job.ID)
			s.mu.Unlock()
			return err
		}
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs_count", len(s.ListJobs()))
}

// Stop halts scheduling, cancels running jobs and waits for them.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// ListJobs returns copies of the registered jobs.
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		j := *job
		if entryID, ok := s.entries[job.ID]; ok {
			if next := s.cron.Entry(entryID).Next; !next.IsZero() {
				j.NextRun = &next
			}
		}
		jobs = append(jobs, j)
	}
	sortJobs(jobs)
	return jobs
}

func (s *Scheduler) Executions(jobID string, limit int) []JobExecution {
	return s.history.List(jobID, limit)
}

// RunJobNow executes a job outside its schedule and waits for it.
func (s *Scheduler) RunJobNow(ctx context.Context, id string) (*JobExecution, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	exec := s.executeJob(ctx, job)
	return &exec, nil
}

func (s *Scheduler) scheduleJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[job.ID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, job.ID)
	}

	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		s.executeJob(s.ctx, job)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	s.entries[job.ID] = entryID

	s.logger.Info("scheduled job",
		"job_id", job.ID,
		"job_type", job.JobType,
		"schedule", job.Schedule)

	return nil
}

func (s *Scheduler) executeJob(ctx context.Context, job *Job) JobExecution {
	startTime := s.now()

	exec := JobExecution{
		ID:        fmt.Sprintf("exec-%d-%d", startTime.UnixNano(), s.execSeq.Add(1)),
		JobID:     job.ID,
		Status:    StatusRunning,
		StartedAt: startTime,
	}
	s.history.Add(exec)

	s.logger.Info("executing job",
		"job_id", job.ID,
		"job_type", job.JobType,
		"execution_id", exec.ID)

	s.mu.RLock()
	handler, ok := s.handlers[job.JobType]
	s.mu.RUnlock()

	var output string
	var err error
	if !ok {
		err = fmt.Errorf("no handler registered for job type: %s", job.JobType)
	} else {
		output, err = handler(ctx, job)
	}

	endTime := s.now()
	exec.EndedAt = &endTime
	exec.Output = output

	if err != nil {
		exec.Status = StatusFailed
		exec.Error = err.Error()
		s.logger.Error("job execution failed",
			"job_id", job.ID,
			"error", err,
			"duration", endTime.Sub(startTime))
	} else {
		exec.Status = StatusCompleted
		s.logger.Info("job execution completed",
			"job_id", job.ID,
			"duration", endTime.Sub(startTime))
	}

	s.history.Update(exec)

	s.mu.Lock()
	job.LastRun = &startTime
	s.mu.Unlock()

	return exec
}

// ActionHandlers binds the job types to a headless console app.
func ActionHandlers(s *Scheduler, app *dashboard.App) {
	run := func(action func(context.Context) dashboard.ActionResult) JobHandler {
		return func(ctx context.Context, job *Job) (string, error) {
			res := action(ctx)
			// The headless app has no one to show notifications to.
			app.Render()
			if !res.OK {
				return res.Message, res.Err
			}
			return res.Message, nil
		}
	}

	s.RegisterHandler(JobTypeScan, run(app.RunScan))
	s.RegisterHandler(JobTypeGenerateReport, run(app.GenerateReport))
}
