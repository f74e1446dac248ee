// Package replay re-transmits recorded gateway traffic over UDP with
// the original or a configured pacing.
package replay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-replay/replay-server/internal/models"
)

// Engine errors
var (
	ErrJobNotFound     = errors.New("replay job not found")
	ErrJobNotRunning   = errors.New("replay job is not running")
	ErrJobNotResumable = errors.New("replay job cannot be resumed")
	ErrNoEntries       = errors.New("no sendable entries")
)

// Options bounds replay jobs
type Options struct {
	DefaultDelay time.Duration
	MaxDelay     time.Duration

	// JobTTL is how long finished jobs stay queryable
	JobTTL time.Duration
}

// Engine owns replay jobs. Each job sends on its own UDP socket from
// its own goroutine; the engine only tracks and controls them.
type Engine struct {
	opts      Options
	publisher Publisher

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewEngine creates a replay engine
func NewEngine(opts Options, publisher Publisher) *Engine {
	if opts.DefaultDelay <= 0 {
		opts.DefaultDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = time.Minute
	}
	if opts.JobTTL <= 0 {
		opts.JobTTL = time.Hour
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Engine{
		opts:      opts,
		publisher: publisher,
		jobs:      make(map[string]*Job),
	}
}

// Job is one replay run over a fixed entry sequence. All fields
// behind mu; read through Result.
type Job struct {
	ID string

	mu       sync.Mutex
	entries  []*models.LogEntry
	target   string
	delay    time.Duration
	status   models.ReplayStatus
	cursor   int
	sent     int
	errors   int
	lines    []models.ReplayLogLine
	failure  string
	cancel   context.CancelFunc
	done     chan struct{}
	finished time.Time
}

// Result snapshots the job state
func (j *Job) Result() models.ReplayResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	lines := make([]models.ReplayLogLine, len(j.lines))
	copy(lines, j.lines)
	return models.ReplayResult{
		JobID:   j.ID,
		Status:  j.status,
		Total:   len(j.entries),
		Sent:    j.sent,
		Errors:  j.errors,
		Cursor:  j.cursor,
		Target:  j.target,
		Log:     lines,
		Failure: j.failure,
	}
}

// Wait blocks until the current run finishes
func (j *Job) Wait() {
	j.mu.Lock()
	done := j.done
	j.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Start creates a job over entries and begins sending to target
// (host:port). Delay zero means the engine default; delays above the
// configured maximum are clamped.
func (e *Engine) Start(entries []*models.LogEntry, target string, delay time.Duration) (*Job, error) {
	if target == "" {
		return nil, fmt.Errorf("replay target is required")
	}
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	if delay <= 0 {
		delay = e.opts.DefaultDelay
	}
	if delay > e.opts.MaxDelay {
		delay = e.opts.MaxDelay
	}

	job := &Job{
		ID:      uuid.New().String(),
		entries: entries,
		target:  target,
		delay:   delay,
		status:  models.ReplayCreated,
	}

	e.mu.Lock()
	e.sweepLocked()
	e.jobs[job.ID] = job
	e.mu.Unlock()

	e.launch(job)
	return job, nil
}

// Get returns a job by ID
func (e *Engine) Get(jobID string) (*Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, ok := e.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Stop cancels a running job. The cursor is retained so the job can
// be resumed later.
func (e *Engine) Stop(jobID string) error {
	job, err := e.Get(jobID)
	if err != nil {
		return err
	}

	job.mu.Lock()
	if job.status != models.ReplayRunning && job.status != models.ReplayCreated {
		job.mu.Unlock()
		return ErrJobNotRunning
	}
	cancel := job.cancel
	job.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	job.Wait()
	return nil
}

// Resume restarts a cancelled job from its cursor
func (e *Engine) Resume(jobID string) error {
	job, err := e.Get(jobID)
	if err != nil {
		return err
	}

	job.mu.Lock()
	if job.status != models.ReplayCancelled || job.cursor >= len(job.entries) {
		job.mu.Unlock()
		return ErrJobNotResumable
	}
	job.mu.Unlock()

	e.launch(job)
	return nil
}

func (e *Engine) launch(job *Job) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	job.mu.Lock()
	job.status = models.ReplayRunning
	job.cancel = cancel
	job.done = done
	job.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		e.run(ctx, job)
	}()
}

// run is the send loop: one UDP datagram per valid entry, a fixed
// delay between sends, progress published after every send.
func (e *Engine) run(ctx context.Context, job *Job) {
	conn, err := net.Dial("udp", job.target)
	if err != nil {
		job.finish(models.ReplayFailed, fmt.Sprintf("dial %s: %v", job.target, err))
		return
	}
	defer conn.Close()

	log.Info().
		Str("job_id", job.ID).
		Str("target", job.target).
		Dur("delay", job.delay).
		Msg("replay started")

	total := len(job.entries)
	for {
		job.mu.Lock()
		if job.cursor >= total {
			job.mu.Unlock()
			job.finish(models.ReplayCompleted, "")
			return
		}
		index := job.cursor
		entry := job.entries[index]
		delay := job.delay
		job.mu.Unlock()

		line := models.ReplayLogLine{Index: index, GatewayEUI: entry.GatewayEUI}
		if !entry.Valid() {
			line.Status = "skipped"
			line.Message = entry.Err.Error()
			job.record(line, false, true)
		} else {
			start := time.Now()
			_, err := conn.Write(entry.RawPacket)
			line.SendTimeMs = time.Since(start).Milliseconds()
			if err != nil {
				line.Status = "error"
				line.Message = err.Error()
				job.record(line, false, true)
			} else {
				line.Status = "sent"
				job.record(line, true, false)
				e.publisher.PublishProgress(models.ReplayProgress{
					JobID:      job.ID,
					Index:      index,
					Total:      total,
					GatewayEUI: entry.GatewayEUI,
					Timestamp:  entry.Timestamp,
				})
			}
		}

		job.mu.Lock()
		job.cursor++
		remaining := total - job.cursor
		job.mu.Unlock()
		if remaining == 0 {
			job.finish(models.ReplayCompleted, "")
			return
		}

		select {
		case <-ctx.Done():
			job.finish(models.ReplayCancelled, "")
			return
		case <-time.After(delay):
		}
	}
}

func (j *Job) record(line models.ReplayLogLine, sent, failed bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.lines = append(j.lines, line)
	if sent {
		j.sent++
	}
	if failed {
		j.errors++
	}
}

func (j *Job) finish(status models.ReplayStatus, failure string) {
	j.mu.Lock()
	j.status = status
	j.failure = failure
	j.finished = time.Now()
	j.mu.Unlock()

	log.Info().
		Str("job_id", j.ID).
		Str("status", string(status)).
		Msg("replay finished")
}

// sweepLocked drops finished jobs older than the TTL. Caller holds
// e.mu.
func (e *Engine) sweepLocked() {
	cutoff := time.Now().Add(-e.opts.JobTTL)
	for id, job := range e.jobs {
		job.mu.Lock()
		expired := job.status != models.ReplayRunning &&
			job.status != models.ReplayCreated &&
			!job.finished.IsZero() && job.finished.Before(cutoff)
		job.mu.Unlock()
		if expired {
			delete(e.jobs, id)
		}
	}
}
