package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jkubiena/Weddinko/internal/pkg/cache"
)

const (
	// Redis key prefixes
	JobKeyPrefix     = "job:"
	JobQueueKey      = "job_queue"
	JobProcessingKey = "job_processing"

	// Job settings
	DefaultMaxRetries = 3
	JobTTL            = 24 * time.Hour // Jobs expire after 24 hours

	counterFlushInterval = time.Minute

	// A job sitting in the processing list longer than this is considered
	// orphaned by a crashed worker and is requeued.
	stuckJobThreshold = 5 * time.Minute
	sweepInterval     = time.Minute
)

// Processor handles one job type. Processors must be idempotent; the queue
// delivers at least once.
type Processor func(ctx context.Context, job *Job) error

// Queue manages background jobs using Redis. It is the retry path for the
// side effects the payment engine deliberately keeps non-fatal: a missed
// invoice or commission is recoverable here, a missed subscription extension
// would not be.
type Queue struct {
	client     *redis.Client
	workers    int
	processors map[JobType]Processor
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

// NewQueue creates a new job queue
func NewQueue(workers int) *Queue {
	if workers <= 0 {
		workers = 3 // Default number of workers
	}

	return &Queue{
		client:     cache.GetClient(),
		workers:    workers,
		processors: make(map[JobType]Processor),
		stopCh:     make(chan struct{}),
	}
}

// RegisterProcessor attaches the handler for a job type. Must be called
// before Start.
func (q *Queue) RegisterProcessor(jobType JobType, p Processor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processors[jobType] = p
}

// Start starts the job queue workers
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.running = true
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	// Periodic flush of the affiliate rollup counters rides on the queue so
	// it stops cleanly with the workers.
	q.wg.Add(1)
	go q.counterFlusher(counterFlushInterval)

	q.wg.Add(1)
	go q.stuckJobSweeper(sweepInterval)
}

// Stop stops the job queue workers
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}

	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

// Enqueue stores a job and pushes it onto the queue
func (q *Queue) Enqueue(jobType JobType, payload map[string]interface{}) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}

	ctx := context.Background()
	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}
	if err := q.client.LPush(ctx, JobQueueKey, job.ID).Err(); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		jobID, err := q.client.BLMove(ctx, JobQueueKey, JobProcessingKey, "RIGHT", "LEFT", time.Second).Result()
		if err != nil {
			if err != redis.Nil {
				log.Errorf("[JobQueue] Worker %d pop error: %v", id, err)
				time.Sleep(time.Second)
			}
			continue
		}

		q.process(ctx, jobID)
		q.client.LRem(ctx, JobProcessingKey, 1, jobID)
	}
}

func (q *Queue) process(ctx context.Context, jobID string) {
	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		log.Errorf("[JobQueue] Failed to load job %s: %v", jobID, err)
		return
	}

	q.mu.Lock()
	processor, ok := q.processors[job.Type]
	q.mu.Unlock()
	if !ok {
		log.Errorf("[JobQueue] No processor registered for job type %s", job.Type)
		return
	}

	job.Status = JobStatusProcessing
	job.UpdatedAt = time.Now()
	_ = q.saveJob(ctx, job)

	if err := processor(ctx, job); err != nil {
		job.RetryCount++
		job.ErrorMsg = err.Error()
		job.UpdatedAt = time.Now()
		if job.RetryCount >= job.MaxRetries {
			job.Status = JobStatusFailed
			_ = q.saveJob(ctx, job)
			log.Errorf("[JobQueue] Job %s (%s) failed permanently: %v", job.ID, job.Type, err)
			return
		}
		job.Status = JobStatusRetrying
		_ = q.saveJob(ctx, job)
		q.client.LPush(ctx, JobQueueKey, job.ID)
		log.Warnf("[JobQueue] Job %s (%s) retry %d/%d: %v", job.ID, job.Type, job.RetryCount, job.MaxRetries, err)
		return
	}

	now := time.Now()
	job.Status = JobStatusCompleted
	job.CompletedAt = &now
	job.UpdatedAt = now
	_ = q.saveJob(ctx, job)
}

func (q *Queue) counterFlusher(interval time.Duration) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.mu.Lock()
			processor, ok := q.processors[JobTypeCounterFlush]
			q.mu.Unlock()
			if !ok {
				continue
			}
			if err := processor(context.Background(), &Job{Type: JobTypeCounterFlush}); err != nil {
				log.Errorf("[JobQueue] Counter flush failed: %v", err)
			}
		}
	}
}

// stuckJobSweeper requeues jobs stranded in the processing list by a crashed
// worker. Processors are idempotent, so requeueing a job that is actually
// still running only wastes one execution.
func (q *Queue) stuckJobSweeper(interval time.Duration) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.sweepStuckJobs(context.Background())
		}
	}
}

func (q *Queue) sweepStuckJobs(ctx context.Context) {
	jobIDs, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	if err != nil {
		log.Errorf("[JobQueue] Sweep failed to read processing list: %v", err)
		return
	}

	for _, jobID := range jobIDs {
		job, err := q.loadJob(ctx, jobID)
		if err != nil {
			// Job record expired; the list entry is garbage.
			q.client.LRem(ctx, JobProcessingKey, 1, jobID)
			continue
		}
		if job.Status != JobStatusProcessing || time.Since(job.UpdatedAt) < stuckJobThreshold {
			continue
		}

		if removed := q.client.LRem(ctx, JobProcessingKey, 1, jobID).Val(); removed > 0 {
			job.Status = JobStatusRetrying
			job.UpdatedAt = time.Now()
			_ = q.saveJob(ctx, job)
			q.client.LPush(ctx, JobQueueKey, jobID)
			log.Warnf("[JobQueue] Requeued stuck job %s (%s)", job.ID, job.Type)
		}
	}
}

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL).Err()
}

func (q *Queue) loadJob(ctx context.Context, jobID string) (*Job, error) {
	data, err := q.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, fmt.Errorf("job %s not found: %w", jobID, err)
	}
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, err
	}
	return &job, nil
}
