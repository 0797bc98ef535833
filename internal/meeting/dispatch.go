package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"consultation-service/internal/domain"
)

// Dispatcher hands a job off without waiting for its outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job)
}

// Async runs each job on its own goroutine, detached from the caller's
// cancellation.
type Async struct {
	p      *Provisioner
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewAsync(p *Provisioner, logger *zap.Logger) *Async {
	return &Async{p: p, logger: logger}
}

func (a *Async) Dispatch(ctx context.Context, job Job) {
	ctx = context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("meeting provisioning panicked", zap.Any("panic", r), zap.String("booking_id", job.BookingID))
			}
		}()
		// failures are logged and counted by the provisioner
		_, _ = a.p.Provision(ctx, job)
	}()
}

// Wait blocks until in-flight jobs finish.
func (a *Async) Wait() {
	a.wg.Wait()
}

const TypeProvisionMeeting = "meeting:provision"

// Enqueuer is the subset of *asynq.Client the queue needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue pushes jobs to Redis through asynq. When enqueueing fails the job
// goes to fallback instead.
type Queue struct {
	client   Enqueuer
	fallback Dispatcher
	logger   *zap.Logger
	retries  int
}

func NewQueue(client Enqueuer, fallback Dispatcher, logger *zap.Logger) *Queue {
	return &Queue{client: client, fallback: fallback, logger: logger, retries: 5}
}

func NewProvisionTask(job Job) (*asynq.Task, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProvisionMeeting, b), nil
}

func (q *Queue) Dispatch(ctx context.Context, job Job) {
	task, err := NewProvisionTask(job)
	if err == nil {
		_, err = q.client.EnqueueContext(ctx, task,
			asynq.MaxRetry(q.retries),
			asynq.Timeout(time.Minute),
			asynq.TaskID("provision:"+job.BookingID),
		)
	}
	if err == nil || errors.Is(err, asynq.ErrTaskIDConflict) {
		return
	}
	q.logger.Warn("enqueue provisioning failed, running inline", zap.String("booking_id", job.BookingID), zap.Error(err))
	if q.fallback != nil {
		q.fallback.Dispatch(ctx, job)
	}
}

// Worker consumes provisioning tasks.
type Worker struct {
	srv    *asynq.Server
	p      *Provisioner
	logger *zap.Logger
}

func NewWorker(redis asynq.RedisClientOpt, p *Provisioner, logger *zap.Logger) *Worker {
	srv := asynq.NewServer(redis, asynq.Config{
		Concurrency: 10,
		Queues:      map[string]int{"default": 1},
	})
	return &Worker{srv: srv, p: p, logger: logger}
}

func (w *Worker) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeProvisionMeeting, w.HandleProvisionTask)
	if err := w.srv.Start(mux); err != nil {
		return fmt.Errorf("start provisioning worker: %w", err)
	}
	return nil
}

func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}

// HandleProvisionTask provisions one job. Failures that a retry cannot fix
// skip asynq's retry.
func (w *Worker) HandleProvisionTask(ctx context.Context, t *asynq.Task) error {
	var job Job
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		w.logger.Error("invalid provisioning payload", zap.Error(err))
		return fmt.Errorf("decode job: %v: %w", err, asynq.SkipRetry)
	}
	_, err := w.p.Provision(ctx, job)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNoCalendarCredentials) ||
		errors.Is(err, domain.ErrInvalidMeetingLink) ||
		errors.Is(err, domain.ErrBookingNotFound) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}
