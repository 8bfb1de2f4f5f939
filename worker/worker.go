package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/luma/taskq/client"
)

const DefaultRetryInterval = time.Second

// Client is the part of client.Client a worker needs.
type Client interface {
	Notify(ctx context.Context, queue string) error
	GetJob(ctx context.Context, queue string) (client.Job, error)
	SetReturn(ctx context.Context, handle string, result []byte) error
}

// FinishError is returned by RunOnce when a job was handled but its result
// could not be reported.
type FinishError struct {
	Handle string
	Err    error
}

func (e *FinishError) Error() string {
	return fmt.Sprintf("failed to set result of job %s: %v", e.Handle, e.Err)
}

func (e *FinishError) Unwrap() error {
	return e.Err
}

// Handler turns a job payload into its result.
type Handler interface {
	Handle(ctx context.Context, job client.Job) ([]byte, error)
}

type HandlerFunc func(ctx context.Context, job client.Job) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, job client.Job) ([]byte, error) {
	return f(ctx, job)
}

type Options struct {
	Queue   string
	Client  Client
	Handler Handler

	// RetryInterval is how long to wait after the server could not be
	// reached.
	RetryInterval time.Duration

	Log *zap.Logger
}

// Worker serves one queue: it waits for the queue to have data, takes a job,
// runs the handler and reports the result.
type Worker struct {
	queue   string
	client  Client
	handler Handler
	retry   time.Duration

	log *zap.Logger
}

func New(options Options) *Worker {
	retry := options.RetryInterval
	if retry <= 0 {
		retry = DefaultRetryInterval
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Worker{
		queue:   options.Queue,
		client:  options.Client,
		handler: options.Handler,
		retry:   retry,
		log:     log.With(zap.String("queue", options.Queue)),
	}
}

// Run processes jobs until ctx is done or the server answers with an error
// the worker cannot get past. ctx is checked between jobs; a call already
// waiting on the server is not interrupted.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var finishErr *FinishError

		err := w.RunOnce(ctx)
		switch {
		case err == nil:
		case errors.As(err, &finishErr) && client.IsNotFound(err):
			w.log.Warn("Server no longer knows the job, result dropped",
				zap.String("handle", finishErr.Handle),
				zap.Error(err))
		case client.IsNotFound(err):
			// Another worker got there first
			w.log.Debug("Queue drained before we could take a job")
		case client.IsApplication(err):
			return err
		default:
			w.log.Warn("Queue server unavailable, retrying",
				zap.Duration("in", w.retry),
				zap.Error(err))

			if !w.sleep(ctx) {
				return ctx.Err()
			}
		}
	}
}

// RunOnce waits for a job on the queue and processes it.
func (w *Worker) RunOnce(ctx context.Context) error {
	if err := w.client.Notify(ctx, w.queue); err != nil {
		return err
	}

	job, err := w.client.GetJob(ctx, w.queue)
	if err != nil {
		return err
	}

	log := w.log.With(zap.String("handle", job.Handle))
	log.Info("Took job", zap.String("size", humanize.Bytes(uint64(len(job.Payload)))))

	started := time.Now()

	result, err := w.handler.Handle(ctx, job)
	if err != nil {
		log.Error("Handler failed", zap.Error(err))
		result = []byte("error: " + err.Error())
	}

	if err := w.client.SetReturn(ctx, job.Handle, result); err != nil {
		return &FinishError{Handle: job.Handle, Err: err}
	}

	log.Info("Finished job",
		zap.Duration("took", time.Since(started)),
		zap.String("result", humanize.Bytes(uint64(len(result)))))

	return nil
}

func (w *Worker) sleep(ctx context.Context) bool {
	timer := time.NewTimer(w.retry)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
