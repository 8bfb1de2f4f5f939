package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrEmpty    = errors.New("queue is empty")
	ErrTimeout  = errors.New("timeout")
	ErrClosed   = errors.New("store is closed")
)

type JobState uint8

const (
	_ JobState = iota
	Ready
	Reserved
	Done
)

func (s JobState) String() string {
	switch s {
	case Ready:
		return "ready"
	case Reserved:
		return "reserved"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Owner identifies whoever took a job, normally one server connection. Jobs
// still reserved by an owner when it goes away are put back with Release.
type Owner string

type Job struct {
	Handle  string
	Queue   string
	Payload []byte
	State   JobState
}

// Store holds the queues behind the development server.
type Store interface {
	// Add appends payload to queue and returns the new job's handle.
	Add(ctx context.Context, queue string, payload []byte) (string, error)

	// Take reserves the oldest ready job on queue for owner. It returns
	// ErrEmpty rather than waiting.
	Take(ctx context.Context, queue string, owner Owner) (*Job, error)

	// WaitReady blocks until queue has a ready job.
	WaitReady(ctx context.Context, queue string) error

	// Finish records the result of a ready or reserved job.
	Finish(ctx context.Context, handle string, result []byte) error

	// Result returns the result of handle, waiting up to timeout while the
	// job is still ready or reserved.
	Result(ctx context.Context, handle string, timeout time.Duration) ([]byte, error)

	// Release puts every job reserved by owner back on its queue.
	Release(owner Owner) int

	Close() error
}
