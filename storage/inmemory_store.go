package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultResultTTL is how long a finished job's result stays readable.
const DefaultResultTTL = 10 * time.Minute

type entry struct {
	Job

	owner  Owner
	result []byte
	doneAt time.Time
}

type InmemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*entry
	queues map[string][]string
	owners map[Owner]map[string]struct{}

	// changed is closed and replaced whenever a job changes state, waking
	// everyone blocked in wait.
	changed chan struct{}

	resultTTL time.Duration

	// stop willl be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryStore(resultTTL time.Duration) *InmemoryStore {
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}

	return &InmemoryStore{
		jobs:      make(map[string]*entry),
		queues:    make(map[string][]string),
		owners:    make(map[Owner]map[string]struct{}),
		changed:   make(chan struct{}),
		resultTTL: resultTTL,
		stop:      make(chan struct{}),
	}
}

func (i *InmemoryStore) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.isRunning() {
		close(i.stop)
	}

	return nil
}

func (i *InmemoryStore) Add(ctx context.Context, queue string, payload []byte) (string, error) {
	if !i.isRunning() {
		return "", ErrClosed
	}

	handle := uuid.NewString()

	i.mu.Lock()
	defer i.mu.Unlock()

	i.jobs[handle] = &entry{
		Job: Job{
			Handle:  handle,
			Queue:   queue,
			Payload: payload,
			State:   Ready,
		},
	}
	i.queues[queue] = append(i.queues[queue], handle)
	i.notify()

	return handle, nil
}

func (i *InmemoryStore) Take(ctx context.Context, queue string, owner Owner) (*Job, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	handles := i.queues[queue]
	for len(handles) > 0 {
		handle := handles[0]
		handles = handles[1:]

		e, ok := i.jobs[handle]
		if !ok || e.State != Ready {
			// Finished before anyone took it
			continue
		}

		i.queues[queue] = handles

		e.State = Reserved
		e.owner = owner

		reserved, ok := i.owners[owner]
		if !ok {
			reserved = make(map[string]struct{})
			i.owners[owner] = reserved
		}
		reserved[handle] = struct{}{}

		job := e.Job
		return &job, nil
	}

	i.queues[queue] = handles

	return nil, ErrEmpty
}

func (i *InmemoryStore) WaitReady(ctx context.Context, queue string) error {
	return i.wait(ctx, nil, func() (bool, error) {
		return i.hasReady(queue), nil
	})
}

func (i *InmemoryStore) Finish(ctx context.Context, handle string, result []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	e, ok := i.jobs[handle]
	if !ok || i.expired(e, time.Now()) {
		return ErrNotFound
	}

	if e.State == Reserved {
		delete(i.owners[e.owner], handle)
	}

	e.State = Done
	e.owner = ""
	e.result = result
	e.doneAt = time.Now()
	i.notify()

	return nil
}

func (i *InmemoryStore) Result(ctx context.Context, handle string, timeout time.Duration) ([]byte, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	var result []byte

	err := i.wait(ctx, timer, func() (bool, error) {
		e, ok := i.jobs[handle]
		if !ok {
			return false, ErrNotFound
		}

		if i.expired(e, time.Now()) {
			delete(i.jobs, handle)
			return false, ErrNotFound
		}

		if e.State != Done {
			return false, nil
		}

		result = e.result
		return true, nil
	})

	return result, err
}

func (i *InmemoryStore) Release(owner Owner) int {
	i.mu.Lock()
	defer i.mu.Unlock()

	reserved := i.owners[owner]
	delete(i.owners, owner)

	released := 0
	for handle := range reserved {
		e, ok := i.jobs[handle]
		if !ok || e.State != Reserved {
			continue
		}

		e.State = Ready
		e.owner = ""

		// Released jobs go to the front so they are retried first
		i.queues[e.Queue] = append([]string{handle}, i.queues[e.Queue]...)
		released++
	}

	if released > 0 {
		i.notify()
	}

	return released
}

// Purge drops results that have outlived the result TTL and returns how many
// were removed.
func (i *InmemoryStore) Purge(now time.Time) int {
	i.mu.Lock()
	defer i.mu.Unlock()

	purged := 0
	for handle, e := range i.jobs {
		if i.expired(e, now) {
			delete(i.jobs, handle)
			purged++
		}
	}

	return purged
}

// Stats returns the number of jobs in each state.
func (i *InmemoryStore) Stats() map[JobState]int {
	i.mu.Lock()
	defer i.mu.Unlock()

	stats := make(map[JobState]int, 3)
	for _, e := range i.jobs {
		stats[e.State]++
	}

	return stats
}

// wait calls ready under the lock each time a job changes state, until it
// reports true or an error, ctx is done, timer fires or the store closes.
func (i *InmemoryStore) wait(ctx context.Context, timer <-chan time.Time, ready func() (bool, error)) error {
	for {
		i.mu.Lock()
		ok, err := ready()
		changed := i.changed
		i.mu.Unlock()

		if err != nil || ok {
			return err
		}

		select {
		case <-changed:
		case <-timer:
			return ErrTimeout
		case <-ctx.Done():
			return ctx.Err()
		case <-i.stop:
			return ErrClosed
		}
	}
}

// notify must be called with mu held.
func (i *InmemoryStore) notify() {
	close(i.changed)
	i.changed = make(chan struct{})
}

func (i *InmemoryStore) hasReady(queue string) bool {
	for _, handle := range i.queues[queue] {
		if e, ok := i.jobs[handle]; ok && e.State == Ready {
			return true
		}
	}

	return false
}

func (i *InmemoryStore) expired(e *entry, now time.Time) bool {
	return e.State == Done && now.Sub(e.doneAt) > i.resultTTL
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

var _ Store = (*InmemoryStore)(nil)
