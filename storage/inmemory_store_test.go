package storage_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/taskq/storage"
)

var _ = Describe("storage / InmemoryStore", func() {
	var (
		ctx   context.Context
		store *storage.InmemoryStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = storage.NewInmemoryStore(0)
	})

	AfterEach(func() {
		store.Close()
	})

	Describe("Close()", func() {
		It("does not panic when closed twice", func() {
			Expect(func() { store.Close() }).NotTo(Panic())
			Expect(func() { store.Close() }).NotTo(Panic())
		})

		It("refuses new jobs once closed", func() {
			store.Close()
			_, err := store.Add(ctx, "jobs", []byte("data"))
			Expect(err).To(MatchError(storage.ErrClosed))
		})

		It("wakes up waiters", func() {
			done := make(chan error, 1)
			go func() {
				done <- store.WaitReady(ctx, "jobs")
			}()

			store.Close()
			Eventually(done).Should(Receive(MatchError(storage.ErrClosed)))
		})
	})

	Describe("Add() / Take()", func() {
		It("hands out jobs in the order they were added", func() {
			first, err := store.Add(ctx, "jobs", []byte("one"))
			Expect(err).To(Succeed())
			second, err := store.Add(ctx, "jobs", []byte("two"))
			Expect(err).To(Succeed())
			Expect(first).NotTo(Equal(second))

			job, err := store.Take(ctx, "jobs", "worker")
			Expect(err).To(Succeed())
			Expect(job.Handle).To(Equal(first))
			Expect(job.Payload).To(Equal([]byte("one")))
			Expect(job.State).To(Equal(storage.Reserved))

			job, err = store.Take(ctx, "jobs", "worker")
			Expect(err).To(Succeed())
			Expect(job.Handle).To(Equal(second))
		})

		It("keeps queues apart", func() {
			_, err := store.Add(ctx, "a", []byte("data"))
			Expect(err).To(Succeed())

			_, err = store.Take(ctx, "b", "worker")
			Expect(err).To(MatchError(storage.ErrEmpty))
		})

		It("returns ErrEmpty for an empty queue", func() {
			_, err := store.Take(ctx, "jobs", "worker")
			Expect(err).To(MatchError(storage.ErrEmpty))
		})
	})

	Describe("WaitReady()", func() {
		It("returns at once if the queue has data", func() {
			_, err := store.Add(ctx, "jobs", []byte("data"))
			Expect(err).To(Succeed())
			Expect(store.WaitReady(ctx, "jobs")).To(Succeed())
		})

		It("blocks until a job is added", func() {
			done := make(chan error, 1)
			go func() {
				done <- store.WaitReady(ctx, "jobs")
			}()

			Consistently(done, 50*time.Millisecond).ShouldNot(Receive())

			_, err := store.Add(ctx, "jobs", []byte("data"))
			Expect(err).To(Succeed())
			Eventually(done).Should(Receive(BeNil()))
		})

		It("gives up when the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			Expect(store.WaitReady(cctx, "jobs")).To(MatchError(context.Canceled))
		})
	})

	Describe("Finish() / Result()", func() {
		It("returns a stored result straight away", func() {
			handle, _ := store.Add(ctx, "jobs", []byte("data"))
			_, err := store.Take(ctx, "jobs", "worker")
			Expect(err).To(Succeed())

			Expect(store.Finish(ctx, handle, []byte("result"))).To(Succeed())

			result, err := store.Result(ctx, handle, time.Second)
			Expect(err).To(Succeed())
			Expect(result).To(Equal([]byte("result")))
		})

		It("waits for a pending job to finish", func() {
			handle, _ := store.Add(ctx, "jobs", []byte("data"))

			go func() {
				defer GinkgoRecover()
				time.Sleep(20 * time.Millisecond)
				Expect(store.Finish(ctx, handle, []byte("late"))).To(Succeed())
			}()

			result, err := store.Result(ctx, handle, 5*time.Second)
			Expect(err).To(Succeed())
			Expect(result).To(Equal([]byte("late")))
		})

		It("times out", func() {
			handle, _ := store.Add(ctx, "jobs", []byte("data"))

			_, err := store.Result(ctx, handle, 10*time.Millisecond)
			Expect(err).To(MatchError(storage.ErrTimeout))
		})

		It("does not know unknown handles", func() {
			Expect(store.Finish(ctx, "nope", nil)).To(MatchError(storage.ErrNotFound))

			_, err := store.Result(ctx, "nope", time.Second)
			Expect(err).To(MatchError(storage.ErrNotFound))
		})

		It("skips jobs that were finished before being taken", func() {
			handle, _ := store.Add(ctx, "jobs", []byte("data"))
			Expect(store.Finish(ctx, handle, nil)).To(Succeed())

			_, err := store.Take(ctx, "jobs", "worker")
			Expect(err).To(MatchError(storage.ErrEmpty))
		})

		It("forgets results after the TTL", func() {
			short := storage.NewInmemoryStore(time.Millisecond)
			defer short.Close()

			handle, _ := short.Add(ctx, "jobs", []byte("data"))
			Expect(short.Finish(ctx, handle, []byte("result"))).To(Succeed())

			time.Sleep(5 * time.Millisecond)

			_, err := short.Result(ctx, handle, time.Second)
			Expect(err).To(MatchError(storage.ErrNotFound))
		})
	})

	Describe("Release()", func() {
		It("puts reserved jobs back at the front of their queue", func() {
			first, _ := store.Add(ctx, "jobs", []byte("one"))
			second, _ := store.Add(ctx, "jobs", []byte("two"))

			_, err := store.Take(ctx, "jobs", "gone")
			Expect(err).To(Succeed())

			Expect(store.Release("gone")).To(Equal(1))
			Expect(store.Release("gone")).To(Equal(0))

			job, err := store.Take(ctx, "jobs", "worker")
			Expect(err).To(Succeed())
			Expect(job.Handle).To(Equal(first))

			job, err = store.Take(ctx, "jobs", "worker")
			Expect(err).To(Succeed())
			Expect(job.Handle).To(Equal(second))
		})

		It("leaves finished jobs alone", func() {
			handle, _ := store.Add(ctx, "jobs", []byte("one"))
			_, err := store.Take(ctx, "jobs", "worker")
			Expect(err).To(Succeed())
			Expect(store.Finish(ctx, handle, nil)).To(Succeed())

			Expect(store.Release("worker")).To(Equal(0))
		})
	})

	Describe("Purge() / Stats()", func() {
		It("drops expired results", func() {
			handle, _ := store.Add(ctx, "jobs", []byte("one"))
			_, _ = store.Add(ctx, "jobs", []byte("two"))
			Expect(store.Finish(ctx, handle, nil)).To(Succeed())

			Expect(store.Stats()).To(Equal(map[storage.JobState]int{
				storage.Ready: 1,
				storage.Done:  1,
			}))

			Expect(store.Purge(time.Now())).To(Equal(0))
			Expect(store.Purge(time.Now().Add(storage.DefaultResultTTL + time.Second))).To(Equal(1))
			Expect(store.Stats()).To(Equal(map[storage.JobState]int{storage.Ready: 1}))
		})
	})
})
