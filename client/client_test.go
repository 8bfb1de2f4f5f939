package client_test

import (
	"context"
	"errors"
	"io"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/taskq/client"
	"github.com/luma/taskq/protocol"
)

const (
	okReply      = "*2\n$1\n1\n$2\nok\n"
	timeoutReply = "*2\n$3\n408\n$7\ntimeout\n"
)

var _ = Describe("Client", func() {
	var (
		ctx    context.Context
		server *fakeServer
		c      *client.Client
	)

	connect := func(replies ...string) {
		server = newFakeServer(replies...)
		c = client.New(client.Options{Dialer: server})
		Expect(c.Connect(ctx, "127.0.0.1", 8989)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
	})

	AfterEach(func() {
		if c != nil {
			c.Close()
		}
	})

	Describe("AddJob()", func() {
		It("returns the job handle from the reply", func() {
			connect("*3\n$1\n1\n$1\n0\n$2\nk1\n")

			handle, err := c.AddJob(ctx, "jobs", []byte("payload"))
			Expect(err).To(Succeed())
			Expect(handle).To(Equal("k1"))
			Expect(c.LastError()).To(BeNil())

			Expect(server.Requests()).To(Equal([][]string{{"AddJob", "jobs", "payload"}}))
		})

		It("takes bulk lengths literally when a value is followed by its own newline", func() {
			connect("*3\n$1\n1\n$1\n0\n$3\nk1\n", "*2\n$1\n1\n$10\nresult set\n")

			handle, err := c.AddJob(ctx, "jobs", []byte("payload"))
			Expect(err).To(Succeed())
			Expect(handle).To(Equal("k1\n"))

			Expect(c.SetReturn(ctx, handle, []byte("done"))).To(Succeed())
			Expect(server.Dials()).To(Equal(1))
			Expect(server.Requests()[1]).To(Equal([]string{"SetReturn", "k1\n", "done"}))
		})

		It("sends binary payloads untouched", func() {
			connect("*3\n$1\n1\n$2\nok\n$2\nk2\n")

			payload := []byte("line one\nline two\n$5\n*2\n\x00\xff")
			_, err := c.AddJob(ctx, "jobs", payload)
			Expect(err).To(Succeed())
			Expect(server.Requests()[0][2]).To(Equal(string(payload)))
		})

		It("fails with a framing error if the reply has no handle", func() {
			connect(okReply, "*3\n$1\n1\n$2\nok\n$2\nk3\n")

			_, err := c.AddJob(ctx, "jobs", []byte("payload"))

			var e *client.Error
			Expect(errors.As(err, &e)).To(BeTrue())
			Expect(e.Kind).To(Equal(client.KindFraming))
			Expect(errors.Is(err, protocol.ErrShortReply)).To(BeTrue())

			// The reply was drained, so the connection stays usable
			Expect(c.Conn().Connected()).To(BeTrue())
			handle, err := c.AddJob(ctx, "jobs", []byte("payload"))
			Expect(err).To(Succeed())
			Expect(handle).To(Equal("k3"))
			Expect(server.Dials()).To(Equal(1))
		})
	})

	Describe("GetJob()", func() {
		It("returns the handle and the payload", func() {
			connect("*4\n$1\n1\n$2\nok\n$2\nk1\n$4\ndata\n")

			job, err := c.GetJob(ctx, "jobs")
			Expect(err).To(Succeed())
			Expect(job).To(Equal(client.Job{Handle: "k1", Payload: []byte("data")}))
			Expect(server.Requests()).To(Equal([][]string{{"GetJob", "jobs"}}))
		})

		It("reports an empty queue as not found", func() {
			connect("*2\n$1\n0\n$4\nNULL\n")

			_, err := c.GetJob(ctx, "jobs")
			Expect(client.IsNotFound(err)).To(BeTrue())
			Expect(client.CodeOf(err)).To(Equal("0"))
		})
	})

	Describe("GetReturn()", func() {
		It("sends the timeout in milliseconds and returns the result", func() {
			connect("*3\n$1\n1\n$2\nok\n$6\nresult\n")

			result, err := c.GetReturn(ctx, "k1", 3*time.Second)
			Expect(err).To(Succeed())
			Expect(string(result)).To(Equal("result"))
			Expect(server.Requests()).To(Equal([][]string{{"GetReturn", "k1", "3000"}}))
		})

		It("surfaces the server's timeout code and message", func() {
			connect(timeoutReply)

			_, err := c.GetReturn(ctx, "k1", 100*time.Millisecond)
			Expect(err).To(HaveOccurred())
			Expect(client.IsTimeout(err)).To(BeTrue())

			var e *client.Error
			Expect(errors.As(err, &e)).To(BeTrue())
			Expect(e.Kind).To(Equal(client.KindApplication))
			Expect(e.Code).To(Equal("408"))
			Expect(e.Message).To(Equal("timeout"))

			Expect(c.LastError()).To(Equal(e))
			Expect(server.Requests()).To(Equal([][]string{{"GetReturn", "k1", "100"}}))

			// Application errors leave the connection in place
			Expect(c.Conn().State()).To(Equal(client.Connected))
		})
	})

	Describe("SetReturn()", func() {
		It("succeeds on a status-only reply", func() {
			connect(okReply)

			Expect(c.SetReturn(ctx, "k1", []byte("done"))).To(Succeed())
			Expect(server.Requests()).To(Equal([][]string{{"SetReturn", "k1", "done"}}))
		})

		It("fails for an unknown handle", func() {
			connect("*2\n$3\n404\n$9\nnot found\n")

			err := c.SetReturn(ctx, "nope", []byte("done"))
			Expect(client.IsNotFound(err)).To(BeTrue())
			Expect(c.LastError().Message).To(Equal("not found"))
		})
	})

	Describe("Notify()", func() {
		It("sends Usr1 for the queue", func() {
			connect(okReply)

			Expect(c.Notify(ctx, "jobs")).To(Succeed())
			Expect(server.Requests()).To(Equal([][]string{{"Usr1", "jobs"}}))
		})
	})

	Describe("Status() / StopServer()", func() {
		It("returns the status message", func() {
			connect("*2\n$1\n1\n$7\nrunning\n", okReply)

			status, err := c.Status(ctx)
			Expect(err).To(Succeed())
			Expect(status).To(Equal("running"))

			Expect(c.StopServer(ctx)).To(Succeed())
			Expect(server.Requests()).To(Equal([][]string{{"Status"}, {"StopServer"}}))
		})
	})

	Describe("LastError()", func() {
		It("is overwritten by the next call", func() {
			connect(timeoutReply, okReply)

			_, err := c.GetReturn(ctx, "k1", time.Second)
			Expect(err).To(HaveOccurred())
			Expect(c.LastError()).NotTo(BeNil())

			Expect(c.SetReturn(ctx, "k1", nil)).To(Succeed())
			Expect(c.LastError()).To(BeNil())
		})
	})

	Describe("partial reads", func() {
		It("decodes a reply that arrives one byte at a time", func() {
			connect(dribble + "*4\n$1\n1\n$2\nok\n$2\nk1\n$11\nsplit\nvalue\n")

			job, err := c.GetJob(ctx, "jobs")
			Expect(err).To(Succeed())
			Expect(job.Handle).To(Equal("k1"))
			Expect(string(job.Payload)).To(Equal("split\nvalue"))
		})
	})

	Describe("reconnecting", func() {
		It("reconnects exactly once after the server closes the connection", func() {
			connect(okReply, closeConn, okReply)

			Expect(c.Notify(ctx, "jobs")).To(Succeed())

			err := c.Notify(ctx, "jobs")
			Expect(err).To(HaveOccurred())

			var e *client.Error
			Expect(errors.As(err, &e)).To(BeTrue())
			Expect(e.Kind).To(Equal(client.KindTransport))
			Expect(e.EOF()).To(BeTrue())
			Expect(e.Message).To(Equal("EOF"))
			Expect(c.Conn().State()).To(Equal(client.Disconnected))
			Expect(server.Dials()).To(Equal(1))

			Expect(c.Notify(ctx, "jobs")).To(Succeed())
			Expect(server.Dials()).To(Equal(2))
			Expect(server.addrs).To(Equal([]string{"127.0.0.1:8989", "127.0.0.1:8989"}))
		})

		It("fails without writing if the reconnect fails", func() {
			connect(closeConn)

			Expect(c.Notify(ctx, "jobs")).NotTo(Succeed())
			Expect(server.Requests()).To(HaveLen(1))

			refused := errors.New("connection refused")
			server.SetDialErr(refused)

			err := c.Notify(ctx, "jobs")
			Expect(errors.Is(err, refused)).To(BeTrue())
			Expect(server.Dials()).To(Equal(2))
			Expect(server.Requests()).To(HaveLen(1))
			Expect(c.Conn().State()).To(Equal(client.Disconnected))
		})

		It("drops the connection on a truncated reply", func() {
			connect("*3\n$1\n1\n$2\nok\n$5\nk1"+closeConn, okReply)

			_, err := c.AddJob(ctx, "jobs", []byte("payload"))
			Expect(errors.Is(err, io.ErrUnexpectedEOF)).To(BeTrue())
			Expect(c.Conn().Connected()).To(BeFalse())

			Expect(c.Notify(ctx, "jobs")).To(Succeed())
			Expect(server.Dials()).To(Equal(2))
		})

		It("drops the connection on a malformed reply", func() {
			connect("*2\n$x\n", okReply)

			err := c.Notify(ctx, "jobs")

			var e *client.Error
			Expect(errors.As(err, &e)).To(BeTrue())
			Expect(e.Kind).To(Equal(client.KindFraming))
			Expect(errors.Is(err, protocol.ErrInvalidLength)).To(BeTrue())
			Expect(c.Conn().Connected()).To(BeFalse())
		})

		It("reuses the address given to New", func() {
			server = newFakeServer(okReply)
			c = client.New(client.Options{Address: "10.0.0.1", Port: 9090, Dialer: server})

			Expect(c.Notify(ctx, "jobs")).To(Succeed())
			Expect(server.addrs).To(Equal([]string{"10.0.0.1:9090"}))
		})

		It("fails if there is no address to connect to", func() {
			server = newFakeServer()
			c = client.New(client.Options{Dialer: server})

			err := c.Notify(ctx, "jobs")
			Expect(errors.Is(err, client.ErrNotConnected)).To(BeTrue())
			Expect(server.Dials()).To(Equal(0))
		})
	})
})
