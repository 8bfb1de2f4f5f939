package client

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/luma/taskq/protocol"
)

type Options struct {
	// Address and Port of the queue server. Both may be left empty and
	// supplied later through Connect.
	Address string
	Port    int

	// Dialer defaults to a plain *net.Dialer
	Dialer Dialer

	// ReadSize is how many bytes are requested per socket read.
	ReadSize int

	Log *zap.Logger
}

// Job is a job handed out by GetJob.
type Job struct {
	Handle  string
	Payload []byte
}

// Client issues commands to a queue server over one connection.
//
// Every call is a single blocking round trip: the request is written, then
// the whole reply is read. If the connection is down the call first tries to
// reconnect once to the last known address.
//
// A Client is not safe for concurrent use; give each goroutine its own or
// serialise access. There are no client side timeouts, a read blocks until
// the server replies or the connection fails. Closing the client from another
// goroutine to abort a blocked call is not supported.
type Client struct {
	conn *Conn
	log  *zap.Logger
}

func New(options Options) *Client {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	conn := NewConn(options.Dialer, options.ReadSize, log.Named("conn"))
	conn.address = options.Address
	conn.port = options.Port

	return &Client{conn: conn, log: log}
}

// Dial creates a client and connects it.
func Dial(ctx context.Context, options Options) (*Client, error) {
	c := New(options)
	if err := c.Connect(ctx, options.Address, options.Port); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) Connect(ctx context.Context, address string, port int) error {
	return c.conn.Connect(ctx, address, port)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Conn() *Conn {
	return c.conn
}

// LastError returns the error from the most recent call, nil if it
// succeeded.
func (c *Client) LastError() *Error {
	return c.conn.LastError()
}

// AddJob queues payload on queue and returns the handle the server assigned
// to it.
func (c *Client) AddJob(ctx context.Context, queue string, payload []byte) (string, error) {
	values, err := c.do(ctx, protocol.NewRequest(protocol.AddJob, []byte(queue), payload), 1)
	if err != nil {
		return "", err
	}

	return string(values[0]), nil
}

// GetJob takes the next job from queue. How long it waits for one is up to
// the server.
func (c *Client) GetJob(ctx context.Context, queue string) (Job, error) {
	values, err := c.do(ctx, protocol.NewRequest(protocol.GetJob, []byte(queue)), 2)
	if err != nil {
		return Job{}, err
	}

	return Job{Handle: string(values[0]), Payload: values[1]}, nil
}

// GetReturn waits for the result of a job. The timeout is sent to the server
// in milliseconds and enforced there; when it expires the error satisfies
// IsTimeout.
func (c *Client) GetReturn(ctx context.Context, handle string, timeout time.Duration) ([]byte, error) {
	ms := strconv.FormatInt(timeout.Milliseconds(), 10)

	values, err := c.do(ctx, protocol.NewStringRequest(protocol.GetReturn, handle, ms), 1)
	if err != nil {
		return nil, err
	}

	return values[0], nil
}

// SetReturn reports the result of a job taken with GetJob.
func (c *Client) SetReturn(ctx context.Context, handle string, result []byte) error {
	_, err := c.do(ctx, protocol.NewRequest(protocol.SetReturn, []byte(handle), result), 0)
	return err
}

// Notify sends Usr1 for queue, which returns once the queue has data.
func (c *Client) Notify(ctx context.Context, queue string) error {
	_, err := c.do(ctx, protocol.NewStringRequest(protocol.Usr1, queue), 0)
	return err
}

// Status asks whether the server is up and returns its status message.
func (c *Client) Status(ctx context.Context) (string, error) {
	reply, err := c.roundTrip(ctx, protocol.NewRequest(protocol.Status))
	if err != nil {
		return "", err
	}

	return reply.Message(), nil
}

// StopServer asks the server to shut down.
func (c *Client) StopServer(ctx context.Context) error {
	_, err := c.do(ctx, protocol.NewRequest(protocol.StopServer), 0)
	return err
}

// do performs a round trip and returns the result values of a successful
// reply, failing if there are fewer than want of them.
func (c *Client) do(ctx context.Context, req *protocol.Request, want int) ([][]byte, error) {
	reply, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}

	values := reply.Values()
	if len(values) < want {
		err := fmt.Errorf("%s reply has %d values, want %d: %w", req, len(values), want, protocol.ErrShortReply)
		return nil, c.conn.fail(framingError(err))
	}

	return values, nil
}

func (c *Client) roundTrip(ctx context.Context, req *protocol.Request) (protocol.Reply, error) {
	if !c.conn.Connected() {
		if err := c.conn.Reconnect(ctx); err != nil {
			return nil, err
		}
	}

	if err := c.conn.Send(req.Bytes()); err != nil {
		return nil, err
	}

	reply, err := c.conn.Receive()
	if err != nil {
		return nil, err
	}

	if !reply.OK() {
		e := applicationError(reply)
		c.log.Debug("Command failed",
			zap.String("command", req.String()),
			zap.String("code", e.Code),
			zap.String("message", e.Message))
		return nil, c.conn.fail(e)
	}

	c.log.Debug("Command succeeded",
		zap.String("command", req.String()),
		zap.Int("values", len(reply.Values())))

	c.conn.succeed()

	return reply, nil
}
