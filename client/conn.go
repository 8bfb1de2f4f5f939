package client

import (
	"context"
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/luma/taskq/protocol"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Dialer opens the underlying connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Conn owns a single socket to the queue server along with its status, the
// address it was last connected to and the last error seen on it.
//
// A Conn is not safe for concurrent use. Requests are strictly sequential:
// Send one request, then Receive its whole reply before the next Send.
type Conn struct {
	dialer Dialer

	conn net.Conn
	rd   *protocol.Reader

	state   State
	address string
	port    int

	lastErr *Error

	log *zap.Logger
}

func NewConn(dialer Dialer, readSize int, log *zap.Logger) *Conn {
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	if readSize <= 0 {
		readSize = protocol.DefaultReadSize
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Conn{
		dialer: dialer,
		rd:     protocol.NewReaderSize(nil, readSize),
		log:    log,
	}
}

// Connect dials address:port. An empty address or zero port falls back to the
// one remembered from the previous Connect. Any existing socket is closed
// first and buffered bytes from it are dropped.
func (c *Conn) Connect(ctx context.Context, address string, port int) error {
	if address != "" {
		c.address = address
	}

	if port != 0 {
		c.port = port
	}

	if c.address == "" || c.port == 0 {
		return c.fail(&Error{Kind: KindTransport, Message: ErrNotConnected.Error(), Err: ErrNotConnected})
	}

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	c.state = Connecting

	conn, err := c.dialer.DialContext(ctx, "tcp", c.Addr())
	if err != nil {
		c.state = Disconnected
		c.log.Warn("Failed to connect", zap.String("addr", c.Addr()), zap.Error(err))
		return c.fail(transportError(err))
	}

	c.conn = conn
	c.rd.Reset(conn)
	c.state = Connected
	c.lastErr = nil

	c.log.Debug("Connected", zap.String("addr", c.Addr()))

	return nil
}

// Reconnect dials the remembered address again.
func (c *Conn) Reconnect(ctx context.Context) error {
	c.log.Info("Reconnecting", zap.String("addr", c.Addr()))
	return c.Connect(ctx, "", 0)
}

// Send writes b in full, looping over partial writes.
func (c *Conn) Send(b []byte) error {
	if c.state != Connected {
		return c.fail(&Error{Kind: KindTransport, Message: ErrNotConnected.Error(), Err: ErrNotConnected})
	}

	if _, err := protocol.WriteFull(c.conn, b); err != nil {
		return c.drop(err)
	}

	return nil
}

// Receive reads one whole reply frame.
func (c *Conn) Receive() (protocol.Reply, error) {
	if c.state != Connected {
		return nil, c.fail(&Error{Kind: KindTransport, Message: ErrNotConnected.Error(), Err: ErrNotConnected})
	}

	reply, err := protocol.ReadFrame(c.rd)
	if err != nil {
		return nil, c.drop(err)
	}

	return reply, nil
}

// Close closes the socket. The address is kept so a later call can reconnect.
func (c *Conn) Close() error {
	c.state = Disconnected

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil

	return err
}

func (c *Conn) State() State {
	return c.state
}

func (c *Conn) Connected() bool {
	return c.state == Connected
}

// Addr returns the address Connect dials, host:port.
func (c *Conn) Addr() string {
	return net.JoinHostPort(c.address, strconv.Itoa(c.port))
}

// LastError returns the most recent error, nil if the last operation
// succeeded.
func (c *Conn) LastError() *Error {
	return c.lastErr
}

// drop tears the connection down after a failed exchange. Once a request has
// been partly written or a reply partly read the stream can no longer be
// trusted, so the next call starts over on a fresh socket.
func (c *Conn) drop(err error) error {
	e := classify(err)

	if e.EOF() {
		c.log.Info("Server closed the connection", zap.String("addr", c.Addr()))
	} else {
		c.log.Warn("Dropping connection", zap.String("addr", c.Addr()), zap.Error(err))
	}

	c.Close()

	return c.fail(e)
}

func (c *Conn) fail(e *Error) error {
	c.lastErr = e
	return e
}

func (c *Conn) succeed() {
	c.lastErr = nil
}
