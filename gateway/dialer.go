package gateway

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/luma/taskq/client"
)

// requestDialer ties the connections it opens to the lifetime of one HTTP
// request. Once ctx is done the connection's deadline is moved into the past,
// failing any read or write blocked on it.
type requestDialer struct {
	ctx    context.Context
	dialer client.Dialer
}

func (d *requestDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := d.dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}

	rc := &requestConn{Conn: conn, closed: make(chan struct{})}

	go func() {
		select {
		case <-d.ctx.Done():
			// SetDeadline may be called while another goroutine reads
			_ = conn.SetDeadline(time.Unix(1, 0))
		case <-rc.closed:
		}
	}()

	return rc, nil
}

type requestConn struct {
	net.Conn

	once   sync.Once
	closed chan struct{}
}

func (c *requestConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
	})

	return c.Conn.Close()
}
