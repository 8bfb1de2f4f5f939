package transport

import (
	"context"
	"errors"
	"net"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/taskq/protocol"
	"github.com/luma/taskq/storage"
)

const (
	DefaultPurgeInterval = time.Minute
)

// Purger is implemented by stores that expire results.
type Purger interface {
	Purge(now time.Time) int
}

// TCP is a development queue server. It speaks the same protocol as the real
// server, backed by a storage.Store.
type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr      string
	reuseport bool

	numListeners int
	listeners    []*TCPListener

	purgeInterval time.Duration

	store storage.Store

	mu       sync.Mutex
	doneChan chan struct{}

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners

	if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	if !options.Reuseport {
		// Only one socket can bind the port without SO_REUSEPORT
		numListeners = 1
	}

	purgeInterval := options.PurgeInterval
	if purgeInterval <= 0 {
		purgeInterval = DefaultPurgeInterval
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &TCP{
		addr:          net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		reuseport:     options.Reuseport,
		numListeners:  numListeners,
		listeners:     make([]*TCPListener, 0, numListeners),
		purgeInterval: purgeInterval,
		doneChan:      make(chan struct{}),
		store:         options.Store,
		log:           log,
	}
}

// Start binds every listener and starts accepting connections. It returns
// once the server is listening.
func (w *TCP) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	w.cancel = cancel

	w.log.Info("Starting tcp listeners", zap.Int("count", w.numListeners))

	for i := 0; i < w.numListeners; i++ {
		if err := w.startListener(ctx, w.addr); err != nil {
			cancel()
			return multierr.Append(err, w.closeListeners())
		}
	}

	if purger, ok := w.store.(Purger); ok {
		w.stopWaiter.Add(1)
		go func() {
			defer w.stopWaiter.Done()
			w.purgeLoop(ctx, purger)
		}()
	}

	return nil
}

// Addr returns the address of the first listener, useful when listening on
// port 0.
func (w *TCP) Addr() net.Addr {
	if len(w.listeners) == 0 {
		return nil
	}

	return w.listeners[0].Addr()
}

func (t *TCP) Store() storage.Store {
	return t.store
}

// Done is closed when a client sends StopServer.
func (w *TCP) Done() <-chan struct{} {
	return w.doneChan
}

func (w *TCP) startListener(ctx context.Context, addr string) error {
	listener := NewTCPListener(
		ctx,
		addr,
		w.store,
		w.closeDoneChan,
		w.log.Named("listener").With(zap.Int("listener", len(w.listeners))),
	)

	if err := listener.Bind(w.reuseport); err != nil {
		return err
	}

	w.listeners = append(w.listeners, listener)

	w.stopWaiter.Add(1)
	go func() {
		defer w.stopWaiter.Done()

		if err := listener.Serve(); err != nil {
			// TODO(rolly) as any of the listeners can fail to listen, but we don't treat this as fatal,
			//             you can end up with less than the required amount of listeners running
			w.log.Error("Failed to serve", zap.Error(err))
		}
	}()

	return nil
}

func (w *TCP) purgeLoop(ctx context.Context, purger Purger) {
	ticker := time.NewTicker(w.purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case now := <-ticker.C:
			if n := purger.Purge(now); n > 0 {
				w.log.Debug("Purged expired results", zap.Int("count", n))
			}
		}
	}
}

// Close immediately closes all listeners and client connections.
func (w *TCP) Close() error {
	w.log.Info("Stopping TCP server")

	if w.cancel != nil {
		w.cancel()
	}

	err := w.closeListeners()

	w.stopWaiter.Wait()
	w.log.Info("Listeners stopped")

	return err
}

func (w *TCP) closeListeners() (err error) {
	for _, listener := range w.listeners {
		err = multierr.Append(err, listener.Close())
	}

	return err
}

func (w *TCP) closeDoneChan() {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.doneChan:
		// Already closed.
	default:
		close(w.doneChan)
	}
}

type TCPListener struct {
	ctx context.Context

	addr     string
	listener net.Listener
	log      *zap.Logger

	mu          sync.Mutex
	activeConns map[*TCPConn]struct{}
	connWaiter  sync.WaitGroup

	store storage.Store
	stop  func()
}

func NewTCPListener(
	ctx context.Context,
	addr string,
	store storage.Store,
	stop func(),
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		activeConns: make(map[*TCPConn]struct{}),
		addr:        addr,
		store:       store,
		stop:        stop,
		log:         log,
	}
}

func (t *TCPListener) Bind(withReuseport bool) (err error) {
	if withReuseport {
		t.listener, err = reuseport.Listen("tcp", t.addr)
	} else {
		t.listener, err = net.Listen("tcp", t.addr)
	}

	if err != nil {
		return err
	}

	t.log.Info("Listening", zap.String("addr", t.listener.Addr().String()))

	return nil
}

func (t *TCPListener) Addr() net.Addr {
	return t.listener.Addr()
}

// Close stops accepting and closes every active connection.
func (t *TCPListener) Close() error {
	var err error
	if t.listener != nil {
		if cerr := t.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}

	t.mu.Lock()
	for conn := range t.activeConns {
		err = multierr.Append(err, conn.Close())
	}
	t.mu.Unlock()

	return err
}

// Serve accepts connections until the listener is closed.
func (t *TCPListener) Serve() error {
	defer func() {
		t.log.Info("Waiting for connections to finish")
		t.connWaiter.Wait()
		t.log.Info("Listener stopped")
	}()

	go func() {
		<-t.ctx.Done()
		t.Close()
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				// The listener was closed while we were waiting for new connections
				// that's fine.
				return nil
			}

			// TODO(rolly) can we recover from some classes of err?
			return err
		}

		tcpConn := NewTCPConn(t.ctx, conn, t.store, t.stop, t.log.Named("conn"))

		t.addConn(tcpConn)
		t.connWaiter.Add(1)

		go func() {
			defer t.connWaiter.Done()
			defer t.removeConn(tcpConn)
			tcpConn.Start()
		}()
	}
}

func (t *TCPListener) addConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.activeConns[conn] = struct{}{}
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}

// TCPConn serves one client. The read loop decodes requests and hands them to
// the dispatch loop, which runs them one at a time and writes the replies.
// Reading ahead lets a blocked GetReturn or Usr1 notice that the client went
// away.
type TCPConn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup

	id    storage.Owner
	conn  net.Conn
	store storage.Store
	stop  func()

	requests chan *protocol.Request

	log *zap.Logger
}

func NewTCPConn(
	parentCtx context.Context,
	conn net.Conn,
	store storage.Store,
	stop func(),
	log *zap.Logger,
) *TCPConn {
	ctx, cancel := context.WithCancel(parentCtx)
	id := storage.Owner(uuid.NewString())

	return &TCPConn{
		ctx:      ctx,
		cancel:   cancel,
		id:       id,
		conn:     conn,
		store:    store,
		stop:     stop,
		requests: make(chan *protocol.Request, 1),
		log: log.With(
			zap.String("conn", string(id)),
			zap.String("remote", conn.RemoteAddr().String())),
	}
}

// Close stops both loops. Jobs the client had taken go back on their queues
// once Start returns.
func (t *TCPConn) Close() error {
	t.cancel()

	// Unblocks the read loop
	err := t.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

func (t *TCPConn) Start() {
	t.loopWaiter.Add(2)

	go func() {
		defer t.loopWaiter.Done()
		t.ReadLoop()
	}()

	go func() {
		defer t.loopWaiter.Done()
		t.DispatchLoop()
	}()

	t.loopWaiter.Wait()

	t.Close()

	if n := t.store.Release(t.id); n > 0 {
		t.log.Info("Released jobs of closed connection", zap.Int("count", n))
	}
}

func (t *TCPConn) ReadLoop() {
	log := t.log.Named("readLoop")

	defer func() {
		// Whatever stopped us, the connection is finished
		t.cancel()
		close(t.requests)
		log.Debug("Read loop exited")
	}()

	r := protocol.NewReader(t.conn)

	for {
		req, err := protocol.ReadRequest(r)
		if err != nil {
			if isClosed(err) {
				log.Debug("Client disconnected")
			} else {
				log.Warn("Failed to read client request", zap.Error(err))
			}

			return
		}

		select {
		case t.requests <- req:
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *TCPConn) DispatchLoop() {
	log := t.log.Named("dispatchLoop")

	// If we stop early the read loop must not stay blocked on the socket
	defer t.Close()

	for req := range t.requests {
		if err := t.dispatch(req); err != nil {
			if isClosed(err) {
				return
			}

			log.Warn("Failed to reply", zap.String("command", req.String()), zap.Error(err))
		}
	}
}

// isRunning returns true if Close has not been called
func (t *TCPConn) isRunning() bool {
	select {
	case <-t.ctx.Done():
		// if we can read on this channel then it's been closed
		return false

	default:
		return true
	}
}
