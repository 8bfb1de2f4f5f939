package gateway

import (
	"context"
	"net"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luma/taskq/client"
)

// DefaultResultWait is how long GET /jobs/:handle/result waits when the
// request has no timeout parameter.
const DefaultResultWait = 30 * time.Second

// StatusClientClosedRequest is recorded when the caller went away before the
// queue server answered.
const StatusClientClosedRequest = 499

type Options struct {
	// Address and Port of the queue server
	Address string
	Port    int

	Dialer   client.Dialer
	ReadSize int

	ResultWait time.Duration

	// Debug puts gin in debug mode
	Debug bool

	Log *zap.Logger
}

// Gateway exposes the queue commands over HTTP. Each request gets its own
// client connection, so slow requests such as result waits never hold up
// others.
type Gateway struct {
	options Options
	router  *gin.Engine
	log     *zap.Logger
}

func New(options Options) *Gateway {
	if options.Log == nil {
		options.Log = zap.NewNop()
	}

	if options.ResultWait <= 0 {
		options.ResultWait = DefaultResultWait
	}

	g := &Gateway{
		options: options,
		log:     options.Log,
	}

	g.router = setupRouter(options.Debug, options.Log)
	g.routes()

	return g
}

func (g *Gateway) Handler() http.Handler {
	return g.router
}

func (g *Gateway) routes() {
	g.router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	g.router.GET("/status", g.status)

	queues := g.router.Group("/queues/:queue")
	queues.POST("/jobs", g.addJob)
	queues.GET("/jobs", g.getJob)
	queues.POST("/notify", g.notify)

	jobs := g.router.Group("/jobs/:handle")
	jobs.GET("/result", g.getResult)
	jobs.PUT("/result", g.setResult)
}

// dial connects a client for the request with context ctx. The client is
// only used by that request, and a call still waiting on the server fails
// once ctx is done.
func (g *Gateway) dial(ctx context.Context) (*client.Client, error) {
	dialer := g.options.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	return client.Dial(ctx, client.Options{
		Address:  g.options.Address,
		Port:     g.options.Port,
		Dialer:   &requestDialer{ctx: ctx, dialer: dialer},
		ReadSize: g.options.ReadSize,
		Log:      g.log.Named("client"),
	})
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Access and error log, RFC3339 UTC timestamps
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panics to the error log, with their stack
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}
