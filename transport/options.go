package transport

import (
	"time"

	"go.uber.org/zap"

	"github.com/luma/taskq/storage"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on. 0 picks a free port, see TCP.Addr.
	Port int

	// Reuseport controls setting SO_REUSEPORT. It is required for more than
	// one listener.
	Reuseport bool

	NumListeners int

	// PurgeInterval is how often expired results are dropped from the store.
	PurgeInterval time.Duration

	Store storage.Store

	Log *zap.Logger
}
