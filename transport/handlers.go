package transport

import (
	"errors"
	"io"
	"net"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/luma/taskq/protocol"
	"github.com/luma/taskq/storage"
)

// DefaultResultWait is used by GetReturn when the client sends no usable
// timeout.
const DefaultResultWait = time.Minute

var (
	MsgBadArguments = "bad arguments"
	MsgUnknown      = "not found action"
	MsgSystem       = "system error"
)

func (t *TCPConn) dispatch(req *protocol.Request) error {
	args := req.Args()[1:]

	switch req.Command {
	case protocol.AddJob:
		if len(args) < 2 {
			return t.badArguments()
		}

		handle, err := t.store.Add(t.ctx, string(args[0]), args[1])
		if err != nil {
			return t.systemError(req, err)
		}

		return protocol.WriteOk(t.conn, "job added", []byte(handle))

	case protocol.GetJob:
		if len(args) < 1 {
			return t.badArguments()
		}

		job, err := t.store.Take(t.ctx, string(args[0]), t.id)
		if errors.Is(err, storage.ErrEmpty) {
			return protocol.WriteError(t.conn, protocol.CodeFailed, "NULL")
		}
		if err != nil {
			return t.systemError(req, err)
		}

		return protocol.WriteOk(t.conn, "job taken", []byte(job.Handle), job.Payload)

	case protocol.GetReturn:
		if len(args) < 1 {
			return t.badArguments()
		}

		wait := DefaultResultWait
		if len(args) > 1 {
			if ms, err := strconv.Atoi(string(args[1])); err == nil && ms > 0 {
				wait = time.Duration(ms) * time.Millisecond
			}
		}

		result, err := t.store.Result(t.ctx, string(args[0]), wait)
		switch {
		case err == nil:
			return protocol.WriteOk(t.conn, "result", result)
		case errors.Is(err, storage.ErrTimeout):
			return protocol.WriteError(t.conn, protocol.CodeTimeout, "timeout")
		case errors.Is(err, storage.ErrNotFound):
			return protocol.WriteError(t.conn, protocol.CodeFailed, "not found")
		case !t.isRunning():
			// Client went away while we waited
			return nil
		default:
			return t.systemError(req, err)
		}

	case protocol.SetReturn:
		if len(args) < 2 {
			return t.badArguments()
		}

		err := t.store.Finish(t.ctx, string(args[0]), args[1])
		if errors.Is(err, storage.ErrNotFound) {
			return protocol.WriteError(t.conn, protocol.CodeNotFound, "not found")
		}
		if err != nil {
			return t.systemError(req, err)
		}

		return protocol.WriteOk(t.conn, "result set")

	case protocol.Usr1:
		if len(args) < 1 {
			return t.badArguments()
		}

		if err := t.store.WaitReady(t.ctx, string(args[0])); err != nil {
			if !t.isRunning() {
				return nil
			}

			return t.systemError(req, err)
		}

		return protocol.WriteOk(t.conn, "notified")

	case protocol.Status:
		return protocol.WriteOk(t.conn, "running")

	case protocol.StopServer:
		err := protocol.WriteOk(t.conn, "stopping")
		t.log.Info("Stop requested by client")
		t.stop()
		return err

	default:
		return protocol.WriteError(t.conn, protocol.CodeNotFound, MsgUnknown)
	}
}

func (t *TCPConn) badArguments() error {
	return protocol.WriteError(t.conn, protocol.CodeBadArguments, MsgBadArguments)
}

func (t *TCPConn) systemError(req *protocol.Request, err error) error {
	t.log.Error("Command failed", zap.String("command", req.String()), zap.Error(err))
	return protocol.WriteError(t.conn, protocol.CodeSystem, MsgSystem)
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
