package gateway

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/luma/taskq/client"
	"github.com/luma/taskq/protocol"
)

var (
	ErrInvalidJSON  = errors.New("request body is not valid JSON")
	ErrMissingField = errors.New("request body is missing a field")
	ErrBadTimeout   = errors.New("timeout is not a valid duration")
)

func (g *Gateway) status(c *gin.Context) {
	cl, err := g.dial(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	defer cl.Close()

	status, err := cl.Status(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}

	g.reply(c, http.StatusOK, "status", status)
}

// addJob queues the "payload" field of the body. String payloads are queued
// as their text, anything else as its raw JSON.
func (g *Gateway) addJob(c *gin.Context) {
	queue := c.Param("queue")

	payload, err := readField(c, "payload")
	if err != nil {
		g.badRequest(c, err)
		return
	}

	cl, err := g.dial(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	defer cl.Close()

	handle, err := cl.AddJob(c.Request.Context(), queue, payload)
	if err != nil {
		g.fail(c, err)
		return
	}

	g.reply(c, http.StatusCreated,
		"queue", queue,
		"handle", handle)
}

func (g *Gateway) getJob(c *gin.Context) {
	queue := c.Param("queue")

	cl, err := g.dial(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	defer cl.Close()

	job, err := cl.GetJob(c.Request.Context(), queue)
	if err != nil {
		g.fail(c, err)
		return
	}

	g.reply(c, http.StatusOK,
		"queue", queue,
		"handle", job.Handle,
		"payload", string(job.Payload))
}

// notify returns once queue has a job waiting.
func (g *Gateway) notify(c *gin.Context) {
	queue := c.Param("queue")

	cl, err := g.dial(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	defer cl.Close()

	if err := cl.Notify(c.Request.Context(), queue); err != nil {
		g.fail(c, err)
		return
	}

	g.reply(c, http.StatusOK, "queue", queue, "ready", true)
}

func (g *Gateway) getResult(c *gin.Context) {
	handle := c.Param("handle")

	wait := g.options.ResultWait
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			g.badRequest(c, ErrBadTimeout)
			return
		}
		wait = d
	}

	cl, err := g.dial(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	defer cl.Close()

	result, err := cl.GetReturn(c.Request.Context(), handle, wait)
	if err != nil {
		g.fail(c, err)
		return
	}

	g.reply(c, http.StatusOK,
		"handle", handle,
		"result", string(result))
}

func (g *Gateway) setResult(c *gin.Context) {
	handle := c.Param("handle")

	result, err := readField(c, "result")
	if err != nil {
		g.badRequest(c, err)
		return
	}

	cl, err := g.dial(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	defer cl.Close()

	if err := cl.SetReturn(c.Request.Context(), handle, result); err != nil {
		g.fail(c, err)
		return
	}

	g.reply(c, http.StatusOK, "handle", handle, "done", true)
}

func readField(c *gin.Context, field string) ([]byte, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidJSON
	}

	value := gjson.GetBytes(body, field)
	if !value.Exists() {
		return nil, ErrMissingField
	}

	if value.Type == gjson.String {
		return []byte(value.String()), nil
	}

	return []byte(value.Raw), nil
}

// reply writes a JSON object built from alternating keys and values.
func (g *Gateway) reply(c *gin.Context, status int, kv ...interface{}) {
	body := []byte("{}")

	for i := 0; i+1 < len(kv); i += 2 {
		var err error
		body, err = sjson.SetBytes(body, kv[i].(string), kv[i+1])
		if err != nil {
			g.log.Error("Failed to build response", zap.Error(err))
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
	}

	c.Data(status, "application/json; charset=utf-8", body)
}

func (g *Gateway) badRequest(c *gin.Context, err error) {
	g.reply(c, http.StatusBadRequest, "error", err.Error())
}

func (g *Gateway) fail(c *gin.Context, err error) {
	if c.Request.Context().Err() != nil {
		g.log.Debug("Caller went away", zap.String("path", c.FullPath()), zap.Error(err))
		c.AbortWithStatus(StatusClientClosedRequest)
		return
	}

	var e *client.Error
	if !errors.As(err, &e) {
		g.log.Warn("Request failed", zap.Error(err))
		g.reply(c, http.StatusBadGateway, "error", err.Error())
		return
	}

	status := StatusOf(e)
	if status == http.StatusBadGateway {
		g.log.Warn("Request failed", zap.Error(err))
	}

	g.reply(c, status,
		"error", e.Message,
		"kind", e.Kind.String(),
		"code", e.Code)
}

// StatusOf maps a client error to the HTTP status the gateway answers with.
func StatusOf(e *client.Error) int {
	if e.Kind != client.KindApplication {
		return http.StatusBadGateway
	}

	switch e.Code {
	case protocol.CodeTimeout:
		return http.StatusGatewayTimeout
	case protocol.CodeNotFound, protocol.CodeFailed:
		return http.StatusNotFound
	case protocol.CodeBadArguments:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
