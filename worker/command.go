package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/luma/taskq/client"
)

// CommandHandler runs an external command per job. The payload is written to
// its stdin and its stdout becomes the result. TASKQ_HANDLE is set to the
// job handle.
type CommandHandler struct {
	Path string
	Args []string
	Env  []string
}

func NewCommandHandler(argv []string) (*CommandHandler, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("no command given")
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, err
	}

	return &CommandHandler{Path: path, Args: argv[1:]}, nil
}

func (h *CommandHandler) Handle(ctx context.Context, job client.Job) ([]byte, error) {
	cmd := exec.CommandContext(ctx, h.Path, h.Args...)
	cmd.Env = append(append(os.Environ(), h.Env...), "TASKQ_HANDLE="+job.Handle)
	cmd.Stdin = bytes.NewReader(job.Payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}

		return nil, err
	}

	return stdout.Bytes(), nil
}
