package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/planloom/planloom/pkg/models"
)

// SubprocessRunner dispatches tasks by spawning an external agent CLI
// inside the task's worktree. The agent binary receives the task
// prompt as its final argument and is expected to commit its work to
// the worktree's branch before exiting.
type SubprocessRunner struct {
	// Command is the agent binary, e.g. "claude".
	Command string
	// Args are fixed arguments placed before the prompt.
	Args []string
}

// NewSubprocessRunner creates a runner for the given agent command.
func NewSubprocessRunner(command string, args ...string) *SubprocessRunner {
	return &SubprocessRunner{Command: command, Args: args}
}

// Verify SubprocessRunner implements Runner at compile time.
var _ Runner = (*SubprocessRunner)(nil)

// Dispatch spawns the agent process. It returns once the process has
// started; events stream from a background goroutine.
func (r *SubprocessRunner) Dispatch(ctx context.Context, task *models.Task, worktreePath string) (Handle, error) {
	runCtx, cancel := context.WithCancel(ctx)

	prompt := task.Title
	if task.Description != "" {
		prompt = fmt.Sprintf("%s\n\n%s", task.Title, task.Description)
	}

	args := append(append([]string(nil), r.Args...), prompt)
	cmd := exec.CommandContext(runCtx, r.Command, args...)
	cmd.Dir = worktreePath

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open agent stdout: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start agent %s: %w", r.Command, err)
	}

	h := &subprocessHandle{
		id:     uuid.New().String(),
		events: make(chan Event, 16),
		cancel: cancel,
	}

	go h.pump(cmd, stdout)

	return h, nil
}

type subprocessHandle struct {
	id     string
	events chan Event
	cancel context.CancelFunc

	once sync.Once
}

func (h *subprocessHandle) ID() string { return h.id }

func (h *subprocessHandle) Events() <-chan Event { return h.events }

// Cancel kills the agent process. Best-effort: the terminal failed
// event still arrives through the event stream.
func (h *subprocessHandle) Cancel() {
	h.once.Do(h.cancel)
}

// tryEmit buffers an advisory event, dropping it when the consumer
// lags. The last buffer slot is never taken, so the terminal event can
// always be delivered even if nobody drains the stream again.
func (h *subprocessHandle) tryEmit(ev Event) {
	if len(h.events) >= cap(h.events)-1 {
		return
	}
	select {
	case h.events <- ev:
	default:
	}
}

// pump forwards process output as progress events and emits the
// terminal event when the process exits.
func (h *subprocessHandle) pump(cmd *exec.Cmd, stdout io.Reader) {
	defer close(h.events)
	defer h.cancel()

	h.tryEmit(Event{Type: EventStarted})

	var lastLine string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lastLine = line
		h.tryEmit(Event{Type: EventProgress, Message: line})
	}

	if err := cmd.Wait(); err != nil {
		h.events <- Event{Type: EventFailed, Message: fmt.Sprintf("agent exited: %v", err)}
		return
	}
	h.events <- Event{Type: EventCompleted, Message: lastLine}
}
