package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/logging"
)

var log = logging.L("supervisor")

// ChildSpec describes how to spawn the child edge-agent process.
type ChildSpec struct {
	Command         string
	Args            []string
	StatusPort      int
	ChildStatusPort int
	Overrides       Overrides
	StopTimeout     time.Duration
}

// child wraps the os/exec.Cmd for one spawn of the agent child process,
// grounded on the agent's own script-executor process management
// (os/exec + soft-terminate then escalate).
type child struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	startAt time.Time
	exited  chan struct{}
	exitErr error
}

func spawnChild(spec ChildSpec) (*child, error) {
	args := append([]string{}, spec.Args...)
	cmd := exec.Command(spec.Command, args...)
	cmd.Env = append(os.Environ(),
		"EDGE_AGENT_STATUS_PORT="+strconv.Itoa(spec.ChildStatusPort),
		"EDGE_AGENT_AUTOSTART=1",
	)
	if len(spec.Overrides.ClassesFilter) > 0 {
		cmd.Env = append(cmd.Env, "EDGE_AGENT_CLASSES_FILTER="+strings.Join(spec.Overrides.ClassesFilter, ","))
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn child: %w", err)
	}

	c := &child{cmd: cmd, startAt: time.Now(), exited: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		c.mu.Lock()
		c.exitErr = err
		c.mu.Unlock()
		close(c.exited)
	}()
	return c, nil
}

// pid returns the child's OS process id.
func (c *child) pid() int {
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// alive reports whether the child has not yet exited.
func (c *child) alive() bool {
	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}

// exitCode returns the child's exit code once exited, or -1 if it
// hasn't exited or the code couldn't be determined.
func (c *child) exitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd.ProcessState == nil {
		return -1
	}
	return c.cmd.ProcessState.ExitCode()
}

// stop sends a soft-terminate signal and escalates to a hard kill after
// timeout if the child has not exited (spec.md §4.10).
func (c *child) stop(ctx context.Context, timeout time.Duration) error {
	if !c.alive() {
		return nil
	}

	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Warn("soft-terminate signal failed, escalating immediately", "error", err)
		return c.kill()
	}

	select {
	case <-c.exited:
		return nil
	case <-time.After(timeout):
		log.Warn("child did not exit within stop timeout, escalating to hard kill", "pid", c.pid(), "timeout", timeout)
		return c.kill()
	case <-ctx.Done():
		return c.kill()
	}
}

func (c *child) kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	if err := c.cmd.Process.Kill(); err != nil {
		return err
	}
	<-c.exited
	return nil
}
