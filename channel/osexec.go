package channel

import (
	"fmt"
	"io"
	"os/exec"
)

// osCommand is a Command backed by a real child process, without pty
// allocation (interactive terminal emulation is out of scope; see
// DESIGN.md). It runs the configured shell for a "shell" request, or
// "shell -c <command>" for "exec".
type osCommand struct {
	cmd      *exec.Cmd
	onExit   func(code uint32, signal string)
	commandLine string
	shell    string
	workDir  string
}

// NewOSCommandFactory returns a CommandFactory that spawns shell as a
// plain child process (no pty) for "shell" requests, and
// "shell -c <line>" for "exec" requests. It is a reference
// implementation for embedders that want real process execution
// without supplying their own CommandFactory; it does not implement
// subsystem dispatch (subsystems are handled separately by the SFTP
// subsystem or a custom SubsystemHandler).
func NewOSCommandFactory(shell, workDir string) CommandFactory {
	return func(line string) (Command, error) {
		resolved, err := shellPath(shell)
		if err != nil {
			return nil, err
		}
		return &osCommand{shell: resolved, workDir: workDir, commandLine: line}, nil
	}
}

func (c *osCommand) SetInput(r io.Reader) {
	c.ensureCmd()
	c.cmd.Stdin = r
}

func (c *osCommand) SetOutput(w io.Writer) {
	c.ensureCmd()
	c.cmd.Stdout = w
}

func (c *osCommand) SetError(w io.Writer) {
	c.ensureCmd()
	c.cmd.Stderr = w
}

func (c *osCommand) SetExitCallback(f func(code uint32, signal string)) {
	c.onExit = f
}

func (c *osCommand) ensureCmd() {
	if c.cmd != nil {
		return
	}
	if c.commandLine == "" {
		c.cmd = exec.Command(c.shell, "-l")
	} else {
		c.cmd = exec.Command(c.shell, "-c", c.commandLine)
	}
}

func (c *osCommand) Start(env []string) error {
	c.ensureCmd()
	c.cmd.Env = env
	if c.workDir != "" {
		c.cmd.Dir = c.workDir
	}
	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("channel: start %s: %w", c.shell, err)
	}
	go c.wait()
	return nil
}

func (c *osCommand) wait() {
	err := c.cmd.Wait()
	code := uint32(0)
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = uint32(exitErr.ExitCode())
		}
	}
	if c.onExit != nil {
		c.onExit(code, "")
	}
}

func (c *osCommand) Destroy() error {
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Kill()
}
