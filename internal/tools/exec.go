package tools

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// Runner executes host commands on behalf of tools that control the local
// machine. Tests substitute a recording fake.
type Runner interface {
	// Run executes the command to completion and returns its stdout.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// Start launches the command without waiting for it.
	Start(name string, args ...string) (Process, error)
}

// Process is a command started by [Runner.Start].
type Process interface {
	// Stop terminates the process and reaps it.
	Stop() error
}

// ExecRunner is the [Runner] backed by os/exec.
type ExecRunner struct{}

var _ Runner = ExecRunner{}

// Run implements [Runner].
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return out, fmt.Errorf("tools: run %s: %w", name, err)
	}
	return out, nil
}

// Start implements [Runner].
func (ExecRunner) Start(name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("tools: start %s: %w", name, err)
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	once sync.Once
}

func (p *execProcess) Stop() error {
	var err error
	p.once.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		if kerr := p.cmd.Process.Kill(); kerr != nil {
			err = fmt.Errorf("tools: stop %s: %w", p.cmd.Path, kerr)
			return
		}
		<-p.done
	})
	return err
}

// OpenCommand returns the platform command that opens target with its
// default application.
func OpenCommand(target string) (string, []string) {
	switch runtime.GOOS {
	case "darwin":
		return "open", []string{target}
	case "windows":
		return "cmd", []string{"/c", "start", "", target}
	default:
		return "xdg-open", []string{target}
	}
}

// SplitCommand splits a configured command line into name and arguments.
func SplitCommand(line string) (string, []string) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
