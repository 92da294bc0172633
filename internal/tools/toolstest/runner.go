// Package toolstest provides test doubles shared by the tool packages.
package toolstest

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/parla/internal/tools"
)

// Runner is a recording [tools.Runner]. Commands never execute.
type Runner struct {
	mu sync.Mutex

	// Output is returned from every Run call.
	Output []byte

	// Err, if non-nil, is returned from Run and Start.
	Err error

	// Commands records every command line, Run and Start alike, joined by
	// spaces.
	Commands []string

	// Stopped counts Stop calls on started processes.
	Stopped int
}

var _ tools.Runner = (*Runner)(nil)

// Run implements [tools.Runner].
func (r *Runner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.record(name, args)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Output, r.Err
}

// Start implements [tools.Runner].
func (r *Runner) Start(name string, args ...string) (tools.Process, error) {
	r.record(name, args)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	return &process{r: r}, nil
}

func (r *Runner) record(name string, args []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Commands = append(r.Commands, strings.Join(append([]string{name}, args...), " "))
}

// Last returns the most recent command line or "".
func (r *Runner) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Commands) == 0 {
		return ""
	}
	return r.Commands[len(r.Commands)-1]
}

// Count returns the number of recorded commands.
func (r *Runner) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Commands)
}

// StopCount returns the number of Stop calls.
func (r *Runner) StopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Stopped
}

type process struct {
	r    *Runner
	once sync.Once
}

func (p *process) Stop() error {
	p.once.Do(func() {
		p.r.mu.Lock()
		p.r.Stopped++
		p.r.mu.Unlock()
	})
	return nil
}
