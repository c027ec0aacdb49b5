// Package sandboxtest provides an in-memory sandbox runtime for tests.
package sandboxtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/nimbus/sandbox"
)

// CommandRule scripts the fake's response to commands containing Match.
type CommandRule struct {
	Match    string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
	Delay    time.Duration
}

// FakeRuntime is an in-memory sandbox.Runtime. Commands are matched against
// scripted rules in order; unmatched commands succeed with empty output.
type FakeRuntime struct {
	SandboxID string

	mu        sync.Mutex
	rules     []CommandRule
	commands  []string
	files     map[string][]byte
	destroyed bool

	// ExistingPaths answer `test -e` / `test -d` probes.
	existing map[string]bool
}

// NewFakeRuntime creates a fake with the given id.
func NewFakeRuntime(id string) *FakeRuntime {
	return &FakeRuntime{
		SandboxID: id,
		files:     make(map[string][]byte),
		existing:  make(map[string]bool),
	}
}

// Script appends a command rule.
func (f *FakeRuntime) Script(rule CommandRule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule)
}

// SetExists marks a path as present for test/test -d probes.
func (f *FakeRuntime) SetExists(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existing[path] = true
}

// Commands returns every command executed so far.
func (f *FakeRuntime) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// File returns the contents written to path.
func (f *FakeRuntime) File(path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	return string(data), ok
}

// Destroyed reports whether Destroy was called.
func (f *FakeRuntime) Destroyed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

func (f *FakeRuntime) ID() string {
	return f.SandboxID
}

func (f *FakeRuntime) Exec(ctx context.Context, cmd string, timeout time.Duration) (sandbox.ExecResult, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	var matched *CommandRule
	for i := range f.rules {
		if strings.Contains(cmd, f.rules[i].Match) {
			matched = &f.rules[i]
			break
		}
	}
	f.mu.Unlock()

	if matched != nil {
		if matched.Delay > 0 {
			select {
			case <-time.After(matched.Delay):
			case <-ctx.Done():
				return sandbox.ExecResult{}, ctx.Err()
			}
		}
		if matched.Err != nil {
			return sandbox.ExecResult{}, matched.Err
		}
		return sandbox.ExecResult{
			ExitCode: matched.ExitCode,
			Stdout:   matched.Stdout,
			Stderr:   matched.Stderr,
		}, nil
	}

	// Unscripted existence probes consult the existing set.
	if strings.HasPrefix(cmd, "test -e ") || strings.HasPrefix(cmd, "test -d ") {
		path := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(cmd, "test -e "), "test -d "))
		f.mu.Lock()
		ok := f.existing[path]
		f.mu.Unlock()
		if !ok {
			return sandbox.ExecResult{ExitCode: 1}, nil
		}
	}

	return sandbox.ExecResult{ExitCode: 0}, nil
}

func (f *FakeRuntime) WriteFile(ctx context.Context, path string, contents []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = append([]byte(nil), contents...)
	f.existing[path] = true
	return nil
}

func (f *FakeRuntime) Destroy(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
	return nil
}

// FakeProvisioner hands out a fixed runtime.
type FakeProvisioner struct {
	Runtime *FakeRuntime
	Err     error
}

func (p *FakeProvisioner) Create(ctx context.Context) (sandbox.Runtime, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Runtime, nil
}
