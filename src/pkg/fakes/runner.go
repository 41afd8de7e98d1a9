// Package fakes provides fake implementations of vbox-sb-manager interfaces
// for use in tests.
package fakes

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/vbox-sb-manager/tools/src/pkg/host"
)

// Runner is a scripted host.Runner. Commands are matched against the
// registered rules by command-line prefix, first match wins. A command that
// matches no rule succeeds with empty output.
type Runner struct {
	// Tools is the set of executables LookPath can find.
	Tools map[string]bool
	// Calls records every command passed to Run, in order.
	Calls []host.Command

	rules []rule
}

type rule struct {
	prefix string
	handle func(host.Command) (*host.Result, error)
}

// NewRunner returns a Runner for which every name in tools is on PATH.
func NewRunner(tools ...string) *Runner {
	r := &Runner{Tools: make(map[string]bool)}
	for _, t := range tools {
		r.Tools[t] = true
	}
	return r
}

// On makes every command whose command line starts with prefix return res.
func (r *Runner) On(prefix string, res *host.Result) *Runner {
	return r.OnFunc(prefix, func(host.Command) (*host.Result, error) {
		copied := *res
		return &copied, nil
	})
}

// OnFunc makes every command whose command line starts with prefix call fn.
func (r *Runner) OnFunc(prefix string, fn func(host.Command) (*host.Result, error)) *Runner {
	r.rules = append(r.rules, rule{prefix: prefix, handle: fn})
	return r
}

// OnError makes every command whose command line starts with prefix fail to
// start.
func (r *Runner) OnError(prefix string, err error) *Runner {
	return r.OnFunc(prefix, func(host.Command) (*host.Result, error) { return nil, err })
}

// Run implements host.Runner.Run. The recorded command owns copies of Stdin
// and Env, so callers clearing their secrets do not alter Calls.
func (r *Runner) Run(c host.Command) (*host.Result, error) {
	recorded := c
	if c.Stdin != nil {
		recorded.Stdin = append([]byte(nil), c.Stdin...)
	}
	if c.Env != nil {
		recorded.Env = append([]string(nil), c.Env...)
	}
	r.Calls = append(r.Calls, recorded)
	line := c.String()
	for _, rl := range r.rules {
		if strings.HasPrefix(line, rl.prefix) {
			return rl.handle(c)
		}
	}
	return &host.Result{}, nil
}

// LookPath implements host.Runner.LookPath.
func (r *Runner) LookPath(name string) (string, error) {
	if r.Tools[name] {
		return "/usr/bin/" + name, nil
	}
	return "", errors.Errorf("exec: %q: executable file not found in $PATH", name)
}

// Ran reports whether a command starting with prefix was run.
func (r *Runner) Ran(prefix string) bool {
	return len(r.CallsWith(prefix)) > 0
}

// CallsWith returns the recorded commands whose command line starts with
// prefix.
func (r *Runner) CallsWith(prefix string) []host.Command {
	var calls []host.Command
	for _, c := range r.Calls {
		if strings.HasPrefix(c.String(), prefix) {
			calls = append(calls, c)
		}
	}
	return calls
}

// CommandLines returns the recorded command lines.
func (r *Runner) CommandLines() []string {
	var lines []string
	for _, c := range r.Calls {
		lines = append(lines, c.String())
	}
	return lines
}

// Stdout returns a successful result printing out.
func Stdout(out string) *host.Result {
	return &host.Result{Stdout: []byte(out)}
}

// Exit returns a result with the given exit code and standard error.
func Exit(code int, stderr string) *host.Result {
	return &host.Result{ExitCode: code, Stderr: []byte(stderr)}
}
