// Package host wraps the interactions of vbox-sb-manager with the running
// system: external commands, privileges, kernel and firmware facts.
package host

import (
	"bytes"
	"os"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vbox-sb-manager/tools/src/pkg/vboxerr"
)

var (
	execCommand = exec.Command
	lookPath    = exec.LookPath
)

// Command describes a single external process invocation.
type Command struct {
	Name string
	Args []string
	// Stdin, when set, is written to the process's standard input.
	Stdin []byte
	// Env holds extra NAME=value entries added to the inherited environment
	// of this process only.
	Env []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the captured outcome of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Success reports whether the command exited with status 0.
func (r *Result) Success() bool { return r.ExitCode == 0 }

// StdoutString returns the trimmed standard output.
func (r *Result) StdoutString() string { return strings.TrimSpace(string(r.Stdout)) }

// StderrString returns the trimmed standard error.
func (r *Result) StderrString() string { return strings.TrimSpace(string(r.Stderr)) }

// Runner runs external commands.
type Runner interface {
	// Run runs cmd to completion. A non-zero exit status is reported through
	// Result.ExitCode; the error is only set when the process could not run.
	Run(cmd Command) (*Result, error)
	// LookPath searches for an executable in PATH.
	LookPath(name string) (string, error)
}

// ExecRunner is a Runner backed by os/exec.
type ExecRunner struct {
	Log log.FieldLogger
}

// NewExecRunner returns an ExecRunner logging to logger.
func NewExecRunner(logger log.FieldLogger) *ExecRunner {
	return &ExecRunner{Log: logger}
}

// Run implements Runner.Run.
func (r *ExecRunner) Run(c Command) (*Result, error) {
	r.Log.Debugf("Executing command: %s", c)
	cmd := execCommand(c.Name, c.Args...)
	if len(c.Env) > 0 {
		base := cmd.Env
		if base == nil {
			base = os.Environ()
		}
		cmd.Env = append(base, c.Env...)
	}
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, vboxerr.Wrap(err, vboxerr.CommandFailed, "failed to execute %s", c.Name)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	r.Log.Debugf("Command exit status: %d", res.ExitCode)
	return res, nil
}

// LookPath implements Runner.LookPath.
func (r *ExecRunner) LookPath(name string) (string, error) {
	return lookPath(name)
}

// RunChecked runs c and turns a non-zero exit status into a CommandFailed
// error carrying the captured standard error.
func RunChecked(r Runner, c Command) (*Result, error) {
	res, err := r.Run(c)
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return res, vboxerr.New(vboxerr.CommandFailed, "command '%s' failed (exit status %d): %s",
			c.Name, res.ExitCode, res.StderrString())
	}
	return res, nil
}

// Output runs name with args and returns its trimmed standard output.
func Output(r Runner, name string, args ...string) (string, error) {
	res, err := RunChecked(r, Command{Name: name, Args: args})
	if err != nil {
		return "", err
	}
	return res.StdoutString(), nil
}

// CommandExists reports whether name can be found in PATH.
func CommandExists(r Runner, name string) bool {
	_, err := r.LookPath(name)
	return err == nil
}

// RequireTools returns a DependencyMissing error naming every tool in names
// that is not in PATH.
func RequireTools(r Runner, names ...string) error {
	missing := MissingTools(r, names...)
	if len(missing) > 0 {
		return vboxerr.New(vboxerr.DependencyMissing, "%s", strings.Join(missing, ", "))
	}
	return nil
}

// MissingTools returns the subset of names not found in PATH.
func MissingTools(r Runner, names ...string) []string {
	var missing []string
	for _, name := range names {
		if !CommandExists(r, name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// RequiredTools lists the tools vbox-sb-manager depends on.
var RequiredTools = []string{"openssl", "mokutil", "modinfo", "modprobe", "zstd"}

// MissingDependencies returns the required tools that are not installed.
func MissingDependencies(r Runner) []string {
	return MissingTools(r, RequiredTools...)
}
