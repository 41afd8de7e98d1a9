// Package commands implements subcommands of vbox_sb_manager.
package commands

import (
	"io"
	"os"

	"github.com/google/subcommands"
	log "github.com/sirupsen/logrus"

	"github.com/vbox-sb-manager/tools/src/cmd/vbox_sb_manager/internal/prompt"
	"github.com/vbox-sb-manager/tools/src/pkg/config"
	"github.com/vbox-sb-manager/tools/src/pkg/host"
	"github.com/vbox-sb-manager/tools/src/pkg/logging"
	"github.com/vbox-sb-manager/tools/src/pkg/output"
	"github.com/vbox-sb-manager/tools/src/pkg/vboxerr"
)

// Version is the vbox_sb_manager release, overridden at link time.
var Version = "0.1.0"

var (
	requireRoot = host.RequireRoot
	newRunner   = func(logger log.FieldLogger) host.Runner { return host.NewExecRunner(logger) }
)

// Options are the global flags shared by every subcommand. main passes them
// as the first argument of subcommands.Execute.
type Options struct {
	ConfigPath string
	Verbose    bool
	Debug      bool
}

// env is everything a single command run works with.
type env struct {
	opts   *Options
	cfg    *config.Config
	log    log.FieldLogger
	runner host.Runner
	out    *output.Printer
	prompt *prompt.Prompter
	closer io.Closer
}

func optionsFrom(args []interface{}) *Options {
	if len(args) > 0 {
		if opts, ok := args[0].(*Options); ok && opts != nil {
			return opts
		}
	}
	return &Options{ConfigPath: config.DefaultPath}
}

// newEnv loads the configuration and builds the run logger. The returned env
// is usable even when the configuration fails to load, so the failure can be
// reported through it.
func newEnv(opts *Options) (*env, error) {
	cfg, cfgErr := config.Load(opts.ConfigPath)
	if cfgErr != nil {
		cfg = config.Default()
	}
	logger := logging.New(logging.Options{Verbose: opts.Verbose, Debug: opts.Debug, LogFile: cfg.LogFile})
	runLog := logger.WithField("run", logger.RunID)
	runLog.Infof("VirtualBox Secure Boot Manager started (version %s)", Version)
	return &env{
		opts:   opts,
		cfg:    cfg,
		log:    runLog,
		runner: newRunner(runLog),
		out:    output.NewPrinter(),
		prompt: prompt.New(os.Stdin, os.Stdout),
		closer: logger,
	}, cfgErr
}

func (e *env) close() {
	if e.closer != nil {
		e.closer.Close()
	}
}

// finish logs and prints the outcome of a command and maps it to an exit
// status.
func (e *env) finish(err error) subcommands.ExitStatus {
	if err == nil {
		e.log.Info("Command completed successfully")
		return subcommands.ExitSuccess
	}
	e.logError(err)
	e.out.Error("%s", vboxerr.UserMessage(err))
	return subcommands.ExitFailure
}

func (e *env) logError(err error) {
	if e.opts.Debug {
		e.log.Errorf("Command failed: %+v", err)
	} else {
		e.log.Errorf("Command failed: %v", err)
	}
}

// execute runs fn in a fresh env built from the global options in args.
func execute(args []interface{}, fn func(*env) error) subcommands.ExitStatus {
	e, err := newEnv(optionsFrom(args))
	defer e.close()
	if err == nil {
		err = fn(e)
	}
	return e.finish(err)
}
