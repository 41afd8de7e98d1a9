// Package main is the program entrance.
package main

import (
	"context"
	"flag"
	"os"

	log "github.com/golang/glog"
	"github.com/google/subcommands"

	"github.com/vbox-sb-manager/tools/src/cmd/vbox_sb_manager/internal/commands"
	"github.com/vbox-sb-manager/tools/src/pkg/config"
	"github.com/vbox-sb-manager/tools/src/pkg/utils"
)

func main() {
	// Always log to stderr for easy debugging.
	flag.Set("alsologtostderr", "true")
	opts := &commands.Options{}
	flag.StringVar(&opts.ConfigPath, "config", config.DefaultPath,
		"Path of the JSON configuration file.")
	flag.BoolVar(&opts.Verbose, "verbose", false,
		"Show informational messages on the console.")
	flag.BoolVar(&opts.Debug, "debug", false,
		"Show debug messages, commands run and error stack traces.")
	flag.Parse()
	if flag.NArg() == 0 {
		flag.CommandLine.Parse([]string{"interactive"})
	}

	log.V(2).Info("Checking if this is the only vbox_sb_manager that is running.")
	f := utils.Flock()
	defer f.Close()

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&commands.SetupCommand{}, "keys")
	subcommands.Register(&commands.SignCommand{}, "modules")
	subcommands.Register(&commands.VerifyCommand{}, "modules")
	subcommands.Register(&commands.LoadCommand{}, "modules")
	subcommands.Register(&commands.UnloadCommand{}, "modules")
	subcommands.Register(&commands.RebuildCommand{}, "modules")
	subcommands.Register(&commands.FullCommand{}, "modules")
	subcommands.Register(&commands.KVMCommand{}, "system")
	subcommands.Register(&commands.StatusCommand{}, "system")
	subcommands.Register(&commands.InteractiveCommand{}, "")

	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx, opts)))
}
