package commands

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/google/subcommands"

	"github.com/vbox-sb-manager/tools/src/pkg/modules"
	"github.com/vbox-sb-manager/tools/src/pkg/signing"
	"github.com/vbox-sb-manager/tools/src/pkg/vboxerr"
)

// readPassphrase checks for the signing keys and asks for the passphrase
// protecting the private one.
func readPassphrase(e *env) (string, error) {
	if !e.cfg.KeysExist() {
		return "", vboxerr.New(vboxerr.KeyNotFound, "signing keys not found in %s", e.cfg.KeyDir)
	}
	return e.prompt.Password("Enter passphrase for signing key")
}

// SignCommand is the subcommand to sign the VirtualBox modules.
type SignCommand struct{}

// Name implements subcommands.Command.Name.
func (*SignCommand) Name() string { return "sign" }

// Synopsis implements subcommands.Command.Synopsis.
func (*SignCommand) Synopsis() string { return "Sign the VirtualBox modules of the running kernel." }

// Usage implements subcommands.Command.Usage.
func (*SignCommand) Usage() string { return "sign\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*SignCommand) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (c *SignCommand) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return execute(args, c.run)
}

func (c *SignCommand) run(e *env) error {
	if err := requireRoot(); err != nil {
		return err
	}
	e.out.Header("Sign VirtualBox Modules")
	passphrase, err := readPassphrase(e)
	if err != nil {
		return err
	}
	report, err := signing.NewSigner(e.cfg, e.runner, e.log).SignAll(passphrase)
	if report != nil {
		for _, f := range report.Failures {
			e.out.Warning("%s: %v", f.Module.Name, f.Err)
		}
	}
	if err != nil {
		return err
	}
	e.out.Success("All modules signed successfully!")
	e.out.Info("Signed: %s", strings.Join(report.Signed, ", "))
	return nil
}

// VerifyCommand is the subcommand to check the module signatures.
type VerifyCommand struct{}

// Name implements subcommands.Command.Name.
func (*VerifyCommand) Name() string { return "verify" }

// Synopsis implements subcommands.Command.Synopsis.
func (*VerifyCommand) Synopsis() string { return "Verify that every VirtualBox module is signed." }

// Usage implements subcommands.Command.Usage.
func (*VerifyCommand) Usage() string { return "verify\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*VerifyCommand) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (c *VerifyCommand) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return execute(args, c.run)
}

func (c *VerifyCommand) run(e *env) error {
	e.out.Header("Verify Module Signatures")
	report, err := signing.NewVerifier(e.runner, e.log).VerifyAll()
	if report != nil {
		for _, name := range report.Unsigned {
			e.out.Warning("%s: not signed", name)
		}
	}
	if err != nil {
		return err
	}
	e.out.Success("All modules are properly signed!")
	return nil
}

// LoadCommand is the subcommand to load the VirtualBox modules.
type LoadCommand struct {
	params modules.ModuleParameters
}

// Name implements subcommands.Command.Name.
func (*LoadCommand) Name() string { return "load" }

// Synopsis implements subcommands.Command.Synopsis.
func (*LoadCommand) Synopsis() string { return "Load the VirtualBox modules." }

// Usage implements subcommands.Command.Usage.
func (*LoadCommand) Usage() string { return "load [-param <module>.<key>=<value>]...\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (c *LoadCommand) SetFlags(f *flag.FlagSet) {
	c.params = modules.NewModuleParameters()
	f.Var(&c.params, "param",
		"Module parameter passed to modprobe, e.g. vboxdrv.force_async_tsc=1. May be repeated.")
}

// Execute implements subcommands.Command.Execute.
func (c *LoadCommand) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return execute(args, c.run)
}

func (c *LoadCommand) run(e *env) error {
	if err := requireRoot(); err != nil {
		return err
	}
	e.out.Header("Load VirtualBox Modules")
	if err := signing.LoadAll(e.runner, e.log, c.params); err != nil {
		return err
	}
	e.out.Success("All VirtualBox modules loaded successfully!")
	return nil
}

// UnloadCommand is the subcommand to unload the VirtualBox modules.
type UnloadCommand struct{}

// Name implements subcommands.Command.Name.
func (*UnloadCommand) Name() string { return "unload" }

// Synopsis implements subcommands.Command.Synopsis.
func (*UnloadCommand) Synopsis() string { return "Unload the VirtualBox modules." }

// Usage implements subcommands.Command.Usage.
func (*UnloadCommand) Usage() string { return "unload\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*UnloadCommand) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (c *UnloadCommand) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return execute(args, c.run)
}

func (c *UnloadCommand) run(e *env) error {
	e.out.Header("Unload VirtualBox Modules")
	if err := signing.UnloadAll(e.runner, e.log); err != nil {
		return err
	}
	loaded, err := signing.LoadedModules(e.runner)
	if err != nil {
		return err
	}
	if len(loaded) > 0 {
		e.out.Warning("Still loaded: %s", strings.Join(loaded, ", "))
		return nil
	}
	e.out.Success("VirtualBox modules unloaded")
	return nil
}

// RebuildCommand is the subcommand to rebuild the modules through DKMS.
type RebuildCommand struct{}

// Name implements subcommands.Command.Name.
func (*RebuildCommand) Name() string { return "rebuild" }

// Synopsis implements subcommands.Command.Synopsis.
func (*RebuildCommand) Synopsis() string {
	return "Rebuild the VirtualBox modules for the running kernel with DKMS."
}

// Usage implements subcommands.Command.Usage.
func (*RebuildCommand) Usage() string { return "rebuild\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*RebuildCommand) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (c *RebuildCommand) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return execute(args, c.run)
}

func (c *RebuildCommand) run(e *env) error {
	e.out.Header("Rebuild VirtualBox Modules")
	if err := signing.Rebuild(e.runner, e.log); err != nil {
		return err
	}
	e.out.Success("Modules rebuilt successfully!")
	return nil
}

// FullCommand is the subcommand running rebuild, sign, verify and load.
type FullCommand struct {
	params modules.ModuleParameters
}

// Name implements subcommands.Command.Name.
func (*FullCommand) Name() string { return "full" }

// Synopsis implements subcommands.Command.Synopsis.
func (*FullCommand) Synopsis() string { return "Rebuild, sign, verify and load the VirtualBox modules." }

// Usage implements subcommands.Command.Usage.
func (*FullCommand) Usage() string { return "full [-param <module>.<key>=<value>]...\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (c *FullCommand) SetFlags(f *flag.FlagSet) {
	c.params = modules.NewModuleParameters()
	f.Var(&c.params, "param",
		"Module parameter passed to modprobe when loading, e.g. vboxdrv.force_async_tsc=1. May be repeated.")
}

// Execute implements subcommands.Command.Execute.
func (c *FullCommand) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return execute(args, c.run)
}

func (c *FullCommand) run(e *env) error {
	if err := requireRoot(); err != nil {
		return err
	}
	e.out.Header("Full Process: Rebuild, Sign, Verify, and Load")
	passphrase, err := readPassphrase(e)
	if err != nil {
		return err
	}
	err = signing.NewSigner(e.cfg, e.runner, e.log).Full(passphrase, c.params, func(step int, name string) {
		e.out.Section(fmt.Sprintf("Step %d/%d: %s", step, len(signing.FullSteps), name))
	})
	if err != nil {
		return err
	}
	e.out.Success("Full process completed successfully!")
	return nil
}
