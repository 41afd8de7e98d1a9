package commands

import (
	"context"
	"flag"

	"github.com/google/subcommands"

	"github.com/vbox-sb-manager/tools/src/pkg/kvm"
)

// KVMCommand groups the KVM subcommands. VirtualBox cannot run while the KVM
// modules hold the virtualization extensions.
type KVMCommand struct{}

// Name implements subcommands.Command.Name.
func (*KVMCommand) Name() string { return "kvm" }

// Synopsis implements subcommands.Command.Synopsis.
func (*KVMCommand) Synopsis() string { return "Disable, enable or inspect KVM." }

// Usage implements subcommands.Command.Usage.
func (*KVMCommand) Usage() string { return "kvm <disable [-permanent] | enable | status>\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*KVMCommand) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*KVMCommand) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	cmdr := subcommands.NewCommander(f, "kvm")
	cmdr.Register(cmdr.HelpCommand(), "")
	cmdr.Register(&kvmDisableCommand{}, "")
	cmdr.Register(&kvmEnableCommand{}, "")
	cmdr.Register(&kvmStatusCommand{}, "")
	return cmdr.Execute(ctx, args...)
}

type kvmDisableCommand struct {
	permanent bool
}

// Name implements subcommands.Command.Name.
func (*kvmDisableCommand) Name() string { return "disable" }

// Synopsis implements subcommands.Command.Synopsis.
func (*kvmDisableCommand) Synopsis() string { return "Unload KVM so VirtualBox can run." }

// Usage implements subcommands.Command.Usage.
func (*kvmDisableCommand) Usage() string { return "kvm disable [-permanent]\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (c *kvmDisableCommand) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.permanent, "permanent", false,
		"Also blacklist the KVM modules so they stay unloaded after a reboot.")
}

// Execute implements subcommands.Command.Execute.
func (c *kvmDisableCommand) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return execute(args, c.run)
}

func (c *kvmDisableCommand) run(e *env) error {
	e.out.Header("Disable KVM")
	m := kvm.NewManager(e.runner, e.log)
	if c.permanent {
		e.out.Info("Disabling KVM permanently...")
		if err := m.DisablePermanent(); err != nil {
			return err
		}
		e.out.Success("KVM disabled permanently (survives reboot)")
		return nil
	}
	e.out.Info("Disabling KVM temporarily...")
	if err := m.DisableTemporary(); err != nil {
		return err
	}
	e.out.Success("KVM disabled temporarily (until reboot)")
	return nil
}

type kvmEnableCommand struct{}

// Name implements subcommands.Command.Name.
func (*kvmEnableCommand) Name() string { return "enable" }

// Synopsis implements subcommands.Command.Synopsis.
func (*kvmEnableCommand) Synopsis() string { return "Remove the KVM blacklist and load KVM again." }

// Usage implements subcommands.Command.Usage.
func (*kvmEnableCommand) Usage() string { return "kvm enable\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*kvmEnableCommand) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (c *kvmEnableCommand) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return execute(args, c.run)
}

func (c *kvmEnableCommand) run(e *env) error {
	e.out.Header("Enable KVM")
	if err := kvm.NewManager(e.runner, e.log).Enable(); err != nil {
		return err
	}
	e.out.Success("KVM re-enabled")
	e.out.Warning("VirtualBox will NO LONGER work until KVM is disabled again")
	return nil
}

type kvmStatusCommand struct{}

// Name implements subcommands.Command.Name.
func (*kvmStatusCommand) Name() string { return "status" }

// Synopsis implements subcommands.Command.Synopsis.
func (*kvmStatusCommand) Synopsis() string { return "Show whether KVM is loaded or blacklisted." }

// Usage implements subcommands.Command.Usage.
func (*kvmStatusCommand) Usage() string { return "kvm status\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*kvmStatusCommand) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (c *kvmStatusCommand) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return execute(args, c.run)
}

func (c *kvmStatusCommand) run(e *env) error {
	e.out.Header("KVM Status")
	status, err := kvm.NewManager(e.runner, e.log).Status()
	if err != nil {
		return err
	}
	if status.KVMLoaded {
		e.out.Warning("KVM: Loaded")
	} else {
		e.out.Success("KVM: Not loaded")
	}
	if status.IntelLoaded {
		e.out.Println("  kvm_intel: loaded")
	}
	if status.AMDLoaded {
		e.out.Println("  kvm_amd: loaded")
	}
	if status.Blacklisted {
		e.out.Info("Blacklist: Enabled (permanent)")
	} else {
		e.out.Println("  Blacklist: disabled")
	}
	return nil
}
