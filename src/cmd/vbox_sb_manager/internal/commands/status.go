package commands

import (
	"context"
	"flag"
	"strings"

	"github.com/google/subcommands"

	"github.com/vbox-sb-manager/tools/src/pkg/host"
	"github.com/vbox-sb-manager/tools/src/pkg/kvm"
	"github.com/vbox-sb-manager/tools/src/pkg/mok"
	"github.com/vbox-sb-manager/tools/src/pkg/signing"
)

const hostRootPath = "/"

var newEnvReader = host.NewEnvReader

// StatusCommand is the subcommand to print an overview of the system.
type StatusCommand struct{}

// Name implements subcommands.Command.Name.
func (*StatusCommand) Name() string { return "status" }

// Synopsis implements subcommands.Command.Synopsis.
func (*StatusCommand) Synopsis() string {
	return "Show Secure Boot, key, MOK, KVM and module state."
}

// Usage implements subcommands.Command.Usage.
func (*StatusCommand) Usage() string { return "status\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*StatusCommand) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (c *StatusCommand) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return execute(args, c.run)
}

// run reports every fact it can gather. Probes that fail are shown as
// undetermined instead of failing the command.
func (c *StatusCommand) run(e *env) error {
	e.out.Header("System Status")

	release := "unknown"
	if envReader, err := newEnvReader(hostRootPath); err != nil {
		e.log.Warnf("Failed to read host information: %v", err)
	} else {
		release = envReader.KernelRelease()
		e.out.Info("Distribution: %s", envReader.Distribution())
	}
	e.out.Info("Kernel version: %s", release)

	switch enabled, err := host.SecureBootEnabled(e.runner, e.log); {
	case err != nil:
		e.out.Warning("Secure Boot: Cannot determine")
	case enabled:
		e.out.Success("Secure Boot: Enabled")
	default:
		e.out.Warning("Secure Boot: Disabled")
	}

	if version, err := host.VirtualBoxVersion(e.runner); err != nil {
		e.out.Error("VirtualBox: Not installed")
	} else {
		e.out.Info("VirtualBox version: %s", version)
	}

	if err := e.cfg.Validate(); err != nil {
		e.out.Warning("%v", err)
	}
	if e.cfg.KeysExist() {
		e.out.Success("Signing keys: Present")
	} else {
		e.out.Warning("Signing keys: Not found")
	}

	switch enrolled, err := mok.NewManager(e.cfg, e.runner, e.log).IsEnrolled(); {
	case err != nil:
		e.out.Warning("MOK: Cannot determine")
	case enrolled:
		e.out.Success("MOK: Enrolled")
	default:
		e.out.Warning("MOK: Not enrolled")
	}

	if stamp, err := signing.ReadStamp(e.cfg.KeyDir); err != nil {
		e.log.Warnf("Failed to read signing stamp: %v", err)
	} else if stamp.SignedFor(release) {
		e.out.Success("Modules signed for this kernel: %d module(s)", stamp.ModuleCount)
	} else if stamp != nil {
		e.out.Warning("Modules last signed for kernel %s; run sign again", stamp.KernelRelease)
	}

	if status, err := kvm.NewManager(e.runner, e.log).Status(); err != nil {
		e.out.Warning("KVM: Cannot determine")
	} else if status.KVMLoaded {
		e.out.Error("KVM: Loaded (VirtualBox will NOT work!)")
	} else {
		e.out.Success("KVM: Not loaded (VirtualBox can operate)")
	}

	loaded, err := signing.LoadedModules(e.runner)
	switch {
	case err != nil:
		e.out.Warning("VirtualBox modules: Cannot determine")
	case len(loaded) > 0:
		e.out.Success("VirtualBox modules loaded: %s", strings.Join(loaded, ", "))
	default:
		e.out.Warning("VirtualBox modules: Not loaded")
	}

	if missing := host.MissingDependencies(e.runner); len(missing) > 0 {
		e.out.Warning("Missing dependencies: %s", strings.Join(missing, ", "))
	}
	return nil
}
