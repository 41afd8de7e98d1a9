package commands

import (
	"context"
	"flag"

	"github.com/google/subcommands"

	"github.com/vbox-sb-manager/tools/src/pkg/vboxerr"
)

// InteractiveCommand is the subcommand running the numbered menu. It is also
// what runs when no subcommand is given.
type InteractiveCommand struct{}

type menuItem struct {
	label string
	// run is nil for the exit entry.
	run func(*env) error
}

// Name implements subcommands.Command.Name.
func (*InteractiveCommand) Name() string { return "interactive" }

// Synopsis implements subcommands.Command.Synopsis.
func (*InteractiveCommand) Synopsis() string { return "Choose operations from a menu." }

// Usage implements subcommands.Command.Usage.
func (*InteractiveCommand) Usage() string { return "interactive\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*InteractiveCommand) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (c *InteractiveCommand) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return execute(args, c.run)
}

func menu() []menuItem {
	return []menuItem{
		{"Complete Setup (create keys + enroll MOK)", (&SetupCommand{}).run},
		{"Rebuild VirtualBox Modules (DKMS)", (&RebuildCommand{}).run},
		{"Sign VirtualBox Modules", (&SignCommand{}).run},
		{"Verify Module Signatures", (&VerifyCommand{}).run},
		{"Load VirtualBox Modules", (&LoadCommand{}).run},
		{"Full Process (rebuild + sign + verify + load)", (&FullCommand{}).run},
		{"Disable KVM", disableKVMInteractive},
		{"Enable KVM", (&kvmEnableCommand{}).run},
		{"System Status", (&StatusCommand{}).run},
		{"Exit", nil},
	}
}

// run shows the menu until the user exits or input ends. Failing operations
// are reported and the menu continues.
func (c *InteractiveCommand) run(e *env) error {
	items := menu()
	labels := make([]string, len(items))
	for i, item := range items {
		labels[i] = item.label
	}
	for {
		e.out.Header("VirtualBox Secure Boot Manager")
		choice, err := e.prompt.Select("Select an option", labels)
		if vboxerr.Is(err, vboxerr.UserCancelled) {
			e.out.Info("Exiting...")
			return nil
		}
		if err != nil {
			return err
		}
		item := items[choice]
		if item.run == nil {
			e.out.Info("Exiting...")
			return nil
		}
		e.log.Infof("Menu selection: %s", item.label)
		if err := item.run(e); err != nil {
			e.logError(err)
			e.out.Error("%s", vboxerr.UserMessage(err))
		}
		if err := e.prompt.WaitEnter("\nPress Enter to continue..."); err != nil {
			e.out.Info("Exiting...")
			return nil
		}
	}
}

func disableKVMInteractive(e *env) error {
	permanent, err := e.prompt.Confirm("Disable KVM permanently (survives reboot)?", false)
	if err != nil {
		return err
	}
	return (&kvmDisableCommand{permanent: permanent}).run(e)
}
