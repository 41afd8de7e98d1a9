package commands

import (
	"context"
	"flag"

	"github.com/google/subcommands"

	"github.com/vbox-sb-manager/tools/src/pkg/host"
	"github.com/vbox-sb-manager/tools/src/pkg/mok"
)

// SetupCommand is the subcommand to create signing keys and enroll them.
type SetupCommand struct {
	force       bool
	certName    string
	writeConfig bool
}

// setupInput is what the user answered during setup. The secrets stay in
// memory only until SetupComplete hands them to openssl and mokutil.
type setupInput struct {
	recreate    bool
	certName    string
	passphrase  string
	mokPassword string
}

// Name implements subcommands.Command.Name.
func (*SetupCommand) Name() string { return "setup" }

// Synopsis implements subcommands.Command.Synopsis.
func (*SetupCommand) Synopsis() string {
	return "Create signing keys and enroll them as a Machine Owner Key."
}

// Usage implements subcommands.Command.Usage.
func (*SetupCommand) Usage() string { return "setup [-force] [-cert-name <name>] [-write-config]\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (c *SetupCommand) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.force, "force", false,
		"Recreate existing signing keys without asking.")
	f.StringVar(&c.certName, "cert-name", "",
		"Certificate name. Prompted for, with the configured name as default, when not set.")
	f.BoolVar(&c.writeConfig, "write-config", false,
		"Save the configuration, including the chosen certificate name, to the -config path.")
}

// Execute implements subcommands.Command.Execute.
func (c *SetupCommand) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return execute(args, c.run)
}

func (c *SetupCommand) run(e *env) error {
	if err := requireRoot(); err != nil {
		return err
	}
	e.out.Header("VirtualBox Secure Boot Setup")
	if err := host.RequireSecureBoot(e.runner, e.log); err != nil {
		e.out.Warning("Secure Boot does not appear to be enabled; signed modules are only enforced with Secure Boot")
	}

	input, err := c.collectInput(e)
	if err != nil || input == nil {
		return err
	}

	m := mok.NewManager(e.cfg, e.runner, e.log)
	if input.recreate {
		if err := m.RemoveSigningKeys(); err != nil {
			return err
		}
	}
	e.out.Info("Creating signing keys and importing the MOK...")
	if err := m.SetupComplete(input.certName, input.passphrase, input.mokPassword); err != nil {
		return err
	}
	if c.writeConfig {
		e.cfg.CertName = input.certName
		if err := e.cfg.Save(e.opts.ConfigPath); err != nil {
			return err
		}
		e.out.Info("Configuration saved to %s", e.opts.ConfigPath)
	}

	e.out.Success("Setup completed successfully!")
	printNextSteps(e)
	return nil
}

// collectInput asks for everything setup needs before touching the system.
// It returns nil when the user chooses to keep the existing keys.
func (c *SetupCommand) collectInput(e *env) (*setupInput, error) {
	input := &setupInput{}
	if e.cfg.KeysExist() {
		e.out.Warning("Signing keys already exist at %s", e.cfg.KeyDir)
		recreate := c.force
		if !recreate {
			var err error
			if recreate, err = e.prompt.Confirm("Do you want to recreate them?", false); err != nil {
				return nil, err
			}
		}
		if !recreate {
			e.out.Info("Keeping existing keys")
			return nil, nil
		}
		input.recreate = true
	}

	input.certName = c.certName
	if input.certName == "" {
		name, err := e.prompt.Input("Enter name for certificate", e.cfg.CertName)
		if err != nil {
			return nil, err
		}
		input.certName = name
	}

	e.out.Section("Setting Signing Key Passphrase")
	e.out.Info("This passphrase protects your private signing key.")
	e.out.Info("You will need it every time you sign modules.")
	e.out.Warning("Store it safely; a lost passphrase means recreating the keys.")
	passphrase, err := e.prompt.NewPassword("Enter passphrase for signing key", "Confirm passphrase", "Passphrases don't match, try again")
	if err != nil {
		return nil, err
	}
	input.passphrase = passphrase

	e.out.Section("Setting Temporary MOK Password")
	e.out.Info("This password is used only once, in MOK Manager after the reboot.")
	e.out.Info("Minimum 8 characters recommended.")
	password, err := e.prompt.NewPassword("Enter temporary MOK password", "Confirm MOK password", "Passwords don't match, try again")
	if err != nil {
		return nil, err
	}
	input.mokPassword = password
	return input, nil
}

func printNextSteps(e *env) {
	e.out.Box("NEXT STEPS", []string{
		"1. Reboot your system: sudo reboot",
		"2. In MOK Manager (blue screen):",
		"   - Select 'Enroll MOK'",
		"   - Select 'Continue'",
		"   - Select 'Yes'",
		"   - Enter the MOK password",
		"   - Reboot",
		"3. After reboot, sign modules:",
		"   sudo vbox-sb-manager sign",
	})
}
