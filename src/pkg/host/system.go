package host

import (
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/vbox-sb-manager/tools/src/pkg/vboxerr"
)

const (
	// secureBootVar is the global EFI variable holding the Secure Boot state.
	secureBootVar = "SecureBoot-8be4df61-93ca-11d2-aa0d-00e098032b8c"
	// vboxDriver is the module whose location identifies the VirtualBox
	// module directory.
	vboxDriver = "vboxdrv"
)

var (
	geteuid    = unix.Geteuid
	efiVarsDir = "/sys/firmware/efi/efivars"
)

// IsRoot reports whether the process runs with effective uid 0.
func IsRoot() bool { return geteuid() == 0 }

// RequireRoot returns a PermissionDenied error unless running as root.
func RequireRoot() error {
	if !IsRoot() {
		return vboxerr.New(vboxerr.PermissionDenied, "this operation requires root privileges")
	}
	return nil
}

// SecureBootEnabled reports whether the firmware booted with Secure Boot on.
// It asks mokutil first and falls back to reading the EFI variable directly.
func SecureBootEnabled(r Runner, logger log.FieldLogger) (bool, error) {
	if _, err := os.Stat(efiVarsDir); err != nil {
		logger.Warn("EFI variables not accessible")
		return false, nil
	}
	if CommandExists(r, "mokutil") {
		out, err := Output(r, "mokutil", "--sb-state")
		if err != nil {
			logger.Debugf("mokutil --sb-state failed: %v", err)
			return false, nil
		}
		return strings.Contains(out, "SecureBoot enabled"), nil
	}
	return secureBootFromEFIVar()
}

// secureBootFromEFIVar reads the SecureBoot variable: four attribute bytes
// followed by a single data byte.
func secureBootFromEFIVar() (bool, error) {
	data, err := os.ReadFile(filepath.Join(efiVarsDir, secureBootVar))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, vboxerr.Wrap(err, vboxerr.IO, "failed to read EFI variable %s", secureBootVar)
	}
	if len(data) < 5 {
		return false, nil
	}
	return data[4] == 1, nil
}

// RequireSecureBoot returns a SecureBootNotEnabled error when Secure Boot is
// off or its state cannot be read.
func RequireSecureBoot(r Runner, logger log.FieldLogger) error {
	enabled, err := SecureBootEnabled(r, logger)
	if err != nil {
		return err
	}
	if !enabled {
		return vboxerr.New(vboxerr.SecureBootNotEnabled, "")
	}
	return nil
}

// VBoxModuleDir returns the directory the installed vboxdrv module lives in.
func VBoxModuleDir(r Runner) (string, error) {
	res, err := r.Run(Command{Name: "modinfo", Args: []string{"-n", vboxDriver}})
	if err != nil {
		return "", err
	}
	if !res.Success() {
		if !CommandExists(r, "VBoxManage") {
			return "", vboxerr.New(vboxerr.VirtualBoxNotInstalled, "")
		}
		return "", vboxerr.New(vboxerr.ModuleNotFound, "%s module not found. Is VirtualBox installed?", vboxDriver)
	}
	modulePath := res.StdoutString()
	if modulePath == "" {
		return "", vboxerr.New(vboxerr.ModuleNotFound, "invalid module path")
	}
	return filepath.Dir(modulePath), nil
}

// VirtualBoxVersion returns the output of `VBoxManage --version`.
func VirtualBoxVersion(r Runner) (string, error) {
	if !CommandExists(r, "VBoxManage") {
		return "", vboxerr.New(vboxerr.VirtualBoxNotInstalled, "")
	}
	return Output(r, "VBoxManage", "--version")
}
