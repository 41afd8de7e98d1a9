// Package vboxerr defines the error kinds reported by vbox-sb-manager and the
// recovery suggestions shown to users for each of them.
package vboxerr

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies a failure for reporting purposes.
type Kind int

const (
	// Unknown is the kind of any error not created by this package.
	Unknown Kind = iota
	PermissionDenied
	DependencyMissing
	ModuleNotFound
	KeyNotFound
	KeysExist
	SignatureVerificationFailed
	ModuleLoadFailed
	MokNotEnrolled
	VirtualBoxNotInstalled
	SecureBootNotEnabled
	KvmConflict
	DkmsBuildFailed
	IO
	CommandFailed
	Config
	UserCancelled
)

var (
	kindFormats = map[Kind]string{
		Unknown:                     "%s",
		PermissionDenied:            "permission denied: %s. Please run with sudo",
		DependencyMissing:           "dependency not found: %s. Please install it first",
		ModuleNotFound:              "module not found: %s",
		KeyNotFound:                 "signing key not found: %s. Run 'setup' command first",
		KeysExist:                   "signing keys already exist: %s",
		SignatureVerificationFailed: "signature verification failed: %s",
		ModuleLoadFailed:            "failed to load module: %s",
		MokNotEnrolled:              "MOK not enrolled. Please enroll MOK and reboot",
		VirtualBoxNotInstalled:      "VirtualBox not installed. Please install VirtualBox first",
		SecureBootNotEnabled:        "Secure Boot not enabled",
		KvmConflict:                 "KVM conflict: %s",
		DkmsBuildFailed:             "DKMS build failed: %s",
		IO:                          "I/O error: %s",
		CommandFailed:               "command execution failed: %s",
		Config:                      "configuration error: %s",
		UserCancelled:               "user cancelled operation",
	}

	kindNames = map[Kind]string{
		Unknown:                     "unknown",
		PermissionDenied:            "permission-denied",
		DependencyMissing:           "dependency-missing",
		ModuleNotFound:              "module-not-found",
		KeyNotFound:                 "key-not-found",
		KeysExist:                   "keys-exist",
		SignatureVerificationFailed: "signature-verification-failed",
		ModuleLoadFailed:            "module-load-failed",
		MokNotEnrolled:              "mok-not-enrolled",
		VirtualBoxNotInstalled:      "virtualbox-not-installed",
		SecureBootNotEnabled:        "secure-boot-not-enabled",
		KvmConflict:                 "kvm-conflict",
		DkmsBuildFailed:             "dkms-build-failed",
		IO:                          "io",
		CommandFailed:               "command-failed",
		Config:                      "config",
		UserCancelled:               "user-cancelled",
	}

	// Recovery suggestions are static so they can be printed even when the
	// failing step left the system in an unknown state.
	hints = map[Kind]string{
		PermissionDenied:            "Run the command with sudo or as root user.",
		DependencyMissing:           "Install the missing dependency, e.g.:\n  sudo apt install openssl mokutil kmod zstd linux-headers-$(uname -r)",
		ModuleNotFound:              "Rebuild the VirtualBox modules for the running kernel:\n  sudo vbox-sb-manager rebuild",
		KeyNotFound:                 "Run the setup command to create signing keys:\n  sudo vbox-sb-manager setup",
		KeysExist:                   "Re-run setup and confirm the recreation, or pass -force:\n  sudo vbox-sb-manager setup -force",
		SignatureVerificationFailed: "Sign the modules again:\n  sudo vbox-sb-manager sign",
		ModuleLoadFailed:            "Check that the MOK is enrolled and the modules are signed:\n  sudo vbox-sb-manager status\n  sudo vbox-sb-manager verify",
		MokNotEnrolled:              "Enroll the MOK and reboot:\n  sudo mokutil --import /root/module-signing/MOK.der\n  sudo reboot",
		VirtualBoxNotInstalled:      "Install VirtualBox:\n  sudo apt install virtualbox virtualbox-dkms",
		SecureBootNotEnabled:        "Module signing is only enforced with Secure Boot. Enable it in the firmware setup if required.",
		KvmConflict:                 "Disable KVM:\n  sudo vbox-sb-manager kvm disable",
		DkmsBuildFailed:             "Install build dependencies:\n  sudo apt install build-essential linux-headers-$(uname -r)",
		IO:                          "Check file permissions and available disk space.",
		CommandFailed:               "Re-run with -debug and inspect the log file for the full command output.",
		Config:                      "Fix or remove the configuration file:\n  /etc/vbox-sb-manager/config.json",
	}
)

// String returns a stable, machine readable name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Hint returns the static recovery suggestion for the kind, or "" when
// there is nothing actionable to suggest.
func (k Kind) Hint() string { return hints[k] }

// Error is an error tagged with a Kind.
type Error struct {
	kind   Kind
	detail string
	err    error
}

// New creates an Error of the given kind. The formatted detail is embedded
// into the kind's message.
func New(kind Kind, format string, args ...interface{}) error {
	return errors.WithStack(&Error{kind: kind, detail: fmt.Sprintf(format, args...)})
}

// Wrap creates an Error of the given kind that keeps err as its cause.
func Wrap(err error, kind Kind, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&Error{kind: kind, detail: fmt.Sprintf(format, args...), err: err})
}

// Kind returns the kind of e.
func (e *Error) Kind() Kind { return e.kind }

// Detail returns the detail text e was created with.
func (e *Error) Detail() string { return e.detail }

func (e *Error) Error() string {
	format := kindFormats[e.kind]
	msg := format
	if strings.Contains(format, "%s") {
		msg = fmt.Sprintf(format, e.detail)
	}
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	return msg
}

// Unwrap returns the cause of e, if any.
func (e *Error) Unwrap() error { return e.err }

// KindOf returns the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage renders err the way it is shown to users: the message plus the
// recovery suggestion for its kind.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(err.Error())
	if hint := KindOf(err).Hint(); hint != "" {
		b.WriteString("\n\nSuggestion:\n")
		b.WriteString(hint)
	}
	return b.String()
}
