package host

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/vbox-sb-manager/tools/src/pkg/utils"
)

var osReleasePaths = []string{"/etc/os-release", "/usr/lib/os-release"}

// EnvReader reads facts about the host distribution and kernel.
type EnvReader struct {
	osRelease map[string]string
	uname     unix.Utsname
}

// NewEnvReader returns an EnvReader for the system mounted at hostRootPath.
// A missing os-release file is not an error; the distribution is then
// reported as unknown.
func NewEnvReader(hostRootPath string) (*EnvReader, error) {
	reader := &EnvReader{osRelease: map[string]string{}}
	for _, p := range osReleasePaths {
		if _, err := os.Stat(filepath.Join(hostRootPath, p)); err != nil {
			continue
		}
		env, err := utils.LoadEnvFromFile(hostRootPath, p)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read os-release file from %s", p)
		}
		reader.osRelease = env
		break
	}
	if err := unix.Uname(&reader.uname); err != nil {
		return nil, errors.Wrap(err, "failed to get uname")
	}
	return reader, nil
}

// Distribution returns a human readable distribution name.
func (c *EnvReader) Distribution() string {
	if name := c.osRelease["PRETTY_NAME"]; name != "" {
		return name
	}
	if name := c.osRelease["NAME"]; name != "" {
		return name
	}
	return "unknown"
}

// KernelRelease returns the running kernel release, i.e. `uname -r`.
func (c *EnvReader) KernelRelease() string { return unix.ByteSliceToString(c.uname.Release[:]) }

// KernelRelease returns the running kernel release without reading any
// os-release data.
func KernelRelease() (string, error) {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return "", errors.Wrap(err, "failed to get kernel version")
	}
	return unix.ByteSliceToString(uname.Release[:]), nil
}
