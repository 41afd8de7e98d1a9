// Package modules provides functionality to find, load and inspect the
// VirtualBox kernel modules.
package modules

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vbox-sb-manager/tools/src/pkg/host"
	"github.com/vbox-sb-manager/tools/src/pkg/vboxerr"
)

const (
	// magicNumber is a constant defined in https://github.com/torvalds/linux/blob/master/scripts/sign-file.c
	magicNumber = "~Module signature appended~\n"
	// VBoxPrefix is the file name prefix shared by all VirtualBox modules.
	VBoxPrefix = "vbox"
)

// LoadOrder is the order in which VirtualBox modules are loaded. Modules are
// unloaded in reverse order.
var LoadOrder = []string{"vboxdrv", "vboxnetflt", "vboxnetadp"}

// Module describes a kernel module file found on disk.
type Module struct {
	// Path is the full path of the module file.
	Path string
	// Name is the module name, e.g. "vboxdrv".
	Name string
	// Compression is the compression of the file at Path.
	Compression Compression
}

// NewModule returns the descriptor of the module file at path.
func NewModule(path string) Module {
	base := filepath.Base(path)
	return Module{Path: path, Name: ModuleName(base), Compression: DetectCompression(base)}
}

// RawPath returns the path of the uncompressed module next to Path.
func (m Module) RawPath() string {
	return strings.TrimSuffix(m.Path, m.Compression.Extension())
}

// FileName returns the base name of the module file.
func (m Module) FileName() string { return filepath.Base(m.Path) }

// IsModuleFile reports whether name is a kernel module file name, compressed
// or not.
func IsModuleFile(name string) bool {
	for _, c := range []Compression{None, Xz, Gzip, Zstd} {
		if strings.HasSuffix(name, ".ko"+c.Extension()) {
			return true
		}
	}
	return false
}

// ModuleName strips one compression suffix and then the .ko suffix from name.
func ModuleName(name string) string {
	name = strings.TrimSuffix(name, DetectCompression(name).Extension())
	return strings.TrimSuffix(name, ".ko")
}

// Discover walks dir and returns the module files whose names start with
// prefix, in traversal order. A symlinked dir is followed.
func Discover(dir, prefix string) ([]Module, error) {
	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, vboxerr.Wrap(err, vboxerr.ModuleNotFound, "module directory %s", dir)
	}
	var found []Module
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		name := info.Name()
		if strings.HasPrefix(name, prefix) && IsModuleFile(name) {
			found = append(found, NewModule(path))
		}
		return nil
	})
	if err != nil {
		return nil, vboxerr.Wrap(err, vboxerr.IO, "failed to scan %s", dir)
	}
	if len(found) == 0 {
		return nil, vboxerr.New(vboxerr.ModuleNotFound, "no VirtualBox modules found in %s", dir)
	}
	return found, nil
}

// Load loads a module with modprobe, passing params as module parameters.
func Load(r host.Runner, name string, params []string) error {
	args := append([]string{name}, params...)
	res, err := r.Run(host.Command{Name: "modprobe", Args: args})
	if err != nil {
		return vboxerr.Wrap(err, vboxerr.ModuleLoadFailed, "%s", name)
	}
	if !res.Success() {
		return vboxerr.New(vboxerr.ModuleLoadFailed, "%s: %s", name, res.StderrString())
	}
	return nil
}

// Unload removes a module with `modprobe -r`. Failures are logged as warnings
// because a module that is in use or not loaded must not abort the caller.
func Unload(r host.Runner, logger log.FieldLogger, name string) {
	res, err := r.Run(host.Command{Name: "modprobe", Args: []string{"-r", name}})
	if err != nil {
		logger.Warnf("Failed to unload %s: %v", name, err)
		return
	}
	if !res.Success() {
		logger.Warnf("Failed to unload %s: %s", name, res.StderrString())
	}
}

// Loaded returns the set of modules listed by lsmod.
func Loaded(r host.Runner) (map[string]bool, error) {
	out, err := host.Output(r, "lsmod")
	if err != nil {
		return nil, errors.Wrap(err, "failed to run command `lsmod`")
	}
	loaded := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] != "Module" {
			loaded[fields[0]] = true
		}
	}
	return loaded, nil
}

// IsLoaded reports whether lsmod lists exactly moduleName.
func IsLoaded(r host.Runner, moduleName string) (bool, error) {
	loaded, err := Loaded(r)
	if err != nil {
		return false, err
	}
	return loaded[moduleName], nil
}

// HasSignatureTrailer reports whether the uncompressed module file at path
// ends with the marker sign-file appends after a signature.
func HasSignatureTrailer(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, errors.Wrapf(err, "failed to open file %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, errors.Wrapf(err, "failed to stat file %s", path)
	}
	if info.Size() < int64(len(magicNumber)) {
		return false, nil
	}
	trailer := make([]byte, len(magicNumber))
	if _, err := f.ReadAt(trailer, info.Size()-int64(len(magicNumber))); err != nil && err != io.EOF {
		return false, errors.Wrapf(err, "failed to read file %s", path)
	}
	return string(trailer) == magicNumber, nil
}
