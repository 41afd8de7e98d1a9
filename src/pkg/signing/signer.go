// Package signing signs, verifies, rebuilds and loads the VirtualBox kernel
// modules of the running kernel.
package signing

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/vbox-sb-manager/tools/src/pkg/config"
	"github.com/vbox-sb-manager/tools/src/pkg/host"
	"github.com/vbox-sb-manager/tools/src/pkg/modules"
	"github.com/vbox-sb-manager/tools/src/pkg/vboxerr"
)

const signPinEnv = "KBUILD_SIGN_PIN"

var (
	requireRoot   = host.RequireRoot
	kernelRelease = host.KernelRelease
	vboxModuleDir = host.VBoxModuleDir

	// signFilePaths are the candidate locations of the kernel's sign-file
	// helper, formatted with the kernel release.
	signFilePaths = []string{
		"/usr/src/linux-headers-%s/scripts/sign-file",
		"/lib/modules/%s/build/scripts/sign-file",
		"/usr/src/kernels/%s/scripts/sign-file",
	}
)

// FindSignFileTool returns the first sign-file helper installed for the
// given kernel release.
func FindSignFileTool(release string) (string, error) {
	for _, p := range signFilePaths {
		path := fmt.Sprintf(p, release)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", vboxerr.New(vboxerr.DependencyMissing,
		"sign-file tool not found. Install linux-headers-%s", release)
}

// FindModules locates the VirtualBox modules of the running kernel.
func FindModules(r host.Runner, logger log.FieldLogger) ([]modules.Module, error) {
	logger.Info("Locating VirtualBox kernel modules...")
	dir, err := vboxModuleDir(r)
	if err != nil {
		return nil, err
	}
	logger.Infof("Module directory: %s", dir)
	found, err := modules.Discover(dir, modules.VBoxPrefix)
	if err != nil {
		return nil, err
	}
	logger.Infof("Found %d VirtualBox module(s)", len(found))
	for _, m := range found {
		logger.Debugf("  - %s at %s", m.Name, m.Path)
	}
	return found, nil
}

// Failure records a module that could not be signed.
type Failure struct {
	Module modules.Module
	Err    error
}

// Report summarizes a signing pass.
type Report struct {
	// Attempted is the number of modules a signature was attempted for.
	Attempted int
	// Signed lists the names of the modules that were signed.
	Signed   []string
	Failures []Failure
}

// Signer signs modules with the configured key pair.
type Signer struct {
	cfg    *config.Config
	runner host.Runner
	log    log.FieldLogger
	tool   string
}

// NewSigner returns a Signer using the keys in cfg.
func NewSigner(cfg *config.Config, r host.Runner, logger log.FieldLogger) *Signer {
	return &Signer{cfg: cfg, runner: r, log: logger}
}

func (s *Signer) signFileTool() (string, error) {
	if s.tool != "" {
		return s.tool, nil
	}
	release, err := kernelRelease()
	if err != nil {
		return "", vboxerr.Wrap(err, vboxerr.IO, "failed to get kernel release")
	}
	tool, err := FindSignFileTool(release)
	if err != nil {
		return "", err
	}
	s.log.Debugf("Using sign-file tool: %s", tool)
	s.tool = tool
	return tool, nil
}

// SignModule signs a single module in place, decompressing and recompressing
// it when needed. On failure the uncompressed copy of a compressed module is
// removed so only the original file stays in the module directory.
func (s *Signer) SignModule(m modules.Module, passphrase string) (err error) {
	tool, err := s.signFileTool()
	if err != nil {
		return err
	}
	s.log.Infof("Signing module: %s...", m.Path)
	if m.Compression != modules.None {
		s.log.Infof("Decompressing %s...", m.Path)
		defer func() {
			if err == nil {
				return
			}
			if rmErr := os.Remove(m.RawPath()); rmErr != nil && !os.IsNotExist(rmErr) {
				s.log.Debugf("Failed to remove %s: %v", m.RawPath(), rmErr)
			}
		}()
	}
	raw, err := modules.Decompress(s.runner, m)
	if err != nil {
		return err
	}

	cred := host.NewCredential(signPinEnv, passphrase)
	_, err = host.RunChecked(s.runner, host.Command{
		Name: tool,
		Args: []string{s.cfg.HashAlgo, s.cfg.PrivateKey, s.cfg.PublicKey, raw},
		Env:  cred.Env(),
	})
	cred.Clear()
	if err != nil {
		return err
	}

	if m.Compression != modules.None {
		s.log.Infof("Recompressing %s...", raw)
		if err := modules.Recompress(s.runner, m); err != nil {
			return err
		}
	}
	s.log.Infof("Successfully signed: %s", m.Name)
	return nil
}

// SignAll signs every VirtualBox module of the running kernel. A failing
// module does not stop the pass; the returned Report lists every failure and
// the error counts them.
func (s *Signer) SignAll(passphrase string) (*Report, error) {
	if err := requireRoot(); err != nil {
		return nil, err
	}
	s.log.Info("Starting VirtualBox module signing process...")
	if !s.cfg.KeysExist() {
		return nil, vboxerr.New(vboxerr.KeyNotFound, "signing keys not found in %s", s.cfg.KeyDir)
	}
	found, err := FindModules(s.runner, s.log)
	if err != nil {
		return nil, err
	}
	if _, err := s.signFileTool(); err != nil {
		return nil, err
	}

	report := &Report{}
	for _, m := range found {
		report.Attempted++
		if err := s.SignModule(m, passphrase); err != nil {
			s.log.Errorf("Failed to sign %s: %v", m.Name, err)
			report.Failures = append(report.Failures, Failure{Module: m, Err: err})
			continue
		}
		report.Signed = append(report.Signed, m.Name)
	}
	s.log.Infof("Signing complete: %d successful, %d failed", len(report.Signed), len(report.Failures))
	if len(report.Failures) > 0 {
		return report, vboxerr.New(vboxerr.CommandFailed, "%d module(s) failed to sign", len(report.Failures))
	}
	s.log.Info("All modules signed successfully!")

	release, err := kernelRelease()
	if err != nil {
		s.log.Warnf("Failed to record signing stamp: %v", err)
		return report, nil
	}
	stamp := &Stamp{KeyDir: s.cfg.KeyDir, KernelRelease: release, ModuleCount: len(report.Signed)}
	if err := stamp.Write(s.log); err != nil {
		s.log.Warnf("Failed to record signing stamp: %v", err)
	}
	return report, nil
}

// FullSteps names the steps of Full, in order.
var FullSteps = []string{"Rebuilding modules", "Signing modules", "Verifying signatures", "Loading modules"}

// Full rebuilds, signs, verifies and loads the modules, stopping at the first
// failing step. onStep, when set, is called before each step with its one
// based index.
func (s *Signer) Full(passphrase string, params modules.ModuleParameters, onStep func(step int, name string)) error {
	s.log.Info("Running full workflow: rebuild, sign, verify, load")
	steps := []func() error{
		func() error { return Rebuild(s.runner, s.log) },
		func() error {
			_, err := s.SignAll(passphrase)
			return err
		},
		func() error {
			_, err := NewVerifier(s.runner, s.log).VerifyAll()
			return err
		},
		func() error { return LoadAll(s.runner, s.log, params) },
	}
	for i, step := range steps {
		if onStep != nil {
			onStep(i+1, FullSteps[i])
		}
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
