// Package kvm disables and re-enables the KVM hypervisor modules, which
// keep VirtualBox from using hardware virtualization while loaded.
package kvm

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vbox-sb-manager/tools/src/pkg/host"
	"github.com/vbox-sb-manager/tools/src/pkg/modules"
	"github.com/vbox-sb-manager/tools/src/pkg/vboxerr"
)

const (
	kvmModule   = "kvm"
	intelModule = "kvm_intel"
	amdModule   = "kvm_amd"

	blacklistContent = "# Written by vbox-sb-manager. KVM conflicts with VirtualBox.\n" +
		"blacklist kvm\n" +
		"blacklist kvm_intel\n" +
		"blacklist kvm_amd\n"
)

var (
	requireRoot   = host.RequireRoot
	blacklistPath = "/etc/modprobe.d/blacklist-kvm-vbox.conf"
	cpuInfoPath   = "/proc/cpuinfo"
)

// Status is the state of the KVM modules.
type Status struct {
	KVMLoaded   bool
	IntelLoaded bool
	AMDLoaded   bool
	// Blacklisted is set when the modules are kept from loading at boot.
	Blacklisted bool
}

// Manager toggles KVM.
type Manager struct {
	runner host.Runner
	log    log.FieldLogger
}

// NewManager returns a Manager.
func NewManager(r host.Runner, logger log.FieldLogger) *Manager {
	return &Manager{runner: r, log: logger}
}

// Status reports which KVM modules are loaded and whether they are
// blacklisted.
func (m *Manager) Status() (*Status, error) {
	loaded, err := modules.Loaded(m.runner)
	if err != nil {
		return nil, err
	}
	_, err = os.Stat(blacklistPath)
	return &Status{
		KVMLoaded:   loaded[kvmModule],
		IntelLoaded: loaded[intelModule],
		AMDLoaded:   loaded[amdModule],
		Blacklisted: err == nil,
	}, nil
}

// DisableTemporary unloads the KVM modules until the next reboot.
func (m *Manager) DisableTemporary() error {
	if err := requireRoot(); err != nil {
		return err
	}
	m.log.Info("Unloading KVM modules...")
	loaded, err := modules.Loaded(m.runner)
	if err != nil {
		return err
	}
	for _, name := range []string{intelModule, amdModule, kvmModule} {
		if loaded[name] {
			modules.Unload(m.runner, m.log, name)
		}
	}
	stillLoaded, err := modules.IsLoaded(m.runner, kvmModule)
	if err != nil {
		return err
	}
	if stillLoaded {
		return vboxerr.New(vboxerr.KvmConflict, "kvm module is still loaded. Stop any VMs using KVM and retry")
	}
	m.log.Info("KVM modules unloaded")
	return nil
}

// DisablePermanent blacklists the KVM modules and unloads them. Failing to
// unload them now is only a warning since the blacklist applies on reboot.
func (m *Manager) DisablePermanent() error {
	if err := requireRoot(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(blacklistPath), 0755); err != nil {
		return vboxerr.Wrap(err, vboxerr.IO, "failed to create %s", filepath.Dir(blacklistPath))
	}
	if err := ioutil.WriteFile(blacklistPath, []byte(blacklistContent), 0644); err != nil {
		return vboxerr.Wrap(err, vboxerr.IO, "failed to write %s", blacklistPath)
	}
	m.log.Infof("Blacklisted KVM modules in %s", blacklistPath)
	if err := m.DisableTemporary(); err != nil {
		m.log.Warnf("KVM stays loaded until reboot: %v", err)
	}
	return nil
}

// Enable removes the blacklist and loads kvm together with the module for
// the CPU vendor.
func (m *Manager) Enable() error {
	if err := requireRoot(); err != nil {
		return err
	}
	if err := os.Remove(blacklistPath); err == nil {
		m.log.Infof("Removed %s", blacklistPath)
	} else if !os.IsNotExist(err) {
		return vboxerr.Wrap(err, vboxerr.IO, "failed to remove %s", blacklistPath)
	}

	if err := modules.Load(m.runner, kvmModule, nil); err != nil {
		return err
	}
	vendorModule, err := cpuVendorModule()
	if err != nil {
		m.log.Warnf("Failed to detect CPU vendor: %v", err)
		return nil
	}
	if vendorModule == "" {
		m.log.Warn("Unknown CPU vendor, only the kvm module was loaded")
		return nil
	}
	if err := modules.Load(m.runner, vendorModule, nil); err != nil {
		return err
	}
	m.log.Infof("Loaded %s and %s", kvmModule, vendorModule)
	return nil
}

// cpuVendorModule returns the KVM module matching the CPU vendor listed in
// /proc/cpuinfo, or "" for unknown vendors.
func cpuVendorModule() (string, error) {
	cpuInfo, err := ioutil.ReadFile(cpuInfoPath)
	if err != nil {
		return "", vboxerr.Wrap(err, vboxerr.IO, "failed to read %s", cpuInfoPath)
	}
	switch {
	case strings.Contains(string(cpuInfo), "GenuineIntel"):
		return intelModule, nil
	case strings.Contains(string(cpuInfo), "AuthenticAMD"):
		return amdModule, nil
	default:
		return "", nil
	}
}
