package signing

import (
	log "github.com/sirupsen/logrus"

	"github.com/vbox-sb-manager/tools/src/pkg/host"
	"github.com/vbox-sb-manager/tools/src/pkg/modules"
)

var kvmVendorModules = []string{"kvm_intel", "kvm_amd"}

// LoadAll loads the VirtualBox modules in dependency order and stops at the
// first module that fails to load.
func LoadAll(r host.Runner, logger log.FieldLogger, params modules.ModuleParameters) error {
	if err := requireRoot(); err != nil {
		return err
	}
	logger.Info("Loading VirtualBox kernel modules...")
	warnKVM(r, logger)
	for _, name := range modules.LoadOrder {
		if err := modules.Load(r, name, params.For(name)); err != nil {
			logger.Errorf("Failed to load module %s: %v", name, err)
			return err
		}
		logger.Infof("Loaded module: %s", name)
	}
	logger.Info("All VirtualBox modules loaded successfully")
	return nil
}

// UnloadAll unloads the VirtualBox modules in reverse load order. Modules
// that cannot be unloaded are only reported as warnings.
func UnloadAll(r host.Runner, logger log.FieldLogger) error {
	if err := requireRoot(); err != nil {
		return err
	}
	logger.Info("Unloading VirtualBox kernel modules...")
	unloadAll(r, logger)
	logger.Info("All VirtualBox modules unloaded")
	return nil
}

func unloadAll(r host.Runner, logger log.FieldLogger) {
	for i := len(modules.LoadOrder) - 1; i >= 0; i-- {
		modules.Unload(r, logger, modules.LoadOrder[i])
	}
}

// LoadedModules returns the VirtualBox modules currently loaded, in load
// order.
func LoadedModules(r host.Runner) ([]string, error) {
	loaded, err := modules.Loaded(r)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, name := range modules.LoadOrder {
		if loaded[name] {
			names = append(names, name)
		}
	}
	return names, nil
}

func warnKVM(r host.Runner, logger log.FieldLogger) {
	loaded, err := modules.Loaded(r)
	if err != nil {
		logger.Debugf("Failed to check for KVM: %v", err)
		return
	}
	for _, name := range kvmVendorModules {
		if loaded[name] {
			logger.Warnf("%s is loaded and conflicts with VirtualBox. Run 'vbox-sb-manager kvm disable' if VMs fail to start", name)
		}
	}
}
