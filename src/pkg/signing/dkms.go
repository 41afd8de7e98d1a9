package signing

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vbox-sb-manager/tools/src/pkg/host"
	"github.com/vbox-sb-manager/tools/src/pkg/utils"
	"github.com/vbox-sb-manager/tools/src/pkg/vboxerr"
)

const dkmsPackage = "virtualbox-dkms"

// ParseDKMSVersion extracts the VirtualBox version from the first line of
// `dkms status virtualbox`, e.g. "virtualbox/7.0.16, 6.8.0-45-generic, x86_64: installed".
// The older "virtualbox, 6.1.38, ..." layout is accepted as well.
func ParseDKMSVersion(status string) (string, bool) {
	line := strings.SplitN(strings.TrimSpace(status), "\n", 2)[0]
	fields := strings.Split(line, ",")
	name := strings.TrimSpace(fields[0])
	var version string
	switch {
	case strings.Contains(name, "/"):
		_, version, _ = utils.Cut(name, "/")
	case name == "virtualbox" && len(fields) > 1:
		version = fields[1]
	}
	version, _, _ = utils.Cut(version, ":")
	version = strings.TrimSpace(version)
	return version, version != ""
}

// Rebuild reinstalls the VirtualBox DKMS modules for the running kernel.
func Rebuild(r host.Runner, logger log.FieldLogger) error {
	if err := requireRoot(); err != nil {
		return err
	}
	logger.Info("Rebuilding VirtualBox kernel modules via DKMS...")
	if err := host.RequireTools(r, "dkms"); err != nil {
		return err
	}
	if host.CommandExists(r, "dpkg") {
		out, err := host.Output(r, "dpkg", "-l")
		if err != nil {
			return err
		}
		if !strings.Contains(out, dkmsPackage) {
			logger.Warnf("%s package not found", dkmsPackage)
			return vboxerr.New(vboxerr.DkmsBuildFailed, "%s is not installed", dkmsPackage)
		}
	}

	status, err := r.Run(host.Command{Name: "dkms", Args: []string{"status", "virtualbox"}})
	if err != nil {
		return err
	}
	version, ok := ParseDKMSVersion(string(status.Stdout))
	if !ok {
		return vboxerr.New(vboxerr.DkmsBuildFailed, "could not determine VirtualBox DKMS version")
	}
	logger.Infof("Found VirtualBox DKMS version: %s", version)

	release, err := kernelRelease()
	if err != nil {
		return vboxerr.Wrap(err, vboxerr.IO, "failed to get kernel release")
	}

	logger.Info("Unloading existing VirtualBox modules...")
	unloadAll(r, logger)

	logger.Info("Forcing DKMS rebuild (this may take a minute)...")
	if _, err := host.RunChecked(r, host.Command{
		Name: "dkms",
		Args: []string{"install", "virtualbox/" + version, "-k", release, "--force"},
	}); err != nil {
		return vboxerr.Wrap(err, vboxerr.DkmsBuildFailed, "dkms install virtualbox/%s", version)
	}
	logger.Info("VirtualBox modules rebuilt successfully")
	return nil
}
