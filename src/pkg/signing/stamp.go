package signing

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vbox-sb-manager/tools/src/pkg/utils"
)

const (
	stampFile        = ".signed"
	kernelReleaseKey = "KERNEL_RELEASE"
	moduleCountKey   = "MODULE_COUNT"
)

// Stamp records that the modules of a kernel were signed successfully.
type Stamp struct {
	KeyDir        string
	KernelRelease string
	ModuleCount   int
}

// Write stores the stamp in the key directory.
func (s *Stamp) Write(logger log.FieldLogger) error {
	stampPath := filepath.Join(s.KeyDir, stampFile)
	contents := fmt.Sprintf("%s=%s\n%s=%d\n", kernelReleaseKey, s.KernelRelease, moduleCountKey, s.ModuleCount)
	if err := os.WriteFile(stampPath, []byte(contents), 0600); err != nil {
		return errors.Wrapf(err, "failed to write to file %s", stampPath)
	}
	logger.Debugf("Updated signing stamp: %s=%s %s=%d", kernelReleaseKey, s.KernelRelease, moduleCountKey, s.ModuleCount)
	return nil
}

// ReadStamp returns the stamp stored in keyDir, or nil if there is none.
func ReadStamp(keyDir string) (*Stamp, error) {
	if _, err := os.Stat(filepath.Join(keyDir, stampFile)); os.IsNotExist(err) {
		return nil, nil
	}
	stampMap, err := utils.LoadEnvFromFile(keyDir, stampFile)
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(stampMap[moduleCountKey])
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s in %s", moduleCountKey, filepath.Join(keyDir, stampFile))
	}
	return &Stamp{KeyDir: keyDir, KernelRelease: stampMap[kernelReleaseKey], ModuleCount: count}, nil
}

// SignedFor reports whether the stamp was written for the given kernel.
func (s *Stamp) SignedFor(release string) bool {
	return s != nil && s.KernelRelease == release
}
