// Package utils provides small helpers shared by vbox-sb-manager packages.
package utils

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	log "github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var lockFile = filepath.Join(os.TempDir(), "vbox-sb-manager.lock")

// Flock takes an exclusive lock so only one vbox-sb-manager runs at a time.
// The process exits with status 1 if another instance holds the lock. The
// returned file must stay open for as long as the lock is needed.
func Flock() *os.File {
	f, err := os.OpenFile(lockFile, os.O_RDONLY|os.O_CREATE, 0600)
	if err != nil {
		log.Warningf("Failed to open lock file %s, running without lock: %v", lockFile, err)
		return nil
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		log.Exitf("Another vbox-sb-manager is running (lock file %s): %v", lockFile, err)
	}
	log.V(2).Infof("Acquired lock %s", lockFile)
	return f
}

// LoadEnvFromFile reads an env file (KEY=value per line) from fileName under
// prefix. Blank lines and comments are skipped and surrounding double quotes
// are removed from values.
func LoadEnvFromFile(prefix, fileName string) (map[string]string, error) {
	path := filepath.Join(prefix, fileName)
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file %s", path)
	}
	defer f.Close()

	envs := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := Cut(line, "=")
		if !found {
			continue
		}
		envs[key] = strings.Trim(value, `"`)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read file %s", path)
	}
	return envs, nil
}

// Cut slices s around the first instance of sep, returning the text before
// and after sep. If sep does not appear in s, Cut returns s, "", false.
func Cut(s, sep string) (before, after string, found bool) {
	if i := strings.Index(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}
