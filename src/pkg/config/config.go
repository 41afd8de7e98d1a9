// Package config holds the vbox-sb-manager configuration: where the signing
// keys live, how modules are signed and where the log goes.
package config

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/vbox-sb-manager/tools/src/pkg/vboxerr"
)

const (
	// DefaultPath is where the configuration file is read from unless another
	// path is given on the command line.
	DefaultPath = "/etc/vbox-sb-manager/config.json"

	// DefaultHashAlgo is the digest passed to sign-file.
	DefaultHashAlgo = "sha256"
	// DefaultKeyValidityDays is the validity of generated certificates,
	// roughly one hundred years.
	DefaultKeyValidityDays = 36500
	// DefaultCertName is the CN of generated certificates.
	DefaultCertName = "VirtualBox Module Signing"

	defaultKeyDir         = "/root/module-signing"
	defaultPrivateKeyName = "MOK.priv"
	defaultPublicKeyName  = "MOK.der"
	defaultLogFile        = "/var/log/vbox-secure-boot-manager.log"
)

// Config is the application configuration.
type Config struct {
	// KeyDir is the directory containing the signing keys.
	KeyDir string `json:"key_dir"`
	// PrivateKey is the PEM private key path.
	PrivateKey string `json:"private_key"`
	// PublicKey is the DER certificate path.
	PublicKey string `json:"public_key"`
	// HashAlgo is the hash algorithm used for signing.
	HashAlgo string `json:"hash_algo"`
	// LogFile is the log file path.
	LogFile string `json:"log_file"`
	// CertName is the certificate name used for key generation.
	CertName string `json:"cert_name"`
	// KeyValidityDays is the certificate validity in days.
	KeyValidityDays uint32 `json:"key_validity_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		KeyDir:          defaultKeyDir,
		PrivateKey:      filepath.Join(defaultKeyDir, defaultPrivateKeyName),
		PublicKey:       filepath.Join(defaultKeyDir, defaultPublicKeyName),
		HashAlgo:        DefaultHashAlgo,
		LogFile:         defaultLogFile,
		CertName:        DefaultCertName,
		KeyValidityDays: DefaultKeyValidityDays,
	}
}

// Load reads the configuration at path. A missing file yields the defaults;
// fields absent from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	contents, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, vboxerr.Wrap(err, vboxerr.Config, "failed to read config file %s", path)
	}
	if err := json.Unmarshal(contents, cfg); err != nil {
		return nil, vboxerr.Wrap(err, vboxerr.Config, "failed to parse config file %s", path)
	}
	return cfg, nil
}

// Save writes c to path as indented JSON, creating the parent directory.
func (c *Config) Save(path string) error {
	contents, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return vboxerr.Wrap(err, vboxerr.Config, "failed to encode config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return vboxerr.Wrap(err, vboxerr.Config, "failed to create config directory")
	}
	if err := ioutil.WriteFile(path, append(contents, '\n'), 0644); err != nil {
		return vboxerr.Wrap(err, vboxerr.Config, "failed to write config file %s", path)
	}
	return nil
}

// Validate checks that the key directory exists.
func (c *Config) Validate() error {
	info, err := os.Stat(c.KeyDir)
	if err != nil {
		return vboxerr.New(vboxerr.Config, "key directory does not exist: %s", c.KeyDir)
	}
	if !info.IsDir() {
		return vboxerr.New(vboxerr.Config, "key directory is not a directory: %s", c.KeyDir)
	}
	return nil
}

// KeysExist reports whether both the private and the public key exist.
func (c *Config) KeysExist() bool {
	return fileExists(c.PrivateKey) && fileExists(c.PublicKey)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
