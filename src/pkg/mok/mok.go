// Package mok manages the module signing keys and their enrollment as a
// Machine Owner Key.
package mok

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vbox-sb-manager/tools/src/pkg/config"
	"github.com/vbox-sb-manager/tools/src/pkg/host"
	"github.com/vbox-sb-manager/tools/src/pkg/vboxerr"
)

const passphraseEnv = "OPENSSL_PASSPHRASE"

var requireRoot = host.RequireRoot

// Manager creates signing keys and enrolls them with mokutil.
type Manager struct {
	cfg    *config.Config
	runner host.Runner
	log    log.FieldLogger
}

// NewManager returns a Manager for the keys described by cfg.
func NewManager(cfg *config.Config, r host.Runner, logger log.FieldLogger) *Manager {
	return &Manager{cfg: cfg, runner: r, log: logger}
}

// CreateSigningKeys generates a self-signed certificate named certName and
// its private key encrypted with passphrase. Existing keys are never
// overwritten.
func (m *Manager) CreateSigningKeys(certName, passphrase string) error {
	if err := requireRoot(); err != nil {
		return err
	}
	m.log.Info("Creating signing keys...")
	if m.cfg.KeysExist() {
		m.log.Warnf("Signing keys already exist at %s", m.cfg.KeyDir)
		return vboxerr.New(vboxerr.KeysExist, "%s. Delete them first if you want to recreate", m.cfg.KeyDir)
	}
	if err := os.MkdirAll(m.cfg.KeyDir, 0700); err != nil {
		return vboxerr.Wrap(err, vboxerr.IO, "failed to create key directory %s", m.cfg.KeyDir)
	}

	m.log.Info("Generating RSA key pair...")
	cred := host.NewCredential(passphraseEnv, passphrase)
	_, err := host.RunChecked(m.runner, host.Command{
		Name: "openssl",
		Args: []string{
			"req", "-new", "-x509",
			"-newkey", "rsa:2048",
			"-keyout", m.cfg.PrivateKey,
			"-outform", "DER",
			"-out", m.cfg.PublicKey,
			"-days", strconv.FormatUint(uint64(m.cfg.KeyValidityDays), 10),
			"-subj", fmt.Sprintf("/CN=%s/", certName),
			"-passout", "env:" + passphraseEnv,
		},
		Env: cred.Env(),
	})
	cred.Clear()
	if err != nil {
		return err
	}

	for _, keyFile := range []string{m.cfg.PrivateKey, m.cfg.PublicKey} {
		if err := os.Chmod(keyFile, 0600); err != nil {
			return vboxerr.Wrap(err, vboxerr.IO, "failed to restrict permissions of %s", keyFile)
		}
	}
	m.log.Info("Signing keys created successfully")
	m.log.Infof("Private key: %s", m.cfg.PrivateKey)
	m.log.Infof("Public key: %s", m.cfg.PublicKey)
	return nil
}

// RemoveSigningKeys deletes both key files. Missing files are ignored.
func (m *Manager) RemoveSigningKeys() error {
	if err := requireRoot(); err != nil {
		return err
	}
	for _, keyFile := range []string{m.cfg.PrivateKey, m.cfg.PublicKey} {
		if err := os.Remove(keyFile); err != nil && !os.IsNotExist(err) {
			return vboxerr.Wrap(err, vboxerr.IO, "failed to remove %s", keyFile)
		}
	}
	m.log.Infof("Removed signing keys from %s", m.cfg.KeyDir)
	return nil
}

// Enroll queues the public key for enrollment with mokutil, using password as
// the one-time password asked for by MOK Manager on the next boot.
func (m *Manager) Enroll(password string) error {
	if err := requireRoot(); err != nil {
		return err
	}
	m.log.Info("Enrolling Machine Owner Key (MOK)...")
	if _, err := os.Stat(m.cfg.PublicKey); err != nil {
		return vboxerr.New(vboxerr.KeyNotFound, "public key not found at %s", m.cfg.PublicKey)
	}
	enrolled, err := m.IsEnrolled()
	if err != nil {
		return err
	}
	if enrolled {
		m.log.Info("MOK already enrolled")
		return nil
	}

	stdin := []byte(password + "\n" + password + "\n")
	defer func() {
		for i := range stdin {
			stdin[i] = 0
		}
	}()
	res, err := m.runner.Run(host.Command{
		Name:  "mokutil",
		Args:  []string{"--import", m.cfg.PublicKey},
		Stdin: stdin,
	})
	if err != nil {
		return err
	}
	if !res.Success() {
		return vboxerr.New(vboxerr.CommandFailed, "MOK import failed with exit code: %d", res.ExitCode)
	}
	m.log.Info("MOK import initiated successfully!")
	m.log.Warn("REBOOT REQUIRED: Please reboot and enroll MOK in MOK Manager")
	return nil
}

// IsEnrolled reports whether the certificate subject of the public key shows
// up in the list of enrolled MOKs.
func (m *Manager) IsEnrolled() (bool, error) {
	if _, err := os.Stat(m.cfg.PublicKey); os.IsNotExist(err) {
		return false, nil
	}
	if !host.CommandExists(m.runner, "mokutil") {
		m.log.Warn("mokutil not found, cannot verify MOK enrollment")
		return false, nil
	}
	enrolled, err := m.runner.Run(host.Command{Name: "mokutil", Args: []string{"--list-enrolled"}})
	if err != nil {
		return false, err
	}
	if !enrolled.Success() {
		return false, nil
	}
	subject, err := host.Output(m.runner, "openssl", "x509", "-inform", "DER", "-in", m.cfg.PublicKey, "-noout", "-subject")
	if err != nil {
		return false, err
	}
	if subject == "" {
		return false, nil
	}
	return strings.Contains(string(enrolled.Stdout), subject), nil
}

// VerifyEnrollment fails with MokNotEnrolled unless the key is enrolled, and
// logs the subjects of the enrolled keys otherwise.
func (m *Manager) VerifyEnrollment() error {
	m.log.Info("Verifying MOK enrollment...")
	enrolled, err := m.IsEnrolled()
	if err != nil {
		return err
	}
	if !enrolled {
		return vboxerr.New(vboxerr.MokNotEnrolled, "")
	}
	m.log.Info("MOK is enrolled")
	out, err := host.Output(m.runner, "mokutil", "--list-enrolled")
	if err != nil {
		return err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "Subject:") {
			m.log.Infof("  %s", strings.TrimSpace(line))
		}
	}
	return nil
}

// SetupComplete creates the signing keys and enrolls them.
func (m *Manager) SetupComplete(certName, passphrase, password string) error {
	m.log.Info("Starting complete setup process...")
	if err := m.CreateSigningKeys(certName, passphrase); err != nil {
		return err
	}
	if err := m.Enroll(password); err != nil {
		return err
	}
	m.log.Info("Setup complete!")
	m.log.Info("NEXT STEPS:")
	m.log.Info("1. Reboot your system")
	m.log.Info("2. In MOK Manager (blue screen): select 'Enroll MOK', 'Continue', 'Yes', enter the MOK password and reboot")
	m.log.Info("3. After reboot, sign the modules: sudo vbox-sb-manager sign")
	return nil
}
