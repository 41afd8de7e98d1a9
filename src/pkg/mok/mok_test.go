package mok

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbox-sb-manager/tools/src/pkg/config"
	"github.com/vbox-sb-manager/tools/src/pkg/fakes"
	"github.com/vbox-sb-manager/tools/src/pkg/host"
	"github.com/vbox-sb-manager/tools/src/pkg/vboxerr"
)

const (
	enrolledList = "[key 1]\nSHA1 Fingerprint: 12:34\n        Subject: CN=Canonical Ltd. Secure Boot Signing\n" +
		"[key 2]\n        Subject: CN=VirtualBox Module Signing\n        subject=CN = VirtualBox Module Signing\n"
	certSubject = "subject=CN = VirtualBox Module Signing\n"
)

func setUp(t *testing.T) *config.Config {
	t.Helper()
	testDir, err := ioutil.TempDir("", "testing")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(testDir) })

	origRequireRoot := requireRoot
	requireRoot = func() error { return nil }
	t.Cleanup(func() { requireRoot = origRequireRoot })

	cfg := config.Default()
	cfg.KeyDir = filepath.Join(testDir, "keys")
	cfg.PrivateKey = filepath.Join(cfg.KeyDir, "MOK.priv")
	cfg.PublicKey = filepath.Join(cfg.KeyDir, "MOK.der")
	return cfg
}

func writeKeys(t *testing.T, cfg *config.Config) {
	t.Helper()
	require.NoError(t, os.MkdirAll(cfg.KeyDir, 0700))
	require.NoError(t, ioutil.WriteFile(cfg.PrivateKey, []byte("private"), 0644))
	require.NoError(t, ioutil.WriteFile(cfg.PublicKey, []byte("public"), 0644))
}

func TestCreateSigningKeys(t *testing.T) {
	cfg := setUp(t)
	logger, _ := logtest.NewNullLogger()
	var gotEnv []string
	r := fakes.NewRunner("openssl").OnFunc("openssl req", func(c host.Command) (*host.Result, error) {
		gotEnv = c.Env
		writeKeys(t, cfg)
		return &host.Result{}, nil
	})

	err := NewManager(cfg, r, logger).CreateSigningKeys("VirtualBox Module Signing", "s3cret")
	require.NoError(t, err)

	calls := r.CallsWith("openssl req")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Args, "/CN=VirtualBox Module Signing/")
	assert.Contains(t, calls[0].Args, "env:OPENSSL_PASSPHRASE")
	assert.Contains(t, calls[0].Args, "36500")
	assert.NotContains(t, calls[0].Args, "s3cret")
	assert.Equal(t, []string{"OPENSSL_PASSPHRASE=s3cret"}, gotEnv)
	_, inParent := os.LookupEnv("OPENSSL_PASSPHRASE")
	assert.False(t, inParent)

	for _, keyFile := range []string{cfg.PrivateKey, cfg.PublicKey} {
		info, err := os.Stat(keyFile)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), keyFile)
	}
}

func TestCreateSigningKeysRefusesOverwrite(t *testing.T) {
	cfg := setUp(t)
	writeKeys(t, cfg)
	logger, _ := logtest.NewNullLogger()
	r := fakes.NewRunner("openssl")

	err := NewManager(cfg, r, logger).CreateSigningKeys("VirtualBox Module Signing", "s3cret")
	assert.True(t, vboxerr.Is(err, vboxerr.KeysExist), "got %v", err)
	assert.False(t, r.Ran("openssl"))
}

func TestCreateSigningKeysRequiresRoot(t *testing.T) {
	cfg := setUp(t)
	requireRoot = func() error { return vboxerr.New(vboxerr.PermissionDenied, "root required") }
	logger, _ := logtest.NewNullLogger()

	err := NewManager(cfg, fakes.NewRunner(), logger).CreateSigningKeys("name", "pass")
	assert.True(t, vboxerr.Is(err, vboxerr.PermissionDenied), "got %v", err)
}

func TestCreateSigningKeysOpensslFails(t *testing.T) {
	cfg := setUp(t)
	logger, _ := logtest.NewNullLogger()
	r := fakes.NewRunner("openssl").On("openssl req", fakes.Exit(1, "unable to write private key"))

	err := NewManager(cfg, r, logger).CreateSigningKeys("name", "pass")
	assert.True(t, vboxerr.Is(err, vboxerr.CommandFailed), "got %v", err)
	assert.False(t, cfg.KeysExist())
}

func TestRemoveSigningKeys(t *testing.T) {
	cfg := setUp(t)
	writeKeys(t, cfg)
	logger, _ := logtest.NewNullLogger()

	require.NoError(t, NewManager(cfg, fakes.NewRunner(), logger).RemoveSigningKeys())
	assert.False(t, cfg.KeysExist())
	require.NoError(t, NewManager(cfg, fakes.NewRunner(), logger).RemoveSigningKeys())
}

func TestIsEnrolled(t *testing.T) {
	for _, tc := range []struct {
		testName  string
		noKeys    bool
		runner    *fakes.Runner
		expect    bool
		expectErr bool
	}{
		{
			testName: "NoMokutil",
			runner:   fakes.NewRunner("openssl"),
		},
		{
			testName: "ListFails",
			runner:   fakes.NewRunner("mokutil").On("mokutil --list-enrolled", fakes.Exit(1, "EFI variables are not supported")),
		},
		{
			testName: "Enrolled",
			runner: fakes.NewRunner("mokutil").
				On("mokutil --list-enrolled", fakes.Stdout(enrolledList)).
				On("openssl x509", fakes.Stdout(certSubject)),
			expect: true,
		},
		{
			testName: "NotEnrolled",
			runner: fakes.NewRunner("mokutil").
				On("mokutil --list-enrolled", fakes.Stdout("[key 1]\n        Subject: CN=Canonical Ltd. Secure Boot Signing\n")).
				On("openssl x509", fakes.Stdout(certSubject)),
		},
		{
			testName: "NoPublicKey",
			noKeys:   true,
			runner: fakes.NewRunner("mokutil").
				On("mokutil --list-enrolled", fakes.Stdout(enrolledList)).
				On("openssl x509", fakes.Exit(1, "Could not open file")),
		},
		{
			testName: "OpensslFails",
			runner: fakes.NewRunner("mokutil").
				On("mokutil --list-enrolled", fakes.Stdout(enrolledList)).
				On("openssl x509", fakes.Exit(1, "unable to load certificate")),
			expectErr: true,
		},
		{
			testName: "EmptySubject",
			runner: fakes.NewRunner("mokutil").
				On("mokutil --list-enrolled", fakes.Stdout(enrolledList)).
				On("openssl x509", fakes.Stdout("\n")),
		},
	} {
		t.Run(tc.testName, func(t *testing.T) {
			cfg := setUp(t)
			if !tc.noKeys {
				writeKeys(t, cfg)
			}
			logger, _ := logtest.NewNullLogger()
			got, err := NewManager(cfg, tc.runner, logger).IsEnrolled()
			if tc.expectErr {
				assert.True(t, vboxerr.Is(err, vboxerr.CommandFailed), "got %v", err)
				assert.False(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expect, got)
		})
	}
}

func TestEnroll(t *testing.T) {
	cfg := setUp(t)
	writeKeys(t, cfg)
	logger, hook := logtest.NewNullLogger()
	var passed []byte
	r := fakes.NewRunner("mokutil").
		On("mokutil --list-enrolled", fakes.Stdout("[key 1]\n        Subject: CN=Canonical Ltd. Secure Boot Signing\n")).
		On("openssl x509", fakes.Stdout(certSubject)).
		OnFunc("mokutil --import", func(c host.Command) (*host.Result, error) {
			passed = c.Stdin
			return &host.Result{}, nil
		})

	require.NoError(t, NewManager(cfg, r, logger).Enroll("hunter2"))

	calls := r.CallsWith("mokutil --import")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"--import", cfg.PublicKey}, calls[0].Args)
	assert.Equal(t, "hunter2\nhunter2\n", string(calls[0].Stdin))
	require.Len(t, passed, len("hunter2\nhunter2\n"))
	assert.Equal(t, make([]byte, len(passed)), passed, "password buffer not zeroed after import")
	assert.Contains(t, hook.LastEntry().Message, "REBOOT REQUIRED")
}

func TestEnrollAlreadyEnrolled(t *testing.T) {
	cfg := setUp(t)
	writeKeys(t, cfg)
	logger, _ := logtest.NewNullLogger()
	r := fakes.NewRunner("mokutil").
		On("mokutil --list-enrolled", fakes.Stdout(enrolledList)).
		On("openssl x509", fakes.Stdout(certSubject))

	require.NoError(t, NewManager(cfg, r, logger).Enroll("hunter2"))
	assert.False(t, r.Ran("mokutil --import"))
}

func TestEnrollErrors(t *testing.T) {
	t.Run("MissingPublicKey", func(t *testing.T) {
		cfg := setUp(t)
		logger, _ := logtest.NewNullLogger()
		err := NewManager(cfg, fakes.NewRunner("mokutil"), logger).Enroll("hunter2")
		assert.True(t, vboxerr.Is(err, vboxerr.KeyNotFound), "got %v", err)
	})
	t.Run("ImportFails", func(t *testing.T) {
		cfg := setUp(t)
		writeKeys(t, cfg)
		logger, _ := logtest.NewNullLogger()
		r := fakes.NewRunner("mokutil").
			On("mokutil --list-enrolled", fakes.Exit(1, "")).
			On("mokutil --import", fakes.Exit(255, "Failed to enroll new keys"))
		err := NewManager(cfg, r, logger).Enroll("hunter2")
		assert.True(t, vboxerr.Is(err, vboxerr.CommandFailed), "got %v", err)
	})
}

func TestVerifyEnrollment(t *testing.T) {
	cfg := setUp(t)
	writeKeys(t, cfg)
	logger, hook := logtest.NewNullLogger()
	r := fakes.NewRunner("mokutil").
		On("mokutil --list-enrolled", fakes.Stdout(enrolledList)).
		On("openssl x509", fakes.Stdout(certSubject))

	require.NoError(t, NewManager(cfg, r, logger).VerifyEnrollment())
	var subjects []string
	for _, e := range hook.AllEntries() {
		if e.Message != "" && e.Message[:2] == "  " {
			subjects = append(subjects, e.Message)
		}
	}
	assert.Equal(t, []string{"  Subject: CN=Canonical Ltd. Secure Boot Signing", "  Subject: CN=VirtualBox Module Signing"}, subjects)

	err := NewManager(cfg, fakes.NewRunner(), logger).VerifyEnrollment()
	assert.True(t, vboxerr.Is(err, vboxerr.MokNotEnrolled), "got %v", err)
}

func TestSetupComplete(t *testing.T) {
	cfg := setUp(t)
	logger, _ := logtest.NewNullLogger()
	r := fakes.NewRunner("openssl", "mokutil").
		OnFunc("openssl req", func(host.Command) (*host.Result, error) {
			writeKeys(t, cfg)
			return &host.Result{}, nil
		}).
		On("mokutil --list-enrolled", fakes.Exit(1, ""))

	require.NoError(t, NewManager(cfg, r, logger).SetupComplete("VirtualBox Module Signing", "s3cret", "hunter2"))
	assert.True(t, r.Ran("mokutil --import"))
}
