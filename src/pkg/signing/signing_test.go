package signing

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/vbox-sb-manager/tools/src/pkg/config"
	"github.com/vbox-sb-manager/tools/src/pkg/fakes"
	"github.com/vbox-sb-manager/tools/src/pkg/host"
	"github.com/vbox-sb-manager/tools/src/pkg/vboxerr"
)

const testKernelRelease = "6.8.0-test"

type testEnv struct {
	cfg       *config.Config
	moduleDir string
	signFile  string
}

// setUp points the package at a temp dir holding keys, a sign-file helper and
// an empty module directory, and runs as root.
func setUp(t *testing.T) *testEnv {
	t.Helper()
	testDir, err := ioutil.TempDir("", "testing")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(testDir) })

	env := &testEnv{
		cfg:       config.Default(),
		moduleDir: filepath.Join(testDir, "misc"),
		signFile:  filepath.Join(testDir, "headers", testKernelRelease, "scripts", "sign-file"),
	}
	env.cfg.KeyDir = filepath.Join(testDir, "keys")
	env.cfg.PrivateKey = filepath.Join(env.cfg.KeyDir, "MOK.priv")
	env.cfg.PublicKey = filepath.Join(env.cfg.KeyDir, "MOK.der")
	for _, dir := range []string{env.moduleDir, env.cfg.KeyDir, filepath.Dir(env.signFile)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}
	writeFile(t, env.cfg.PrivateKey, "private")
	writeFile(t, env.cfg.PublicKey, "public")
	writeFile(t, env.signFile, "#!/bin/sh\n")

	origRequireRoot, origKernelRelease, origModuleDir, origSignFilePaths := requireRoot, kernelRelease, vboxModuleDir, signFilePaths
	requireRoot = func() error { return nil }
	kernelRelease = func() (string, error) { return testKernelRelease, nil }
	vboxModuleDir = func(host.Runner) (string, error) { return env.moduleDir, nil }
	signFilePaths = []string{
		filepath.Join(testDir, "missing", "%s", "sign-file"),
		filepath.Join(testDir, "headers", "%s", "scripts", "sign-file"),
	}
	t.Cleanup(func() {
		requireRoot, kernelRelease, vboxModuleDir, signFilePaths = origRequireRoot, origKernelRelease, origModuleDir, origSignFilePaths
	})
	return env
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := ioutil.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func (e *testEnv) addModules(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		writeFile(t, filepath.Join(e.moduleDir, name), "module")
	}
}

func TestFindSignFileTool(t *testing.T) {
	env := setUp(t)
	got, err := FindSignFileTool(testKernelRelease)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != env.signFile {
		t.Errorf("Unexpected sign-file, want: %s, got: %s", env.signFile, got)
	}
	if _, err := FindSignFileTool("5.4.0-other"); !vboxerr.Is(err, vboxerr.DependencyMissing) {
		t.Errorf("Unexpected error, want DependencyMissing, got: %v", err)
	}
}

func TestSignAllNoModules(t *testing.T) {
	env := setUp(t)
	logger, _ := logtest.NewNullLogger()
	r := fakes.NewRunner()

	_, err := NewSigner(env.cfg, r, logger).SignAll("pin")
	if !vboxerr.Is(err, vboxerr.ModuleNotFound) {
		t.Fatalf("Unexpected error, want ModuleNotFound, got: %v", err)
	}
	if len(r.Calls) != 0 {
		t.Errorf("Expected no commands, got: %v", r.CommandLines())
	}
}

func TestSignAllMissingKeys(t *testing.T) {
	env := setUp(t)
	env.addModules(t, "vboxdrv.ko")
	if err := os.Remove(env.cfg.PrivateKey); err != nil {
		t.Fatalf("Failed to remove key: %v", err)
	}
	logger, _ := logtest.NewNullLogger()

	_, err := NewSigner(env.cfg, fakes.NewRunner(), logger).SignAll("pin")
	if !vboxerr.Is(err, vboxerr.KeyNotFound) {
		t.Errorf("Unexpected error, want KeyNotFound, got: %v", err)
	}
}

func TestSignAll(t *testing.T) {
	env := setUp(t)
	env.addModules(t, "vboxdrv.ko.xz")
	logger, _ := logtest.NewNullLogger()
	r := fakes.NewRunner()

	report, err := NewSigner(env.cfg, r, logger).SignAll("pin")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"vboxdrv"}, report.Signed); diff != "" {
		t.Errorf("Unexpected signed modules (-want +got):\n%s", diff)
	}

	compressed := filepath.Join(env.moduleDir, "vboxdrv.ko.xz")
	raw := filepath.Join(env.moduleDir, "vboxdrv.ko")
	want := []string{
		"xz -dkf " + compressed,
		strings.Join([]string{env.signFile, "sha256", env.cfg.PrivateKey, env.cfg.PublicKey, raw}, " "),
		"xz -f " + raw,
	}
	if diff := cmp.Diff(want, r.CommandLines()); diff != "" {
		t.Errorf("Unexpected commands (-want +got):\n%s", diff)
	}
	signCalls := r.CallsWith(env.signFile)
	if diff := cmp.Diff([]string{"KBUILD_SIGN_PIN=pin"}, signCalls[0].Env); diff != "" {
		t.Errorf("Unexpected sign-file environment (-want +got):\n%s", diff)
	}
	if _, ok := os.LookupEnv("KBUILD_SIGN_PIN"); ok {
		t.Errorf("KBUILD_SIGN_PIN leaked into the process environment")
	}

	stamp, err := ReadStamp(env.cfg.KeyDir)
	if err != nil {
		t.Fatalf("Failed to read stamp: %v", err)
	}
	if !stamp.SignedFor(testKernelRelease) || stamp.ModuleCount != 1 {
		t.Errorf("Unexpected stamp: %+v", stamp)
	}
}

func TestSignAllPartialFailure(t *testing.T) {
	env := setUp(t)
	env.addModules(t, "vboxdrv.ko.xz", "vboxnetflt.ko", "vboxnetadp.ko.zst")
	logger, _ := logtest.NewNullLogger()
	r := fakes.NewRunner().OnFunc(env.signFile, func(c host.Command) (*host.Result, error) {
		if strings.HasSuffix(c.Args[3], "vboxnetflt.ko") {
			return fakes.Exit(2, "sign-file: Key was rejected"), nil
		}
		return &host.Result{}, nil
	})

	report, err := NewSigner(env.cfg, r, logger).SignAll("pin")
	if err == nil {
		t.Fatalf("Expected an error")
	}
	if !strings.Contains(err.Error(), "1 module(s) failed to sign") {
		t.Errorf("Unexpected error message: %v", err)
	}
	if report.Attempted != 3 || len(report.Failures) != 1 || len(report.Signed) != 2 {
		t.Errorf("Unexpected report: attempted %d, signed %v, failures %d",
			report.Attempted, report.Signed, len(report.Failures))
	}
	if report.Failures[0].Module.Name != "vboxnetflt" {
		t.Errorf("Unexpected failed module: %s", report.Failures[0].Module.Name)
	}
	if len(r.CallsWith(env.signFile)) != 3 {
		t.Errorf("Expected 3 sign-file runs, got: %v", r.CommandLines())
	}
	if stamp, _ := ReadStamp(env.cfg.KeyDir); stamp != nil {
		t.Errorf("Stamp written after a failed pass: %+v", stamp)
	}
}

func TestSignAllRemovesRawFileOnFailure(t *testing.T) {
	for _, tc := range []struct {
		testName   string
		failPrefix func(env *testEnv) string
	}{
		{"SignFileFails", func(env *testEnv) string { return env.signFile }},
		{"RecompressFails", func(*testEnv) string { return "xz -f" }},
	} {
		t.Run(tc.testName, func(t *testing.T) {
			env := setUp(t)
			env.addModules(t, "vboxdrv.ko.xz")
			logger, _ := logtest.NewNullLogger()
			r := fakes.NewRunner().
				OnFunc("xz -dkf", func(c host.Command) (*host.Result, error) {
					writeFile(t, strings.TrimSuffix(c.Args[1], ".xz"), "module")
					return &host.Result{}, nil
				}).
				On(tc.failPrefix(env), fakes.Exit(2, "failed"))

			report, err := NewSigner(env.cfg, r, logger).SignAll("pin")
			if err == nil {
				t.Fatalf("Expected an error")
			}
			if len(report.Failures) != 1 {
				t.Errorf("Unexpected failures: %+v", report.Failures)
			}
			infos, err := ioutil.ReadDir(env.moduleDir)
			if err != nil {
				t.Fatalf("Failed to read %s: %v", env.moduleDir, err)
			}
			var names []string
			for _, info := range infos {
				names = append(names, info.Name())
			}
			if diff := cmp.Diff([]string{"vboxdrv.ko.xz"}, names); diff != "" {
				t.Errorf("Unexpected module directory contents (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSignAllMissingSignFile(t *testing.T) {
	env := setUp(t)
	env.addModules(t, "vboxdrv.ko")
	if err := os.Remove(env.signFile); err != nil {
		t.Fatalf("Failed to remove sign-file: %v", err)
	}
	logger, _ := logtest.NewNullLogger()
	r := fakes.NewRunner()

	if _, err := NewSigner(env.cfg, r, logger).SignAll("pin"); !vboxerr.Is(err, vboxerr.DependencyMissing) {
		t.Errorf("Unexpected error, want DependencyMissing, got: %v", err)
	}
	if len(r.Calls) != 0 {
		t.Errorf("Expected no commands, got: %v", r.CommandLines())
	}
}

func TestStamp(t *testing.T) {
	testDir, err := ioutil.TempDir("", "testing")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(testDir)
	logger, _ := logtest.NewNullLogger()

	if stamp, err := ReadStamp(testDir); err != nil || stamp != nil {
		t.Fatalf("Unexpected stamp before write: %+v, %v", stamp, err)
	}
	if err := (&Stamp{KeyDir: testDir, KernelRelease: "6.8.0-45-generic", ModuleCount: 3}).Write(logger); err != nil {
		t.Fatalf("Failed to write stamp: %v", err)
	}

	for _, tc := range []struct {
		testName string
		release  string
		expect   bool
	}{
		{"TestSignedForTrue", "6.8.0-45-generic", true},
		{"TestSignedForOtherKernel", "6.8.0-47-generic", false},
	} {
		t.Run(tc.testName, func(t *testing.T) {
			stamp, err := ReadStamp(testDir)
			if err != nil {
				t.Fatalf("Failed to read stamp: %v", err)
			}
			if got := stamp.SignedFor(tc.release); got != tc.expect {
				t.Errorf("Unexpected stamp result: want: %v, got: %v", tc.expect, got)
			}
		})
	}
}
