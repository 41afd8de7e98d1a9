package signing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/vbox-sb-manager/tools/src/pkg/fakes"
	"github.com/vbox-sb-manager/tools/src/pkg/host"
	"github.com/vbox-sb-manager/tools/src/pkg/modules"
	"github.com/vbox-sb-manager/tools/src/pkg/vboxerr"
)

const signedModinfo = "filename:       /lib/modules/6.8.0/misc/vboxdrv.ko\n" +
	"sig_id:         PKCS#7\n" +
	"signer:         VirtualBox Module Signing\n"

func TestVerifyModuleCleansUpOwnDecompression(t *testing.T) {
	env := setUp(t)
	env.addModules(t, "vboxdrv.ko.xz")
	raw := filepath.Join(env.moduleDir, "vboxdrv.ko")
	logger, _ := logtest.NewNullLogger()
	r := fakes.NewRunner().
		OnFunc("xz -dkf", func(host.Command) (*host.Result, error) {
			writeFile(t, raw, "module")
			return &host.Result{}, nil
		}).
		On("modinfo", fakes.Stdout(signedModinfo))

	signed, err := NewVerifier(r, logger).VerifyModule(modules.NewModule(filepath.Join(env.moduleDir, "vboxdrv.ko.xz")))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !signed {
		t.Errorf("Expected module to be signed")
	}
	if _, err := os.Stat(raw); !os.IsNotExist(err) {
		t.Errorf("Decompressed module was not removed: %v", err)
	}
}

func TestVerifyModuleKeepsExistingRawFile(t *testing.T) {
	env := setUp(t)
	env.addModules(t, "vboxdrv.ko.zst", "vboxdrv.ko")
	logger, _ := logtest.NewNullLogger()
	r := fakes.NewRunner().On("modinfo", fakes.Stdout("filename: vboxdrv.ko\n"))

	signed, err := NewVerifier(r, logger).VerifyModule(modules.NewModule(filepath.Join(env.moduleDir, "vboxdrv.ko.zst")))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if signed {
		t.Errorf("Expected module to be unsigned")
	}
	if r.Ran("zstd") {
		t.Errorf("Existing raw module was decompressed again")
	}
	if _, err := os.Stat(filepath.Join(env.moduleDir, "vboxdrv.ko")); err != nil {
		t.Errorf("Existing raw module was removed: %v", err)
	}
}

func TestVerifyModuleTrailerFallback(t *testing.T) {
	env := setUp(t)
	path := filepath.Join(env.moduleDir, "vboxdrv.ko")
	writeFile(t, path, "module~Module signature appended~\n")
	logger, _ := logtest.NewNullLogger()
	r := fakes.NewRunner().OnError("modinfo", errors.New("exec: \"modinfo\": executable file not found in $PATH"))

	signed, err := NewVerifier(r, logger).VerifyModule(modules.NewModule(path))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !signed {
		t.Errorf("Expected module with signature trailer to be signed")
	}
}

func TestVerifyAll(t *testing.T) {
	env := setUp(t)
	env.addModules(t, "vboxdrv.ko", "vboxnetadp.ko", "vboxnetflt.ko")
	logger, _ := logtest.NewNullLogger()
	r := fakes.NewRunner().OnFunc("modinfo", func(c host.Command) (*host.Result, error) {
		if strings.HasSuffix(c.Args[0], "vboxnetflt.ko") {
			return fakes.Stdout("filename: vboxnetflt.ko\n"), nil
		}
		return fakes.Stdout(signedModinfo), nil
	})

	report, err := NewVerifier(r, logger).VerifyAll()
	if !vboxerr.Is(err, vboxerr.SignatureVerificationFailed) {
		t.Fatalf("Unexpected error, want SignatureVerificationFailed, got: %v", err)
	}
	if !strings.Contains(err.Error(), "1 module(s) are not signed") {
		t.Errorf("Unexpected error message: %v", err)
	}
	if diff := cmp.Diff([]string{"vboxnetflt"}, report.Unsigned); diff != "" {
		t.Errorf("Unexpected unsigned modules (-want +got):\n%s", diff)
	}
	if len(report.Signed) != 2 {
		t.Errorf("Unexpected signed modules: %v", report.Signed)
	}
}

func TestVerifyAllSigned(t *testing.T) {
	env := setUp(t)
	env.addModules(t, "vboxdrv.ko", "vboxnetflt.ko")
	logger, _ := logtest.NewNullLogger()
	r := fakes.NewRunner().On("modinfo", fakes.Stdout(signedModinfo))

	if _, err := NewVerifier(r, logger).VerifyAll(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}
