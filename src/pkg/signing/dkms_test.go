package signing

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/vbox-sb-manager/tools/src/pkg/fakes"
	"github.com/vbox-sb-manager/tools/src/pkg/vboxerr"
)

const dpkgList = "ii  virtualbox       7.0.16-dfsg-2ubuntu1  amd64  x86 virtualization solution - base binaries\n" +
	"ii  virtualbox-dkms  7.0.16-dfsg-2ubuntu1  amd64  x86 virtualization solution - kernel module sources for dkms\n"

func TestParseDKMSVersion(t *testing.T) {
	for _, tc := range []struct {
		testName string
		status   string
		want     string
		wantOK   bool
	}{
		{"Current", "virtualbox/7.0.16, 6.8.0-45-generic, x86_64: installed\nvirtualbox/7.0.16, 6.8.0-40-generic, x86_64: installed\n", "7.0.16", true},
		{"Added", "virtualbox/6.1.50: added\n", "6.1.50", true},
		{"Legacy", "virtualbox, 6.1.38, 5.15.0-50-generic, x86_64: installed\n", "6.1.38", true},
		{"Empty", "", "", false},
		{"OtherModule", "nvidia, 535.183.01: added\n", "", false},
	} {
		t.Run(tc.testName, func(t *testing.T) {
			got, ok := ParseDKMSVersion(tc.status)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("Unexpected version, want: (%q, %v), got: (%q, %v)", tc.want, tc.wantOK, got, ok)
			}
		})
	}
}

func TestRebuild(t *testing.T) {
	setUp(t)
	logger, _ := logtest.NewNullLogger()
	r := fakes.NewRunner("dkms", "dpkg").
		On("dpkg -l", fakes.Stdout(dpkgList)).
		On("dkms status", fakes.Stdout("virtualbox/7.0.16, 6.8.0-45-generic, x86_64: installed\n"))

	if err := Rebuild(r, logger); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := []string{
		"dpkg -l",
		"dkms status virtualbox",
		"modprobe -r vboxnetadp",
		"modprobe -r vboxnetflt",
		"modprobe -r vboxdrv",
		"dkms install virtualbox/7.0.16 -k " + testKernelRelease + " --force",
	}
	if diff := cmp.Diff(want, r.CommandLines()); diff != "" {
		t.Errorf("Unexpected commands (-want +got):\n%s", diff)
	}
}

func TestRebuildErrors(t *testing.T) {
	for _, tc := range []struct {
		testName   string
		runner     *fakes.Runner
		wantKind   vboxerr.Kind
		installRan bool
	}{
		{
			"NoDkms",
			fakes.NewRunner("dpkg"),
			vboxerr.DependencyMissing,
			false,
		},
		{
			"PackageMissing",
			fakes.NewRunner("dkms", "dpkg").On("dpkg -l", fakes.Stdout("ii  virtualbox  7.0.16  amd64\n")),
			vboxerr.DkmsBuildFailed,
			false,
		},
		{
			"NoVersion",
			fakes.NewRunner("dkms").On("dkms status", fakes.Stdout("")),
			vboxerr.DkmsBuildFailed,
			false,
		},
		{
			"InstallFails",
			fakes.NewRunner("dkms").
				On("dkms status", fakes.Stdout("virtualbox/7.0.16: added\n")).
				On("dkms install", fakes.Exit(10, "Error! Bad return status for module build")),
			vboxerr.DkmsBuildFailed,
			true,
		},
	} {
		t.Run(tc.testName, func(t *testing.T) {
			setUp(t)
			logger, _ := logtest.NewNullLogger()
			if err := Rebuild(tc.runner, logger); !vboxerr.Is(err, tc.wantKind) {
				t.Errorf("Unexpected error, want %v, got: %v", tc.wantKind, err)
			}
			if got := tc.runner.Ran("dkms install"); got != tc.installRan {
				t.Errorf("Unexpected dkms install, want ran: %v, got: %v", tc.installRan, got)
			}
		})
	}
}
