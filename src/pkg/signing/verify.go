package signing

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vbox-sb-manager/tools/src/pkg/host"
	"github.com/vbox-sb-manager/tools/src/pkg/modules"
	"github.com/vbox-sb-manager/tools/src/pkg/vboxerr"
)

// VerifyReport summarizes a verification pass.
type VerifyReport struct {
	Signed   []string
	Unsigned []string
}

// Verifier checks whether modules carry a signature.
type Verifier struct {
	runner host.Runner
	log    log.FieldLogger
}

// NewVerifier returns a Verifier.
func NewVerifier(r host.Runner, logger log.FieldLogger) *Verifier {
	return &Verifier{runner: r, log: logger}
}

// VerifyModule reports whether m is signed. Compressed modules are inspected
// through their uncompressed sibling file, which is removed afterwards if
// this call created it.
func (v *Verifier) VerifyModule(m modules.Module) (bool, error) {
	raw := m.Path
	if m.Compression != modules.None {
		raw = m.RawPath()
		if _, err := os.Stat(raw); os.IsNotExist(err) {
			if _, err := modules.Decompress(v.runner, m); err != nil {
				return false, err
			}
			defer func() {
				if err := os.Remove(raw); err != nil {
					v.log.Debugf("Failed to remove %s: %v", raw, err)
				}
			}()
		}
	}

	res, err := v.runner.Run(host.Command{Name: "modinfo", Args: []string{raw}})
	if err != nil {
		v.log.Debugf("modinfo unavailable, checking signature trailer of %s: %v", raw, err)
		return modules.HasSignatureTrailer(raw)
	}
	out := string(res.Stdout)
	return strings.Contains(out, "sig_id:") || strings.Contains(out, "signer:"), nil
}

// VerifyAll verifies every VirtualBox module of the running kernel and fails
// if any of them is not signed.
func (v *Verifier) VerifyAll() (*VerifyReport, error) {
	v.log.Info("Verifying VirtualBox module signatures...")
	found, err := FindModules(v.runner, v.log)
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{}
	for _, m := range found {
		signed, err := v.VerifyModule(m)
		switch {
		case err != nil:
			v.log.Errorf("Failed to verify %s: %v", m.Name, err)
			report.Unsigned = append(report.Unsigned, m.Name)
		case signed:
			v.log.Infof("Module is signed: %s", m.Name)
			report.Signed = append(report.Signed, m.Name)
		default:
			v.log.Errorf("Module is NOT signed: %s", m.Name)
			report.Unsigned = append(report.Unsigned, m.Name)
		}
	}
	v.log.Infof("Verification complete: %d signed, %d unsigned", len(report.Signed), len(report.Unsigned))
	if len(report.Unsigned) > 0 {
		return report, vboxerr.New(vboxerr.SignatureVerificationFailed, "%d module(s) are not signed", len(report.Unsigned))
	}
	v.log.Info("All modules are properly signed!")
	return report, nil
}
