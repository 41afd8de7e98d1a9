package modules

import (
	"strings"

	"github.com/vbox-sb-manager/tools/src/pkg/host"
	"github.com/vbox-sb-manager/tools/src/pkg/vboxerr"
)

// Compression is the compression format of a module file.
type Compression int

const (
	None Compression = iota
	Xz
	Gzip
	Zstd
)

var compressionNames = map[Compression]string{
	None: "none",
	Xz:   "xz",
	Gzip: "gz",
	Zstd: "zst",
}

func (c Compression) String() string { return compressionNames[c] }

// Extension returns the file name suffix of c, empty for None.
func (c Compression) Extension() string {
	if c == None {
		return ""
	}
	return "." + compressionNames[c]
}

// DetectCompression returns the compression of a file from its name. Names
// without a known compression suffix are reported as None.
func DetectCompression(name string) Compression {
	switch {
	case strings.HasSuffix(name, ".xz"):
		return Xz
	case strings.HasSuffix(name, ".gz"):
		return Gzip
	case strings.HasSuffix(name, ".zst"):
		return Zstd
	default:
		return None
	}
}

// decompressCommand returns the command writing the raw module of a
// compressed file next to it, keeping the original.
func decompressCommand(c Compression, path string) host.Command {
	switch c {
	case Xz:
		return host.Command{Name: "xz", Args: []string{"-dkf", path}}
	case Gzip:
		return host.Command{Name: "gunzip", Args: []string{"-kf", path}}
	default:
		return host.Command{Name: "zstd", Args: []string{"-dkfq", path}}
	}
}

// compressCommand returns the command replacing rawPath by its compressed
// form.
func compressCommand(c Compression, rawPath string) host.Command {
	switch c {
	case Xz:
		return host.Command{Name: "xz", Args: []string{"-f", rawPath}}
	case Gzip:
		return host.Command{Name: "gzip", Args: []string{"-f", rawPath}}
	default:
		return host.Command{Name: "zstd", Args: []string{"-qf", "--rm", rawPath}}
	}
}

// Decompress writes the uncompressed form of m to m.RawPath() and returns
// that path. Uncompressed modules are returned as is.
func Decompress(r host.Runner, m Module) (string, error) {
	if m.Compression == None {
		return m.Path, nil
	}
	if _, err := host.RunChecked(r, decompressCommand(m.Compression, m.Path)); err != nil {
		return "", vboxerr.Wrap(err, vboxerr.CommandFailed, "failed to decompress %s", m.FileName())
	}
	return m.RawPath(), nil
}

// Recompress replaces the raw module next to m.Path by its compressed form,
// overwriting m.Path. It does nothing for uncompressed modules.
func Recompress(r host.Runner, m Module) error {
	if m.Compression == None {
		return nil
	}
	if _, err := host.RunChecked(r, compressCommand(m.Compression, m.RawPath())); err != nil {
		return vboxerr.Wrap(err, vboxerr.CommandFailed, "failed to recompress %s", m.FileName())
	}
	return nil
}
