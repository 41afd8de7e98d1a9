// Package prompt reads answers, passwords and menu choices from the user.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/vbox-sb-manager/tools/src/pkg/vboxerr"
)

// Prompter asks questions on out and reads the answers from in. Passwords
// are read without echo when in is a terminal and as plain lines otherwise.
type Prompter struct {
	in       *bufio.Reader
	out      io.Writer
	fd       int
	terminal bool
}

// New returns a Prompter reading from the file in, usually os.Stdin.
func New(in *os.File, out io.Writer) *Prompter {
	fd := int(in.Fd())
	return &Prompter{in: bufio.NewReader(in), out: out, fd: fd, terminal: term.IsTerminal(fd)}
}

// NewFromReader returns a Prompter reading lines from r.
func NewFromReader(r io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(r), out: out, fd: -1}
}

// readLine returns the next input line without its line ending. End of input
// cancels the operation.
func (p *Prompter) readLine() (string, error) {
	s, err := p.in.ReadString('\n')
	if err == io.EOF && s != "" {
		err = nil
	}
	if err == io.EOF {
		return "", vboxerr.New(vboxerr.UserCancelled, "")
	}
	if err != nil {
		return "", vboxerr.Wrap(err, vboxerr.IO, "failed to read input")
	}
	return strings.TrimRight(s, "\r\n"), nil
}

// Input asks for a line of text. An empty answer selects def.
func (p *Prompter) Input(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	s, err := p.readLine()
	if err != nil {
		return "", err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return s, nil
}

// Confirm asks a yes/no question. An empty answer selects def.
func (p *Prompter) Confirm(label string, def bool) (bool, error) {
	if def {
		fmt.Fprintf(p.out, "%s (Y/n): ", label)
	} else {
		fmt.Fprintf(p.out, "%s (y/N): ", label)
	}
	s, err := p.readLine()
	if err != nil {
		return false, err
	}
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return def, nil
	}
	return s == "y" || s == "yes", nil
}

// Password asks for a secret without echoing it.
func (p *Prompter) Password(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	if !p.terminal {
		return p.readLine()
	}
	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", vboxerr.Wrap(err, vboxerr.IO, "failed to read password")
	}
	return string(b), nil
}

// NewPassword asks for a non-empty secret twice until both entries match.
func (p *Prompter) NewPassword(label, confirmLabel, mismatch string) (string, error) {
	for {
		first, err := p.Password(label)
		if err != nil {
			return "", err
		}
		if first == "" {
			fmt.Fprintln(p.out, "Empty input is not allowed")
			continue
		}
		second, err := p.Password(confirmLabel)
		if err != nil {
			return "", err
		}
		if first == second {
			return first, nil
		}
		fmt.Fprintln(p.out, mismatch)
	}
}

// Select prints a numbered list of items and returns the zero based index
// of the chosen one.
func (p *Prompter) Select(label string, items []string) (int, error) {
	for i, item := range items {
		fmt.Fprintf(p.out, "  %2d) %s\n", i+1, item)
	}
	for {
		s, err := p.Input(label, "")
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(s)
		if err == nil && n >= 1 && n <= len(items) {
			return n - 1, nil
		}
		fmt.Fprintf(p.out, "Please enter a number between 1 and %d\n", len(items))
	}
}

// WaitEnter blocks until the user presses Enter.
func (p *Prompter) WaitEnter(label string) error {
	fmt.Fprintf(p.out, "%s", label)
	_, err := p.readLine()
	return err
}
