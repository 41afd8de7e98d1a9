// Package output prints the user facing messages of vbox-sb-manager.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

var (
	green     = color.New(color.FgGreen, color.Bold)
	blue      = color.New(color.FgBlue)
	yellow    = color.New(color.FgYellow, color.Bold)
	red       = color.New(color.FgRed, color.Bold)
	cyan      = color.New(color.FgCyan)
	bold      = color.New(color.Bold)
	underline = color.New(color.Bold, color.Underline)
)

// Printer writes tagged messages. Errors go to Err, everything else to Out.
type Printer struct {
	Out io.Writer
	Err io.Writer
}

// NewPrinter returns a Printer writing to the standard streams.
func NewPrinter() *Printer {
	return &Printer{Out: os.Stdout, Err: os.Stderr}
}

func (p *Printer) Success(format string, args ...interface{}) {
	fmt.Fprintf(p.Out, "%s %s\n", green.Sprint("[SUCCESS]"), fmt.Sprintf(format, args...))
}

func (p *Printer) Info(format string, args ...interface{}) {
	fmt.Fprintf(p.Out, "%s %s\n", blue.Sprint("[INFO]"), fmt.Sprintf(format, args...))
}

func (p *Printer) Warning(format string, args ...interface{}) {
	fmt.Fprintf(p.Out, "%s %s\n", yellow.Sprint("[WARNING]"), fmt.Sprintf(format, args...))
}

func (p *Printer) Error(format string, args ...interface{}) {
	fmt.Fprintf(p.Err, "%s %s\n", red.Sprint("[ERROR]"), fmt.Sprintf(format, args...))
}

// Println writes an untagged line.
func (p *Printer) Println(format string, args ...interface{}) {
	fmt.Fprintf(p.Out, format+"\n", args...)
}

// Header prints msg framed by separator lines.
func (p *Printer) Header(msg string) {
	separator := strings.Repeat("=", utf8.RuneCountInString(msg)+4)
	fmt.Fprintln(p.Out, cyan.Sprint(separator))
	fmt.Fprintf(p.Out, "  %s  \n", bold.Sprint(msg))
	fmt.Fprintln(p.Out, cyan.Sprint(separator))
}

// Section prints msg surrounded by blank lines.
func (p *Printer) Section(msg string) {
	fmt.Fprintln(p.Out)
	fmt.Fprintln(p.Out, underline.Sprint(msg))
	fmt.Fprintln(p.Out)
}

// Progress prints a "[current/total] item" line.
func (p *Printer) Progress(current, total int, item string) {
	fmt.Fprintf(p.Out, "[%d/%d] %s\n", current, total, item)
}

// Box prints title and lines inside a frame.
func (p *Printer) Box(title string, lines []string) {
	width := utf8.RuneCountInString(title)
	for _, l := range lines {
		if n := utf8.RuneCountInString(l); n > width {
			width = n
		}
	}
	pad := func(s string) string {
		return strings.Repeat(" ", width-utf8.RuneCountInString(s))
	}
	fmt.Fprintln(p.Out, cyan.Sprint("╔"+strings.Repeat("═", width+2)+"╗"))
	fmt.Fprintf(p.Out, "║ %s%s ║\n", bold.Sprint(title), pad(title))
	if len(lines) > 0 {
		fmt.Fprintf(p.Out, "║%s║\n", strings.Repeat(" ", width+2))
	}
	for _, l := range lines {
		fmt.Fprintf(p.Out, "║ %s%s ║\n", l, pad(l))
	}
	fmt.Fprintln(p.Out, cyan.Sprint("╚"+strings.Repeat("═", width+2)+"╝"))
}
