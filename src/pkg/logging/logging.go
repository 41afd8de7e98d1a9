// Package logging builds the run logger of vbox-sb-manager: a logrus logger
// writing colored level tags to the console and timestamped lines to a log
// file.
package logging

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const fileTimeFormat = "2006-01-02 15:04:05"

// Options selects the sinks and verbosity of a Logger.
type Options struct {
	// Verbose lowers the console threshold from warning to info.
	Verbose bool
	// Debug enables debug messages on both sinks.
	Debug bool
	// LogFile is appended to. Empty disables the file sink.
	LogFile string
	// Console receives console messages, os.Stderr when nil.
	Console io.Writer
}

// Logger is the logger owned by a single command run.
type Logger struct {
	*log.Logger
	// RunID identifies the lines written by this run in the log file.
	RunID string
	file  *os.File
}

// New returns a Logger for opts. A log file that cannot be opened is
// reported on the console and otherwise ignored.
func New(opts Options) *Logger {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	consoleLevel, fileLevel := log.WarnLevel, log.InfoLevel
	if opts.Verbose {
		consoleLevel = log.InfoLevel
	}
	if opts.Debug {
		consoleLevel, fileLevel = log.DebugLevel, log.DebugLevel
	}

	logger := log.New()
	logger.SetOutput(ioutil.Discard)
	logger.SetLevel(consoleLevel)
	logger.AddHook(&consoleHook{out: console, level: consoleLevel})

	l := &Logger{Logger: logger, RunID: uuid.New().String()}
	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			logger.Warnf("Failed to open log file %s, logging to console only: %v", opts.LogFile, err)
		} else {
			l.file = f
			if fileLevel > consoleLevel {
				logger.SetLevel(fileLevel)
			}
			logger.AddHook(&fileHook{out: f, level: fileLevel})
		}
	}
	return l
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// levelsUpTo returns the logrus levels at least as severe as threshold.
func levelsUpTo(threshold log.Level) []log.Level {
	var levels []log.Level
	for _, lvl := range log.AllLevels {
		if lvl <= threshold {
			levels = append(levels, lvl)
		}
	}
	return levels
}

var consoleTags = map[log.Level]*color.Color{
	log.PanicLevel: color.New(color.FgRed, color.Bold),
	log.FatalLevel: color.New(color.FgRed, color.Bold),
	log.ErrorLevel: color.New(color.FgRed, color.Bold),
	log.WarnLevel:  color.New(color.FgYellow, color.Bold),
	log.InfoLevel:  color.New(color.FgBlue),
	log.DebugLevel: color.New(color.FgCyan),
	log.TraceLevel: color.New(color.Reset),
}

type consoleHook struct {
	mu    sync.Mutex
	out   io.Writer
	level log.Level
}

func (h *consoleHook) Levels() []log.Level { return levelsUpTo(h.level) }

func (h *consoleHook) Fire(entry *log.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	tag := "[" + levelName(entry.Level, true) + "]"
	_, err := fmt.Fprintf(h.out, "%s %s\n", consoleTags[entry.Level].Sprint(tag), entry.Message)
	return err
}

type fileHook struct {
	mu    sync.Mutex
	out   io.Writer
	level log.Level
}

func (h *fileHook) Levels() []log.Level { return levelsUpTo(h.level) }

func (h *fileHook) Fire(entry *log.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintf(h.out, "[%s] [%s] %s\n",
		entry.Time.Format(fileTimeFormat), levelName(entry.Level, false), entry.Message)
	return err
}

// levelName returns the upper case tag of a level. The console spells out
// WARNING, the log file uses WARN.
func levelName(lvl log.Level, long bool) string {
	switch lvl {
	case log.WarnLevel:
		if long {
			return "WARNING"
		}
		return "WARN"
	case log.PanicLevel, log.FatalLevel, log.ErrorLevel:
		return "ERROR"
	case log.InfoLevel:
		return "INFO"
	case log.DebugLevel:
		return "DEBUG"
	default:
		return "TRACE"
	}
}
