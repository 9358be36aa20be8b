package logging

import (
	"errors"
	"io"
	"log"
	"os"
)

var (
	defaultWriter io.Writer = os.Stderr
	defaultPrefix string    = "raftkv: "
	defaultFlag   int       = log.LstdFlags | log.Lmicroseconds
)

type options struct {
	// The mechanism that the logger will use to log messages.
	writer io.Writer

	// The prefix that the logger will write before any message.
	prefix string

	// The flags for the logger.
	flag int

	// The level of the logger: debug, info, warn, error, fatal.
	level Level

	// Indicates whether the log level was set.
	levelSet bool

	// Called by Fatal after the message is written.
	exit func(code int)
}

// Option is a function that updates the options of a Logger.
type Option func(options *options) error

// WithWriter sets the writer that will be used by the logger.
func WithWriter(w io.Writer) Option {
	return func(options *options) error {
		if w == nil {
			return errors.New("writer must not be nil")
		}
		options.writer = w
		return nil
	}
}

// WithPrefix sets the prefix for the logger.
func WithPrefix(prefix string) Option {
	return func(options *options) error {
		options.prefix = prefix
		return nil
	}
}

// WithFlag sets the flags used by the logger.
func WithFlag(flag int) Option {
	return func(options *options) error {
		options.flag = flag
		return nil
	}
}

// WithLevel sets the level of the logger.
func WithLevel(level Level) Option {
	return func(options *options) error {
		if level < Debug || level > Fatal {
			return errors.New("invalid log level")
		}
		options.level = level
		options.levelSet = true
		return nil
	}
}

// WithExitFunc replaces the function Fatal uses to terminate the process.
func WithExitFunc(exit func(code int)) Option {
	return func(options *options) error {
		options.exit = exit
		return nil
	}
}
