// Package logging builds the zap loggers used by both binaries.
//
// Log records always go to stderr: stdout belongs to the MCP stdio
// transport and a single stray line there corrupts the protocol
// stream. When an OpenTelemetry logger provider is supplied, records
// are additionally bridged into it through otelzap.
package logging

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// bridgeName identifies this module's records inside the OTEL log
// pipeline.
const bridgeName = "github.com/fyrsmithlabs/camlearnd"

// Options configures logger construction.
type Options struct {
	// Level is the minimum emitted level: debug, info, warn or error.
	Level string

	// Format selects the stderr encoder: console or json. Anything
	// else falls back to json.
	Format string

	// OTELProvider, when non-nil, tees every record into the
	// OpenTelemetry log bridge alongside stderr.
	OTELProvider log.LoggerProvider
}

// New creates the process logger.
func New(opts Options) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", opts.Level, err)
	}

	cores := make([]zapcore.Core, 0, 2)
	cores = append(cores, zapcore.NewCore(
		newEncoder(opts.Format),
		zapcore.AddSync(os.Stderr),
		level,
	))

	if opts.OTELProvider != nil {
		cores = append(cores, otelzap.NewCore(bridgeName,
			otelzap.WithLoggerProvider(opts.OTELProvider),
		))
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}

	return zap.New(core), nil
}

// newEncoder creates a JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// Sync flushes buffered entries. Syncing stderr returns EINVAL or
// ENOTTY on Linux when it is a pipe or terminal; those are harmless
// and swallowed here.
func Sync(l *zap.Logger) error {
	err := l.Sync()
	if err != nil && isStderrSyncError(err) {
		return nil
	}
	return err
}

func isStderrSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
