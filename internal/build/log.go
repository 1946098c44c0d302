package build

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// noopCloser stands in when no file logging is configured.
type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// SetupLogging builds the daemon logger: a console handler on stdout plus,
// when logDir is set, a rotating file handler, both behind one fan-out. The
// returned closer flushes the file rotator and must be closed on shutdown.
func SetupLogging(logDir, level string) (*slog.Logger, io.Closer, error) {
	handlers := []btclogv2.Handler{
		btclogv2.NewDefaultHandler(os.Stdout),
	}

	var closer io.Closer = noopCloser{}
	if logDir != "" {
		logWriter := NewRotatingLogWriter()

		rotatorCfg := DefaultLogRotatorConfig()
		rotatorCfg.LogDir = logDir

		if err := logWriter.InitLogRotator(rotatorCfg); err != nil {
			return nil, nil, fmt.Errorf(
				"unable to init log rotator: %w", err,
			)
		}

		handlers = append(
			handlers, btclogv2.NewDefaultHandler(logWriter),
		)
		closer = logWriter
	}

	handlerSet := NewHandlerSet(handlers...)

	logLevel, ok := btclog.LevelFromString(level)
	if !ok {
		logLevel = btclog.LevelInfo
	}
	handlerSet.SetLevel(logLevel)

	return slog.New(handlerSet), closer, nil
}
