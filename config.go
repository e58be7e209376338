package iomultiplex

import (
	"time"

	"github.com/dxarrhenius/iomultiplex/logfacade"
)

// defaultBufferPoolSize is the chunk size of a Handler's default buffer
// pool (DefaultBufferPool).
const defaultBufferPoolSize = 2048

// Config holds construction-time options for a Handler. Pass it to New to
// pre-wire the logging sink, error classifier, clock, default buffer-pool
// size, and to override the control signal; all fields have sensible
// defaults set by NewConfig, grounded on bassosimone-nop/config.go's
// Config{Dialer, ErrClassifier, TimeNow}/NewConfig pattern.
type Config struct {
	// Logger receives lifecycle and per-operation log lines (spec.md §7
	// "reactor-loop errors ... are logged via the logging facade, a
	// pluggable sink"). Defaults to a discarding sink.
	Logger logfacade.Sink

	// ErrClassifier labels the underlying errno of a failed operation for
	// structured logging. Defaults to DefaultErrClassifier.
	ErrClassifier ErrClassifier

	// TimeNow returns the current time, used for deadline computation
	// throughout the reactor. Defaults to time.Now; overridable so tests
	// can control elapsed time deterministically, the same reason
	// bassosimone-nop's Config exposes it.
	TimeNow func() time.Time

	// BufferPoolSize is the chunk size of the Handler's default buffer
	// pool (Handler.DefaultBufferPool). Defaults to defaultBufferPoolSize.
	BufferPoolSize int

	// ControlSignal overrides the realtime signal number used to wake
	// the reactor thread (spec.md §4.6: "default the lowest realtime
	// signal, overridable at construction"). Zero means use the default.
	ControlSignal int
}

// NewConfig returns a Config with the documented defaults.
func NewConfig() *Config {
	return &Config{
		Logger:         logfacade.Discard(),
		ErrClassifier:  DefaultErrClassifier,
		TimeNow:        time.Now,
		BufferPoolSize: defaultBufferPoolSize,
	}
}
