// Package logfacade is the pluggable logging sink named in spec.md §7
// ("Reactor-loop errors ... are logged via the logging facade, a
// pluggable sink"). Grounded directly on bassosimone-nop/slogger.go's
// SLogger interface: two levels (Debug for per-operation chatter, Info
// for lifecycle events), a *slog.Logger satisfies it as-is, and the
// default is silent so the core never writes to stdout/stderr unless a
// caller opts in.
package logfacade

// Sink abstracts the *log/slog.Logger behavior the core needs.
//
// Debug is used for per-operation events (the core logs operations that
// fail with an I/O error); Info is used for lifecycle events (reactor
// started, stop requested, reactor stopped, fatal wait failure).
type Sink interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// Discard returns a Sink that drops everything, the default for a
// Handler that hasn't been given one explicitly.
func Discard() Sink {
	return discardSink{}
}

type discardSink struct{}

func (discardSink) Debug(msg string, args ...any) {}
func (discardSink) Info(msg string, args ...any)  {}
