package iomultiplex

import "github.com/bassosimone/errclass"

// ErrClassifier classifies errors into short categorical strings for
// structured logging, grounded on bassosimone-nop/errclassifier.go's
// ErrClassifier/ErrClassifierFunc split.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the ErrClassifier interface.
//
//	cfg.ErrClassifier = ErrClassifierFunc(errclass.New)
type ErrClassifierFunc func(error) string

// Classify implements ErrClassifier.
func (f ErrClassifierFunc) Classify(err error) string { return f(err) }

// DefaultErrClassifier classifies the underlying errno wrapped by an
// *OpError (or any other error) with errclass.New, the same errno-to-label
// mapping bassosimone-nop's own ErrClassifier doc comment names as the
// intended plug-in, used here as the actual default instead of a no-op
// stub so every reactor logs errors under a stable, comparable label.
var DefaultErrClassifier ErrClassifier = ErrClassifierFunc(errclass.New)
