package logic

import (
	"errors"
	"fmt"
	"time"
)

// Anomalies reported by a classifier. None of them are fatal: the classifier
// has already reset itself to idle when one is returned.
var (
	ErrClockWentBackwards = errors.New("clock went backwards")
	ErrMissedSamples      = errors.New("missed samples")
	ErrUnexpectedEdge     = errors.New("unexpected edge")
)

// AnomalyError reports inconsistent input on one button.
type AnomalyError struct {
	Button int
	Time   time.Time
	Err    error
}

func (e *AnomalyError) Error() string {
	return fmt.Sprintf("button %d: %v", e.Button, e.Err)
}

func (e *AnomalyError) Unwrap() error {
	return e.Err
}
