// Package executor drives queued tasks through the coding agent one at
// a time: validate, run under the task deadline, classify failures, and
// either retry with backoff or move the task to its terminal history.
package executor

import (
	"context"
	"errors"
	"strings"

	"github.com/droverhq/drover/internal/tasks"
)

// Class buckets a run failure by cause. The class decides whether the
// task earns another attempt.
type Class string

const (
	ClassTransient  Class = "transient"
	ClassPermanent  Class = "permanent"
	ClassTimeout    Class = "timeout"
	ClassUserCancel Class = "user_cancel"
	ClassValidation Class = "validation"
	ClassResource   Class = "resource"
)

// Severity grades a collected error record.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrCancelled marks a run stopped by an explicit cancel signal.
var ErrCancelled = errors.New("task cancelled")

// ErrPermanent marks a failure the adapter has declared unretryable.
var ErrPermanent = errors.New("permanent failure")

var resourceKeywords = []string{"rate limit", "connection", "network", "unavailable"}

var validationKeywords = []string{"invalid", "validation", "not found", "permission"}

// Classify buckets an error. Sentinels are checked first, then the
// keyword groups in a fixed order (timeout, resource, validation) so a
// message holding words from two groups always lands in the same
// class. Anything unmatched is transient.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ClassUserCancel
	case errors.Is(err, ErrPermanent):
		return ClassPermanent
	}
	var verr *tasks.ValidationError
	if errors.As(err, &verr) {
		return ClassValidation
	}

	msg := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout") {
		return ClassTimeout
	}
	for _, kw := range resourceKeywords {
		if strings.Contains(msg, kw) {
			return ClassResource
		}
	}
	for _, kw := range validationKeywords {
		if strings.Contains(msg, kw) {
			return ClassValidation
		}
	}
	return ClassTransient
}

// Retryable reports whether the class is worth another attempt.
func (c Class) Retryable() bool {
	switch c {
	case ClassTransient, ClassTimeout, ClassResource:
		return true
	}
	return false
}
