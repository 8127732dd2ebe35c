package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"highlightflow/internal/util"
)

type ErrorType string

const (
	ErrorQuota     ErrorType = "quota"
	ErrorRate      ErrorType = "rate"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorContext   ErrorType = "context"
)

func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, util.ErrTransientService) {
		return ErrorTransient
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "quota"), strings.Contains(e, "credit"), strings.Contains(e, "insufficient_quota"):
		return ErrorQuota
	case strings.Contains(e, "rate"), strings.Contains(e, "429"):
		return ErrorRate
	case strings.Contains(e, "context length"), strings.Contains(e, "too long"):
		return ErrorContext
	case strings.Contains(e, "timeout"), strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"),
		strings.Contains(e, "connection refused"), strings.Contains(e, "connection reset"),
		strings.Contains(e, " 500"), strings.Contains(e, " 502"), strings.Contains(e, " 503"), strings.Contains(e, " 504"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}

// IsTransient reports whether a retry at the call site may succeed.
func IsTransient(err error) bool {
	switch ClassifyError(err) {
	case ErrorRate, ErrorTransient:
		return true
	default:
		return false
	}
}

// Classify tags provider errors with util.ErrTransientService or
// util.ErrPermanentService so the error taxonomy survives across package
// boundaries. Cancellation is passed through untagged.
func Classify(err error) error {
	if err == nil || errors.Is(err, util.ErrTransientService) || errors.Is(err, util.ErrPermanentService) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if IsTransient(err) {
		return fmt.Errorf("%w: %w", util.ErrTransientService, err)
	}
	return fmt.Errorf("%w: %w", util.ErrPermanentService, err)
}
