package util

import "errors"

var (
	ErrTransientService = errors.New("transient service error")
	ErrPermanentService = errors.New("permanent service error")
	ErrInvalidMedia     = errors.New("invalid media")
	ErrNoCandidates     = errors.New("no usable candidate segments")
	ErrPartialSegment   = errors.New("segment failed")
	ErrBudgetExceeded   = errors.New("budget exceeded")
)

// Error kinds as they travel across the workflow boundary.
const (
	KindTransientService = "TransientServiceError"
	KindPermanentService = "PermanentServiceError"
	KindInvalidMedia     = "InvalidMediaError"
	KindNoCandidates     = "NoCandidatesError"
	KindPartialSegment   = "PartialSegmentFailure"
	KindBudgetExceeded   = "BudgetExceededError"
	KindStageTimeout     = "StageTimeoutError"
	KindInternal         = "InternalError"
)

// FatalKinds never benefit from a retry.
var FatalKinds = []string{KindInvalidMedia, KindNoCandidates, KindBudgetExceeded, KindPermanentService}

func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidMedia):
		return KindInvalidMedia
	case errors.Is(err, ErrNoCandidates):
		return KindNoCandidates
	case errors.Is(err, ErrBudgetExceeded):
		return KindBudgetExceeded
	case errors.Is(err, ErrPartialSegment):
		return KindPartialSegment
	case errors.Is(err, ErrTransientService):
		return KindTransientService
	case errors.Is(err, ErrPermanentService):
		return KindPermanentService
	default:
		return KindInternal
	}
}

func IsFatalKind(kind string) bool {
	for _, k := range FatalKinds {
		if k == kind {
			return true
		}
	}
	return false
}
