package activities

import (
	"errors"

	"highlightflow/internal/storage"
	"highlightflow/internal/util"

	"go.temporal.io/sdk/temporal"
)

// toApplicationError tags err with its kind so the workflow can tell fatal
// failures from retryable ones.
func toApplicationError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return err
	}
	kind := util.KindOf(err)
	if util.IsFatalKind(kind) || errors.Is(err, storage.ErrNotFound) {
		return temporal.NewNonRetryableApplicationError(err.Error(), kind, err)
	}
	return temporal.NewApplicationError(err.Error(), kind, err)
}
