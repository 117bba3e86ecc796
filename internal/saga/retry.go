package saga

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/albion/platform/internal/platform/apperr"
)

// isTransient classifies an error as retryable. Mongo network timeouts,
// write conflicts, and transient transaction labels retry; everything else
// is terminal.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if apperr.IsTransient(err) {
		return true
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return true
	}

	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		if serverErr.HasErrorLabel("TransientTransactionError") ||
			serverErr.HasErrorLabel("UnknownTransactionCommitResult") {
			return true
		}
		// 112 = WriteConflict
		if serverErr.HasErrorCode(112) {
			return true
		}
	}
	return false
}
