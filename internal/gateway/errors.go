package gateway

import (
	"context"
	"errors"

	"github.com/albion/platform/internal/platform/apperr"
	"github.com/albion/platform/internal/platform/reqctx"
)

// servicePrefix namespaces error codes at the gateway boundary
// (InsufficientFunds -> MSCoreInsufficientFunds).
const servicePrefix = "MSCore"

// resolverError carries the error envelope into GraphQL extensions:
// a CapitalCamelCase code, the correlation id, and safe details.
type resolverError struct {
	code          string
	message       string
	correlationID string
	details       map[string]interface{}
}

func (e *resolverError) Error() string { return e.message }

// Extensions implements the graphql-go extensions contract.
func (e *resolverError) Extensions() map[string]interface{} {
	ext := map[string]interface{}{
		"code":          servicePrefix + e.code,
		"correlationId": e.correlationID,
	}
	if len(e.details) > 0 {
		ext["details"] = e.details
	}
	return ext
}

// wrapErr translates a core error into the envelope. Only errors that cross
// the gateway boundary get translated; inside the core they stay structured.
func wrapErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	re := &resolverError{
		code:          apperr.CodeOf(err),
		message:       safeMessage(err),
		correlationID: reqctx.CorrelationID(ctx),
	}
	var pe *apperr.Error
	if errors.As(err, &pe) {
		re.details = pe.Details
	}
	return re
}

// safeMessage strips wrapped internals: clients see the platform message,
// logs see the chain.
func safeMessage(err error) string {
	var pe *apperr.Error
	if errors.As(err, &pe) {
		return pe.Message
	}
	return "internal error"
}

// errStrings renders the failure list for SagaResult-shaped payloads.
func errStrings(err error) *[]string {
	if err == nil {
		return nil
	}
	codes := []string{apperr.CodeOf(err)}
	return &codes
}
