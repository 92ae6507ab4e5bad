package chain

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeRejected     = "CHAIN_REJECTED"
	ErrCodeHandlerPanic = "CHAIN_HANDLER_PANIC"
	ErrCodeJoinFailed   = "CHAIN_JOIN_FAILED"
	ErrCodeWaitCanceled = "CHAIN_WAIT_CANCELED"
	ErrCodeUnknownMode  = "CHAIN_UNKNOWN_MODE"
)

var (
	// ErrRejected is the base error used when a chain is rejected without an
	// explicit reason.
	ErrRejected = apperrors.New("chain rejected", apperrors.CategoryHandler).
			WithTextCode(ErrCodeRejected)
	// ErrHandlerPanic marks errors recovered from a panicking handler.
	ErrHandlerPanic = apperrors.New("handler panic", apperrors.CategoryHandler).
			WithTextCode(ErrCodeHandlerPanic)
	// ErrJoinFailed marks a combinator rejection; the per-index error slice
	// travels in its metadata.
	ErrJoinFailed = apperrors.New("one or more joined chains failed", apperrors.CategoryHandler).
			WithTextCode(ErrCodeJoinFailed)
)

func cloneChainError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrRejected
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

func errUnknownMode(mode string) error {
	return apperrors.New("unknown chain mode", apperrors.CategoryBadInput).
		WithTextCode(ErrCodeUnknownMode).
		WithMetadata(map[string]any{"mode": mode})
}

func chainErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// IsRejection reports whether err is a bare rejection created without a
// caller-supplied reason.
func IsRejection(err error) bool {
	return chainErrorCode(err) == ErrCodeRejected
}

// JoinErrors returns the per-index error slice carried by a combinator
// rejection. The slice has one slot per joined entry; nil slots settled
// successfully. It returns nil when err did not originate from All or Each.
func JoinErrors(err error) []error {
	var ge *apperrors.Error
	if !stderrors.As(err, &ge) {
		return nil
	}
	if ge.TextCode != ErrCodeJoinFailed {
		return nil
	}
	if errs, ok := ge.Metadata["errors"].([]error); ok {
		return errs
	}
	return nil
}
