package archiver_errors

import (
	"errors"
	"fmt"

	"github.com/docker/go-units"
	platformerrors "github.com/jmgilman/go/errors"
)

// phaseError carries the pieces shared by every extraction failure. Each
// failure is permanent: nothing is retried internally.
type phaseError struct {
	code    platformerrors.ErrorCode
	message string
	context map[string]interface{}
	err     error
}

func (e *phaseError) Error() string {
	if e.err == nil {
		return e.message
	}
	return e.message + ": " + e.err.Error()
}

func (e *phaseError) Unwrap() error {
	return e.err
}

func (e *phaseError) Code() platformerrors.ErrorCode {
	return e.code
}

func (e *phaseError) Classification() platformerrors.ErrorClassification {
	return platformerrors.ClassificationPermanent
}

func (e *phaseError) Message() string {
	return e.message
}

func (e *phaseError) Context() map[string]interface{} {
	if e.context == nil {
		return nil
	}
	out := make(map[string]interface{}, len(e.context))
	for k, v := range e.context {
		out[k] = v
	}
	return out
}

// ArchiveOpenError means the archive bytes could not be decoded. No entry
// was surfaced.
type ArchiveOpenError struct {
	phaseError
}

func NewArchiveOpenError(err error) *ArchiveOpenError {
	return &ArchiveOpenError{phaseError{
		code:    platformerrors.CodeInvalidInput,
		message: "Failed to open archive",
		err:     err,
	}}
}

// EntryStreamOpenError means the data of one entry could not be opened.
type EntryStreamOpenError struct {
	phaseError
	Entry string
}

func NewEntryStreamOpenError(entry string, err error) *EntryStreamOpenError {
	return &EntryStreamOpenError{
		phaseError: phaseError{
			code:    platformerrors.CodeInvalidInput,
			message: fmt.Sprintf("Failed to open entry stream for %s", entry),
			context: map[string]interface{}{"entry": entry},
			err:     err,
		},
		Entry: entry,
	}
}

// MemoryLimitExceededError means heap usage went over the configured ceiling
// before an entry was processed.
type MemoryLimitExceededError struct {
	phaseError
	HeapUsed uint64
	Limit    uint64
}

func NewMemoryLimitExceededError(heapUsed, limit uint64) *MemoryLimitExceededError {
	return &MemoryLimitExceededError{
		phaseError: phaseError{
			code: platformerrors.CodeExecutionFailed,
			message: fmt.Sprintf("Memory limit exceeded during processing: heap %s over limit %s",
				units.BytesSize(float64(heapUsed)), units.BytesSize(float64(limit))),
			context: map[string]interface{}{"heap_used": heapUsed, "limit": limit},
		},
		HeapUsed: heapUsed,
		Limit:    limit,
	}
}

// ArchiveRuntimeError means the reader failed mid-traversal, typically on
// corrupt or truncated data.
type ArchiveRuntimeError struct {
	phaseError
}

func NewArchiveRuntimeError(err error) *ArchiveRuntimeError {
	return &ArchiveRuntimeError{phaseError{
		code:    platformerrors.CodeInvalidInput,
		message: "Archive processing failed (corrupt or truncated data)",
		err:     err,
	}}
}

// Warning is a non-fatal issue. Entry callbacks return it to have the issue
// recorded in the extraction result while traversal continues.
type Warning struct {
	msg string
}

func NewWarning(format string, args ...interface{}) *Warning {
	return &Warning{msg: fmt.Sprintf(format, args...)}
}

func (w *Warning) Error() string {
	return w.msg
}

func IsArchiveOpenError(err error) bool {
	var target *ArchiveOpenError
	return errors.As(err, &target)
}

func IsEntryStreamOpenError(err error) bool {
	var target *EntryStreamOpenError
	return errors.As(err, &target)
}

func IsMemoryLimitExceeded(err error) bool {
	var target *MemoryLimitExceededError
	return errors.As(err, &target)
}

func IsArchiveRuntimeError(err error) bool {
	var target *ArchiveRuntimeError
	return errors.As(err, &target)
}

// AsWarning returns the Warning in err's chain, if any.
func AsWarning(err error) (*Warning, bool) {
	var target *Warning
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
