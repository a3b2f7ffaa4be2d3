package client

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/bundler"
)

var (
	ErrIncompleteUserOperation = errors.New("user operation is missing gas or fee fields")
	ErrNoCalls                 = errors.New("no calls to execute")
	ErrUserOperationReverted   = errors.New("user operation reverted")
	ErrInvalidMultiplier       = errors.New("multiplier must be positive with at most 4 decimals")
	ErrMissingAccount          = errors.New("client requires an account")
	ErrMissingBundler          = errors.New("client requires a bundler")

	errReceiptNotFound = errors.New("user operation receipt not found")
)

// UserOperationTimeoutError is returned when receipt polling gives up, either
// because the retries ran out or the deadline passed. The operation may still
// be included later; Hash can be polled again.
type UserOperationTimeoutError struct {
	Hash     common.Hash
	Attempts int
	Elapsed  time.Duration
	// Cause is the last poll error, nil when the bundler kept answering "not found".
	Cause error
}

func (e *UserOperationTimeoutError) Error() string {
	msg := fmt.Sprintf("timed out waiting for user operation %s after %d attempts (%s)",
		e.Hash.Hex(), e.Attempts, e.Elapsed.Round(time.Millisecond))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *UserOperationTimeoutError) Unwrap() error {
	return e.Cause
}

// PermanentError marks a bundler error that polling must not retry. Bundler
// implementations may return it directly; JSON-RPC invalid params errors are
// treated as permanent too.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func isPermanent(err error) bool {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return true
	}
	code, ok := bundler.ErrorCode(err)
	return ok && code == bundler.CodeInvalidParams
}

// isNonceConflict matches the entry point's AA25 validation failure.
func isNonceConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "AA25")
}
