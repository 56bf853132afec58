package pipeline

import (
	"errors"
	"fmt"
)

// ErrRetriesExhausted marks the final GenerationFailed event of a failure
// streak. Nothing further happens until the contract changes again.
var ErrRetriesExhausted = errors.New("retries exhausted, manual intervention required")

// ContractFetchError means the contract source could not be read or parsed.
type ContractFetchError struct {
	Source string
	Err    error
}

func (e *ContractFetchError) Error() string {
	return fmt.Sprintf("fetch contract from %s: %v", e.Source, e.Err)
}

func (e *ContractFetchError) Unwrap() error { return e.Err }

// GenerationError is a failed generate, build or link step.
type GenerationError struct {
	Step   string
	Output string // trailing output of the command
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s step failed: %v\n%s", e.Step, e.Err, e.Output)
}

func (e *GenerationError) Unwrap() error { return e.Err }
