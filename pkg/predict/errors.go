package predict

import (
	"errors"
	"fmt"
)

// Sentinel errors for prediction requests
var (
	// ErrInvalidInput indicates the caller supplied a payload or option the
	// service cannot score
	ErrInvalidInput = errors.New("invalid input")

	// ErrInference indicates the pipeline failed while scoring a valid frame
	ErrInference = errors.New("inference failed")
)

// InvalidInputError carries the reason a payload was rejected
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return e.Reason
}

func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// InferenceError wraps a pipeline failure
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Is(target error) bool {
	return target == ErrInference
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// IsInvalidInput checks if the error indicates a rejected payload
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsInference checks if the error indicates a pipeline failure
func IsInference(err error) bool {
	return errors.Is(err, ErrInference)
}
