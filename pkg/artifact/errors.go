package artifact

import (
	"errors"
	"fmt"
)

// Sentinel errors for artifact loading
var (
	// ErrArtifactMissing indicates a required artifact file does not exist
	ErrArtifactMissing = errors.New("artifact missing")

	// ErrArtifactMalformed indicates an artifact file exists but cannot be used
	ErrArtifactMalformed = errors.New("artifact malformed")
)

// MissingArtifactError reports which required artifact file was not found
type MissingArtifactError struct {
	Path string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("artifact missing: %s", e.Path)
}

func (e *MissingArtifactError) Is(target error) bool {
	return target == ErrArtifactMissing
}

// MalformedArtifactError reports an artifact that exists but failed to parse
// or validate
type MalformedArtifactError struct {
	Path string
	Err  error
}

func (e *MalformedArtifactError) Error() string {
	return fmt.Sprintf("artifact malformed: %s: %v", e.Path, e.Err)
}

func (e *MalformedArtifactError) Is(target error) bool {
	return target == ErrArtifactMalformed
}

func (e *MalformedArtifactError) Unwrap() error {
	return e.Err
}

// IsMissing checks if the error indicates a missing artifact
func IsMissing(err error) bool {
	return errors.Is(err, ErrArtifactMissing)
}

// IsMalformed checks if the error indicates a malformed artifact
func IsMalformed(err error) bool {
	return errors.Is(err, ErrArtifactMalformed)
}
