package normalizer

import (
	"errors"
	"fmt"

	"github.com/dukex/inbox/pkg/models"
)

// ErrNormalization is matched by every NormalizationError.
var ErrNormalization = errors.New("normalization failed")

// NormalizationError reports a payload that cannot become an activity.
type NormalizationError struct {
	Platform models.Platform
	Reason   string
	Err      error
}

func (e *NormalizationError) Error() string {
	msg := fmt.Sprintf("cannot normalize %s payload: %s", e.Platform, e.Reason)
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}

	return msg
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

func (e *NormalizationError) Is(target error) bool {
	return target == ErrNormalization
}

func newError(platform models.Platform, reason string, err error) *NormalizationError {
	return &NormalizationError{Platform: platform, Reason: reason, Err: err}
}

// IsNormalizationError checks if an error was produced while normalizing a payload.
func IsNormalizationError(err error) bool {
	return errors.Is(err, ErrNormalization)
}
