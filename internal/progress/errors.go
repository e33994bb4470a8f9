package progress

import (
	"errors"
	"fmt"

	"github.com/pot-code/training-progress/internal/infrastructure/driver"
	"github.com/pot-code/training-progress/internal/infrastructure/validate"
)

var (
	// ErrNotAssigned no assignment links the user to the training
	ErrNotAssigned = errors.New("training is not assigned to user")
	// ErrContentNotInTraining the content item is unknown or belongs to another training
	ErrContentNotInTraining = errors.New("content item does not belong to training")
	// ErrInvalidScoreInput the quiz submission is empty or malformed
	ErrInvalidScoreInput = errors.New("invalid quiz submission")
	// ErrStoreUnavailable the store failed, the operation was not applied
	ErrStoreUnavailable = errors.New("progress store unavailable")
)

// InvalidScoreInputError lists every problem found in a quiz submission
type InvalidScoreInputError struct {
	Fields []*validate.FieldError
}

func (e *InvalidScoreInputError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidScoreInput, validate.JoinReasons(e.Fields))
}

func (e *InvalidScoreInputError) Is(target error) bool {
	return target == ErrInvalidScoreInput
}

// StoreError wraps a driver failure
type StoreError struct {
	Op   string
	Kind driver.ErrorKind
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s (%s): %v", ErrStoreUnavailable, e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// Retryable whether the same call may succeed when repeated
func (e *StoreError) Retryable() bool {
	return e.Kind == driver.KindRetryable
}

func newStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Kind: driver.ClassifyError(err), Err: err}
}

func notAssigned(userID, trainingID string) error {
	return fmt.Errorf("%w: user %q, training %q", ErrNotAssigned, userID, trainingID)
}

func contentNotInTraining(contentItemID, trainingID string) error {
	return fmt.Errorf("%w: content %q, training %q", ErrContentNotInTraining, contentItemID, trainingID)
}
