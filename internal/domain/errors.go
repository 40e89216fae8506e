package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrEngine     = errors.New("engine error")
	ErrDelivery   = errors.New("delivery error")
)

var (
	ErrEmptyName   = &ValidationError{Reason: "empty user name"}
	ErrNameTooLong = &ValidationError{Reason: "user name too long"}
)

type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string        { return e.Reason }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports an unknown session referenced by name.
type NotFoundError struct {
	Name string
	peer bool
}

func (e *NotFoundError) Error() string {
	if e.peer {
		return "unknown from = " + e.Name
	}
	return fmt.Sprintf("User %s is not registered", e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// CalleeNotFound is returned to a caller dialing a name nobody holds.
func CalleeNotFound(name string) error { return &NotFoundError{Name: name} }

// UnknownPeer is returned to a callee answering a caller that is gone.
func UnknownPeer(name string) error { return &NotFoundError{Name: name, peer: true} }

// EngineError wraps a media engine failure with the setup stage it happened in.
type EngineError struct {
	Stage string
	Err   error
}

func (e *EngineError) Error() string        { return e.Stage + ": " + e.Err.Error() }
func (e *EngineError) Unwrap() error        { return e.Err }
func (e *EngineError) Is(target error) bool { return target == ErrEngine }

func NewEngineError(stage string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineError{Stage: stage, Err: err}
}

func DeliveryError(err error) error {
	return fmt.Errorf("%w: %w", ErrDelivery, err)
}
