package research

import (
	"errors"
	"fmt"
	"strings"

	"ai-research-be/internal/entity"
)

// Error kinds, matched with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrInvalidMode = errors.New("invalid mode")
	ErrSessionBusy = errors.New("session busy")
	ErrProducer    = errors.New("producer error")
	ErrAggregation = errors.New("aggregation error")
	ErrTransport   = errors.New("transport error")
)

// CodedError is implemented by every error that can be put on the wire.
type CodedError interface {
	error
	Code() string
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Code() string { return "VALIDATION_ERROR" }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type InvalidModeError struct {
	Mode    entity.ResearchMode
	Feature string // required feature missing from the subscription, empty if the mode is unknown
}

func (e *InvalidModeError) Error() string {
	if e.Feature == "" {
		return fmt.Sprintf("mode %q is not available in this deployment", e.Mode)
	}
	return fmt.Sprintf("mode %q requires the %q feature", e.Mode, e.Feature)
}

func (e *InvalidModeError) Code() string { return "INVALID_MODE" }
func (e *InvalidModeError) Is(target error) bool { return target == ErrInvalidMode }

type SessionBusyError struct {
	Command string
	Status  entity.SessionStatus
}

func (e *SessionBusyError) Error() string {
	return fmt.Sprintf("cannot %s while session is %s", e.Command, e.Status)
}

func (e *SessionBusyError) Code() string { return "SESSION_BUSY" }
func (e *SessionBusyError) Is(target error) bool { return target == ErrSessionBusy }

type ProducerError struct {
	Producer string
	Err      error
}

func (e *ProducerError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Producer, e.Err)
}

func (e *ProducerError) Unwrap() error { return e.Err }
func (e *ProducerError) Code() string { return "PRODUCER_ERROR" }
func (e *ProducerError) Is(target error) bool { return target == ErrProducer }

type AggregationError struct {
	Failures []*ProducerError
	TimedOut bool
}

func (e *AggregationError) Error() string {
	if e.TimedOut {
		return "research timed out before completion"
	}
	if len(e.Failures) == 0 {
		return "no producer returned a result"
	}
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Producer
	}
	return fmt.Sprintf("all producers failed (%s)", strings.Join(names, ", "))
}

func (e *AggregationError) Code() string { return "AGGREGATION_ERROR" }
func (e *AggregationError) Is(target error) bool { return target == ErrAggregation }

type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) Code() string { return "TRANSPORT_ERROR" }
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ErrorCode returns the wire code of err, or "INTERNAL_ERROR".
func ErrorCode(err error) string {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return "INTERNAL_ERROR"
}
