package inference

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure independently of any transport.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindPreprocess
	KindModelNotFound
	KindModelLoad
	KindInference
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPreprocess:
		return "preprocess"
	case KindModelNotFound:
		return "model_not_found"
	case KindModelLoad:
		return "model_load"
	case KindInference:
		return "inference"
	default:
		return "unknown"
	}
}

// ClientError reports whether the caller's input caused the failure.
func (k ErrorKind) ClientError() bool {
	return k == KindValidation || k == KindPreprocess
}

type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Public is the message safe to return to callers. Server-side failures get a
// generic text; the details stay in the logs.
func (e *Error) Public() string {
	switch e.Kind {
	case KindValidation, KindPreprocess:
		return e.Msg
	case KindModelNotFound, KindModelLoad:
		return "Model is not available"
	default:
		return "Prediction failed"
	}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func validationError(msg string) error {
	return &Error{Kind: KindValidation, Msg: msg}
}
