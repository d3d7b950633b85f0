package runtime

import (
	"errors"
	"fmt"
)

// Kind classifies a handler error for the skeleton's acknowledgement
// decision. Terminal kinds are acknowledged so the bus does not loop on a
// message that can never succeed; all other kinds are negatively
// acknowledged for redelivery.
type Kind int

const (
	KindInternal Kind = iota
	KindTransientIO
	KindArtifactMissing
	KindMalformedInput
	KindExtractorFailure
	KindPolicyViolation
	KindTimeout
	KindPoisonMessage
)

func (k Kind) String() string {
	switch k {
	case KindTransientIO:
		return "TransientIO"
	case KindArtifactMissing:
		return "ArtifactMissing"
	case KindMalformedInput:
		return "MalformedInput"
	case KindExtractorFailure:
		return "ExtractorFailure"
	case KindPolicyViolation:
		return "PolicyViolation"
	case KindTimeout:
		return "Timeout"
	case KindPoisonMessage:
		return "PoisonMessage"
	default:
		return "Internal"
	}
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return fmt.Sprintf("%s: %s", e.kind, e.err) }
func (e *kindError) Unwrap() error { return e.err }

// WithKind wraps |err| with a classification. A nil |err| returns nil.
func WithKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Errorf builds a classified error in one step.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &kindError{kind: kind, err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classification of |err|, or KindInternal when it
// carries none.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindInternal
}

// Terminal reports whether |err| can never succeed on redelivery, so the
// message must be acknowledged rather than retried.
func Terminal(err error) bool {
	switch KindOf(err) {
	case KindArtifactMissing, KindMalformedInput, KindPoisonMessage:
		return true
	default:
		return false
	}
}
