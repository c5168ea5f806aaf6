package harvest

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Class is the retry classification of a failed attempt.
type Class int

// Error classes. A rate-limited error is also transient.
const (
	ClassHard Class = iota
	ClassTransient
	ClassRateLimited
)

func (c Class) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassTransient:
		return "transient"
	default:
		return "hard"
	}
}

// Transient reports whether the class is eligible for retry.
func (c Class) Transient() bool {
	return c == ClassTransient || c == ClassRateLimited
}

var rateLimitSignatures = []string{"rate limit", "429", "too many request", "ratelimit"}

var transientSignatures = []string{
	"timeout",
	"timed out",
	"timedout",
	"connection",
	"500",
	"502",
	"503",
	"504",
}

// Sources mark their errors by implementing any of these. A marker that
// answers false leaves the decision to the checks that follow.
type (
	rateLimitedError interface{ RateLimited() bool }
	hardError        interface{ Hard() bool }
	temporaryError   interface{ Temporary() bool }
)

// ErrNoIdentity is returned when a source resolves a handle to an empty id.
var ErrNoIdentity error = permanentError("empty identity")

type permanentError string

func (e permanentError) Error() string { return string(e) }
func (permanentError) Hard() bool      { return true }

// Classify decides whether an error is rate-limited, transient, or hard.
// Typed markers in the chain win over the message text, so identifiers
// embedded in a message cannot change the class.
func Classify(err error) Class {
	if err == nil {
		return ClassHard
	}
	var rl rateLimitedError
	if errors.As(err, &rl) && rl.RateLimited() {
		return ClassRateLimited
	}
	var hard hardError
	if errors.As(err, &hard) && hard.Hard() {
		return ClassHard
	}
	var tmp temporaryError
	if errors.As(err, &tmp) && tmp.Temporary() {
		return ClassTransient
	}
	text := strings.ToLower(err.Error())
	if containsAny(text, rateLimitSignatures) {
		return ClassRateLimited
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	if containsAny(text, transientSignatures) {
		return ClassTransient
	}
	return ClassHard
}

func containsAny(text string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
