package bandit

import (
	"errors"

	"github.com/fractal-lba/bayesbandit/pkg/learner"
	"github.com/fractal-lba/bayesbandit/pkg/policy"
)

var (
	// ErrUnknownArm indicates an arm name the bandit does not own
	ErrUnknownArm = errors.New("unknown arm")

	// ErrDuplicateArm indicates two arms with the same name in a schema
	ErrDuplicateArm = errors.New("duplicate arm name")

	// ErrInvalidSchema indicates a schema missing its template, policy or arm names
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrUnknownTicket indicates a delayed-reward ticket with no pending pull
	ErrUnknownTicket = errors.New("unknown ticket")

	// ErrNoArmPulled indicates UpdateLast before any pull
	ErrNoArmPulled = errors.New("no arm has been pulled")

	// ErrCorruptState indicates a retained arm whose snapshot state cannot be decoded
	ErrCorruptState = errors.New("corrupt arm state")

	// ErrUnsupportedSnapshot indicates a snapshot written by a newer format version
	ErrUnsupportedSnapshot = errors.New("unsupported snapshot version")

	// ErrContextRequired indicates a context-free call on a contextual bandit
	ErrContextRequired = errors.New("context required")

	// ErrContextNotSupported indicates a context passed to a context-free bandit
	ErrContextNotSupported = errors.New("context not supported")

	// ErrInvalidSampleSize indicates a negative draw count
	ErrInvalidSampleSize = errors.New("invalid sample size")
)

// Errors owned by the learner and policy packages, re-exported so callers
// of the bandit can match them without extra imports.
var (
	ErrEmptyArmSet        = policy.ErrEmptyArmSet
	ErrInvalidObservation = learner.ErrInvalidObservation
	ErrInvalidContext     = learner.ErrInvalidContext
)
