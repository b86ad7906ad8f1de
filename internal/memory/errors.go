package memory

import "errors"

var (
	// ErrInvalidTier is returned when a tier name is not one of active, working or long_term.
	ErrInvalidTier = errors.New("memory: invalid tier")

	// ErrInvalidLimit is returned when a retrieval limit is below 1.
	ErrInvalidLimit = errors.New("memory: retrieval limit must be at least 1")

	// ErrUnsupportedStrategy is returned when a strategy selector has no implementation.
	ErrUnsupportedStrategy = errors.New("memory: unsupported strategy")

	// ErrInvalidConfig is returned by ContextConfig.Validate.
	ErrInvalidConfig = errors.New("memory: invalid config")

	// ErrDuplicateSegment is returned by Restore when one id appears in more than one tier.
	ErrDuplicateSegment = errors.New("memory: segment present in more than one tier")
)
