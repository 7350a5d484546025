package fixedpoint

import "errors"

var (
	// ErrDomain reports an argument outside the valid input range of a function.
	ErrDomain = errors.New("fixedpoint: domain error")
	// ErrOverflow reports a result that does not fit the representable range.
	ErrOverflow = errors.New("fixedpoint: overflow")
	// ErrUnderflow reports a result that would drop below zero (or below the signed minimum).
	ErrUnderflow = errors.New("fixedpoint: underflow")
)
