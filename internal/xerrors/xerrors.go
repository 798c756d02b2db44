// Package xerrors collects the sentinel error kinds used across the
// provider, engine, and tool layers so callers can classify failures with
// errors.Is instead of string matching.
package xerrors

import "errors"

// Provider/turn-engine level error kinds.
var (
	ErrConfig         = errors.New("config error")
	ErrTransport      = errors.New("transport error")
	ErrAuth           = errors.New("auth error")
	ErrRateLimit      = errors.New("provider rate limited")
	ErrProviderServer = errors.New("provider server error")
	ErrDecode         = errors.New("decode error")
	ErrLoopBlocked    = errors.New("loop detector blocked call")
	ErrCancelled      = errors.New("cancelled")
	ErrTimedOut       = errors.New("timed out")
)

// Kind wraps a sentinel with a contextual message while staying
// errors.Is-compatible with the sentinel.
type Kind struct {
	Sentinel error
	Msg      string
}

func (k *Kind) Error() string { return k.Msg }

func (k *Kind) Unwrap() error { return k.Sentinel }

// Wrap builds a Kind error carrying msg, classified as sentinel.
func Wrap(sentinel error, msg string) error {
	return &Kind{Sentinel: sentinel, Msg: msg}
}
