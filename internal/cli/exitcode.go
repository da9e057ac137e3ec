package cli

import (
	"errors"

	cserrors "cryptsync/internal/errors"
)

// exitCode mirrors the contract in spec §6: callers key off the process
// exit status without parsing stderr.
type exitCode int

const (
	exitSuccess     exitCode = 0
	exitUserError   exitCode = 1
	exitPasswordErr exitCode = 2
	exitAuthOrManif exitCode = 3
	exitPartialFail exitCode = 4
)

// errPartialFailure is returned by a subcommand's RunE when the run
// itself completed but one or more individual units failed (spec §6
// exit code 4), as distinct from a whole-run failure like a bad
// password or a corrupt manifest (exit codes 2/3).
type errPartialFailure struct{ n int }

func (e errPartialFailure) Error() string { return "one or more files failed" }

// exitCodeFor classifies a terminal error returned by a subcommand's RunE
// into the documented exit status.
func exitCodeFor(err error) exitCode {
	if err == nil {
		return exitSuccess
	}
	var partial errPartialFailure
	switch {
	case errors.As(err, &partial):
		return exitPartialFail
	case errors.Is(err, ErrPasswordMismatch), errors.Is(err, ErrPasswordEmpty), errors.Is(err, cserrors.ErrPasswordMismatch):
		return exitPasswordErr
	case errors.Is(err, cserrors.ErrAuthenticationFailed),
		errors.Is(err, cserrors.ErrManifestMissing),
		errors.Is(err, cserrors.ErrManifestConflict),
		errors.Is(err, cserrors.ErrManifestCorrupt):
		return exitAuthOrManif
	case errors.Is(err, cserrors.ErrConfigInvalid):
		return exitUserError
	default:
		return exitUserError
	}
}
