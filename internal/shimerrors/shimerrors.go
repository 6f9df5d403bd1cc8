// Package shimerrors defines the error taxonomy shared by the lifecycle
// engine, the I/O relay, and the console socket. Kinds that have a
// containerd/errdefs equivalent (NotFound, FailedPrecondition, Unimplemented)
// reuse it directly so the TTRPC boundary can translate them with
// errdefs.ToGRPC without a second mapping table; the remaining kinds
// (Runtime, Io, Protocol, SpawnFailed) are local sentinels wrapped with
// fmt.Errorf("%w: ...", sentinel, ...) by callers.
package shimerrors

import (
	"errors"

	"github.com/containerd/errdefs"
)

// Re-exported for convenience so callers only need to import shimerrors.
var (
	ErrNotFound           = errdefs.ErrNotFound
	ErrFailedPrecondition = errdefs.ErrFailedPrecondition
	ErrUnimplemented      = errdefs.ErrNotImplemented
)

// ErrRuntime indicates the OCI runtime binary itself reported failure; the
// wrapping error's message includes its captured stderr.
var ErrRuntime = errors.New("runtime")

// ErrIO indicates a FIFO/socket/file-descriptor operation failed.
var ErrIO = errors.New("io")

// ErrProtocol indicates a malformed or unexpected SCM_RIGHTS exchange.
var ErrProtocol = errors.New("protocol")

// ErrSpawnFailed indicates a child process could not be launched at all.
var ErrSpawnFailed = errors.New("spawn failed")

// IsNotFound reports whether err (or any error it wraps) is NotFound.
func IsNotFound(err error) bool { return errdefs.IsNotFound(err) }

// IsFailedPrecondition reports whether err (or any error it wraps) is
// FailedPrecondition.
func IsFailedPrecondition(err error) bool { return errdefs.IsFailedPrecondition(err) }

// IsUnimplemented reports whether err (or any error it wraps) is
// Unimplemented.
func IsUnimplemented(err error) bool { return errdefs.IsNotImplemented(err) }
