// Package errs defines the error taxonomy shared across the coordination
// plane: transient network/storage/ledger failures that a caller
// may retry, and invariant/protocol/config failures that abort the current
// operation outright.
package errs

import "errors"

var (
	// ErrNoTrainers is returned when a client attempts to train a round with
	// zero assembled trainers. The round stays in Assembling.
	ErrNoTrainers = errors.New("no trainers in mesh")

	// ErrTaskNotFound is returned when the ledger reports Task.exists == false.
	ErrTaskNotFound = errors.New("task does not exist on ledger")

	// ErrContractRevert marks a non-retriable on-chain transaction failure.
	ErrContractRevert = errors.New("contract reverted")

	// ErrInvalidSignature marks a non-retriable signing failure.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrChunkCountMismatch signals a manifest whose entry count does not
	// match Task.totalChunks.
	ErrChunkCountMismatch = errors.New("manifest chunk count mismatch")

	// ErrDuplicateAssignment signals an attempt to assign a chunk twice.
	ErrDuplicateAssignment = errors.New("chunk already assigned")

	// ErrNoPeers is returned by an overlay publish when the topic has no
	// mesh members to deliver to.
	ErrNoPeers = errors.New("no peers subscribed to topic")

	// ErrRoundDeadline marks a round aborted by wall-clock timeout.
	ErrRoundDeadline = errors.New("round deadline elapsed")

	// ErrUnknownCommand is returned by the HTTP command dispatcher for an
	// unrecognised cmd value.
	ErrUnknownCommand = errors.New("unknown command")
)

// Transient classifies whether err should be retried with backoff rather
// than surfaced as a terminal failure.
func Transient(err error) bool {
	switch {
	case errors.Is(err, ErrContractRevert), errors.Is(err, ErrInvalidSignature):
		return false
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, ErrChunkCountMismatch), errors.Is(err, ErrDuplicateAssignment):
		return false
	default:
		return true
	}
}
