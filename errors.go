package utreexo

import "errors"

// Sentinel errors for the error kinds in spec.md §7. Call sites generally
// wrap these with fmt.Errorf("...: %w", ...) to attach position/hash
// context, matching the teacher's descriptive fmt.Errorf messages.
var (
	// ErrPositionOutOfRange is returned when a position exceeds the
	// current forest's addressable range (2<<NumRows()).
	ErrPositionOutOfRange = errors.New("position out of range")

	// ErrUnknownTarget is returned by RamForest.ProveHashes when a target
	// hash is not present in the position map.
	ErrUnknownTarget = errors.New("target hash not found")

	// ErrPruned is returned by Pollard.Read (and anything built on it)
	// when a required niece has already been pruned away.
	ErrPruned = errors.New("required node has been pruned")

	// ErrVerifyFailed is returned by Verify for any of: mismatched
	// target/hash counts, insufficient proof hashes, a parent-hash
	// mismatch during reconstruction, or a reconstructed root that
	// does not appear among the stored roots.
	ErrVerifyFailed = errors.New("proof verification failed")

	// ErrDuplicateTarget is returned by Remove when the target list
	// contains the same position twice.
	ErrDuplicateTarget = errors.New("duplicate target position")

	// ErrInvariantViolation signals a programmer error: a state the
	// accumulator should never be able to reach (e.g. a root count
	// that disagrees with popcount(NumLeaves)).
	ErrInvariantViolation = errors.New("accumulator invariant violated")
)
