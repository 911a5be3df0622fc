package utreexo

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// backend is the capability interface spec.md §6 asks both back-ends to
// satisfy. Accumulator drives these primitives; it never reaches into a
// RamForest's data slices or a Pollard's niece pointers directly.
type backend interface {
	NumLeaves() uint64
	HashAt(pos uint64) (Hash, error)

	// AddLeaf stores leaf as a new row-0 root and runs the binary-counter
	// merge climb itself: while the row it lands on already holds a root,
	// that root and the new arrival combine into a parent one row up, and
	// the merge repeats there. Folded into a single call (rather than a
	// separate NewLeaf/MergeRoot pair driven from Accumulator) because a
	// pointer-based backend like Pollard has no stable position numbering
	// to hand the in-progress merge result back through between calls.
	AddLeaf(leaf Leaf) error

	// SwapSubTrees exchanges the subtrees rooted at from and to (same row).
	SwapSubTrees(from, to uint64) error

	// ReHash recomputes and stores pos's hash from its current children.
	ReHash(pos uint64) error

	// FinalizeRemove commits the forest to nextNumLeaves leaves, dropping
	// or pruning everything outside the new root set.
	FinalizeRemove(nextNumLeaves uint64) error

	Prove(targets []uint64) (BatchProof, error)
}

// Accumulator is the generic driver described in spec.md §4.2: Add and
// Remove are entirely backend-agnostic, expressed only in terms of the
// backend capability interface and the packed-forest arithmetic in
// positions.go.
type Accumulator struct {
	backend backend
}

// NewAccumulator returns a prover (full RamForest storage) when full is
// true, or a verifier-shaped Pollard otherwise.
func NewAccumulator(full bool) *Accumulator {
	if full {
		return &Accumulator{backend: NewRamForest()}
	}
	return &Accumulator{backend: NewPollard()}
}

func (a *Accumulator) NumLeaves() uint64 { return a.backend.NumLeaves() }

// Roots returns the current root hashes, tallest tree first.
func (a *Accumulator) Roots() []Hash {
	positions := ForestState{NumLeaves: a.backend.NumLeaves()}.RootPositions()
	roots := make([]Hash, len(positions))
	for i, pos := range positions {
		// Root positions are always populated by construction; HashAt
		// cannot fail here short of an internal bookkeeping bug.
		h, _ := a.backend.HashAt(pos)
		roots[i] = h
	}
	return roots
}

// Stump captures the minimal verifiable state: the current roots and leaf count.
func (a *Accumulator) Stump() Stump {
	return Stump{Roots: a.Roots(), NumLeaves: a.backend.NumLeaves()}
}

func (a *Accumulator) String() string {
	return fmt.Sprintf("numLeaves=%d\n%s", a.backend.NumLeaves(), printHashes(a.Roots()))
}

// Add inserts leaves one at a time; each one runs the backend's own
// binary-counter merge climb (see AddLeaf).
func (a *Accumulator) Add(leaves []Leaf) error {
	for _, leaf := range leaves {
		if err := a.backend.AddLeaf(leaf); err != nil {
			return fmt.Errorf("Add: %w", err)
		}
	}
	return nil
}

// Remove deletes the leaves at targets, per spec.md §4.2: row by row,
// adjacent sibling targets cancel each other out (their parent just
// needs a new hash); an unpaired target is filled by swapping in the
// rightmost still-live subtree on its row, which also then needs a new
// hash at its parent. The climb repeats one row up until nothing is left
// to propagate, then every affected position is rehashed bottom-up and
// the backend is told to commit to the smaller leaf count.
func (a *Accumulator) Remove(targets []uint64) error {
	if len(targets) == 0 {
		return nil
	}

	sorted := append([]uint64(nil), targets...)
	slices.Sort(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return fmt.Errorf("Remove: %w: position %d", ErrDuplicateTarget, sorted[i])
		}
	}

	numLeaves := a.backend.NumLeaves()
	forestRows := ForestState{NumLeaves: numLeaves}.NumRows()
	limit := uint64(2) << forestRows
	for _, t := range sorted {
		if t >= limit {
			return fmt.Errorf("Remove: %w: %d", ErrPositionOutOfRange, t)
		}
		if numLeaves == 0 {
			return fmt.Errorf("Remove: %w: %d", ErrPositionOutOfRange, t)
		}
	}

	dirty, err := removeRowWalk(sorted, numLeaves, forestRows, a.backend.SwapSubTrees)
	if err != nil {
		return fmt.Errorf("Remove: %w", err)
	}
	for _, pos := range dirty {
		if err := a.backend.ReHash(pos); err != nil {
			return fmt.Errorf("Remove: %w", err)
		}
	}

	nextNumLeaves := numLeaves - uint64(len(sorted))
	if err := a.backend.FinalizeRemove(nextNumLeaves); err != nil {
		return fmt.Errorf("Remove: %w", err)
	}
	return nil
}

// Prove asks the backend for a BatchProof over targets. Only a RamForest
// can answer for arbitrary targets; a Pollard answers only for positions
// along a remembered path (see pollard.go).
func (a *Accumulator) Prove(targets []uint64) (BatchProof, error) {
	return a.backend.Prove(targets)
}

// Verify checks proof against this accumulator's current state.
func (a *Accumulator) Verify(delHashes []Hash, proof BatchProof) error {
	return Verify(a.Stump(), delHashes, proof)
}

// removeRowWalk performs the row-by-row climb described on Remove,
// calling swap for every lone-target donor substitution it decides on,
// and returns every position that needs rehashing, in bottom-up order.
// Factored out of Remove so computeRemovalPositionMap (proof.go) can
// replay the identical decisions without a live backend.
func removeRowWalk(targets []uint64, numLeaves uint64, forestRows uint8, swap func(from, to uint64) error) ([]uint64, error) {
	var dirty []uint64
	row := targets

	for r := uint8(0); r < forestRows && len(row) > 0; r++ {
		liveCount := numLeaves >> r
		rowStart := rowOffset(r, forestRows)
		cursor := rowStart + liveCount - 1
		dead := make(map[uint64]bool, len(row)*2)
		for _, t := range row {
			dead[t] = true
		}

		var next []uint64
		for i := 0; i < len(row); {
			t := row[i]
			if isRootPosition(t, numLeaves, forestRows) {
				i++
				continue
			}
			if i+1 < len(row) && row[i+1] == sibling(t) && isLeftNiece(t) {
				p := parent(t, forestRows)
				next = append(next, p)
				dirty = append(dirty, p)
				i += 2
				continue
			}

			for dead[cursor] && cursor > rowStart {
				cursor--
			}
			if dead[cursor] {
				return nil, fmt.Errorf("%w: no live donor left on row %d", ErrInvariantViolation, r)
			}
			donor := cursor
			if donor != t && swap != nil {
				if err := swap(donor, t); err != nil {
					return nil, err
				}
			}
			dead[donor] = true
			if cursor > rowStart {
				cursor--
			}

			p := parent(t, forestRows)
			next = append(next, p)
			dirty = append(dirty, p)
			i++
		}

		slices.Sort(next)
		row = dedupeSortedUint64(next)
	}

	return dirty, nil
}

// computeRemovalPositionMap replays removeRowWalk's swap decisions
// without a backend, recording only where each swapped-away donor
// position's data ends up. Used by ModifyProof (proof.go) to relocate a
// cached proof's sibling hashes after someone else's Remove batch.
func computeRemovalPositionMap(numLeaves uint64, targets []uint64) (map[uint64]uint64, uint64, error) {
	if len(targets) == 0 {
		return map[uint64]uint64{}, numLeaves, nil
	}
	sorted := append([]uint64(nil), targets...)
	slices.Sort(sorted)
	sorted = dedupeSortedUint64(sorted)

	forestRows := ForestState{NumLeaves: numLeaves}.NumRows()
	posMap := make(map[uint64]uint64)

	_, err := removeRowWalk(sorted, numLeaves, forestRows, func(donor, target uint64) error {
		posMap[donor] = target
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return posMap, numLeaves - uint64(len(sorted)), nil
}
