package utreexo

import (
	"math/bits"

	"golang.org/x/exp/slices"
)

// ForestState is the pure positional-arithmetic layer described in
// spec.md §4.1: every other value (row count, root positions, proof
// shape) is a deterministic function of NumLeaves alone.
type ForestState struct {
	NumLeaves uint64
}

// NumRows returns 0 for an empty forest, else the smallest r with
// (1<<r) >= NumLeaves -- the height of the tallest possible tree.
func (fs ForestState) NumRows() uint8 {
	return treeRows(fs.NumLeaves)
}

// NumRoots returns popcount(NumLeaves): one tree per set bit.
func (fs ForestState) NumRoots() uint8 {
	return uint8(bits.OnesCount64(fs.NumLeaves))
}

// DetectRow returns the row a position lies on.
func (fs ForestState) DetectRow(pos uint64) uint8 {
	return detectRow(pos, fs.NumRows())
}

// RowOffset returns the first position of pos's row.
func (fs ForestState) RowOffset(pos uint64) uint64 {
	return rowOffset(fs.DetectRow(pos), fs.NumRows())
}

// Parent returns the parent of pos, or ok=false if pos is itself a root
// (roots have no parent).
func (fs ForestState) Parent(pos uint64) (parentPos uint64, ok bool) {
	row := fs.DetectRow(pos)
	if fs.HasRoot(row) && fs.RootPosition(row) == pos {
		return 0, false
	}
	return parent(pos, fs.NumRows()), true
}

// Child returns the side (0=left, 1=right) child of pos.
func (fs ForestState) Child(pos uint64, side uint8) uint64 {
	return child(pos, side, fs.NumRows())
}

// Sibling returns the opposite side of a 0/1 direction bit, per
// spec.md §4.1's `sibling(lr) = 1-lr`. Not to be confused with the
// position-level free function sibling(pos) below.
func (fs ForestState) Sibling(side uint8) uint8 {
	return 1 - side
}

// LeftDescendant returns the leftmost descendant of pos, drop rows down.
func (fs ForestState) LeftDescendant(pos uint64, drop uint8) uint64 {
	return leftDescendant(pos, drop, fs.NumRows())
}

// HasRoot reports whether bit r of NumLeaves is set.
func (fs ForestState) HasRoot(row uint8) bool {
	return fs.NumLeaves&(uint64(1)<<row) != 0
}

// RootPosition returns the position of the root on row r. The caller
// must have already checked HasRoot(r).
func (fs ForestState) RootPosition(row uint8) uint64 {
	return rowOffset(row, fs.NumRows()) + (fs.NumLeaves >> row) - 1
}

// RootPositions returns every root position, ordered tallest to shortest.
func (fs ForestState) RootPositions() []uint64 {
	return rootPositionsFor(fs.NumLeaves, fs.NumRows())
}

// NextRootPositions returns the positions, in this (current) state, that
// will become roots once the forest is reduced to nextNumLeaves leaves.
// Used by FinalizeRemove: the positions are expressed in the current
// (not-yet-shrunk) coordinate space, since the data they name hasn't
// been physically moved, only logically recomputed via rehashing.
func (fs ForestState) NextRootPositions(nextNumLeaves uint64) []uint64 {
	return rootPositionsFor(nextNumLeaves, fs.NumRows())
}

// Path locates pos: which root's subtree it falls under (treeIndex, 0 =
// tallest), how many rows below that root it sits (length), and the
// left/right choices to descend from the root to reach it (bits,
// MSB-first: bit i of the low `length` bits, read as
// (bits>>(length-1-i))&1, is 0 for left / 1 for right at step i).
func (fs ForestState) Path(pos uint64) (treeIndex uint8, length uint8, pathBits uint64) {
	H := fs.NumRows()
	row := fs.DetectRow(pos)
	within := pos - rowOffset(row, H)

	for i, rootRow := range fs.rootRows() {
		if rootRow < row {
			break
		}
		width := uint64(1) << (rootRow - row)
		if within < width {
			return uint8(i), rootRow - row, within
		}
		within -= width
	}
	return 0, 0, 0
}

// rootRows returns the rows holding a root, tallest first.
func (fs ForestState) rootRows() []uint8 {
	rows := make([]uint8, 0, fs.NumRoots())
	H := fs.NumRows()
	for r := int8(H); r >= 0; r-- {
		if fs.HasRoot(uint8(r)) {
			rows = append(rows, uint8(r))
		}
	}
	return rows
}

// ProofPositions returns, for a set of (possibly unsorted, possibly
// duplicated) row-0-or-mixed target positions, the sibling hashes a
// BatchProof must carry (proof) and the positions a verifier derives by
// recomputation (computable). See proofPositions for the algorithm.
func (fs ForestState) ProofPositions(targets []uint64) (proof []uint64, computable []uint64) {
	return proofPositions(targets, fs.NumLeaves, fs.NumRows())
}

// --- free-function packed-forest arithmetic ---
//
// These mirror the C++ ForestState methods used throughout
// original_source/src/{ram_forest,pollard}.cpp, kept as package-level
// functions (rather than only ForestState methods) because that is the
// shape the teacher's prove.go assumes already exists: it calls
// treeRows, detectRow, sibling, isLeftNiece, isRootPosition and parent
// directly, without a receiver.

// treeRows returns 0 for 0 leaves, else the smallest r with (1<<r) >= numLeaves.
func treeRows(numLeaves uint64) uint8 {
	if numLeaves == 0 {
		return 0
	}
	return uint8(bits.Len64(numLeaves - 1))
}

// numRoots returns popcount(numLeaves).
func numRoots(numLeaves uint64) uint8 {
	return uint8(bits.OnesCount64(numLeaves))
}

// rowOffset returns the first position of row `row` in a forest of
// capacity 2^(forestRows+1)-1, i.e. a single perfect binary tree of
// height forestRows. Derived from, and verified against, spec.md §8's
// worked examples (see DESIGN.md).
func rowOffset(row, forestRows uint8) uint64 {
	if row == 0 {
		return 0
	}
	return (uint64(2) << forestRows) - (uint64(2) << (forestRows - row))
}

// detectRow returns the row containing pos in a forest of height forestRows.
func detectRow(pos uint64, forestRows uint8) uint8 {
	for r := uint8(0); r < forestRows; r++ {
		if pos < rowOffset(r+1, forestRows) {
			return r
		}
	}
	return forestRows
}

// parent returns the packed-forest parent position of pos. The caller
// is responsible for knowing pos is not a root (roots have no parent);
// ForestState.Parent enforces that check.
func parent(pos uint64, forestRows uint8) uint64 {
	row := detectRow(pos, forestRows)
	local := pos - rowOffset(row, forestRows)
	return rowOffset(row+1, forestRows) + local/2
}

// child returns the side (0=left, 1=right) child of pos. pos must be on
// row 1 or higher.
func child(pos uint64, side uint8, forestRows uint8) uint64 {
	row := detectRow(pos, forestRows)
	local := pos - rowOffset(row, forestRows)
	return rowOffset(row-1, forestRows) + local*2 + uint64(side)
}

// leftDescendant returns the leftmost descendant of pos, drop rows below it.
func leftDescendant(pos uint64, drop uint8, forestRows uint8) uint64 {
	row := detectRow(pos, forestRows)
	local := pos - rowOffset(row, forestRows)
	return rowOffset(row-drop, forestRows) + (local << drop)
}

// sibling flips the position-level sibling of pos (row offsets are
// always even, so XORing the lowest bit stays within the row).
func sibling(pos uint64) uint64 {
	return pos ^ 1
}

// isLeftNiece reports whether pos is the left (even) element of its pair.
func isLeftNiece(pos uint64) bool {
	return pos&1 == 0
}

// rootPositionsFor returns the positions, within a forest of the given
// forestRows, that hold the roots of a `targetNumLeaves`-leaf tree.
// With forestRows == treeRows(targetNumLeaves) this is "the current
// roots"; with a larger forestRows (the current, not-yet-shrunk state)
// this is "the roots the forest will have after shrinking to
// targetNumLeaves", expressed in the current coordinate space.
func rootPositionsFor(targetNumLeaves uint64, forestRows uint8) []uint64 {
	positions := make([]uint64, 0, numRoots(targetNumLeaves))
	for r := int8(forestRows); r >= 0; r-- {
		row := uint8(r)
		if targetNumLeaves&(uint64(1)<<row) == 0 {
			continue
		}
		positions = append(positions, rowOffset(row, forestRows)+(targetNumLeaves>>row)-1)
	}
	return positions
}

// isRootPosition reports whether pos is a root of the numLeaves-leaf forest.
func isRootPosition(pos uint64, numLeaves uint64, forestRows uint8) bool {
	row := detectRow(pos, forestRows)
	if numLeaves&(uint64(1)<<row) == 0 {
		return false
	}
	return rowOffset(row, forestRows)+(numLeaves>>row)-1 == pos
}

// deTwin collapses adjacent sibling pairs in a sorted, deduplicated
// target list into their parent, repeating until no pair remains. It is
// used to find the minimal set of positions that actually need a
// sibling hash fetched from a proof (a fully-twinned pair needs none).
func deTwin(targets []uint64, forestRows uint8) []uint64 {
	out := append([]uint64(nil), targets...)
	for i := 0; i < len(out)-1; {
		if out[i+1] == sibling(out[i]) && isLeftNiece(out[i]) {
			p := parent(out[i], forestRows)
			out = append(out[:i], out[i+2:]...)
			out = insertSortedUnique(out, p)
			if i > 0 {
				i--
			}
		} else {
			i++
		}
	}
	return out
}

func insertSortedUnique(sorted []uint64, v uint64) []uint64 {
	idx, found := slices.BinarySearch(sorted, v)
	if found {
		return sorted
	}
	sorted = append(sorted, 0)
	copy(sorted[idx+1:], sorted[idx:])
	sorted[idx] = v
	return sorted
}

// sortedUnique returns a sorted, duplicate-free copy of s.
func sortedUnique(s []uint64) []uint64 {
	out := append([]uint64(nil), s...)
	slices.Sort(out)
	return dedupeSortedUint64(out)
}

func dedupeSortedUint64(sorted []uint64) []uint64 {
	if len(sorted) == 0 {
		return sorted
	}
	out := sorted[:1]
	for _, v := range sorted[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// proofPositions implements spec.md §4.1's row-climb: pair up adjacent
// targets per row; an unpaired target's sibling goes to proof; every
// processed element (paired or not) produces exactly one newly-derivable
// parent, which is both this row's contribution to computable and the
// next row's target. A target that is already a root needs neither a
// proof hash nor a parent -- its hash is already known directly.
func proofPositions(targets []uint64, numLeaves uint64, forestRows uint8) (proof []uint64, computable []uint64) {
	if len(targets) == 0 {
		return nil, nil
	}
	row := append([]uint64(nil), targets...)
	slices.Sort(row)
	row = dedupeSortedUint64(row)

	for r := uint8(0); r <= forestRows && len(row) > 0; r++ {
		var next []uint64
		for i := 0; i < len(row); {
			pos := row[i]
			if isRootPosition(pos, numLeaves, forestRows) {
				i++
				continue
			}
			if i+1 < len(row) && row[i+1] == sibling(pos) && isLeftNiece(pos) {
				p := parent(pos, forestRows)
				computable = append(computable, p)
				next = append(next, p)
				i += 2
				continue
			}
			proof = append(proof, sibling(pos))
			p := parent(pos, forestRows)
			computable = append(computable, p)
			next = append(next, p)
			i++
		}
		slices.Sort(next)
		row = dedupeSortedUint64(next)
	}

	slices.Sort(proof)
	return proof, computable
}
