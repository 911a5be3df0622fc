package utreexo

import "fmt"

// RamForest is the full-storage prover back-end of spec.md §4.3: every
// node's hash lives in a row-major slice of slices (data[row][local]),
// with a hash->position lookup (posmap) over the live leaves so Prove
// can locate any leaf by its committed hash.
//
// Grounded on original_source/src/ram_forest.cpp's row layout and its
// Read/SwapSubTrees/MergeRoot/FinalizeRemove/Prove methods, translated
// from C++'s bool-return-plus-assert style into explicit error returns.
type RamForest struct {
	data      [][]Hash
	posmap    map[Hash]uint64
	numLeaves uint64
}

// NewRamForest returns an empty forest ready to Add into.
func NewRamForest() *RamForest {
	return &RamForest{
		data:   make([][]Hash, 1),
		posmap: make(map[Hash]uint64),
	}
}

func (f *RamForest) NumLeaves() uint64 { return f.numLeaves }

func (f *RamForest) forestRows() uint8 { return treeRows(f.numLeaves) }

func (f *RamForest) rowIndex(pos uint64) (row uint8, idx uint64) {
	row = detectRow(pos, f.forestRows())
	idx = pos - rowOffset(row, f.forestRows())
	return
}

// HashAt returns the hash stored at pos, or ErrPositionOutOfRange if
// nothing has been stored there yet.
func (f *RamForest) HashAt(pos uint64) (Hash, error) {
	row, idx := f.rowIndex(pos)
	if int(row) >= len(f.data) || idx >= uint64(len(f.data[row])) {
		return Hash{}, fmt.Errorf("%w: %d", ErrPositionOutOfRange, pos)
	}
	return f.data[row][idx], nil
}

func (f *RamForest) ensureRow(row uint8) {
	for len(f.data) <= int(row) {
		f.data = append(f.data, nil)
	}
}

func (f *RamForest) setHashAt(pos uint64, h Hash) {
	row, idx := f.rowIndex(pos)
	f.ensureRow(row)
	for uint64(len(f.data[row])) <= idx {
		f.data[row] = append(f.data[row], Hash{})
	}
	f.data[row][idx] = h
}

// AddLeaf stores leaf as a new row-0 position, then runs the
// binary-counter merge climb: while the row it lands on already held a
// root (before's bit r set), that root and the running hash combine into
// a parent one row up, and the climb repeats there.
func (f *RamForest) AddLeaf(leaf Leaf) error {
	pos := f.numLeaves
	before := f.numLeaves
	f.numLeaves++
	f.setHashAt(pos, leaf.Hash)
	if leaf.Hash != empty {
		f.posmap[leaf.Hash] = pos
	}

	cur := pos
	curHash := leaf.Hash
	for row := uint8(0); before&(uint64(1)<<row) != 0; row++ {
		H := f.forestRows()
		oldRoot := rowOffset(row, H) + (before >> row) - 1
		oldHash, err := f.HashAt(oldRoot)
		if err != nil {
			return fmt.Errorf("AddLeaf: %w", err)
		}
		parentPos := parent(cur, H)
		curHash = parentHash(oldHash, curHash)
		f.setHashAt(parentPos, curHash)
		cur = parentPos
	}
	return nil
}

// SwapSubTrees exchanges the entire subtrees rooted at from and to, which
// must be on the same row. It works a row at a time from the subtree's
// own row down to the leaves, doubling the contiguous range it moves at
// each step -- the same "doubling by row" shape as the C++ SwapRange.
func (f *RamForest) SwapSubTrees(from, to uint64) error {
	H := f.forestRows()
	row := detectRow(from, H)
	if detectRow(to, H) != row {
		return fmt.Errorf("SwapSubTrees: %d and %d are not on the same row", from, to)
	}

	for drop := uint8(0); drop <= row; drop++ {
		width := uint64(1) << drop
		fromStart := leftDescendant(from, drop, H)
		toStart := leftDescendant(to, drop, H)
		for i := uint64(0); i < width; i++ {
			fPos, tPos := fromStart+i, toStart+i
			fh, _ := f.HashAt(fPos)
			th, _ := f.HashAt(tPos)
			f.setHashAt(fPos, th)
			f.setHashAt(tPos, fh)
		}
	}

	leafWidth := uint64(1) << row
	fromLeafStart := leftDescendant(from, row, H)
	toLeafStart := leftDescendant(to, row, H)
	for i := uint64(0); i < leafWidth; i++ {
		if h, err := f.HashAt(fromLeafStart + i); err == nil && h != empty {
			f.posmap[h] = fromLeafStart + i
		}
		if h, err := f.HashAt(toLeafStart + i); err == nil && h != empty {
			f.posmap[h] = toLeafStart + i
		}
	}
	return nil
}

// ReHash recomputes pos's hash from its two current children.
func (f *RamForest) ReHash(pos uint64) error {
	H := f.forestRows()
	row := detectRow(pos, H)
	if row == 0 {
		return fmt.Errorf("ReHash: %d is a leaf, nothing to recompute", pos)
	}
	lh, _ := f.HashAt(child(pos, 0, H))
	rh, _ := f.HashAt(child(pos, 1, H))
	f.setHashAt(pos, parentHash(lh, rh))
	return nil
}

// FinalizeRemove commits the forest to nextNumLeaves. Row-local indices
// never change as the forest shrinks (only the forestRows-dependent
// absolute position numbers do), so this is just a truncation: drop the
// dead tail of each row's slice and any now-unreachable top rows, then
// rebuild posmap from the surviving row-0 leaves.
func (f *RamForest) FinalizeRemove(nextNumLeaves uint64) error {
	newForestRows := treeRows(nextNumLeaves)
	for r := 0; r <= int(newForestRows) && r < len(f.data); r++ {
		liveCount := nextNumLeaves >> uint(r)
		if uint64(len(f.data[r])) > liveCount {
			f.data[r] = f.data[r][:liveCount]
		}
	}
	if len(f.data) > int(newForestRows)+1 {
		f.data = f.data[:newForestRows+1]
	}
	f.numLeaves = nextNumLeaves

	f.posmap = make(map[Hash]uint64, nextNumLeaves)
	if len(f.data) > 0 {
		for i, h := range f.data[0] {
			if h != empty {
				f.posmap[h] = uint64(i)
			}
		}
	}
	return nil
}

// Prove returns a BatchProof over targets, a set of forest positions.
func (f *RamForest) Prove(targets []uint64) (BatchProof, error) {
	proofPos, _ := proofPositions(targets, f.numLeaves, f.forestRows())
	proof := BatchProof{Targets: sortedUnique(targets)}
	for _, p := range proofPos {
		h, err := f.HashAt(p)
		if err != nil {
			return BatchProof{}, fmt.Errorf("Prove: %w", err)
		}
		proof.Proof = append(proof.Proof, h)
	}
	return proof, nil
}

// ProveHashes is a convenience wrapper for callers that only have leaf
// hashes on hand (e.g. a mempool tracking its own outputs), resolving
// them to positions via posmap before delegating to Prove.
func (f *RamForest) ProveHashes(hashes []Hash) (BatchProof, error) {
	targets := make([]uint64, len(hashes))
	for i, h := range hashes {
		pos, ok := f.posmap[h]
		if !ok {
			return BatchProof{}, fmt.Errorf("ProveHashes: %w", ErrUnknownTarget)
		}
		targets[i] = pos
	}
	return f.Prove(targets)
}
