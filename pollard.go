package utreexo

import (
	"errors"
	"fmt"
)

// internalNode is one node of a Pollard tree. It does not hold pointers
// to its own children; instead, following original_source/src/pollard.cpp's
// niece-pointer layout, it holds pointers to its NIECES -- its sibling's
// children. A root has no sibling, so as a special case its niece slots
// double as direct pointers to its own two children. remember replaces
// the C++ self-loop trick (a leaf pointing nieces[0] at itself to mark
// "don't prune me"); a nil niece simply means "pruned" or "not born yet".
type internalNode struct {
	hash     Hash
	niece    [2]*internalNode
	remember bool
}

// DeadEnd reports whether n holds nothing worth keeping around: no
// children and no instruction to remember it.
func (n *internalNode) DeadEnd() bool {
	return !n.remember && n.niece[0] == nil && n.niece[1] == nil
}

// Prune drops each of n's two niece pointers that is, on its own, a
// dead end -- per spec.md §4.4, "drops each niece that is a dead end".
// It never looks at n's own remember flag, only at each niece's.
func (n *internalNode) Prune() {
	if n.niece[0] != nil && n.niece[0].DeadEnd() {
		n.niece[0] = nil
	}
	if n.niece[1] != nil && n.niece[1].DeadEnd() {
		n.niece[1] = nil
	}
}

// pathNode is one step of a root-to-target descent: the node at this
// depth, and (except at the root) its sibling, whose niece pointers are
// what produced this node's own pair of children.
type pathNode struct {
	node    *internalNode
	sibling *internalNode
}

// Pollard is the pruned-storage verifier back-end of spec.md §4.3 --
// only the roots and whatever a caller asked to Remember are kept live;
// everything else is pruned away as soon as nothing references it.
//
// Grounded on original_source/src/pollard.cpp's Node/InternalNode split
// and its Read/Prune/DeadEnd methods, adapted to Go's explicit error
// returns and the shared backend interface in accumulator.go.
type Pollard struct {
	roots     map[uint8]*internalNode
	numLeaves uint64
}

// NewPollard returns an empty Pollard ready to Add into.
func NewPollard() *Pollard {
	return &Pollard{roots: make(map[uint8]*internalNode)}
}

func (p *Pollard) NumLeaves() uint64 { return p.numLeaves }

func (p *Pollard) forestRows() uint8 { return treeRows(p.numLeaves) }

// rootAtTreeIndex resolves Path's tallest-first treeIndex to the root
// node actually holding that tree, or ErrPruned if the caller never
// asked to keep it.
func (p *Pollard) rootAtTreeIndex(treeIndex uint8) (*internalNode, error) {
	rows := ForestState{NumLeaves: p.numLeaves}.rootRows()
	if int(treeIndex) >= len(rows) {
		return nil, fmt.Errorf("%w: tree index %d", ErrPositionOutOfRange, treeIndex)
	}
	n, ok := p.roots[rows[treeIndex]]
	if !ok {
		return nil, fmt.Errorf("%w: root at row %d", ErrPruned, rows[treeIndex])
	}
	return n, nil
}

// Read walks from the appropriate root down to pos, following niece
// pointers one depth at a time, and returns the node found along with
// the full root-to-target path (used by ReHash and SwapSubTrees to find
// a node's children, or the niece slot that references it).
func (p *Pollard) Read(pos uint64) (*internalNode, []pathNode, error) {
	H := p.forestRows()
	if pos >= uint64(2)<<H {
		return nil, nil, fmt.Errorf("%w: %d", ErrPositionOutOfRange, pos)
	}

	treeIndex, length, bits := ForestState{NumLeaves: p.numLeaves}.Path(pos)
	root, err := p.rootAtTreeIndex(treeIndex)
	if err != nil {
		return nil, nil, err
	}
	if length == 0 {
		return root, []pathNode{{node: root}}, nil
	}

	path := make([]pathNode, 1, length+1)
	path[0] = pathNode{node: root}

	// First descent is the root special case: its niece slots are its
	// direct children. Every descent after this one instead reads the
	// PREVIOUS step's sibling's niece slots, per the aunt/niece rule.
	left, right := root.niece[0], root.niece[1]
	for depth := uint8(1); depth <= length; depth++ {
		bit := (bits >> (length - depth)) & 1
		var cur, sib *internalNode
		if bit == 0 {
			cur, sib = left, right
		} else {
			cur, sib = right, left
		}
		if cur == nil {
			return nil, path, fmt.Errorf("%w: position %d", ErrPruned, pos)
		}
		path = append(path, pathNode{node: cur, sibling: sib})
		if sib != nil {
			left, right = sib.niece[0], sib.niece[1]
		} else {
			left, right = nil, nil
		}
	}

	return path[length].node, path, nil
}

func (p *Pollard) HashAt(pos uint64) (Hash, error) {
	n, _, err := p.Read(pos)
	if err != nil {
		return Hash{}, err
	}
	return n.hash, nil
}

// nieceHolder returns the node whose niece slot references the final
// entry of path (the root's own niece slots if the target is a direct
// child of a root, its parent's sibling otherwise).
func nieceHolder(path []pathNode, length uint8) *internalNode {
	if length <= 1 {
		return path[0].node
	}
	return path[length-1].sibling
}

// AddLeaf stores leaf as a new row-0 root, then runs the binary-counter
// merge climb entirely in terms of node pointers: while the row it lands
// on already holds a root, that root and the running node combine into a
// parent whose niece slots are simply the two merging nodes (the root
// special case from Read -- a root's nieces are its direct children).
//
// oldRoot and node are each a root up to this point, so each still holds
// its OWN children in its niece slots (the root special case). Now that
// they're about to become siblings under parentNode, a node's niece
// slots are supposed to hold its SIBLING's children instead -- so the two
// swap niece pairs before parentNode takes them on as its own direct
// children.
func (p *Pollard) AddLeaf(leaf Leaf) error {
	before := p.numLeaves
	node := &internalNode{hash: leaf.Hash, remember: leaf.Remember}
	p.numLeaves++

	row := uint8(0)
	for before&(uint64(1)<<row) != 0 {
		oldRoot, ok := p.roots[row]
		if !ok {
			return fmt.Errorf("AddLeaf: %w: expected a root at row %d", ErrInvariantViolation, row)
		}
		oldRoot.niece, node.niece = node.niece, oldRoot.niece
		parentNode := &internalNode{hash: parentHash(oldRoot.hash, node.hash)}
		parentNode.niece[0] = oldRoot
		parentNode.niece[1] = node
		parentNode.Prune()
		delete(p.roots, row)
		node = parentNode
		row++
	}
	p.roots[row] = node
	return nil
}

// SwapSubTrees exchanges the entire subtrees rooted at from and to. Since
// a Pollard node pointer already carries its whole subtree, this is just
// swapping the two niece-slot references that point at them -- no
// per-descendant work, unlike RamForest's row-major array swap.
func (p *Pollard) SwapSubTrees(from, to uint64) error {
	H := p.forestRows()
	row := detectRow(from, H)
	if detectRow(to, H) != row {
		return fmt.Errorf("SwapSubTrees: %d and %d are not on the same row", from, to)
	}

	_, fromPath, err := p.Read(from)
	if err != nil {
		return fmt.Errorf("SwapSubTrees: %w", err)
	}
	_, toPath, err := p.Read(to)
	if err != nil {
		return fmt.Errorf("SwapSubTrees: %w", err)
	}

	_, length, _ := ForestState{NumLeaves: p.numLeaves}.Path(from)

	fromHolder := nieceHolder(fromPath, length)
	toHolder := nieceHolder(toPath, length)
	fromBit, toBit := uint8(0), uint8(0)
	if !isLeftNiece(from) {
		fromBit = 1
	}
	if !isLeftNiece(to) {
		toBit = 1
	}

	fromHolder.niece[fromBit], toHolder.niece[toBit] = toHolder.niece[toBit], fromHolder.niece[fromBit]
	return nil
}

// ReHash recomputes pos's hash from its current children, read off the
// niece slots one level below pos in the descent path. Per spec.md §4.4,
// once the hash is safely recomputed the children themselves may no
// longer be needed, so the node holding them (last.sibling, or last.node
// itself at a root) is given a chance to prune any that are now dead
// ends.
func (p *Pollard) ReHash(pos uint64) error {
	_, path, err := p.Read(pos)
	if err != nil {
		return fmt.Errorf("ReHash: %w", err)
	}
	last := path[len(path)-1]

	var left, right *internalNode
	if len(path) == 1 {
		left, right = last.node.niece[0], last.node.niece[1]
	} else if last.sibling != nil {
		left, right = last.sibling.niece[0], last.sibling.niece[1]
	}
	if left == nil || right == nil {
		return fmt.Errorf("ReHash: %w: position %d", ErrPruned, pos)
	}
	last.node.hash = parentHash(left.hash, right.hash)

	if len(path) == 1 {
		last.node.Prune()
	} else if last.sibling != nil {
		last.sibling.Prune()
	}
	return nil
}

// FinalizeRemove re-derives the root set for nextNumLeaves by reading
// each of its root positions (expressed in the still-current coordinate
// space) before the leaf count actually changes. Any node that was
// already a root and stays one keeps the same pointer -- ReHash mutates
// hashes in place, it never re-parents a node -- so most of this is just
// recognizing which already-reachable node is the new root at each row.
func (p *Pollard) FinalizeRemove(nextNumLeaves uint64) error {
	oldForestRows := p.forestRows()
	newRoots := make(map[uint8]*internalNode, numRoots(nextNumLeaves))
	for row := uint8(0); row <= oldForestRows; row++ {
		if nextNumLeaves&(uint64(1)<<row) == 0 {
			continue
		}
		pos := rowOffset(row, oldForestRows) + (nextNumLeaves >> row) - 1
		node, _, err := p.Read(pos)
		if err != nil {
			return fmt.Errorf("FinalizeRemove: %w", err)
		}
		newRoots[row] = node
	}
	p.roots = newRoots
	p.numLeaves = nextNumLeaves
	return nil
}

// Prove only ever succeeds along paths the caller chose to Remember (or
// that still happen to be live roots/ancestors): it reads whatever
// proofPositions says a verifier needs and surfaces the first ErrPruned
// it hits rather than pretending the forest has data it pruned away.
func (p *Pollard) Prove(targets []uint64) (BatchProof, error) {
	proofPos, _ := proofPositions(targets, p.numLeaves, p.forestRows())
	proof := BatchProof{Targets: sortedUnique(targets)}
	for _, pos := range proofPos {
		h, err := p.HashAt(pos)
		if err != nil {
			return BatchProof{}, fmt.Errorf("Prove: %w", err)
		}
		proof.Proof = append(proof.Proof, h)
	}
	return proof, nil
}

// Prune drops pos, and/or pos's sibling, from the node holding them as
// nieces, whichever of the two is (per internalNode.DeadEnd) actually a
// dead end. It is a no-op if pos is already pruned.
//
// pos and its sibling live as a pair in their holder's niece slots (see
// internalNode) -- the holder is pos's parent's sibling, i.e. the node
// one step up and across from pos, except at a root, which has no
// sibling and holds its own two children directly (the usual root
// special case, handled by nieceHolder). Unlike gating on pos's own
// remember flag, this checks each of the holder's two nieces on its own
// terms, so a remembered pos is preserved even if its sibling isn't, and
// vice versa.
func (p *Pollard) Prune(pos uint64) error {
	_, path, err := p.Read(pos)
	if err != nil {
		if errors.Is(err, ErrPruned) {
			return nil
		}
		return fmt.Errorf("Prune: %w", err)
	}
	_, length, _ := ForestState{NumLeaves: p.numLeaves}.Path(pos)
	nieceHolder(path, length).Prune()
	return nil
}
