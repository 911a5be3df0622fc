package utreexo

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// BatchProof is the sibling-hash material a verifier needs to recompute
// roots for a batch of targets, per spec.md §4.3. Named BatchProof
// (rather than the teacher's bare Proof) since original_source/'s
// ram_forest.cpp also calls this type BatchProof.
type BatchProof struct {
	Targets []uint64
	Proof   []Hash
}

// Stump is the minimal state a verifier needs: nothing but the roots
// and the leaf count they commit to. A Pollard or RamForest can produce
// one; Verify only ever needs one.
type Stump struct {
	Roots     []Hash
	NumLeaves uint64
}

type hashAndPos struct {
	hash Hash
	pos  uint64
}

// calculateHashes replays proof's row-climb (the same pairing rule as
// proofPositions) but carrying real hashes instead of bookkeeping
// positions, consuming proof.Proof in the exact ascending (row,
// position) order proofPositions emits it in. It returns every root
// position it touched along with the hash it recomputed there.
func calculateHashes(numLeaves uint64, delHashes []Hash, proof BatchProof) ([]uint64, []Hash, error) {
	if len(proof.Targets) != len(delHashes) {
		return nil, nil, fmt.Errorf("%w: calculateHashes: %d targets but %d hashes", ErrVerifyFailed, len(proof.Targets), len(delHashes))
	}
	if len(delHashes) == 0 {
		return nil, nil, nil
	}

	forestRows := treeRows(numLeaves)

	row := make([]hashAndPos, len(proof.Targets))
	for i, t := range proof.Targets {
		row[i] = hashAndPos{hash: delHashes[i], pos: t}
	}
	slices.SortFunc(row, func(a, b hashAndPos) bool { return a.pos < b.pos })
	for i := 1; i < len(row); i++ {
		if row[i].pos == row[i-1].pos {
			return nil, nil, fmt.Errorf("%w: duplicate target position %d", ErrDuplicateTarget, row[i].pos)
		}
	}

	var proofIdx int
	var rootPositions []uint64
	var rootHashes []Hash

	for r := uint8(0); r <= forestRows && len(row) > 0; r++ {
		var next []hashAndPos
		for i := 0; i < len(row); {
			hp := row[i]
			if isRootPosition(hp.pos, numLeaves, forestRows) {
				rootPositions = append(rootPositions, hp.pos)
				rootHashes = append(rootHashes, hp.hash)
				i++
				continue
			}
			if i+1 < len(row) && row[i+1].pos == sibling(hp.pos) && isLeftNiece(hp.pos) {
				next = append(next, hashAndPos{
					hash: parentHash(hp.hash, row[i+1].hash),
					pos:  parent(hp.pos, forestRows),
				})
				i += 2
				continue
			}
			if proofIdx >= len(proof.Proof) {
				return nil, nil, fmt.Errorf("%w: ran out of proof hashes at position %d", ErrVerifyFailed, hp.pos)
			}
			sib := proof.Proof[proofIdx]
			proofIdx++
			var ph Hash
			if isLeftNiece(hp.pos) {
				ph = parentHash(hp.hash, sib)
			} else {
				ph = parentHash(sib, hp.hash)
			}
			next = append(next, hashAndPos{hash: ph, pos: parent(hp.pos, forestRows)})
			i++
		}
		slices.SortFunc(next, func(a, b hashAndPos) bool { return a.pos < b.pos })
		row = next
	}

	return rootPositions, rootHashes, nil
}

// Verify checks a BatchProof against a Stump: every target hash, once
// climbed through proof's sibling hashes, must land on a stored root.
// This is backend-agnostic -- it only ever touches the committed roots.
func Verify(stump Stump, delHashes []Hash, proof BatchProof) error {
	rootPositions, rootHashes, err := calculateHashes(stump.NumLeaves, delHashes, proof)
	if err != nil {
		return err
	}

	want := ForestState{NumLeaves: stump.NumLeaves}.RootPositions()
	if len(want) != len(stump.Roots) {
		return fmt.Errorf("%w: stump has %d roots, expected %d for %d leaves",
			ErrVerifyFailed, len(stump.Roots), len(want), stump.NumLeaves)
	}
	hashAtRoot := make(map[uint64]Hash, len(want))
	for i, pos := range want {
		hashAtRoot[pos] = stump.Roots[i]
	}

	for i, pos := range rootPositions {
		wantHash, ok := hashAtRoot[pos]
		if !ok {
			return fmt.Errorf("%w: position %d is not a root of a %d-leaf forest", ErrVerifyFailed, pos, stump.NumLeaves)
		}
		if wantHash != rootHashes[i] {
			return fmt.Errorf("%w: recomputed root at position %d does not match stump", ErrVerifyFailed, pos)
		}
	}
	return nil
}

// GetMissingPositions returns the proof positions needed to prove
// targets that proof does not already supply, either directly (as one
// of proof.Targets) or derivably (as one of proof's computable
// parents).
func GetMissingPositions(numLeaves uint64, proof BatchProof, targets []uint64) []uint64 {
	forestRows := treeRows(numLeaves)

	have := make(map[uint64]struct{}, len(proof.Targets)*2)
	for _, t := range proof.Targets {
		have[t] = struct{}{}
	}
	haveProof, haveComputable := proofPositions(proof.Targets, numLeaves, forestRows)
	for _, p := range haveProof {
		have[p] = struct{}{}
	}
	for _, p := range haveComputable {
		have[p] = struct{}{}
	}

	neededProof, _ := proofPositions(targets, numLeaves, forestRows)
	var missing []uint64
	for _, p := range neededProof {
		if _, ok := have[p]; !ok {
			missing = append(missing, p)
		}
	}
	slices.Sort(missing)
	return dedupeSortedUint64(missing)
}

// RemoveTargets shrinks proof to cover only keepTargets, a subset of
// proof.Targets, discarding sibling hashes no longer needed once the
// rest are dropped from the cache. It only reuses hashes already in
// proof.Proof: if keepTargets need a sibling that the original proof
// left to be computed from a dropped target, it returns an error.
func RemoveTargets(numLeaves uint64, proof BatchProof, keepTargets []uint64) (BatchProof, error) {
	forestRows := treeRows(numLeaves)

	originalSet := make(map[uint64]struct{}, len(proof.Targets))
	for _, t := range proof.Targets {
		originalSet[t] = struct{}{}
	}
	for _, t := range keepTargets {
		if _, ok := originalSet[t]; !ok {
			return BatchProof{}, fmt.Errorf("RemoveTargets: %d is not among the proof's targets", t)
		}
	}

	allProofPos, _ := proofPositions(proof.Targets, numLeaves, forestRows)
	hashAt := make(map[uint64]Hash, len(allProofPos))
	for i, p := range allProofPos {
		hashAt[p] = proof.Proof[i]
	}

	neededProof, _ := proofPositions(keepTargets, numLeaves, forestRows)
	out := BatchProof{Targets: append([]uint64(nil), keepTargets...)}
	slices.Sort(out.Targets)
	for _, p := range neededProof {
		h, ok := hashAt[p]
		if !ok {
			return BatchProof{}, fmt.Errorf("RemoveTargets: lost sibling hash at position %d", p)
		}
		out.Proof = append(out.Proof, h)
	}
	return out, nil
}

// AddProof merges two proofs computed against the same numLeaves state
// into one proof covering the union of their targets, without asking a
// prover for anything new.
func AddProof(numLeaves uint64, a, b BatchProof) (BatchProof, error) {
	forestRows := treeRows(numLeaves)

	seen := make(map[uint64]struct{}, len(a.Targets)+len(b.Targets))
	var targets []uint64
	for _, t := range append(append([]uint64(nil), a.Targets...), b.Targets...) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		targets = append(targets, t)
	}
	slices.Sort(targets)

	known := make(map[uint64]Hash, len(a.Proof)+len(b.Proof))
	aPos, _ := proofPositions(a.Targets, numLeaves, forestRows)
	for i, p := range aPos {
		known[p] = a.Proof[i]
	}
	bPos, _ := proofPositions(b.Targets, numLeaves, forestRows)
	for i, p := range bPos {
		known[p] = b.Proof[i]
	}

	neededProof, _ := proofPositions(targets, numLeaves, forestRows)
	out := BatchProof{Targets: targets}
	for _, p := range neededProof {
		h, ok := known[p]
		if !ok {
			return BatchProof{}, fmt.Errorf("AddProof: missing sibling hash at position %d; proofs don't cover the union", p)
		}
		out.Proof = append(out.Proof, h)
	}
	return out, nil
}

// ModifyProof recomputes proof against the forest state after
// removedTargets have been deleted. It covers the realistic bystander
// case only: none of proof's own targets may be among removedTargets
// (there would be no reason to keep proving something that is itself
// being deleted) -- call RemoveTargets first to drop any overlap.
func ModifyProof(numLeaves uint64, proof BatchProof, removedTargets []uint64) (BatchProof, error) {
	for _, t := range proof.Targets {
		for _, r := range removedTargets {
			if t == r {
				return BatchProof{}, fmt.Errorf("ModifyProof: target %d is itself being removed; call RemoveTargets first", t)
			}
		}
	}

	posMap, newNumLeaves, err := computeRemovalPositionMap(numLeaves, removedTargets)
	if err != nil {
		return BatchProof{}, fmt.Errorf("ModifyProof: %w", err)
	}

	oldForestRows := treeRows(numLeaves)
	newForestRows := treeRows(newNumLeaves)

	oldProofPos, _ := proofPositions(proof.Targets, numLeaves, oldForestRows)
	known := make(map[uint64]Hash, len(oldProofPos))
	for i, p := range oldProofPos {
		known[translateRemovalPosition(p, posMap)] = proof.Proof[i]
	}

	newTargets := make([]uint64, len(proof.Targets))
	for i, t := range proof.Targets {
		newTargets[i] = translateRemovalPosition(t, posMap)
	}
	slices.Sort(newTargets)

	neededProof, _ := proofPositions(newTargets, newNumLeaves, newForestRows)
	out := BatchProof{Targets: newTargets}
	for _, p := range neededProof {
		h, ok := known[p]
		if !ok {
			return BatchProof{}, fmt.Errorf("ModifyProof: cannot derive sibling hash at new position %d", p)
		}
		out.Proof = append(out.Proof, h)
	}
	return out, nil
}

func translateRemovalPosition(pos uint64, posMap map[uint64]uint64) uint64 {
	if np, ok := posMap[pos]; ok {
		return np
	}
	return pos
}
