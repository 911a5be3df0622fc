package utreexo

import "testing"

// leafHash returns spec.md's L(k): a 32-byte hash whose first byte is k.
func leafHash(k byte) Hash {
	var h Hash
	h[0] = k
	return h
}

func TestVerifyRoundTrip(t *testing.T) {
	// spec.md S2 + S4: add(L1,L2,L3), prove(L1), verify against the
	// resulting roots.
	acc := NewAccumulator(true)
	l1, l2, l3 := leafHash(1), leafHash(2), leafHash(3)
	if err := acc.Add([]Leaf{{Hash: l1}, {Hash: l2}, {Hash: l3}}); err != nil {
		t.Fatal(err)
	}

	proof, err := acc.Prove([]uint64{0})
	if err != nil {
		t.Fatal(err)
	}
	if len(proof.Targets) != 1 || proof.Targets[0] != 0 {
		t.Fatalf("Prove targets: want [0], got %v", proof.Targets)
	}
	if len(proof.Proof) != 1 || proof.Proof[0] != l2 {
		t.Fatalf("Prove hashes: want [%s], got %v", l2, proof.Proof)
	}

	if err := acc.Verify([]Hash{l1}, proof); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	tampered := proof
	tampered.Proof = []Hash{leafHash(0xff)}
	if err := acc.Verify([]Hash{l1}, tampered); err == nil {
		t.Fatal("Verify: expected failure on tampered proof hash")
	}
}

func TestVerifyRejectsCountMismatch(t *testing.T) {
	acc := NewAccumulator(true)
	l1, l2 := leafHash(1), leafHash(2)
	if err := acc.Add([]Leaf{{Hash: l1}, {Hash: l2}}); err != nil {
		t.Fatal(err)
	}
	proof, err := acc.Prove([]uint64{0})
	if err != nil {
		t.Fatal(err)
	}
	if err := acc.Verify([]Hash{l1, l2}, proof); err == nil {
		t.Fatal("Verify: expected failure on target/hash count mismatch")
	}
}

func TestRemoveTargetsShrinksProof(t *testing.T) {
	acc := NewAccumulator(true)
	leaves := make([]Leaf, 4)
	for i := range leaves {
		leaves[i] = Leaf{Hash: leafHash(byte(i + 1))}
	}
	if err := acc.Add(leaves); err != nil {
		t.Fatal(err)
	}

	full, err := acc.Prove([]uint64{0, 1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}

	shrunk, err := RemoveTargets(acc.NumLeaves(), full, []uint64{0, 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := acc.Verify([]Hash{leafHash(1), leafHash(2)}, shrunk); err != nil {
		t.Fatalf("Verify shrunk proof: %v", err)
	}
}

func TestAddProofMergesTargets(t *testing.T) {
	acc := NewAccumulator(true)
	leaves := make([]Leaf, 4)
	for i := range leaves {
		leaves[i] = Leaf{Hash: leafHash(byte(i + 1))}
	}
	if err := acc.Add(leaves); err != nil {
		t.Fatal(err)
	}

	a, err := acc.Prove([]uint64{0})
	if err != nil {
		t.Fatal(err)
	}
	b, err := acc.Prove([]uint64{2})
	if err != nil {
		t.Fatal(err)
	}
	merged, err := AddProof(acc.NumLeaves(), a, b)
	if err != nil {
		t.Fatal(err)
	}
	if err := acc.Verify([]Hash{leafHash(1), leafHash(3)}, merged); err != nil {
		t.Fatalf("Verify merged proof: %v", err)
	}
}

func TestModifyProofRejectsOverlap(t *testing.T) {
	acc := NewAccumulator(true)
	leaves := make([]Leaf, 4)
	for i := range leaves {
		leaves[i] = Leaf{Hash: leafHash(byte(i + 1))}
	}
	if err := acc.Add(leaves); err != nil {
		t.Fatal(err)
	}
	proof, err := acc.Prove([]uint64{0})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ModifyProof(acc.NumLeaves(), proof, []uint64{0}); err == nil {
		t.Fatal("ModifyProof: expected error when a target overlaps removedTargets")
	}
}

func TestModifyProofRelocatesBystander(t *testing.T) {
	acc := NewAccumulator(true)
	leaves := make([]Leaf, 4)
	for i := range leaves {
		leaves[i] = Leaf{Hash: leafHash(byte(i + 1))}
	}
	if err := acc.Add(leaves); err != nil {
		t.Fatal(err)
	}

	// Prove leaf 3 (position 3, L4) as a bystander to the removal of
	// leaf 1 (position 0, L1).
	proof, err := acc.Prove([]uint64{3})
	if err != nil {
		t.Fatal(err)
	}

	numLeavesBefore := acc.NumLeaves()
	if err := acc.Remove([]uint64{0}); err != nil {
		t.Fatal(err)
	}

	newProof, err := ModifyProof(numLeavesBefore, proof, []uint64{0})
	if err != nil {
		t.Fatal(err)
	}
	if err := acc.Verify([]Hash{leafHash(4)}, newProof); err != nil {
		t.Fatalf("Verify relocated proof: %v", err)
	}
}
