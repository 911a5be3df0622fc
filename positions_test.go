package utreexo

import "testing"

func TestForestStateRootsThreeLeaves(t *testing.T) {
	// spec.md S2: add(L(1), L(2), L(3)) -> roots = [P(L1,L2), L3], row1
	// then row0, per the tallest-first ordering.
	fs := ForestState{NumLeaves: 3}
	if fs.NumRows() != 2 {
		t.Fatalf("NumRows: want 2, got %d", fs.NumRows())
	}
	if fs.NumRoots() != 2 {
		t.Fatalf("NumRoots: want 2, got %d", fs.NumRoots())
	}

	want := []uint64{4, 2}
	got := fs.RootPositions()
	if len(got) != len(want) {
		t.Fatalf("RootPositions: want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("RootPositions[%d]: want %d, got %d", i, want[i], got[i])
		}
	}
}

func TestForestStateRowOffset(t *testing.T) {
	// H=2 forest: row0 at 0, row1 at 4, row2 (root) at 6.
	cases := []struct {
		row  uint8
		want uint64
	}{
		{0, 0},
		{1, 4},
		{2, 6},
	}
	for _, c := range cases {
		if got := rowOffset(c.row, 2); got != c.want {
			t.Errorf("rowOffset(%d, 2): want %d, got %d", c.row, c.want, got)
		}
	}
}

func TestDetectRowAndParent(t *testing.T) {
	const H = 2
	for pos, wantRow := range map[uint64]uint8{0: 0, 3: 0, 4: 1, 5: 1, 6: 2} {
		if got := detectRow(pos, H); got != wantRow {
			t.Errorf("detectRow(%d, %d): want row %d, got %d", pos, H, wantRow, got)
		}
	}
	if got := parent(2, H); got != 5 {
		t.Errorf("parent(2, %d): want 5, got %d", H, got)
	}
	if got := parent(3, H); got != 5 {
		t.Errorf("parent(3, %d): want 5, got %d", H, got)
	}
	if got := parent(4, H); got != 6 {
		t.Errorf("parent(4, %d): want 6, got %d", H, got)
	}
}

func TestChildRoundTripsWithParent(t *testing.T) {
	const H = 3
	for pos := uint64(8); pos < 12; pos++ {
		row := detectRow(pos, H)
		p := parent(pos, H)
		left := child(p, 0, H)
		right := child(p, 1, H)
		if pos != left && pos != right {
			t.Fatalf("child(parent(%d)) round-trip failed: parent=%d left=%d right=%d row=%d", pos, p, left, right, row)
		}
	}
}

func TestPathRoundTrips(t *testing.T) {
	// 5-leaf forest: roots at row2 (pos 12) and row0 (pos 4).
	fs := ForestState{NumLeaves: 5}
	for pos := uint64(0); pos < 5; pos++ {
		treeIndex, length, bits := fs.Path(pos)
		rows := fs.rootRows()
		if int(treeIndex) >= len(rows) {
			t.Fatalf("Path(%d): tree index %d out of range", pos, treeIndex)
		}
		cur := rows[treeIndex]
		H := fs.NumRows()
		node := fs.RootPosition(cur)
		for d := uint8(0); d < length; d++ {
			bit := (bits >> (length - 1 - d)) & 1
			node = child(node, uint8(bit), H)
		}
		if node != pos {
			t.Fatalf("Path(%d) round trip: got %d", pos, node)
		}
	}
}

func TestIsLeftNiece(t *testing.T) {
	if !isLeftNiece(4) {
		t.Error("4 should be a left niece")
	}
	if isLeftNiece(5) {
		t.Error("5 should not be a left niece")
	}
}

func TestProofPositionsExcludesTargets(t *testing.T) {
	// spec.md invariant 5: proof ∩ targets == ∅.
	numLeaves := uint64(7)
	forestRows := treeRows(numLeaves)
	targets := []uint64{0, 2, 5}
	proof, computable := proofPositions(targets, numLeaves, forestRows)

	targetSet := make(map[uint64]bool, len(targets))
	for _, t := range targets {
		targetSet[t] = true
	}
	for _, p := range proof {
		if targetSet[p] {
			t.Fatalf("proof position %d is also a target", p)
		}
	}
	if len(computable) == 0 {
		t.Fatal("expected at least one computable parent")
	}
}

func TestNextRootPositionsMatchesFutureState(t *testing.T) {
	// A 5-leaf forest (H=3) shrinking to 3 leaves will have its roots at
	// row1 (position 8) and row0 (position 2), in this same, not-yet-
	// shrunk coordinate space.
	fs := ForestState{NumLeaves: 5}
	if fs.NumRows() != 3 {
		t.Fatalf("NumRows: want 3, got %d", fs.NumRows())
	}
	want := []uint64{8, 2}
	got := fs.NextRootPositions(3)
	if len(got) != len(want) {
		t.Fatalf("NextRootPositions(3): want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("NextRootPositions(3)[%d]: want %d, got %d", i, want[i], got[i])
		}
	}
}

func TestLeftDescendant(t *testing.T) {
	// In a 4-leaf (H=2) forest, the root at position 6 has leftmost
	// row-0 descendant 0, and its row-1 child (position 4) has leftmost
	// row-0 descendant 0 as well, dropping only one row.
	fs := ForestState{NumLeaves: 4}
	if got := fs.LeftDescendant(6, 2); got != 0 {
		t.Fatalf("LeftDescendant(6, 2): want 0, got %d", got)
	}
	if got := fs.LeftDescendant(4, 1); got != 0 {
		t.Fatalf("LeftDescendant(4, 1): want 0, got %d", got)
	}
	if got := fs.LeftDescendant(5, 1); got != 2 {
		t.Fatalf("LeftDescendant(5, 1): want 2, got %d", got)
	}
}

func TestSiblingSide(t *testing.T) {
	fs := ForestState{NumLeaves: 4}
	if fs.Sibling(0) != 1 || fs.Sibling(1) != 0 {
		t.Fatal("Sibling should flip between 0 and 1")
	}
}

func TestDeTwinCollapsesSiblingPair(t *testing.T) {
	// Row-0 positions 2 and 3 are siblings; deTwin should collapse them
	// to their shared parent instead of leaving both as row-0 targets.
	out := deTwin([]uint64{2, 3}, 2)
	if len(out) != 1 || out[0] != parent(2, 2) {
		t.Fatalf("deTwin([2,3]): want [%d], got %v", parent(2, 2), out)
	}
}
