package utreexo

// Leaf is a single element being added to the accumulator: its committed
// hash, plus a hint for the Pollard back-end that it (and the hashes on its
// path) should be retained for future proving rather than pruned away.
//
// RamForest ignores Remember -- it always keeps everything.
type Leaf struct {
	Hash     Hash
	Remember bool
}
