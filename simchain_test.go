package utreexo

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
)

// leafRecord tracks a live leaf's hash and how many more blocks it has
// before simChain considers it eligible for deletion.
type leafRecord struct {
	hash      Hash
	remaining int32
}

// simChain is a minimal deterministic chain simulator for the fuzz tests
// in this package: every block adds a batch of freshly hashed leaves and
// deletes a random subset of leaves that have outlived their assigned
// duration, the same shape of churn mappollard_test.go's FuzzMapPollard*
// tests drive their simChain/getAddsAndDels helpers with, reconstructed
// here since their definitions weren't among the retrieved teacher files.
type simChain struct {
	blockHeight uint32
	duration    uint32
	rnd         *rand.Rand
	leaves      []leafRecord
}

func newSimChainWithSeed(duration uint32, seed int64) *simChain {
	return &simChain{duration: duration, rnd: rand.New(rand.NewSource(seed))}
}

// NextBlock returns numAdds new leaves, the duration assigned to each
// one (for a caller that wants to flag long-lived leaves with
// Leaf.Remember, as FuzzMapPollardWriteAndRead-style tests do), and the
// hashes this block deletes.
func (s *simChain) NextBlock(numAdds uint32) ([]Leaf, []int32, []Hash) {
	s.blockHeight++

	adds := make([]Leaf, numAdds)
	durations := make([]int32, numAdds)
	for i := range adds {
		var buf [12]byte
		binary.LittleEndian.PutUint32(buf[0:4], s.blockHeight)
		binary.LittleEndian.PutUint64(buf[4:12], s.rnd.Uint64())
		h := sha256.Sum256(buf[:])

		dur := int32(0)
		if s.duration > 0 {
			dur = int32(s.rnd.Intn(int(s.duration) + 1))
		}
		durations[i] = dur
		adds[i] = Leaf{Hash: h}
		s.leaves = append(s.leaves, leafRecord{hash: h, remaining: dur})
	}

	var delHashes []Hash
	live := s.leaves[:0]
	for _, l := range s.leaves {
		l.remaining--
		if l.remaining <= 0 && s.rnd.Intn(2) == 0 {
			delHashes = append(delHashes, l.hash)
			continue
		}
		live = append(live, l)
	}
	s.leaves = live

	return adds, durations, delHashes
}

// getAddsAndDels deterministically derives addCount new leaves, hashed
// from startLeaves so repeated calls with a growing startLeaves never
// collide, and treats the first delCount of them as also deleted in the
// same batch. Used by tests that want Add/Remove boilerplate without a
// full simChain.
func getAddsAndDels(startLeaves, addCount, delCount uint32) ([]Leaf, []Hash, []uint64) {
	adds := make([]Leaf, addCount)
	for i := range adds {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], startLeaves+uint32(i))
		adds[i] = Leaf{Hash: sha256.Sum256(buf[:])}
	}

	if delCount > addCount {
		delCount = addCount
	}
	delHashes := make([]Hash, delCount)
	delPositions := make([]uint64, delCount)
	for i := uint32(0); i < delCount; i++ {
		delHashes[i] = adds[i].Hash
		delPositions[i] = uint64(startLeaves) + uint64(i)
	}
	return adds, delHashes, delPositions
}
