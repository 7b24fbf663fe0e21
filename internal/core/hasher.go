package core

import (
	"crypto/sha256"
	"encoding/binary"

	"PoolIndexer/internal/state"
)

const GenesisHashSeed = "PoolIndexer:genesis:v1"

// StateHasher chains a hash over every committed event:
// state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: sha256.Sum256([]byte(GenesisHashSeed)),
	}
}

// NextHash computes the hash for sequence without advancing the chain.
func (h *StateHasher) NextHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// Advance moves the chain tip to hash once its batch is committed.
func (h *StateHasher) Advance(hash [32]byte) {
	h.prevHash = hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// Restore sets the chain tip after a restart.
func (h *StateHasher) Restore(tip []byte) {
	copy(h.prevHash[:], tip)
}

// StateDigest encodes the writes of one event in commit order.
func StateDigest(writes []state.Write) []byte {
	digest := make([]byte, 0, len(writes)*96)
	for _, w := range writes {
		digest = appendLenPrefixed(digest, string(w.Kind))
		digest = appendLenPrefixed(digest, w.ID)
		sum := sha256.Sum256(w.Data)
		digest = append(digest, sum[:]...)
	}
	return digest
}

func appendLenPrefixed(buf []byte, s string) []byte {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}
