package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
)

// merkleTree maintains a binary Merkle root over an append-only sequence
// of leaf hashes; root recomputes the tree from all leaves on each call. It backs
// the optional Merkle root in existence proofs (spec §4.3).
type merkleTree struct {
	leaves [][]byte
}

func newMerkleTree() *merkleTree {
	return &merkleTree{}
}

func (m *merkleTree) add(leafHash []byte) {
	cp := make([]byte, len(leafHash))
	copy(cp, leafHash)
	m.leaves = append(m.leaves, cp)
}

// root computes the current Merkle root. An odd node at any level is
// promoted unchanged to the next level (the common "duplicate last node"
// alternative is avoided so the root does not silently change meaning
// when a single leaf is appended).
func (m *merkleTree) root() string {
	if len(m.leaves) == 0 {
		return ""
	}

	level := make([][]byte, len(m.leaves))
	copy(level, m.leaves)

	for len(level) > 1 {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				h := sha256.New()
				h.Write(level[i])
				h.Write(level[i+1])
				next = append(next, h.Sum(nil))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
	}

	return hex.EncodeToString(level[0])
}
