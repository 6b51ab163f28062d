package protocol

import (
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Hash is the protocol digest type, 32 bytes of double SHA-256.
type Hash = chainhash.Hash

// ZeroHash is the all-zero digest used for dummy references.
var ZeroHash Hash

// Hash256 computes the protocol hash of buf: SHA-256 applied twice.
func Hash256(buf []byte) Hash {
	return chainhash.DoubleHashH(buf)
}

// MerkleRoot computes the merkle root over serialized leaves by recursively
// splitting the list in half and hashing the concatenated sub-roots. An empty
// tree hashes the empty string; a single leaf hashes the leaf itself.
func MerkleRoot(leaves [][]byte) Hash {
	switch len(leaves) {
	case 0:
		return Hash256(nil)
	case 1:
		return Hash256(leaves[0])
	}
	mid := len(leaves) / 2
	left := MerkleRoot(leaves[:mid])
	right := MerkleRoot(leaves[mid:])
	return Hash256(append(left[:], right[:]...))
}

// DifficultyToTarget converts a leading-zero-bit difficulty into the numeric
// target threshold 2^(8*HashLen - diff). A header hash, interpreted as a
// big-endian unsigned integer, must be strictly below the threshold.
func DifficultyToTarget(diff uint8) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), uint(8*HashLen)-uint(diff))
}

// HashMeetsDifficulty reports whether the digest, interpreted as a big-endian
// unsigned integer, is strictly below 2^(8*HashLen - diff). Equivalently the
// digest's first diff bits are all zero, which is what this checks: it avoids
// big.Int allocation in the hashing hot path.
func HashMeetsDifficulty(h Hash, diff uint8) bool {
	fullBytes := int(diff) / 8
	for i := 0; i < fullBytes; i++ {
		if h[i] != 0 {
			return false
		}
	}
	remBits := diff % 8
	if remBits == 0 {
		return true
	}
	return h[fullBytes]>>(8-remBits) == 0
}
