package protocol

import (
	"encoding/binary"
	"testing"
)

// BenchmarkHash256 benchmarks the header hashing hot path
func BenchmarkHash256(b *testing.B) {
	header := make([]byte, 81)
	for i := range header {
		header[i] = byte(i)
	}

	b.ReportAllocs()

	for b.Loop() {
		_ = Hash256(header)
	}
}

// BenchmarkNonceSearch benchmarks one search iteration: write nonce, hash, check
func BenchmarkNonceSearch(b *testing.B) {
	header := make([]byte, 81)
	var nonce uint64

	b.ReportAllocs()

	for b.Loop() {
		binary.BigEndian.PutUint64(header[73:], nonce)
		h := Hash256(header)
		_ = HashMeetsDifficulty(h, 20)
		nonce++
	}
}

// BenchmarkMerkleRoot benchmarks merkle root calculation for different block sizes
func BenchmarkMerkleRoot(b *testing.B) {
	tests := []struct {
		name  string
		count int
	}{
		{"Small_Block_10_Tx", 10},
		{"Medium_Block_100_Tx", 100},
		{"Large_Block_1000_Tx", 1000},
	}

	for _, tt := range tests {
		b.Run(tt.name, func(b *testing.B) {
			leaves := make([][]byte, tt.count)
			for i := 0; i < tt.count; i++ {
				leaf := make([]byte, 8)
				binary.BigEndian.PutUint64(leaf, uint64(i))
				leaves[i] = leaf
			}

			b.ResetTimer()
			b.ReportAllocs()

			for b.Loop() {
				_ = MerkleRoot(leaves)
			}
		})
	}
}
