package protocol

import (
	"math/big"
	"testing"
)

func TestMerkleRoot(t *testing.T) {
	a := []byte("first")
	b := []byte("second")
	c := []byte("third")

	t.Run("empty tree hashes nothing", func(t *testing.T) {
		if MerkleRoot(nil) != Hash256(nil) {
			t.Error("empty tree root should be the hash of the empty string")
		}
	})

	t.Run("single leaf", func(t *testing.T) {
		if MerkleRoot([][]byte{a}) != Hash256(a) {
			t.Error("single leaf root should be the leaf hash")
		}
	})

	t.Run("two leaves combine child roots", func(t *testing.T) {
		left := Hash256(a)
		right := Hash256(b)
		want := Hash256(append(left[:], right[:]...))
		if MerkleRoot([][]byte{a, b}) != want {
			t.Error("two leaf root should hash the concatenated child roots")
		}
	})

	t.Run("odd leaf count splits before the middle", func(t *testing.T) {
		left := Hash256(a)
		rootBC := MerkleRoot([][]byte{b, c})
		want := Hash256(append(left[:], rootBC[:]...))
		if MerkleRoot([][]byte{a, b, c}) != want {
			t.Error("three leaf split should be 1/2")
		}
	})

	t.Run("leaf order matters", func(t *testing.T) {
		if MerkleRoot([][]byte{a, b}) == MerkleRoot([][]byte{b, a}) {
			t.Error("swapping leaves should change the root")
		}
	})
}

func TestDifficultyToTarget(t *testing.T) {
	one := big.NewInt(1)
	tests := []struct {
		diff uint8
		want *big.Int
	}{
		{1, new(big.Int).Lsh(one, 255)},
		{8, new(big.Int).Lsh(one, 248)},
		{255, big.NewInt(2)},
	}
	for _, tt := range tests {
		if got := DifficultyToTarget(tt.diff); got.Cmp(tt.want) != 0 {
			t.Errorf("DifficultyToTarget(%d) = %v, want %v", tt.diff, got, tt.want)
		}
	}
}

func TestHashMeetsDifficulty(t *testing.T) {
	tests := []struct {
		name string
		hash Hash
		diff uint8
		want bool
	}{
		{
			name: "zero hash meets any difficulty",
			hash: Hash{},
			diff: 255,
			want: true,
		},
		{
			name: "exactly at threshold misses",
			hash: func() Hash {
				var h Hash
				h[0] = 0x01
				return h
			}(),
			diff: 8,
			want: false,
		},
		{
			name: "one below threshold hits",
			hash: func() Hash {
				var h Hash
				for i := 1; i < HashLen; i++ {
					h[i] = 0xff
				}
				return h
			}(),
			diff: 8,
			want: true,
		},
		{
			name: "nine leading zero bits at difficulty nine",
			hash: func() Hash {
				var h Hash
				h[1] = 0x7f
				return h
			}(),
			diff: 9,
			want: true,
		},
		{
			name: "partial byte boundary misses",
			hash: func() Hash {
				var h Hash
				h[0] = 0x20
				return h
			}(),
			diff: 3,
			want: false,
		},
		{
			name: "partial byte boundary hits",
			hash: func() Hash {
				var h Hash
				h[0] = 0x1f
				return h
			}(),
			diff: 3,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashMeetsDifficulty(tt.hash, tt.diff); got != tt.want {
				t.Errorf("HashMeetsDifficulty(% x, %d) = %v, want %v", tt.hash[:4], tt.diff, got, tt.want)
			}
		})
	}
}

func TestHashMeetsDifficultyMatchesTarget(t *testing.T) {
	// The bit check must agree with comparing the digest, read as a
	// big-endian integer, against the numeric target.
	hashes := []Hash{
		Hash256([]byte("a")),
		Hash256([]byte("b")),
		Hash256([]byte("c")),
		{},
	}
	for _, h := range hashes {
		for _, diff := range []uint8{1, 2, 7, 8, 9, 16, 255} {
			target := DifficultyToTarget(diff)
			numeric := new(big.Int).SetBytes(h[:]).Cmp(target) < 0
			if got := HashMeetsDifficulty(h, diff); got != numeric {
				t.Errorf("diff %d hash %s: bit check %v, numeric %v", diff, h, got, numeric)
			}
		}
	}
}
