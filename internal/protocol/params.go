// Package protocol provides the shitcoin data primitives: blocks, transactions,
// the wire codec, hashing, merkle roots, and the consensus parameters. Everything
// in this package is pure data manipulation with no I/O.
package protocol

import "time"

// Digest and key sizes in bytes.
const (
	// HashLen is the digest length of the protocol hash (double SHA-256)
	HashLen = 32
	// PubKeyLen is the length of an Ed25519 public key
	PubKeyLen = 32
	// PrivKeyLen is the length of an Ed25519 private key (seed + public half)
	PrivKeyLen = 64
	// SigLen is the length of an Ed25519 signature
	SigLen = 64
)

// Consensus parameters.
const (
	// BlockTime is the target spacing between blocks
	BlockTime = 2 * time.Second

	// DiffPeriodLen is the number of blocks per difficulty period; the
	// difficulty is adjusted at each period boundary
	DiffPeriodLen = 10

	// InitialReward is the block subsidy at height zero
	InitialReward = 1000

	// RewardHalvingLen halves the block subsidy every this many blocks.
	// Total money supply = RewardHalvingLen * InitialReward * 2.
	RewardHalvingLen = 1000

	// GenesisTime is the fixed timestamp of the genesis block
	GenesisTime = 0
)

// Policy parameters.
const (
	// MinRelayFee is the minimum fee a transaction must pay to enter the mempool
	MinRelayFee = 10

	// MinConfirmations is the depth at which wallet outputs count as spendable
	MinConfirmations = 10
)

// GenesisPrevHash is the previous-hash value carried by the genesis block.
var GenesisPrevHash = Hash{
	0xde, 0xad, 0xbe, 0xef, 0xde, 0xad, 0xbe, 0xef,
	0xde, 0xad, 0xbe, 0xef, 0xde, 0xad, 0xbe, 0xef,
	0xde, 0xad, 0xbe, 0xef, 0xde, 0xad, 0xbe, 0xef,
	0xde, 0xad, 0xbe, 0xef, 0xde, 0xad, 0xbe, 0xef,
}
