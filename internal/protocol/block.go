package protocol

import (
	"time"
)

// headerLen is the serialized header size: prev hash, merkle root, timestamp,
// difficulty and nonce.
const headerLen = HashLen + HashLen + 8 + 1 + 8

// Block is a block of transactions chained to its predecessor by hash. The
// parent link and height are local bookkeeping, never serialized.
type Block struct {
	PrevHash   Hash
	MerkleRoot Hash
	Timestamp  uint64
	Diff       uint8
	Nonce      uint64
	Txs        []*Transaction

	parent *Block
	height int64
}

// Genesis returns the fixed first block of the chain.
func Genesis() *Block {
	return &Block{
		PrevHash:  GenesisPrevHash,
		Timestamp: GenesisTime,
		Diff:      1,
	}
}

// Parent returns the predecessor block, or nil for genesis and orphans.
func (b *Block) Parent() *Block { return b.parent }

// Height returns the block's distance from genesis.
func (b *Block) Height() int64 { return b.height }

// SetParent links b under parent and derives its height.
func (b *Block) SetParent(parent *Block) {
	b.parent = parent
	if parent != nil {
		b.height = parent.height + 1
	} else {
		b.height = 0
	}
}

// SerializeHeader writes the full header, nonce included, into buf.
func (b *Block) SerializeHeader(buf *SerializationBuffer) {
	buf.Write(b.PrevHash[:])
	buf.Write(b.MerkleRoot[:])
	buf.WriteU64(b.Timestamp)
	buf.WriteU8(b.Diff)
	buf.WriteU64(b.Nonce)
}

// HeaderPrefix returns the serialized header without the trailing nonce.
// Mining appends candidate nonces to this prefix so the constant part is
// serialized once per target, not once per attempt.
func (b *Block) HeaderPrefix() []byte {
	buf := NewSerializationBuffer()
	buf.Write(b.PrevHash[:])
	buf.Write(b.MerkleRoot[:])
	buf.WriteU64(b.Timestamp)
	buf.WriteU8(b.Diff)
	return buf.Bytes()
}

// Hash returns the proof-of-work hash of the block header.
func (b *Block) Hash() Hash {
	buf := NewSerializationBuffer()
	b.SerializeHeader(buf)
	return Hash256(buf.Bytes())
}

// UpdateMerkleRoot recomputes the merkle root from the block's current
// transaction set.
func (b *Block) UpdateMerkleRoot() {
	leaves := make([][]byte, len(b.Txs))
	for i, tx := range b.Txs {
		leaves[i] = tx.Bytes()
	}
	b.MerkleRoot = MerkleRoot(leaves)
}

// Serialize writes the header and transactions into buf.
func (b *Block) Serialize(buf *SerializationBuffer) {
	b.SerializeHeader(buf)
	buf.WriteU32(uint32(len(b.Txs)))
	for _, tx := range b.Txs {
		tx.Serialize(buf)
	}
}

// Bytes returns the fully serialized block.
func (b *Block) Bytes() []byte {
	buf := NewSerializationBuffer()
	b.Serialize(buf)
	return buf.Bytes()
}

// DeserializeBlock reads a block from buf. The parent link is left unset;
// attaching the block to a chain is the caller's job.
func DeserializeBlock(buf *SerializationBuffer) (*Block, error) {
	b := &Block{}
	raw, err := buf.Read(HashLen)
	if err != nil {
		return nil, err
	}
	copy(b.PrevHash[:], raw)
	if raw, err = buf.Read(HashLen); err != nil {
		return nil, err
	}
	copy(b.MerkleRoot[:], raw)
	if b.Timestamp, err = buf.ReadU64(); err != nil {
		return nil, err
	}
	if b.Diff, err = buf.ReadU8(); err != nil {
		return nil, err
	}
	if b.Nonce, err = buf.ReadU64(); err != nil {
		return nil, err
	}
	txCount, err := buf.ReadU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < txCount; i++ {
		tx, err := DeserializeTransaction(buf)
		if err != nil {
			return nil, err
		}
		b.Txs = append(b.Txs, tx)
	}
	return b, nil
}

// FindCommonAncestor walks both chains back to their most recent shared
// block. Returns nil when the chains share no history.
func FindCommonAncestor(a, b *Block) *Block {
	for a != nil && b != nil && a.height > b.height {
		a = a.parent
	}
	for a != nil && b != nil && b.height > a.height {
		b = b.parent
	}
	for a != nil && b != nil {
		if a.Hash() == b.Hash() {
			return a
		}
		a = a.parent
		b = b.parent
	}
	return nil
}

// TimestampNow returns the current wall clock as a block timestamp.
func TimestampNow() uint64 {
	return uint64(time.Now().Unix())
}
