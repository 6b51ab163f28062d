package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// PubKey is an Ed25519 public key, doubling as the address format.
type PubKey [PubKeyLen]byte

// Signature is an Ed25519 signature over a transaction id.
type Signature [SigLen]byte

// String returns the hex form of the public key.
func (p PubKey) String() string {
	return hex.EncodeToString(p[:])
}

// PubKeyFromString parses a hex-encoded public key.
func PubKeyFromString(s string) (PubKey, error) {
	var pk PubKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("invalid pubkey hex: %w", err)
	}
	if len(raw) != PubKeyLen {
		return pk, fmt.Errorf("invalid pubkey length: expected %d bytes, got %d", PubKeyLen, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// Output is a transaction output paying an amount to a public key.
type Output struct {
	Amount uint64
	PubKey PubKey
}

// Serialize writes the output into buf.
func (o *Output) Serialize(buf *SerializationBuffer) {
	buf.WriteVaruint(o.Amount)
	buf.Write(o.PubKey[:])
}

// DeserializeOutput reads an output from buf.
func DeserializeOutput(buf *SerializationBuffer) (*Output, error) {
	o := &Output{}
	amount, err := buf.ReadVaruint()
	if err != nil {
		return nil, err
	}
	o.Amount = amount
	raw, err := buf.Read(PubKeyLen)
	if err != nil {
		return nil, err
	}
	copy(o.PubKey[:], raw)
	return o, nil
}

// Input spends an output identified by transaction id and output index. The
// signature covers the spending transaction's id.
type Input struct {
	TxID      Hash
	Index     uint32
	Signature Signature
}

// Serialize writes the input into buf, signature included.
func (in *Input) Serialize(buf *SerializationBuffer) {
	buf.Write(in.TxID[:])
	buf.WriteU32(in.Index)
	buf.Write(in.Signature[:])
}

// SerializeNoSig writes the input without its signature. Used for the
// transaction id so signatures do not have to sign themselves.
func (in *Input) SerializeNoSig(buf *SerializationBuffer) {
	buf.Write(in.TxID[:])
	buf.WriteU32(in.Index)
}

// DeserializeInput reads an input from buf.
func DeserializeInput(buf *SerializationBuffer) (*Input, error) {
	in := &Input{}
	raw, err := buf.Read(HashLen)
	if err != nil {
		return nil, err
	}
	copy(in.TxID[:], raw)
	if in.Index, err = buf.ReadU32(); err != nil {
		return nil, err
	}
	if raw, err = buf.Read(SigLen); err != nil {
		return nil, err
	}
	copy(in.Signature[:], raw)
	return in, nil
}

// IsDummy reports whether the input is a coinbase dummy that spends nothing.
func (in *Input) IsDummy() bool {
	return in.TxID == ZeroHash
}

// Transaction moves value from spent outputs to new outputs.
type Transaction struct {
	Inputs  []*Input
	Outputs []*Output
}

// Serialize writes the full transaction, signatures included, into buf.
func (tx *Transaction) Serialize(buf *SerializationBuffer) {
	buf.WriteVaruint(uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		in.Serialize(buf)
	}
	buf.WriteVaruint(uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		out.Serialize(buf)
	}
}

// SerializeNoSig writes the transaction without input signatures.
func (tx *Transaction) SerializeNoSig(buf *SerializationBuffer) {
	buf.WriteVaruint(uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		in.SerializeNoSig(buf)
	}
	buf.WriteVaruint(uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		out.Serialize(buf)
	}
}

// Bytes returns the fully serialized transaction.
func (tx *Transaction) Bytes() []byte {
	buf := NewSerializationBuffer()
	tx.Serialize(buf)
	return buf.Bytes()
}

// TxID returns the transaction id: the hash of the transaction without
// signatures, so the id is stable under signing and not malleable.
func (tx *Transaction) TxID() Hash {
	buf := NewSerializationBuffer()
	tx.SerializeNoSig(buf)
	return Hash256(buf.Bytes())
}

// DeserializeTransaction reads a transaction from buf.
func DeserializeTransaction(buf *SerializationBuffer) (*Transaction, error) {
	tx := &Transaction{}
	inputCount, err := buf.ReadVaruint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < inputCount; i++ {
		in, err := DeserializeInput(buf)
		if err != nil {
			return nil, err
		}
		tx.Inputs = append(tx.Inputs, in)
	}
	outputCount, err := buf.ReadVaruint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < outputCount; i++ {
		out, err := DeserializeOutput(buf)
		if err != nil {
			return nil, err
		}
		tx.Outputs = append(tx.Outputs, out)
	}
	return tx, nil
}

// IsCoinbase reports whether the transaction has the coinbase shape: exactly
// one dummy input and one output.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].IsDummy() && len(tx.Outputs) == 1
}

// NewCoinbase builds the reward-granting transaction for a candidate block.
// The dummy input carries a random index so the transaction id stays unique
// across rebuilds at the same height with the same reward.
func NewCoinbase(reward uint64, rewardAddr PubKey) *Transaction {
	var seed [4]byte
	if _, err := rand.Read(seed[:]); err != nil {
		// Entropy exhaustion is a broken platform, not a recoverable state.
		panic(fmt.Sprintf("protocol: reading random coinbase index: %v", err))
	}
	return &Transaction{
		Inputs: []*Input{{
			Index: binary.BigEndian.Uint32(seed[:]),
		}},
		Outputs: []*Output{{
			Amount: reward,
			PubKey: rewardAddr,
		}},
	}
}

// BlockReward returns the subsidy for a block at the given height: the initial
// reward halved once per halving interval.
func BlockReward(height int64) uint64 {
	halvings := uint(height / RewardHalvingLen)
	if halvings >= 64 {
		return 0
	}
	return InitialReward >> halvings
}
