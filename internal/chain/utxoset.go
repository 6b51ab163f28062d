// Package chain tracks the block tree, the longest-chain head and the set of
// unspent transaction outputs, and validates incoming blocks against both.
package chain

import (
	"crypto/ed25519"

	"github.com/JohnnyLChang/shitcoin/internal/protocol"
	"github.com/JohnnyLChang/shitcoin/pkg/errors"
)

// UTXOEntry is an unspent output together with the height of the block that
// created it. Height is -1 for outputs that are not on chain yet.
type UTXOEntry struct {
	Output *protocol.Output
	Height int64
}

// UTXOSet maps txid and output index to unspent outputs. It is not safe for
// concurrent use; Blockchain guards its own set, and consumers work on copies.
type UTXOSet struct {
	entries map[protocol.Hash]map[uint32]UTXOEntry

	// spent remembers consumed outputs so reorgs can restore them.
	spent map[outpoint]UTXOEntry
}

type outpoint struct {
	txid  protocol.Hash
	index uint32
}

// NewUTXOSet returns an empty set.
func NewUTXOSet() *UTXOSet {
	return &UTXOSet{
		entries: make(map[protocol.Hash]map[uint32]UTXOEntry),
		spent:   make(map[outpoint]UTXOEntry),
	}
}

// Copy returns an independent copy of the set. Output pointers are shared;
// outputs are immutable once serialized into a transaction.
func (s *UTXOSet) Copy() *UTXOSet {
	c := &UTXOSet{
		entries: make(map[protocol.Hash]map[uint32]UTXOEntry, len(s.entries)),
		spent:   make(map[outpoint]UTXOEntry, len(s.spent)),
	}
	for txid, outs := range s.entries {
		m := make(map[uint32]UTXOEntry, len(outs))
		for idx, e := range outs {
			m[idx] = e
		}
		c.entries[txid] = m
	}
	for op, e := range s.spent {
		c.spent[op] = e
	}
	return c
}

// Get returns the unspent output at (txid, index).
func (s *UTXOSet) Get(txid protocol.Hash, index uint32) (UTXOEntry, bool) {
	e, ok := s.entries[txid][index]
	return e, ok
}

// Range calls fn for every unspent output until fn returns false.
func (s *UTXOSet) Range(fn func(txid protocol.Hash, index uint32, entry UTXOEntry) bool) {
	for txid, outs := range s.entries {
		for idx, e := range outs {
			if !fn(txid, idx, e) {
				return
			}
		}
	}
}

// Len returns the number of unspent outputs.
func (s *UTXOSet) Len() int {
	n := 0
	for _, outs := range s.entries {
		n += len(outs)
	}
	return n
}

func (s *UTXOSet) add(txid protocol.Hash, index uint32, e UTXOEntry) {
	outs, ok := s.entries[txid]
	if !ok {
		outs = make(map[uint32]UTXOEntry)
		s.entries[txid] = outs
	}
	outs[index] = e
}

func (s *UTXOSet) remove(txid protocol.Hash, index uint32) {
	outs := s.entries[txid]
	delete(outs, index)
	if len(outs) == 0 {
		delete(s.entries, txid)
	}
}

// ApplyTransaction spends the transaction's inputs and adds its outputs at
// the given height. With verify set it checks that every spent output exists
// and that its owner signed the transaction id, and rejects transactions that
// pay out more than they spend. Coinbase transactions skip the input checks.
// Returns the fee, which is zero for coinbases.
func (s *UTXOSet) ApplyTransaction(tx *protocol.Transaction, verify bool, height int64) (uint64, error) {
	txid := tx.TxID()
	coinbase := tx.IsCoinbase()

	var inSum, outSum uint64
	for _, out := range tx.Outputs {
		outSum += out.Amount
	}

	if !coinbase {
		for _, in := range tx.Inputs {
			if in.IsDummy() {
				return 0, errors.New(errors.ErrorTypeValidation, "apply_transaction",
					"dummy input outside coinbase")
			}
			e, ok := s.Get(in.TxID, in.Index)
			if !ok {
				return 0, errors.New(errors.ErrorTypeValidation, "apply_transaction",
					"input spends unknown or already spent output").
					WithContext("txid", txid.String())
			}
			if verify && !ed25519.Verify(e.Output.PubKey[:], txid[:], in.Signature[:]) {
				return 0, errors.New(errors.ErrorTypeValidation, "apply_transaction",
					"bad input signature").
					WithContext("txid", txid.String())
			}
			inSum += e.Output.Amount
		}
		if verify && outSum > inSum {
			return 0, errors.New(errors.ErrorTypeValidation, "apply_transaction",
				"transaction pays out more than it spends").
				WithContext("txid", txid.String())
		}
	}

	// All checks passed, mutate the set.
	if !coinbase {
		for _, in := range tx.Inputs {
			e, _ := s.Get(in.TxID, in.Index)
			s.spent[outpoint{in.TxID, in.Index}] = e
			s.remove(in.TxID, in.Index)
		}
	}
	for idx, out := range tx.Outputs {
		s.add(txid, uint32(idx), UTXOEntry{Output: out, Height: height})
	}

	if coinbase {
		return 0, nil
	}
	return inSum - outSum, nil
}

// ApplyBlock applies every transaction of the block and returns the money the
// block created: its coinbase value minus the fees collected from the other
// transactions. The caller compares that against the height's subsidy.
func (s *UTXOSet) ApplyBlock(blk *protocol.Block, verify bool) (int64, error) {
	var created int64
	var fees uint64
	for _, tx := range blk.Txs {
		if tx.IsCoinbase() {
			created += int64(tx.Outputs[0].Amount)
			if _, err := s.ApplyTransaction(tx, verify, blk.Height()); err != nil {
				return 0, err
			}
			continue
		}
		fee, err := s.ApplyTransaction(tx, verify, blk.Height())
		if err != nil {
			return 0, err
		}
		fees += fee
	}
	return created - int64(fees), nil
}

// RevertBlock undoes a previously applied block: outputs the block created
// are removed and the outputs its inputs spent are restored.
func (s *UTXOSet) RevertBlock(blk *protocol.Block) {
	for i := len(blk.Txs) - 1; i >= 0; i-- {
		tx := blk.Txs[i]
		txid := tx.TxID()
		for idx := range tx.Outputs {
			s.remove(txid, uint32(idx))
		}
		for _, in := range tx.Inputs {
			if in.IsDummy() {
				continue
			}
			op := outpoint{in.TxID, in.Index}
			if e, ok := s.spent[op]; ok {
				s.add(in.TxID, in.Index, e)
				delete(s.spent, op)
			}
		}
	}
}

// MoveOnChain rewinds the set from one chain tip to another across their
// common ancestor, reverting the blocks on the old side and applying the
// blocks on the new side. Blocks on the new side are assumed validated.
func (s *UTXOSet) MoveOnChain(from, to *protocol.Block) error {
	if from == to {
		return nil
	}
	anc := protocol.FindCommonAncestor(from, to)
	if anc == nil {
		return errors.New(errors.ErrorTypeValidation, "move_on_chain",
			"chains share no common ancestor")
	}
	ancHash := anc.Hash()

	for cur := from; cur.Hash() != ancHash; cur = cur.Parent() {
		s.RevertBlock(cur)
	}

	var forward []*protocol.Block
	for cur := to; cur.Hash() != ancHash; cur = cur.Parent() {
		forward = append(forward, cur)
	}
	for i := len(forward) - 1; i >= 0; i-- {
		if _, err := s.ApplyBlock(forward[i], false); err != nil {
			return err
		}
	}
	return nil
}
