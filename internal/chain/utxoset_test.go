package chain

import (
	"crypto/ed25519"
	"testing"

	"github.com/JohnnyLChang/shitcoin/internal/protocol"
	"github.com/JohnnyLChang/shitcoin/pkg/errors"
)

type testKey struct {
	priv ed25519.PrivateKey
	addr protocol.PubKey
}

func newTestKey(t *testing.T) testKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	var addr protocol.PubKey
	copy(addr[:], pub)
	return testKey{priv: priv, addr: addr}
}

// signedSpend builds a transaction spending (txid, index) to the given
// outputs, signed by the owner key.
func signedSpend(key testKey, txid protocol.Hash, index uint32, outputs []*protocol.Output) *protocol.Transaction {
	tx := &protocol.Transaction{
		Inputs:  []*protocol.Input{{TxID: txid, Index: index}},
		Outputs: outputs,
	}
	id := tx.TxID()
	copy(tx.Inputs[0].Signature[:], ed25519.Sign(key.priv, id[:]))
	return tx
}

func TestApplyTransactionSpendChain(t *testing.T) {
	key := newTestKey(t)
	utxos := NewUTXOSet()

	cb := protocol.NewCoinbase(1000, key.addr)
	if _, err := utxos.ApplyTransaction(cb, true, 0); err != nil {
		t.Fatalf("applying coinbase: %v", err)
	}
	if utxos.Len() != 1 {
		t.Fatalf("utxo count = %d, want 1", utxos.Len())
	}

	dest := newTestKey(t)
	spend := signedSpend(key, cb.TxID(), 0, []*protocol.Output{
		{Amount: 900, PubKey: dest.addr},
	})
	fee, err := utxos.ApplyTransaction(spend, true, 1)
	if err != nil {
		t.Fatalf("applying spend: %v", err)
	}
	if fee != 100 {
		t.Errorf("fee = %d, want 100", fee)
	}
	if _, ok := utxos.Get(cb.TxID(), 0); ok {
		t.Error("spent output should be gone")
	}
	if e, ok := utxos.Get(spend.TxID(), 0); !ok || e.Output.Amount != 900 || e.Height != 1 {
		t.Error("new output should be tracked at its block height")
	}
}

func TestApplyTransactionRejectsBadSpends(t *testing.T) {
	key := newTestKey(t)
	stranger := newTestKey(t)

	utxos := NewUTXOSet()
	cb := protocol.NewCoinbase(1000, key.addr)
	if _, err := utxos.ApplyTransaction(cb, true, 0); err != nil {
		t.Fatal(err)
	}

	t.Run("unknown output", func(t *testing.T) {
		tx := signedSpend(key, protocol.Hash256([]byte("nope")), 0,
			[]*protocol.Output{{Amount: 1, PubKey: key.addr}})
		if _, err := utxos.Copy().ApplyTransaction(tx, true, 1); err == nil {
			t.Error("spending an unknown output should fail")
		}
	})

	t.Run("wrong signer", func(t *testing.T) {
		tx := signedSpend(stranger, cb.TxID(), 0,
			[]*protocol.Output{{Amount: 1, PubKey: stranger.addr}})
		_, err := utxos.Copy().ApplyTransaction(tx, true, 1)
		if !errors.IsType(err, errors.ErrorTypeValidation) {
			t.Errorf("foreign signature should be a validation error, got %v", err)
		}
	})

	t.Run("overspend", func(t *testing.T) {
		tx := signedSpend(key, cb.TxID(), 0,
			[]*protocol.Output{{Amount: 1001, PubKey: key.addr}})
		if _, err := utxos.Copy().ApplyTransaction(tx, true, 1); err == nil {
			t.Error("paying out more than the input should fail")
		}
	})

	t.Run("unverified apply skips signature checks", func(t *testing.T) {
		tx := signedSpend(stranger, cb.TxID(), 0,
			[]*protocol.Output{{Amount: 1, PubKey: stranger.addr}})
		if _, err := utxos.Copy().ApplyTransaction(tx, false, 1); err != nil {
			t.Errorf("unverified apply should accept recorded spends: %v", err)
		}
	})
}

func TestCopyIsIndependent(t *testing.T) {
	key := newTestKey(t)
	utxos := NewUTXOSet()
	cb := protocol.NewCoinbase(1000, key.addr)
	if _, err := utxos.ApplyTransaction(cb, true, 0); err != nil {
		t.Fatal(err)
	}

	cp := utxos.Copy()
	spend := signedSpend(key, cb.TxID(), 0,
		[]*protocol.Output{{Amount: 990, PubKey: key.addr}})
	if _, err := cp.ApplyTransaction(spend, true, 1); err != nil {
		t.Fatal(err)
	}

	if _, ok := utxos.Get(cb.TxID(), 0); !ok {
		t.Error("spend on the copy should not touch the original")
	}
}

func TestRevertBlockRestoresSpentOutputs(t *testing.T) {
	key := newTestKey(t)
	utxos := NewUTXOSet()

	cb := protocol.NewCoinbase(1000, key.addr)
	if _, err := utxos.ApplyTransaction(cb, true, 0); err != nil {
		t.Fatal(err)
	}

	blk := &protocol.Block{Diff: 1}
	blk.SetParent(&protocol.Block{})
	spend := signedSpend(key, cb.TxID(), 0,
		[]*protocol.Output{{Amount: 990, PubKey: key.addr}})
	blk.Txs = []*protocol.Transaction{
		protocol.NewCoinbase(1010, key.addr),
		spend,
	}

	created, err := utxos.ApplyBlock(blk, true)
	if err != nil {
		t.Fatalf("applying block: %v", err)
	}
	// Coinbase of 1010 minus the 10 fee collected from the spend.
	if created != 1000 {
		t.Errorf("money created = %d, want 1000", created)
	}

	utxos.RevertBlock(blk)
	if e, ok := utxos.Get(cb.TxID(), 0); !ok || e.Output.Amount != 1000 {
		t.Error("revert should restore the spent coinbase output")
	}
	if _, ok := utxos.Get(spend.TxID(), 0); ok {
		t.Error("revert should remove the block's outputs")
	}
	if _, ok := utxos.Get(blk.Txs[0].TxID(), 0); ok {
		t.Error("revert should remove the block's coinbase output")
	}
}
