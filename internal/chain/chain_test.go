package chain

import (
	"testing"

	"github.com/JohnnyLChang/shitcoin/internal/protocol"
	"github.com/JohnnyLChang/shitcoin/pkg/log"
)

func testLogger() *log.Logger {
	return log.New("test", "dev", "error", "text")
}

// mineChild builds and proof-of-works a valid child of parent. It does not
// attach the parent; AddBlock does that.
func mineChild(t *testing.T, parent *protocol.Block, addr protocol.PubKey, extraTxs ...*protocol.Transaction) *protocol.Block {
	t.Helper()
	blk := &protocol.Block{
		PrevHash:  parent.Hash(),
		Timestamp: protocol.TimestampNow(),
		Diff:      NextDifficulty(parent),
	}
	reward := protocol.BlockReward(parent.Height() + 1)
	blk.Txs = append([]*protocol.Transaction{protocol.NewCoinbase(reward, addr)}, extraTxs...)
	blk.UpdateMerkleRoot()
	for !protocol.HashMeetsDifficulty(blk.Hash(), blk.Diff) {
		blk.Nonce++
	}
	return blk
}

func TestAddBlockExtendsHead(t *testing.T) {
	bc := New(testLogger())
	addr := newTestKey(t).addr
	genesis := bc.Head()

	blk := mineChild(t, genesis, addr)
	if err := bc.AddBlock(blk); err != nil {
		t.Fatalf("AddBlock() error = %v", err)
	}
	if bc.Head().Hash() != blk.Hash() {
		t.Error("head should move to the new block")
	}
	if bc.Head().Height() != 1 {
		t.Errorf("head height = %d, want 1", bc.Head().Height())
	}
	if e, ok := bc.UTXOCopy().Get(blk.Txs[0].TxID(), 0); !ok || e.Output.Amount != protocol.InitialReward {
		t.Error("coinbase output should enter the utxo set")
	}
}

func TestAddBlockRejectsBadProofOfWork(t *testing.T) {
	bc := New(testLogger())
	addr := newTestKey(t).addr

	blk := mineChild(t, bc.Head(), addr)
	blk.Diff = 200
	if err := bc.AddBlock(blk); err == nil {
		t.Fatal("block with absurd difficulty should be rejected")
	}
	if bc.Head().Height() != 0 {
		t.Error("head should not move for a rejected block")
	}
}

func TestAddBlockRejectsExcessiveReward(t *testing.T) {
	bc := New(testLogger())
	addr := newTestKey(t).addr

	blk := &protocol.Block{
		PrevHash:  bc.Head().Hash(),
		Timestamp: protocol.TimestampNow(),
		Diff:      NextDifficulty(bc.Head()),
		Txs:       []*protocol.Transaction{protocol.NewCoinbase(protocol.InitialReward+1, addr)},
	}
	blk.UpdateMerkleRoot()
	for !protocol.HashMeetsDifficulty(blk.Hash(), blk.Diff) {
		blk.Nonce++
	}
	if err := bc.AddBlock(blk); err == nil {
		t.Error("block minting more than the subsidy should be rejected")
	}
}

func TestAddBlockIgnoresDuplicates(t *testing.T) {
	bc := New(testLogger())
	addr := newTestKey(t).addr

	blk := mineChild(t, bc.Head(), addr)
	if err := bc.AddBlock(blk); err != nil {
		t.Fatal(err)
	}

	changes := 0
	sub := bc.SubscribeHeadChange(func(*protocol.Block) { changes++ })
	defer sub.Cancel()

	if err := bc.AddBlock(blk); err != nil {
		t.Fatalf("re-adding a known block should be a no-op, got %v", err)
	}
	if changes != 0 {
		t.Error("duplicate block should not notify subscribers")
	}
}

func TestOrphanBlockAdoptedWhenParentArrives(t *testing.T) {
	bc := New(testLogger())
	addr := newTestKey(t).addr

	blk1 := mineChild(t, bc.Head(), addr)
	// mineChild needs the parent linked to compute height and difficulty,
	// so link a throwaway copy for building the child.
	linked := *blk1
	linked.SetParent(bc.Head())
	blk2 := mineChild(t, &linked, addr)

	if err := bc.AddBlock(blk2); err != nil {
		t.Fatalf("orphan AddBlock() error = %v", err)
	}
	if bc.Head().Height() != 0 {
		t.Fatal("orphan should not move the head")
	}

	if err := bc.AddBlock(blk1); err != nil {
		t.Fatalf("AddBlock() error = %v", err)
	}
	if bc.Head().Height() != 2 {
		t.Errorf("head height = %d, want 2 after orphan adoption", bc.Head().Height())
	}
	if bc.Head().Hash() != blk2.Hash() {
		t.Error("head should be the adopted orphan")
	}
}

func TestReorgMovesUTXOSet(t *testing.T) {
	bc := New(testLogger())
	keyA := newTestKey(t)
	keyB := newTestKey(t)
	genesis := bc.Head()

	// Chain A: one block paying keyA.
	a1 := mineChild(t, genesis, keyA.addr)
	if err := bc.AddBlock(a1); err != nil {
		t.Fatal(err)
	}

	// Chain B: two blocks paying keyB, which should win.
	b1 := mineChild(t, genesis, keyB.addr)
	linked := *b1
	linked.SetParent(genesis)
	b2 := mineChild(t, &linked, keyB.addr)

	if err := bc.AddBlock(b1); err != nil {
		t.Fatal(err)
	}
	if err := bc.AddBlock(b2); err != nil {
		t.Fatal(err)
	}

	if bc.Head().Hash() != b2.Hash() {
		t.Fatal("longer chain should win")
	}

	utxos := bc.UTXOCopy()
	if _, ok := utxos.Get(a1.Txs[0].TxID(), 0); ok {
		t.Error("outputs from the losing chain should be gone")
	}
	if _, ok := utxos.Get(b1.Txs[0].TxID(), 0); !ok {
		t.Error("outputs from the winning chain should be present")
	}
	if _, ok := utxos.Get(b2.Txs[0].TxID(), 0); !ok {
		t.Error("outputs from the winning tip should be present")
	}
}

func TestSubscriptionCancel(t *testing.T) {
	bc := New(testLogger())
	addr := newTestKey(t).addr

	var got []int64
	sub := bc.SubscribeHeadChange(func(head *protocol.Block) {
		got = append(got, head.Height())
	})

	if err := bc.AddBlock(mineChild(t, bc.Head(), addr)); err != nil {
		t.Fatal(err)
	}
	sub.Cancel()
	sub.Cancel() // double cancel is harmless
	if err := bc.AddBlock(mineChild(t, bc.Head(), addr)); err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 || got[0] != 1 {
		t.Errorf("subscriber saw heights %v, want [1]", got)
	}
}

func TestSubscribersNotifiedInRegistrationOrder(t *testing.T) {
	bc := New(testLogger())
	addr := newTestKey(t).addr

	const subscribers = 8
	var calls []int
	subs := make([]*Subscription, subscribers)
	for i := 0; i < subscribers; i++ {
		subs[i] = bc.SubscribeHeadChange(func(*protocol.Block) {
			calls = append(calls, i)
		})
	}

	const blocks = 5
	for i := 0; i < blocks; i++ {
		if err := bc.AddBlock(mineChild(t, bc.Head(), addr)); err != nil {
			t.Fatal(err)
		}
	}

	if len(calls) != subscribers*blocks {
		t.Fatalf("got %d callback runs, want %d", len(calls), subscribers*blocks)
	}
	for i, got := range calls {
		if want := i % subscribers; got != want {
			t.Fatalf("run %d went to subscriber %d, want %d", i, got, want)
		}
	}

	// A subscriber registered after a cancel still runs after the survivors.
	subs[3].Cancel()
	bc.SubscribeHeadChange(func(*protocol.Block) {
		calls = append(calls, subscribers)
	})
	calls = calls[:0]
	if err := bc.AddBlock(mineChild(t, bc.Head(), addr)); err != nil {
		t.Fatal(err)
	}
	want := []int{0, 1, 2, 4, 5, 6, 7, 8}
	if len(calls) != len(want) {
		t.Fatalf("got %d callback runs, want %d", len(calls), len(want))
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("callback order = %v, want %v", calls, want)
		}
	}
}

func TestNextDifficulty(t *testing.T) {
	genesis := protocol.Genesis()
	genesis.UpdateMerkleRoot()

	t.Run("carried over inside a period", func(t *testing.T) {
		if got := NextDifficulty(genesis); got != genesis.Diff {
			t.Errorf("NextDifficulty = %d, want %d", got, genesis.Diff)
		}
	})

	t.Run("raised after a fast period", func(t *testing.T) {
		// Build nine blocks after genesis, all in the same second, so the
		// period completed far faster than intended and difficulty rises.
		cur := genesis
		for i := 0; i < protocol.DiffPeriodLen-1; i++ {
			blk := &protocol.Block{PrevHash: cur.Hash(), Timestamp: 100, Diff: cur.Diff}
			blk.SetParent(cur)
			cur = blk
		}
		if got := NextDifficulty(cur); got <= cur.Diff {
			t.Errorf("NextDifficulty = %d, want above %d after a fast period", got, cur.Diff)
		}
	})

	t.Run("floored at one after a slow period", func(t *testing.T) {
		cur := genesis
		stamp := uint64(100)
		for i := 0; i < protocol.DiffPeriodLen-1; i++ {
			blk := &protocol.Block{PrevHash: cur.Hash(), Timestamp: stamp, Diff: cur.Diff}
			blk.SetParent(cur)
			cur = blk
			stamp += 1 << 20 // absurdly slow blocks
		}
		if got := NextDifficulty(cur); got != 1 {
			t.Errorf("NextDifficulty = %d, want floor of 1", got)
		}
	})
}
