package chain

import (
	"slices"
	"sync"

	"github.com/JohnnyLChang/shitcoin/internal/protocol"
	"github.com/JohnnyLChang/shitcoin/pkg/errors"
	"github.com/JohnnyLChang/shitcoin/pkg/log"
)

// HeadChangeFunc is called with the new head after the longest chain grows
// or reorganizes. Callbacks run outside the chain lock.
type HeadChangeFunc func(head *protocol.Block)

// Subscription is a handle for an active head change subscription.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel removes the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Blockchain stores every known block, tracks the longest validated chain and
// maintains the UTXO set at its head. Safe for concurrent use.
type Blockchain struct {
	mu           sync.RWMutex
	blocksByHash map[protocol.Hash]*protocol.Block
	orphans      map[protocol.Hash]*protocol.Block
	utxos        *UTXOSet
	head         *protocol.Block

	subMu   sync.Mutex
	subs    map[uint64]HeadChangeFunc
	nextSub uint64

	logger *log.Logger
}

// New creates a blockchain seeded with the genesis block.
func New(logger *log.Logger) *Blockchain {
	genesis := protocol.Genesis()
	genesis.UpdateMerkleRoot()
	genesis.SetParent(nil)

	bc := &Blockchain{
		blocksByHash: map[protocol.Hash]*protocol.Block{genesis.Hash(): genesis},
		orphans:      make(map[protocol.Hash]*protocol.Block),
		utxos:        NewUTXOSet(),
		head:         genesis,
		subs:         make(map[uint64]HeadChangeFunc),
		logger:       logger.WithComponent("chain"),
	}
	return bc
}

// Head returns the tip of the longest validated chain.
func (bc *Blockchain) Head() *protocol.Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.head
}

// Block returns a validated block by hash.
func (bc *Blockchain) Block(hash protocol.Hash) (*protocol.Block, bool) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	blk, ok := bc.blocksByHash[hash]
	return blk, ok
}

// Genesis returns the chain's genesis block.
func (bc *Blockchain) Genesis() *protocol.Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	cur := bc.head
	for cur.Parent() != nil {
		cur = cur.Parent()
	}
	return cur
}

// UTXOCopy returns an independent copy of the UTXO set at the current head.
func (bc *Blockchain) UTXOCopy() *UTXOSet {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.utxos.Copy()
}

// AddBlock validates the block and adds it to the tree. Blocks whose parent
// is unknown are parked until the parent arrives. When the block extends the
// longest chain the head moves, the UTXO set follows, and subscribers are
// notified. Duplicate blocks are ignored.
func (bc *Blockchain) AddBlock(blk *protocol.Block) error {
	var newHeads []*protocol.Block

	bc.mu.Lock()
	err := bc.addBlockLocked(blk, &newHeads)
	bc.mu.Unlock()

	for _, head := range newHeads {
		bc.notify(head)
	}
	return err
}

func (bc *Blockchain) addBlockLocked(blk *protocol.Block, newHeads *[]*protocol.Block) error {
	blockHash := blk.Hash()
	if _, known := bc.blocksByHash[blockHash]; known {
		return nil
	}
	if _, known := bc.orphans[blockHash]; known {
		return nil
	}

	parent, haveParent := bc.blocksByHash[blk.PrevHash]
	if !haveParent {
		bc.orphans[blockHash] = blk
		bc.logger.Debug("parked orphan block", "block_hash", blockHash.String())
		return nil
	}

	blk.SetParent(parent)
	if err := validateBlock(blk, bc.utxos, bc.head); err != nil {
		bc.logger.WithError(err).Info("rejected invalid block",
			"block_hash", blockHash.String())
		return errors.Wrap(err, errors.ErrorTypeValidation, "add_block", "block rejected")
	}

	bc.blocksByHash[blockHash] = blk
	if blk.Height() > bc.head.Height() {
		if err := bc.utxos.MoveOnChain(bc.head, blk); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "add_block",
				"moving utxo set to new head")
		}
		bc.head = blk
		bc.logger.LogNewHead(blockHash.String(), blk.Height(), len(blk.Txs))
		*newHeads = append(*newHeads, blk)
	}

	// The new block may be the missing parent of parked orphans.
	for orphanHash, orphan := range bc.orphans {
		if orphan.PrevHash == blockHash {
			delete(bc.orphans, orphanHash)
			if err := bc.addBlockLocked(orphan, newHeads); err != nil {
				bc.logger.WithError(err).Debug("parked block failed validation",
					"block_hash", orphanHash.String())
			}
		}
	}
	return nil
}

// SubscribeHeadChange registers fn to run whenever the head moves. Subscribers
// are notified in registration order. The returned handle cancels the
// subscription.
func (bc *Blockchain) SubscribeHeadChange(fn HeadChangeFunc) *Subscription {
	bc.subMu.Lock()
	defer bc.subMu.Unlock()
	id := bc.nextSub
	bc.nextSub++
	bc.subs[id] = fn
	return &Subscription{cancel: func() {
		bc.subMu.Lock()
		defer bc.subMu.Unlock()
		delete(bc.subs, id)
	}}
}

// notify runs subscribers in registration order. The mempool subscribes
// before the miner, so its rebuild must complete before the miner retargets.
func (bc *Blockchain) notify(head *protocol.Block) {
	bc.subMu.Lock()
	ids := make([]uint64, 0, len(bc.subs))
	for id := range bc.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]HeadChangeFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, bc.subs[id])
	}
	bc.subMu.Unlock()
	for _, fn := range fns {
		fn(head)
	}
}
