// Package mempool holds validated transactions waiting to be mined.
package mempool

import (
	"slices"
	"sync"

	"github.com/JohnnyLChang/shitcoin/internal/chain"
	"github.com/JohnnyLChang/shitcoin/internal/protocol"
	"github.com/JohnnyLChang/shitcoin/pkg/errors"
	"github.com/JohnnyLChang/shitcoin/pkg/log"
)

// NewTxFunc is called for every transaction accepted into the pool.
type NewTxFunc func(tx *protocol.Transaction)

// Subscription is a handle for an active new transaction subscription.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel removes the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Mempool validates incoming transactions against a private copy of the
// chain's UTXO set and keeps the ones worth mining. When the chain head
// moves, mined transactions drop out and the rest are revalidated against
// the new head. Safe for concurrent use.
type Mempool struct {
	mu        sync.Mutex
	bc        *chain.Blockchain
	txs       map[protocol.Hash]*protocol.Transaction
	utxos     *chain.UTXOSet
	totalFees uint64

	subMu   sync.Mutex
	subs    map[uint64]NewTxFunc
	nextSub uint64

	headSub *chain.Subscription
	logger  *log.Logger
}

// New creates a mempool tracking the given chain.
func New(bc *chain.Blockchain, logger *log.Logger) *Mempool {
	mp := &Mempool{
		bc:     bc,
		txs:    make(map[protocol.Hash]*protocol.Transaction),
		utxos:  bc.UTXOCopy(),
		subs:   make(map[uint64]NewTxFunc),
		logger: logger.WithComponent("mempool"),
	}
	mp.headSub = bc.SubscribeHeadChange(mp.incomingBlock)
	return mp
}

// Close detaches the mempool from the chain.
func (mp *Mempool) Close() {
	mp.headSub.Cancel()
}

// Add validates the transaction and admits it to the pool. Transactions that
// double spend, carry bad signatures or pay less than the relay fee are
// rejected. Known transactions are ignored without error.
func (mp *Mempool) Add(tx *protocol.Transaction) error {
	txid := tx.TxID()

	mp.mu.Lock()
	if _, known := mp.txs[txid]; known {
		mp.mu.Unlock()
		return nil
	}
	fee, err := mp.admit(tx, txid)
	mp.mu.Unlock()
	if err != nil {
		return err
	}

	mp.logger.Debug("accepted transaction",
		"txid", txid.String(), "fee", fee)
	mp.notify(tx)
	return nil
}

// admit validates tx against the pool's utxo view and applies it.
// Caller holds mp.mu.
func (mp *Mempool) admit(tx *protocol.Transaction, txid protocol.Hash) (uint64, error) {
	temp := mp.utxos.Copy()
	fee, err := temp.ApplyTransaction(tx, true, -1)
	if err != nil {
		return 0, err
	}
	if fee < protocol.MinRelayFee {
		return 0, errors.New(errors.ErrorTypeValidation, "mempool_add",
			"fee below relay minimum").
			WithContext("fee", fee).
			WithContext("min_fee", protocol.MinRelayFee)
	}

	mp.txs[txid] = tx
	mp.totalFees += fee
	if _, err := mp.utxos.ApplyTransaction(tx, false, -1); err != nil {
		return 0, err
	}
	return fee, nil
}

// Snapshot returns the pooled transactions and the fees they pay in total.
func (mp *Mempool) Snapshot() ([]*protocol.Transaction, uint64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	txs := make([]*protocol.Transaction, 0, len(mp.txs))
	for _, tx := range mp.txs {
		txs = append(txs, tx)
	}
	return txs, mp.totalFees
}

// Len returns the number of pooled transactions.
func (mp *Mempool) Len() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return len(mp.txs)
}

// incomingBlock rebuilds the pool after the chain head moves: transactions
// mined into the new chain drop out and the survivors are revalidated
// against the fresh UTXO set.
func (mp *Mempool) incomingBlock(head *protocol.Block) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, tx := range head.Txs {
		delete(mp.txs, tx.TxID())
	}

	old := mp.txs
	mp.txs = make(map[protocol.Hash]*protocol.Transaction, len(old))
	mp.utxos = mp.bc.UTXOCopy()
	mp.totalFees = 0

	// Readmission ignores ordering, so a transaction spending another
	// pooled transaction's output can fall out until it is relayed again.
	for txid, tx := range old {
		if _, err := mp.admit(tx, txid); err != nil {
			mp.logger.Debug("dropped stale transaction", "txid", txid.String())
		}
	}
}

// SubscribeNewTx registers fn to run for every accepted transaction.
// Subscribers are notified in registration order. The returned handle cancels
// the subscription.
func (mp *Mempool) SubscribeNewTx(fn NewTxFunc) *Subscription {
	mp.subMu.Lock()
	defer mp.subMu.Unlock()
	id := mp.nextSub
	mp.nextSub++
	mp.subs[id] = fn
	return &Subscription{cancel: func() {
		mp.subMu.Lock()
		defer mp.subMu.Unlock()
		delete(mp.subs, id)
	}}
}

// notify runs subscribers in registration order, outside the pool lock.
func (mp *Mempool) notify(tx *protocol.Transaction) {
	mp.subMu.Lock()
	ids := make([]uint64, 0, len(mp.subs))
	for id := range mp.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]NewTxFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, mp.subs[id])
	}
	mp.subMu.Unlock()
	for _, fn := range fns {
		fn(tx)
	}
}
