// Package node wires the blockchain, mempool, miner and gossip relay into a
// running service. Accepted blocks fan out to the side stores (Kafka, Postgres,
// Redis, InfluxDB) on a best-effort basis; a failed store write is logged and
// never blocks consensus.
package node

import (
	"context"
	"sync"
	"time"

	"github.com/JohnnyLChang/shitcoin/internal/chain"
	"github.com/JohnnyLChang/shitcoin/internal/config"
	"github.com/JohnnyLChang/shitcoin/internal/mempool"
	"github.com/JohnnyLChang/shitcoin/internal/messaging"
	"github.com/JohnnyLChang/shitcoin/internal/metrics"
	"github.com/JohnnyLChang/shitcoin/internal/miner"
	"github.com/JohnnyLChang/shitcoin/internal/p2p"
	"github.com/JohnnyLChang/shitcoin/internal/protocol"
	"github.com/JohnnyLChang/shitcoin/internal/storage/postgres"
	redisstore "github.com/JohnnyLChang/shitcoin/internal/storage/redis"
	"github.com/JohnnyLChang/shitcoin/pkg/log"
)

const (
	minedPollInterval = 100 * time.Millisecond
	statsInterval     = 10 * time.Second
	hashrateWindow    = 10 * time.Minute
	counterTTL        = 24 * time.Hour
	storeWriteTimeout = 5 * time.Second
)

// Stores holds the optional side stores. Any field may be nil when the
// corresponding backend is disabled.
type Stores struct {
	Kafka  *messaging.KafkaClient
	Blocks *postgres.BlockRepository
	Cache  *redisstore.Client
	Influx *metrics.Client
}

// Node coordinates the consensus components and the gossip relay
type Node struct {
	cfg    *config.Config
	logger *log.Logger

	bc     *chain.Blockchain
	mp     *mempool.Mempool
	miner  *miner.Miner
	relay  *p2p.Relay
	stores Stores

	headSub *chain.Subscription
	txSub   *mempool.Subscription

	mu         sync.Mutex
	minedLocal map[protocol.Hash]struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a node from its components. relay may be nil for a
// standalone node and any store may be nil when disabled.
func New(cfg *config.Config, logger *log.Logger, bc *chain.Blockchain, mp *mempool.Mempool, mn *miner.Miner, relay *p2p.Relay, stores Stores) *Node {
	return &Node{
		cfg:        cfg,
		logger:     logger.WithComponent("node"),
		bc:         bc,
		mp:         mp,
		miner:      mn,
		relay:      relay,
		stores:     stores,
		minedLocal: make(map[protocol.Hash]struct{}),
		done:       make(chan struct{}),
	}
}

// Start subscribes to chain and mempool events and starts the worker loops.
// It returns once the node is running.
func (n *Node) Start(ctx context.Context) error {
	n.logger.Info("node starting")

	n.headSub = n.bc.SubscribeHeadChange(n.onNewHead)
	n.txSub = n.mp.SubscribeNewTx(n.onNewTx)

	if n.relay != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.relay.Listen(ctx, n); err != nil && ctx.Err() == nil {
				n.logger.WithError(err).Error("gossip listener stopped")
			}
		}()
	}

	n.wg.Add(2)
	go n.minedLoop(ctx)
	go n.statsLoop(ctx)

	if n.cfg.MiningEnabled {
		if err := n.miner.Start(); err != nil {
			return err
		}
		n.logger.Info("mining enabled")
	}

	return nil
}

// Shutdown stops the miner and the worker loops
func (n *Node) Shutdown(_ context.Context) error {
	n.logger.Info("shutting down node")

	if n.miner.Running() {
		if err := n.miner.Stop(); err != nil {
			n.logger.WithError(err).Error("failed to stop miner")
		}
	}

	n.headSub.Cancel()
	n.txSub.Cancel()
	close(n.done)
	n.wg.Wait()
	n.mp.Close()

	return nil
}

// HandleBlock processes a block received from a peer
func (n *Node) HandleBlock(blk *protocol.Block) {
	if err := n.bc.AddBlock(blk); err != nil {
		n.logger.WithError(err).Warn("rejected peer block",
			"block_hash", blk.Hash().String(),
		)
	}
}

// HandleTx processes a transaction received from a peer
func (n *Node) HandleTx(tx *protocol.Transaction) {
	if err := n.mp.Add(tx); err != nil {
		n.logger.WithError(err).Warn("rejected peer transaction",
			"txid", tx.TxID().String(),
		)
	}
}

// HandleBlockRequest serves a peer's request for a known block
func (n *Node) HandleBlockRequest(hash protocol.Hash) {
	blk, ok := n.bc.Block(hash)
	if !ok {
		return
	}
	if err := n.relay.PublishBlock(blk); err != nil {
		n.logger.WithError(err).Error("failed to serve block request",
			"block_hash", hash.String(),
		)
	}
}

// SubmitBlock accepts a block produced or relayed locally
func (n *Node) SubmitBlock(blk *protocol.Block) error {
	return n.bc.AddBlock(blk)
}

// SubmitTransaction accepts a local transaction into the mempool
func (n *Node) SubmitTransaction(tx *protocol.Transaction) error {
	return n.mp.Add(tx)
}

// minedLoop moves blocks found by the miner onto the chain
func (n *Node) minedLoop(ctx context.Context) {
	defer n.wg.Done()

	ticker := time.NewTicker(minedPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.done:
			return
		case <-ticker.C:
			blk := n.miner.TakeMinedBlock()
			if blk == nil {
				continue
			}

			hash := blk.Hash()
			n.mu.Lock()
			n.minedLocal[hash] = struct{}{}
			n.mu.Unlock()

			if err := n.bc.AddBlock(blk); err != nil {
				// Usually a race with a peer block at the same height
				n.logger.WithError(err).Warn("mined block not accepted",
					"block_hash", hash.String(),
				)
				n.mu.Lock()
				delete(n.minedLocal, hash)
				n.mu.Unlock()
			}
		}
	}
}

// statsLoop periodically samples mempool depth and local hashrate into the
// side stores
func (n *Node) statsLoop(ctx context.Context) {
	defer n.wg.Done()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.done:
			return
		case <-ticker.C:
			if n.stores.Influx != nil {
				txs, fees := n.mp.Snapshot()
				n.stores.Influx.WriteMempoolMetric(len(txs), fees)
			}
			if !n.miner.Running() {
				continue
			}
			hashrate, err := n.miner.Hashrate()
			if err != nil || hashrate <= 0 {
				continue
			}
			n.logger.LogHashrate(hashrate)
			n.publishHashrate(hashrate)
		}
	}
}

// onNewHead runs on every head change: rebroadcast, archive, update caches
func (n *Node) onNewHead(head *protocol.Block) {
	hash := head.Hash()

	n.mu.Lock()
	_, minedHere := n.minedLocal[hash]
	delete(n.minedLocal, hash)
	n.mu.Unlock()

	if n.relay != nil {
		if err := n.relay.PublishBlock(head); err != nil {
			n.logger.WithError(err).Error("failed to publish block")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()

	if n.stores.Blocks != nil {
		row := &postgres.BlockRow{
			Height:     head.Height(),
			Hash:       hash.String(),
			PrevHash:   head.PrevHash.String(),
			MerkleRoot: head.MerkleRoot.String(),
			Timestamp:  int64(head.Timestamp),
			Difficulty: int16(head.Diff),
			Nonce:      int64(head.Nonce),
			TxCount:    len(head.Txs),
			MinedHere:  minedHere,
		}
		if err := n.stores.Blocks.Insert(ctx, row); err != nil {
			n.logger.WithError(err).Error("failed to archive block")
		}
	}

	if n.stores.Cache != nil {
		tip := &redisstore.ChainTip{
			BlockHash:  hash.String(),
			Height:     head.Height(),
			Difficulty: head.Diff,
			Timestamp:  head.Timestamp,
			TxCount:    len(head.Txs),
		}
		if err := n.stores.Cache.SetChainTip(ctx, tip); err != nil {
			n.logger.WithError(err).Error("failed to cache chain tip")
		}
		if _, err := n.stores.Cache.IncrementCounter(ctx, redisstore.CounterBlocksAccepted, counterTTL); err != nil {
			n.logger.WithError(err).Error("failed to bump block counter")
		}
	}

	if n.stores.Influx != nil {
		n.stores.Influx.WriteBlockMetric(head.Height(), hash.String(), head.Diff, len(head.Txs), minedHere)
	}

	if n.stores.Kafka != nil {
		event := &messaging.BlockEvent{
			BlockHash:  hash.String(),
			PrevHash:   head.PrevHash.String(),
			Height:     head.Height(),
			Difficulty: head.Diff,
			Nonce:      head.Nonce,
			Timestamp:  head.Timestamp,
			TxCount:    len(head.Txs),
			MinedHere:  minedHere,
			ObservedAt: time.Now(),
		}
		topic := messaging.TopicBlocks
		if minedHere {
			topic = messaging.TopicMined
		}
		if err := n.stores.Kafka.PublishEvent(ctx, topic, hash.String(), event); err != nil {
			n.logger.WithError(err).Error("failed to publish block event")
		}
	}
}

// onNewTx runs on every mempool admission
func (n *Node) onNewTx(tx *protocol.Transaction) {
	txid := tx.TxID()

	if n.relay != nil {
		if err := n.relay.PublishTx(tx); err != nil {
			n.logger.WithError(err).Error("failed to publish transaction")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()

	if n.stores.Cache != nil {
		if _, err := n.stores.Cache.IncrementCounter(ctx, redisstore.CounterTxsAccepted, counterTTL); err != nil {
			n.logger.WithError(err).Error("failed to bump transaction counter")
		}
	}

	if n.stores.Kafka != nil {
		event := &messaging.TxEvent{
			TxID:       txid.String(),
			Inputs:     len(tx.Inputs),
			Outputs:    len(tx.Outputs),
			ObservedAt: time.Now(),
		}
		if err := n.stores.Kafka.PublishEvent(ctx, messaging.TopicTxs, txid.String(), event); err != nil {
			n.logger.WithError(err).Error("failed to publish transaction event")
		}
	}
}

// publishHashrate writes a hashrate sample to every enabled store
func (n *Node) publishHashrate(hashrate float64) {
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()

	if n.stores.Cache != nil {
		if err := n.stores.Cache.SetHashrate(ctx, hashrate, hashrateWindow); err != nil {
			n.logger.WithError(err).Error("failed to cache hashrate")
		}
	}

	if n.stores.Influx != nil {
		n.stores.Influx.WriteHashrateMetric(hashrate)
	}

	if n.stores.Kafka != nil {
		event := &messaging.HashrateEvent{
			Hashrate:  hashrate,
			SampledAt: time.Now(),
		}
		if err := n.stores.Kafka.PublishEvent(ctx, messaging.TopicHashrate, "local", event); err != nil {
			n.logger.WithError(err).Error("failed to publish hashrate event")
		}
	}
}
