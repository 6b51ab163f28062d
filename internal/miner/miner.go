// Package miner searches block header nonces for hashes meeting the chain's
// difficulty. A single worker goroutine grinds batches of hashes over a
// target block assembled from the mempool, retargeting whenever the chain
// head moves or a new transaction arrives.
package miner

import (
	"crypto/rand"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JohnnyLChang/shitcoin/internal/chain"
	"github.com/JohnnyLChang/shitcoin/internal/mempool"
	"github.com/JohnnyLChang/shitcoin/internal/protocol"
	"github.com/JohnnyLChang/shitcoin/pkg/errors"
	"github.com/JohnnyLChang/shitcoin/pkg/log"
)

var (
	// ErrAlreadyRunning is returned by Start when the miner is running.
	ErrAlreadyRunning = stderrors.New("miner is already running")
	// ErrNotRunning is returned by Stop and Hashrate when the miner is idle.
	ErrNotRunning = stderrors.New("miner is not running")
)

const (
	// defaultBatchSize is how many hashes the worker grinds between
	// hashrate updates and stop checks.
	defaultBatchSize = 100000
	// defaultStopTimeout bounds how long Stop waits for the worker.
	defaultStopTimeout = 10 * time.Second
	// localDiffReduction is how many leading zero bits ReduceLocalDiff
	// shaves off the chain difficulty.
	localDiffReduction = 10
)

// Config carries the miner's tunables.
type Config struct {
	// RewardAddr receives block rewards until SetRewardAddress changes it.
	RewardAddr protocol.PubKey
	// ReduceLocalDiff makes the miner accept hashes at a difficulty
	// reduced by ten bits. The blocks are invalid on a real network;
	// useful for testing or a private chain that tolerates them.
	ReduceLocalDiff bool
	// BatchSize overrides the hashes ground per hashrate sample.
	BatchSize int
	// StopTimeout overrides how long Stop waits for the worker to exit.
	StopTimeout time.Duration
}

// signals groups the per-run flags handed to a worker. Each Start creates a
// fresh set so a worker from an earlier run can never be revived by flags
// cleared for a later one.
type signals struct {
	stop     atomic.Bool
	retarget atomic.Bool
	wake     chan struct{}
	done     chan struct{}
}

func (s *signals) wakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Miner drives the proof-of-work search. Safe for concurrent use.
type Miner struct {
	bc     *chain.Blockchain
	mp     *mempool.Mempool
	logger *log.Logger

	batchSize   int
	stopTimeout time.Duration

	mu              sync.Mutex
	rewardAddr      protocol.PubKey
	reduceLocalDiff bool
	target          *protocol.Block
	mined           *protocol.Block
	hashrate        float64
	run             *signals

	headSub *chain.Subscription
	txSub   *mempool.Subscription
}

// New creates a miner on top of the given chain and mempool.
func New(bc *chain.Blockchain, mp *mempool.Mempool, cfg Config, logger *log.Logger) *Miner {
	m := &Miner{
		bc:              bc,
		mp:              mp,
		logger:          logger.WithComponent("miner"),
		batchSize:       cfg.BatchSize,
		stopTimeout:     cfg.StopTimeout,
		rewardAddr:      cfg.RewardAddr,
		reduceLocalDiff: cfg.ReduceLocalDiff,
	}
	if m.batchSize <= 0 {
		m.batchSize = defaultBatchSize
	}
	if m.stopTimeout <= 0 {
		m.stopTimeout = defaultStopTimeout
	}
	return m
}

// SetRewardAddress changes where future candidate blocks pay the reward.
// Takes effect at the next retarget.
func (m *Miner) SetRewardAddress(addr protocol.PubKey) {
	m.mu.Lock()
	m.rewardAddr = addr
	m.mu.Unlock()
}

// AddTransaction submits a transaction to the mempool. An accepted
// transaction triggers a retarget through the mempool subscription.
func (m *Miner) AddTransaction(tx *protocol.Transaction) error {
	return m.mp.Add(tx)
}

// Running reports whether a worker is active.
func (m *Miner) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run != nil
}

// Start launches the mining worker. It subscribes to chain and mempool
// updates and assembles an initial target before the worker begins.
func (m *Miner) Start() error {
	m.mu.Lock()
	if m.run != nil {
		m.mu.Unlock()
		return errors.Wrap(ErrAlreadyRunning, errors.ErrorTypeMining, "start_mining",
			"start requested while running")
	}
	run := &signals{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	// m.mined is left alone so a block found before a stop can still be
	// collected after a restart.
	m.run = run
	m.hashrate = 0
	m.headSub = m.bc.SubscribeHeadChange(func(*protocol.Block) { m.Retarget() })
	m.txSub = m.mp.SubscribeNewTx(func(*protocol.Transaction) { m.Retarget() })
	m.mu.Unlock()

	m.logger.Info("starting miner worker")
	m.Retarget()
	go m.mine(run)
	return nil
}

// Stop halts the mining worker and detaches the subscriptions. It waits a
// bounded time for the worker to exit; a worker that overruns the timeout is
// abandoned and logged, not killed.
func (m *Miner) Stop() error {
	m.mu.Lock()
	run := m.run
	if run == nil {
		m.mu.Unlock()
		return errors.Wrap(ErrNotRunning, errors.ErrorTypeMining, "stop_mining",
			"stop requested while idle")
	}
	m.run = nil
	m.target = nil
	headSub, txSub := m.headSub, m.txSub
	m.headSub, m.txSub = nil, nil
	m.mu.Unlock()

	m.logger.Info("stopping miner worker")
	headSub.Cancel()
	txSub.Cancel()

	run.stop.Store(true)
	run.wakeUp()

	select {
	case <-run.done:
	case <-time.After(m.stopTimeout):
		m.logger.Error("miner worker still running after stop timeout, giving up",
			"timeout", m.stopTimeout.String())
	}
	return nil
}

// Hashrate returns the hashes per second measured over the worker's last
// batch. Zero until the first batch completes.
func (m *Miner) Hashrate() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run == nil {
		return 0, errors.Wrap(ErrNotRunning, errors.ErrorTypeMining, "get_hashrate",
			"hashrate requested while idle")
	}
	return m.hashrate, nil
}

// TakeMinedBlock returns the most recently found block and clears it, or nil
// when nothing was found since the last call.
func (m *Miner) TakeMinedBlock() *protocol.Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	blk := m.mined
	m.mined = nil
	return blk
}

// Retarget assembles a fresh candidate block from the current chain head and
// mempool and hands it to the worker. A no-op while the miner is idle.
func (m *Miner) Retarget() {
	m.mu.Lock()
	run := m.run
	addr := m.rewardAddr
	m.mu.Unlock()
	if run == nil {
		return
	}

	blk := m.buildCandidate(addr)

	m.mu.Lock()
	// A concurrent Stop/Start may have swapped the run out underneath us;
	// only the run this retarget was built for gets the target.
	if m.run == run {
		m.target = blk
		run.retarget.Store(true)
		run.wakeUp()
	}
	m.mu.Unlock()

	m.logger.LogRetarget(blk.Height(), blk.Diff, len(blk.Txs))
}

// buildCandidate builds the next block on the current head: every pooled
// transaction plus a coinbase paying the subsidy and the pooled fees.
func (m *Miner) buildCandidate(addr protocol.PubKey) *protocol.Block {
	head := m.bc.Head()
	txs, fees := m.mp.Snapshot()

	blk := &protocol.Block{
		PrevHash:  head.Hash(),
		Timestamp: protocol.TimestampNow(),
		Diff:      chain.NextDifficulty(head),
	}
	blk.SetParent(head)

	reward := protocol.BlockReward(blk.Height()) + fees
	blk.Txs = append(txs, protocol.NewCoinbase(reward, addr))
	blk.UpdateMerkleRoot()
	return blk
}

// mine is the worker loop. It waits for a target, then grinds nonce batches
// until the target is replaced, a block is found, or the run is stopped. The
// nonce continues across retargets so no search space is revisited.
func (m *Miner) mine(run *signals) {
	defer close(run.done)
	m.logger.Info("miner worker started")

	nonce := seedNonce()

	for {
		// Wait for a target.
		var target *protocol.Block
		for target == nil {
			m.mu.Lock()
			target = m.target
			run.retarget.Store(false)
			m.mu.Unlock()
			if run.stop.Load() {
				return
			}
			if target == nil {
				<-run.wake
			}
		}

		prefix := target.HeaderPrefix()
		diff := target.Diff
		m.mu.Lock()
		reduce := m.reduceLocalDiff
		m.mu.Unlock()
		if reduce {
			if diff > localDiffReduction {
				diff -= localDiffReduction
			} else {
				diff = 1
			}
		}
		m.logger.Debug("new mining target",
			"block_height", target.Height(), "difficulty", diff)

		header := make([]byte, len(prefix)+8)
		copy(header, prefix)

		for !run.retarget.Load() {
			start := time.Now()
			startNonce := nonce

			for i := 0; i < m.batchSize; i++ {
				binary.BigEndian.PutUint64(header[len(prefix):], nonce)
				h := protocol.Hash256(header)
				if protocol.HashMeetsDifficulty(h, diff) {
					target.Nonce = nonce
					m.logger.LogBlockFound(h.String(), target.Height(), nonce, diff)
					m.mu.Lock()
					m.mined = target
					m.target = nil
					m.mu.Unlock()
					run.retarget.Store(true)
					nonce++
					break
				}
				nonce++
			}

			rate := float64(nonce-startNonce) / time.Since(start).Seconds()
			m.mu.Lock()
			m.hashrate = rate
			m.mu.Unlock()

			if run.stop.Load() {
				return
			}
		}
	}
}

// seedNonce draws a random 32-bit starting point so parallel miners spread
// over the nonce space.
func seedNonce() uint64 {
	var seed [4]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic(fmt.Sprintf("miner: reading nonce seed: %v", err))
	}
	return uint64(binary.BigEndian.Uint32(seed[:]))
}
