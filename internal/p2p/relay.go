// Package p2p relays blocks and transactions between nodes over ZeroMQ.
// Each node binds a PUB socket and subscribes to its peers' PUB sockets, so
// gossip is a single hop: whatever a node accepts it republishes.
package p2p

import (
	"context"

	zmq "github.com/pebbe/zmq4"

	"github.com/JohnnyLChang/shitcoin/internal/protocol"
	"github.com/JohnnyLChang/shitcoin/pkg/errors"
	"github.com/JohnnyLChang/shitcoin/pkg/log"
)

// Wire topics. Every message is a two-frame envelope: topic, payload.
const (
	TopicBlock    = "blk"
	TopicTx       = "txn"
	TopicBlockReq = "req"
)

// Handler receives deserialized gossip from peers.
type Handler interface {
	HandleBlock(blk *protocol.Block)
	HandleTx(tx *protocol.Transaction)
	HandleBlockRequest(hash protocol.Hash)
}

// Relay is the node's gossip endpoint. Safe for concurrent publishing.
type Relay struct {
	pub      *zmq.Socket
	sub      *zmq.Socket
	bindAddr string
	peers    []string
	logger   *log.Logger
}

// NewRelay creates the PUB and SUB sockets. Call Start to bind and connect.
func NewRelay(bindAddr string, peers []string, logger *log.Logger) (*Relay, error) {
	pub, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "p2p_new", "creating PUB socket")
	}
	sub, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		pub.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "p2p_new", "creating SUB socket")
	}
	return &Relay{
		pub:      pub,
		sub:      sub,
		bindAddr: bindAddr,
		peers:    peers,
		logger:   logger.WithComponent("p2p"),
	}, nil
}

// Start binds the PUB socket and connects to every configured peer.
func (r *Relay) Start() error {
	if err := r.pub.Bind(r.bindAddr); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "p2p_start",
			"binding publish socket").WithContext("addr", r.bindAddr)
	}
	r.logger.LogConnection("publish socket bound", r.bindAddr)

	for _, topic := range []string{TopicBlock, TopicTx, TopicBlockReq} {
		if err := r.sub.SetSubscribe(topic); err != nil {
			return errors.Wrap(err, errors.ErrorTypeNetwork, "p2p_start",
				"subscribing to topic").WithContext("topic", topic)
		}
	}
	for _, peer := range r.peers {
		if err := r.sub.Connect(peer); err != nil {
			return errors.Wrap(err, errors.ErrorTypeNetwork, "p2p_start",
				"connecting to peer").WithContext("peer", peer)
		}
		r.logger.LogConnection("connected to peer", peer)
	}
	return nil
}

// PublishBlock gossips a block to all peers.
func (r *Relay) PublishBlock(blk *protocol.Block) error {
	return r.publish(TopicBlock, blk.Bytes())
}

// PublishTx gossips a transaction to all peers.
func (r *Relay) PublishTx(tx *protocol.Transaction) error {
	return r.publish(TopicTx, tx.Bytes())
}

// RequestBlock asks peers to republish the block with the given hash. Peers
// that have it answer on the block topic.
func (r *Relay) RequestBlock(hash protocol.Hash) error {
	return r.publish(TopicBlockReq, hash[:])
}

func (r *Relay) publish(topic string, payload []byte) error {
	if _, err := r.pub.SendMessage(topic, payload); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "p2p_publish",
			"sending message").WithContext("topic", topic)
	}
	return nil
}

// Listen receives peer gossip until the context is cancelled. Malformed
// messages are logged and dropped; the loop only stops with the context.
func (r *Relay) Listen(ctx context.Context, handler Handler) error {
	r.logger.Info("starting p2p listener")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("p2p listener stopping")
			return ctx.Err()
		default:
		}

		msg, err := r.sub.RecvMessageBytes(zmq.DONTWAIT)
		if err != nil {
			if err.Error() == "resource temporarily unavailable" {
				// No message pending.
				continue
			}
			r.logger.WithError(err).Error("failed to receive p2p message")
			continue
		}
		if len(msg) < 2 {
			r.logger.Warn("received malformed p2p message", "parts", len(msg))
			continue
		}

		dispatch(string(msg[0]), msg[1], handler, r.logger)
	}
}

// dispatch decodes one envelope and hands it to the handler.
func dispatch(topic string, payload []byte, handler Handler, logger *log.Logger) {
	switch topic {
	case TopicBlock:
		blk, err := protocol.DeserializeBlock(protocol.NewSerializationBufferFrom(payload))
		if err != nil {
			logger.WithError(err).Warn("dropping undecodable block gossip")
			return
		}
		logger.Debug("received block gossip", "block_hash", blk.Hash().String())
		handler.HandleBlock(blk)

	case TopicTx:
		tx, err := protocol.DeserializeTransaction(protocol.NewSerializationBufferFrom(payload))
		if err != nil {
			logger.WithError(err).Warn("dropping undecodable transaction gossip")
			return
		}
		logger.Debug("received transaction gossip", "txid", tx.TxID().String())
		handler.HandleTx(tx)

	case TopicBlockReq:
		if len(payload) != protocol.HashLen {
			logger.Warn("dropping malformed block request", "len", len(payload))
			return
		}
		var hash protocol.Hash
		copy(hash[:], payload)
		logger.Debug("received block request", "block_hash", hash.String())
		handler.HandleBlockRequest(hash)

	default:
		logger.Warn("unknown p2p topic", "topic", topic)
	}
}

// Close tears down both sockets.
func (r *Relay) Close() error {
	var first error
	if err := r.pub.Close(); err != nil {
		first = err
	}
	if err := r.sub.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
