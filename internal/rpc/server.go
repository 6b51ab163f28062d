package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/JohnnyLChang/shitcoin/internal/chain"
	"github.com/JohnnyLChang/shitcoin/internal/mempool"
	"github.com/JohnnyLChang/shitcoin/internal/miner"
	"github.com/JohnnyLChang/shitcoin/internal/protocol"
	"github.com/JohnnyLChang/shitcoin/internal/wallet"
	"github.com/JohnnyLChang/shitcoin/pkg/log"
)

// Server accepts control connections and dispatches requests against the
// node's components
type Server struct {
	addr         string
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       *log.Logger

	bc     *chain.Blockchain
	mp     *mempool.Mempool
	wallet *wallet.Wallet
	miner  *miner.Miner

	listener       net.Listener
	sessionCounter int64

	mu       sync.Mutex
	sessions map[string]*Session

	wg sync.WaitGroup
}

// NewServer creates a new RPC server
func NewServer(addr string, readTimeout, writeTimeout time.Duration, logger *log.Logger, bc *chain.Blockchain, mp *mempool.Mempool, w *wallet.Wallet, mn *miner.Miner) *Server {
	return &Server{
		addr:         addr,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		logger:       logger.WithComponent("rpc"),
		bc:           bc,
		mp:           mp,
		wallet:       w,
		miner:        mn,
		sessions:     make(map[string]*Session),
	}
}

// Start listens for connections and serves them until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.logger.Info("rpc server listening", "addr", s.addr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			s.logger.WithError(err).Error("failed to accept connection")
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

// Shutdown closes the listener and all active sessions
func (s *Server) Shutdown(_ context.Context) error {
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.WithError(err).Error("failed to close listener")
		}
	}

	s.mu.Lock()
	for _, session := range s.sessions {
		session.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	s.mu.Lock()
	s.sessionCounter++
	id := fmt.Sprintf("rpc_%d", s.sessionCounter)
	s.mu.Unlock()

	session := NewSession(id, conn, s.logger, s.readTimeout, s.writeTimeout)

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	}()

	if err := session.Start(ctx, s); err != nil && ctx.Err() == nil {
		s.logger.WithError(err).Error("session failed", "session_id", id)
	}
}

// HandleMessage dispatches a single request
func (s *Server) HandleMessage(_ context.Context, session *Session, msg *Message) error {
	if !msg.IsRequest() {
		return session.SendError(msg.ID, ErrorInvalidRequest, "Invalid request")
	}

	switch msg.Method {
	case MethodNewAddress:
		return s.handleNewAddress(session, msg)
	case MethodBalance:
		return s.handleBalance(session, msg)
	case MethodSend:
		return s.handleSend(session, msg)
	case MethodMinerStart:
		return s.handleMinerStart(session, msg)
	case MethodMinerStop:
		return s.handleMinerStop(session, msg)
	case MethodHashrate:
		return s.handleHashrate(session, msg)
	case MethodChainInfo:
		return s.handleChainInfo(session, msg)
	case MethodSubmitTx:
		return s.handleSubmitTx(session, msg)
	default:
		return session.SendError(msg.ID, ErrorMethodNotFound, fmt.Sprintf("Unknown method: %s", msg.Method))
	}
}

func (s *Server) handleNewAddress(session *Session, msg *Message) error {
	addr, err := s.wallet.NewAddress()
	if err != nil {
		return session.SendError(msg.ID, ErrorOther, err.Error())
	}
	return session.SendResponse(msg.ID, addr.String())
}

func (s *Server) handleBalance(session *Session, msg *Message) error {
	addr, err := ParseBalanceRequest(msg.Params)
	if err != nil {
		return session.SendError(msg.ID, ErrorInvalidParams, err.Error())
	}
	return session.SendResponse(msg.ID, s.wallet.Balance(addr))
}

func (s *Server) handleSend(session *Session, msg *Message) error {
	req, err := ParseSendRequest(msg.Params)
	if err != nil {
		return session.SendError(msg.ID, ErrorInvalidParams, err.Error())
	}

	tx, err := s.wallet.CreateTransaction(map[protocol.PubKey]uint64{req.To: req.Amount}, req.Fee)
	if err != nil {
		if errors.Is(err, wallet.ErrNotEnoughFunds) {
			return session.SendError(msg.ID, ErrorNotEnoughFunds, "Not enough funds")
		}
		return session.SendError(msg.ID, ErrorOther, err.Error())
	}

	if err := s.mp.Add(tx); err != nil {
		return session.SendError(msg.ID, ErrorRejected, err.Error())
	}

	txid := tx.TxID()
	s.logger.Info("transaction sent",
		"txid", txid.String(),
		"amount", req.Amount,
		"fee", req.Fee,
	)
	return session.SendResponse(msg.ID, txid.String())
}

func (s *Server) handleMinerStart(session *Session, msg *Message) error {
	if err := s.miner.Start(); err != nil {
		if errors.Is(err, miner.ErrAlreadyRunning) {
			return session.SendError(msg.ID, ErrorMinerState, "Miner already running")
		}
		return session.SendError(msg.ID, ErrorOther, err.Error())
	}
	return session.SendResponse(msg.ID, true)
}

func (s *Server) handleMinerStop(session *Session, msg *Message) error {
	if err := s.miner.Stop(); err != nil {
		if errors.Is(err, miner.ErrNotRunning) {
			return session.SendError(msg.ID, ErrorMinerState, "Miner not running")
		}
		return session.SendError(msg.ID, ErrorOther, err.Error())
	}
	return session.SendResponse(msg.ID, true)
}

func (s *Server) handleHashrate(session *Session, msg *Message) error {
	hashrate, err := s.miner.Hashrate()
	if err != nil {
		return session.SendError(msg.ID, ErrorMinerState, "Miner not running")
	}
	return session.SendResponse(msg.ID, hashrate)
}

func (s *Server) handleChainInfo(session *Session, msg *Message) error {
	head := s.bc.Head()
	return session.SendResponse(msg.ID, &ChainInfo{
		Height:     head.Height(),
		BlockHash:  head.Hash().String(),
		Difficulty: head.Diff,
		MempoolTxs: s.mp.Len(),
	})
}

func (s *Server) handleSubmitTx(session *Session, msg *Message) error {
	tx, err := ParseSubmitTxRequest(msg.Params)
	if err != nil {
		return session.SendError(msg.ID, ErrorInvalidParams, err.Error())
	}

	if err := s.mp.Add(tx); err != nil {
		return session.SendError(msg.ID, ErrorRejected, err.Error())
	}

	return session.SendResponse(msg.ID, tx.TxID().String())
}
