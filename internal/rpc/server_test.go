package rpc

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/JohnnyLChang/shitcoin/internal/chain"
	"github.com/JohnnyLChang/shitcoin/internal/mempool"
	"github.com/JohnnyLChang/shitcoin/internal/miner"
	"github.com/JohnnyLChang/shitcoin/internal/wallet"
	"github.com/JohnnyLChang/shitcoin/pkg/log"
)

type serverHarness struct {
	server  *Server
	session *Session
	client  net.Conn
}

func newServerHarness(t *testing.T) *serverHarness {
	t.Helper()
	logger := log.New("test", "dev", "error", "text")

	bc := chain.New(logger)
	mp := mempool.New(bc, logger)
	t.Cleanup(mp.Close)

	w, err := wallet.Open(bc, filepath.Join(t.TempDir(), "wallet"), logger)
	if err != nil {
		t.Fatalf("failed to open wallet: %v", err)
	}

	addrs := w.Addresses()
	mn := miner.New(bc, mp, miner.Config{RewardAddr: addrs[0], BatchSize: 500}, logger)
	t.Cleanup(func() {
		if mn.Running() {
			mn.Stop()
		}
	})

	server := NewServer("127.0.0.1:0", time.Second, time.Second, logger, bc, mp, w, mn)

	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		serverConn.Close()
		clientConn.Close()
	})
	session := NewSession("rpc_test", serverConn, logger, time.Second, time.Second)

	return &serverHarness{server: server, session: session, client: clientConn}
}

// response pops the queued response without running the session loops
func (h *serverHarness) response(t *testing.T) *Message {
	t.Helper()
	select {
	case data := <-h.session.outbound:
		msg, err := ParseMessage(data)
		if err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		return msg
	default:
		t.Fatal("no response queued")
		return nil
	}
}

func (h *serverHarness) request(t *testing.T, method string, params ...any) *Message {
	t.Helper()
	msg := &Message{ID: float64(1), Method: method, Params: params}
	if err := h.server.HandleMessage(context.Background(), h.session, msg); err != nil {
		t.Fatalf("HandleMessage(%s) error = %v", method, err)
	}
	return h.response(t)
}

func TestChainInfo(t *testing.T) {
	h := newServerHarness(t)

	resp := h.request(t, MethodChainInfo)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	info, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type %T", resp.Result)
	}
	if info["height"] != float64(0) {
		t.Errorf("height = %v, want 0", info["height"])
	}
	if info["mempool_txs"] != float64(0) {
		t.Errorf("mempool_txs = %v, want 0", info["mempool_txs"])
	}
}

func TestNewAddress(t *testing.T) {
	h := newServerHarness(t)

	resp := h.request(t, MethodNewAddress)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	addr, ok := resp.Result.(string)
	if !ok || len(addr) != 64 {
		t.Errorf("result = %v, want 64 hex chars", resp.Result)
	}
}

func TestBalanceEmptyWallet(t *testing.T) {
	h := newServerHarness(t)

	resp := h.request(t, MethodBalance)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if resp.Result != float64(0) {
		t.Errorf("balance = %v, want 0", resp.Result)
	}
}

func TestSendWithoutFunds(t *testing.T) {
	h := newServerHarness(t)
	addr := testAddr(t)

	resp := h.request(t, MethodSend, addr.String(), float64(100), float64(10))
	if resp.Error == nil {
		t.Fatal("expected error for empty wallet")
	}
	if resp.Error.Code != ErrorNotEnoughFunds {
		t.Errorf("error code = %d, want %d", resp.Error.Code, ErrorNotEnoughFunds)
	}
}

func TestHashrateWhenIdle(t *testing.T) {
	h := newServerHarness(t)

	resp := h.request(t, MethodHashrate)
	if resp.Error == nil || resp.Error.Code != ErrorMinerState {
		t.Errorf("expected miner state error, got %v", resp.Error)
	}
}

func TestMinerStartStop(t *testing.T) {
	h := newServerHarness(t)

	if resp := h.request(t, MethodMinerStart); resp.Error != nil {
		t.Fatalf("start failed: %v", resp.Error)
	}
	if resp := h.request(t, MethodMinerStart); resp.Error == nil || resp.Error.Code != ErrorMinerState {
		t.Errorf("expected state error on double start, got %v", resp.Error)
	}
	if resp := h.request(t, MethodMinerStop); resp.Error != nil {
		t.Fatalf("stop failed: %v", resp.Error)
	}
	if resp := h.request(t, MethodMinerStop); resp.Error == nil || resp.Error.Code != ErrorMinerState {
		t.Errorf("expected state error on double stop, got %v", resp.Error)
	}
}

func TestUnknownMethod(t *testing.T) {
	h := newServerHarness(t)

	resp := h.request(t, "wallet.burn")
	if resp.Error == nil || resp.Error.Code != ErrorMethodNotFound {
		t.Errorf("expected method not found, got %v", resp.Error)
	}
}

func TestRejectsNonRequest(t *testing.T) {
	h := newServerHarness(t)

	msg := &Message{Method: "chain.info"} // no id
	if err := h.server.HandleMessage(context.Background(), h.session, msg); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	resp := h.response(t)
	if resp.Error == nil || resp.Error.Code != ErrorInvalidRequest {
		t.Errorf("expected invalid request, got %v", resp.Error)
	}
}
