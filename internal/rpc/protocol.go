// Package rpc implements the node's local control interface: newline-delimited
// JSON-RPC over TCP, the same framing wallets and scripts already speak.
package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/JohnnyLChang/shitcoin/internal/protocol"
)

// Message represents a JSON-RPC message
type Message struct {
	ID     any    `json:"id"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// RPC error codes
const (
	ErrorOther          = 20
	ErrorNotEnoughFunds = 21
	ErrorRejected       = 22
	ErrorMinerState     = 23
	ErrorInvalidRequest = -32600
	ErrorMethodNotFound = -32601
	ErrorInvalidParams  = -32602
	ErrorParseError     = -32700
)

// Supported methods
const (
	MethodNewAddress = "wallet.newaddress"
	MethodBalance    = "wallet.balance"
	MethodSend       = "wallet.send"
	MethodMinerStart = "miner.start"
	MethodMinerStop  = "miner.stop"
	MethodHashrate   = "miner.hashrate"
	MethodChainInfo  = "chain.info"
	MethodSubmitTx   = "tx.submit"
)

// SendRequest represents wallet.send parameters
type SendRequest struct {
	To     protocol.PubKey
	Amount uint64
	Fee    uint64
}

// ChainInfo represents the chain.info result
type ChainInfo struct {
	Height     int64  `json:"height"`
	BlockHash  string `json:"block_hash"`
	Difficulty uint8  `json:"difficulty"`
	MempoolTxs int    `json:"mempool_txs"`
}

// ParseMessage parses a JSON-RPC message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &msg, nil
}

// MarshalMessage marshals a message to JSON bytes
func MarshalMessage(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// NewResponse creates a new response message
func NewResponse(id any, result any) *Message {
	return &Message{
		ID:     id,
		Result: result,
	}
}

// NewErrorResponse creates a new error response message
func NewErrorResponse(id any, code int, message string) *Message {
	return &Message{
		ID: id,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	}
}

// IsRequest returns true if the message is a request
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.ID != nil
}

// ParseBalanceRequest parses wallet.balance parameters. The address is
// optional; nil means the whole wallet.
func ParseBalanceRequest(params []any) (*protocol.PubKey, error) {
	if len(params) == 0 {
		return nil, nil
	}

	s, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("address must be string")
	}

	addr, err := protocol.PubKeyFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	return &addr, nil
}

// ParseSendRequest parses wallet.send parameters
func ParseSendRequest(params []any) (*SendRequest, error) {
	if len(params) < 3 {
		return nil, fmt.Errorf("insufficient parameters")
	}

	addrStr, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("address must be string")
	}
	addr, err := protocol.PubKeyFromString(addrStr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	amount, err := parseAmount(params[1])
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}

	fee, err := parseAmount(params[2])
	if err != nil {
		return nil, fmt.Errorf("invalid fee: %w", err)
	}

	return &SendRequest{
		To:     addr,
		Amount: amount,
		Fee:    fee,
	}, nil
}

// ParseSubmitTxRequest parses tx.submit parameters
func ParseSubmitTxRequest(params []any) (*protocol.Transaction, error) {
	if len(params) < 1 {
		return nil, fmt.Errorf("insufficient parameters")
	}

	raw, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("transaction must be hex string")
	}

	data, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}

	tx, err := protocol.DeserializeTransaction(protocol.NewSerializationBufferFrom(data))
	if err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}

	return tx, nil
}

// parseAmount accepts the float64 that encoding/json produces for numbers.
// Amounts above 2^53 are not representable and rejected.
func parseAmount(v any) (uint64, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("must be number")
	}
	if f < 0 || f != float64(uint64(f)) {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return uint64(f), nil
}
