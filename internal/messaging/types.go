package messaging

import "time"

// BlockEvent describes a block accepted onto the chain
type BlockEvent struct {
	BlockHash  string    `json:"block_hash"`
	PrevHash   string    `json:"prev_hash"`
	Height     int64     `json:"height"`
	Difficulty uint8     `json:"difficulty"`
	Nonce      uint64    `json:"nonce"`
	Timestamp  uint64    `json:"timestamp"`
	TxCount    int       `json:"tx_count"`
	MinedHere  bool      `json:"mined_here"`
	ObservedAt time.Time `json:"observed_at"`
}

// TxEvent describes a transaction accepted into the mempool
type TxEvent struct {
	TxID       string    `json:"txid"`
	Inputs     int       `json:"inputs"`
	Outputs    int       `json:"outputs"`
	ObservedAt time.Time `json:"observed_at"`
}

// HashrateEvent is a periodic sample of the local miner's hashrate
type HashrateEvent struct {
	Hashrate  float64   `json:"hashrate"`
	SampledAt time.Time `json:"sampled_at"`
}
