package postgres

import "time"

// BlockRow represents an archived block in the database
type BlockRow struct {
	ID         int64     `db:"id"`
	Height     int64     `db:"height"`
	Hash       string    `db:"hash"`
	PrevHash   string    `db:"prev_hash"`
	MerkleRoot string    `db:"merkle_root"`
	Timestamp  int64     `db:"timestamp"`
	Difficulty int16     `db:"difficulty"`
	Nonce      int64     `db:"nonce"`
	TxCount    int       `db:"tx_count"`
	MinedHere  bool      `db:"mined_here"`
	CreatedAt  time.Time `db:"created_at"`
}
