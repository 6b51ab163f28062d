package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// BlockRepository handles block archive operations
type BlockRepository struct {
	client *Client
}

// NewBlockRepository creates a new block repository
func NewBlockRepository(client *Client) *BlockRepository {
	return &BlockRepository{client: client}
}

// Insert archives an accepted block. Re-inserting the same hash is a no-op
// so reorgs that re-announce a block do not fail the pipeline.
func (r *BlockRepository) Insert(ctx context.Context, blk *BlockRow) error {
	query := `
		INSERT INTO blocks (height, hash, prev_hash, merkle_root, timestamp, difficulty, nonce, tx_count, mined_here, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (hash) DO NOTHING
		RETURNING id`

	err := r.client.db.QueryRowContext(ctx, query,
		blk.Height, blk.Hash, blk.PrevHash, blk.MerkleRoot,
		blk.Timestamp, blk.Difficulty, blk.Nonce, blk.TxCount, blk.MinedHere,
	).Scan(&blk.ID)

	if err == sql.ErrNoRows {
		// conflict path, row already archived
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to insert block: %w", err)
	}

	return nil
}

// GetByHash retrieves an archived block by its hash
func (r *BlockRepository) GetByHash(ctx context.Context, hash string) (*BlockRow, error) {
	query := `
		SELECT id, height, hash, prev_hash, merkle_root, timestamp, difficulty, nonce, tx_count, mined_here, created_at
		FROM blocks
		WHERE hash = $1`

	blk := &BlockRow{}
	err := r.client.db.QueryRowContext(ctx, query, hash).Scan(
		&blk.ID, &blk.Height, &blk.Hash, &blk.PrevHash, &blk.MerkleRoot,
		&blk.Timestamp, &blk.Difficulty, &blk.Nonce, &blk.TxCount, &blk.MinedHere,
		&blk.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block: %w", err)
	}

	return blk, nil
}

// GetRecent retrieves the most recently archived blocks up to limit
func (r *BlockRepository) GetRecent(ctx context.Context, limit int) ([]*BlockRow, error) {
	query := `
		SELECT id, height, hash, prev_hash, merkle_root, timestamp, difficulty, nonce, tx_count, mined_here, created_at
		FROM blocks
		ORDER BY height DESC
		LIMIT $1`

	rows, err := r.client.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*BlockRow
	for rows.Next() {
		blk := &BlockRow{}
		err := rows.Scan(
			&blk.ID, &blk.Height, &blk.Hash, &blk.PrevHash, &blk.MerkleRoot,
			&blk.Timestamp, &blk.Difficulty, &blk.Nonce, &blk.TxCount, &blk.MinedHere,
			&blk.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		blocks = append(blocks, blk)
	}

	return blocks, rows.Err()
}

// BestHeight returns the height of the highest archived block, or -1 when empty
func (r *BlockRepository) BestHeight(ctx context.Context) (int64, error) {
	var height sql.NullInt64
	err := r.client.db.QueryRowContext(ctx, `SELECT MAX(height) FROM blocks`).Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("failed to query best height: %w", err)
	}
	if !height.Valid {
		return -1, nil
	}
	return height.Int64, nil
}
