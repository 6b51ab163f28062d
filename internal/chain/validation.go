package chain

import (
	"sort"
	"time"

	"github.com/JohnnyLChang/shitcoin/internal/protocol"
	"github.com/JohnnyLChang/shitcoin/pkg/errors"
)

// maxFutureDrift is how far a block timestamp may run ahead of local time.
const maxFutureDrift = 2 * time.Hour

// timestampWindow is how many ancestor timestamps feed the median check.
const timestampWindow = 10

// ValidateHeader checks a block header against its parent: the parent link,
// the timestamp bounds, the required difficulty and the proof of work. The
// block must have its parent set.
func ValidateHeader(blk *protocol.Block) error {
	parent := blk.Parent()
	if parent == nil {
		return errors.New(errors.ErrorTypeValidation, "validate_header", "block has no parent")
	}
	if blk.PrevHash != parent.Hash() {
		return errors.New(errors.ErrorTypeValidation, "validate_header",
			"prev hash does not match parent")
	}

	if blk.Timestamp > uint64(time.Now().Add(maxFutureDrift).Unix()) {
		return errors.New(errors.ErrorTypeValidation, "validate_header",
			"block timestamp too far in the future")
	}
	if blk.Timestamp < medianAncestorTime(parent) {
		return errors.New(errors.ErrorTypeValidation, "validate_header",
			"block timestamp below ancestor median")
	}

	if blk.Diff != NextDifficulty(parent) {
		return errors.New(errors.ErrorTypeValidation, "validate_header",
			"wrong difficulty").
			WithContext("got", int(blk.Diff)).
			WithContext("want", int(NextDifficulty(parent)))
	}

	if !protocol.HashMeetsDifficulty(blk.Hash(), blk.Diff) {
		return errors.New(errors.ErrorTypeValidation, "validate_header",
			"insufficient proof of work")
	}
	return nil
}

// medianAncestorTime returns the median timestamp of the last
// timestampWindow blocks ending at b. Short chains repeat the genesis
// timestamp to fill the window.
func medianAncestorTime(b *protocol.Block) uint64 {
	stamps := make([]uint64, 0, timestampWindow)
	cur := b
	for i := 0; i < timestampWindow; i++ {
		stamps = append(stamps, cur.Timestamp)
		if cur.Parent() != nil {
			cur = cur.Parent()
		}
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })
	mid := len(stamps) / 2
	if len(stamps)%2 == 0 {
		return (stamps[mid-1] + stamps[mid]) / 2
	}
	return stamps[mid]
}

// validateBlock runs the full block check: header, merkle root, transactions
// against a throwaway copy of the UTXO set positioned at the block's parent,
// and the subsidy cap. utxos must be positioned at head.
func validateBlock(blk *protocol.Block, utxos *UTXOSet, head *protocol.Block) error {
	if err := ValidateHeader(blk); err != nil {
		return err
	}

	leaves := make([][]byte, len(blk.Txs))
	for i, tx := range blk.Txs {
		leaves[i] = tx.Bytes()
	}
	if blk.MerkleRoot != protocol.MerkleRoot(leaves) {
		return errors.New(errors.ErrorTypeValidation, "validate_block",
			"merkle root does not match transactions")
	}

	temp := utxos.Copy()
	if err := temp.MoveOnChain(head, blk.Parent()); err != nil {
		return err
	}
	created, err := temp.ApplyBlock(blk, true)
	if err != nil {
		return err
	}
	if created > int64(protocol.BlockReward(blk.Height())) {
		return errors.New(errors.ErrorTypeValidation, "validate_block",
			"block creates too much money").
			WithContext("created", created).
			WithContext("subsidy", protocol.BlockReward(blk.Height()))
	}
	return nil
}
