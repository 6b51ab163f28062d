package chain

import (
	"math"

	"github.com/JohnnyLChang/shitcoin/internal/protocol"
)

// NextDifficulty returns the difficulty required of the block that follows
// the given one. Within a retarget period the difficulty is carried over;
// at a period boundary it is adjusted so the next period takes the intended
// wall clock time.
func NextDifficulty(b *protocol.Block) uint8 {
	if (b.Height()+1)%protocol.DiffPeriodLen != 0 {
		return b.Diff
	}

	first := b
	for i := 0; i < protocol.DiffPeriodLen-2 && first.Parent() != nil; i++ {
		first = first.Parent()
	}
	elapsed := b.Timestamp - first.Timestamp
	if elapsed == 0 {
		// Sub-second blocks at low difficulty.
		elapsed = 1
	}

	periodTarget := protocol.BlockTime.Seconds() * float64(protocol.DiffPeriodLen)
	next := int(math.Log2(math.Pow(2, float64(b.Diff)) * periodTarget / float64(elapsed)))
	if next <= 0 {
		next = 1
	}
	if next > 255 {
		next = 255
	}
	return uint8(next)
}
