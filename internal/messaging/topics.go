package messaging

// Topic constants for the node event stream
const (
	// Chain topics
	TopicBlocks = "shitcoin.blocks" // accepted blocks, including reorgs
	TopicMined  = "shitcoin.mined"  // blocks this node mined itself
	TopicTxs    = "shitcoin.txs"    // transactions accepted into the mempool

	// Monitoring topics
	TopicHashrate = "shitcoin.hashrate" // periodic local miner hashrate samples
)
