// Package main implements shitcoind, the full node daemon. It runs the
// blockchain, mempool, miner, wallet and gossip relay in one process and
// exposes a JSON-RPC control port.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JohnnyLChang/shitcoin/internal/chain"
	"github.com/JohnnyLChang/shitcoin/internal/config"
	"github.com/JohnnyLChang/shitcoin/internal/mempool"
	"github.com/JohnnyLChang/shitcoin/internal/messaging"
	"github.com/JohnnyLChang/shitcoin/internal/metrics"
	"github.com/JohnnyLChang/shitcoin/internal/miner"
	"github.com/JohnnyLChang/shitcoin/internal/node"
	"github.com/JohnnyLChang/shitcoin/internal/p2p"
	"github.com/JohnnyLChang/shitcoin/internal/rpc"
	"github.com/JohnnyLChang/shitcoin/internal/storage/postgres"
	redisstore "github.com/JohnnyLChang/shitcoin/internal/storage/redis"
	"github.com/JohnnyLChang/shitcoin/internal/wallet"
	"github.com/JohnnyLChang/shitcoin/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting shitcoind",
		"version", cfg.Version,
		"p2p_publish_addr", cfg.P2PPublishAddr,
		"peers", len(cfg.P2PPeers),
		"mining_enabled", cfg.MiningEnabled,
	)

	// Core components
	bc := chain.New(logger)
	mp := mempool.New(bc, logger)

	w, err := wallet.Open(bc, cfg.WalletPath, logger)
	if err != nil {
		logger.WithError(err).Error("failed to open wallet")
		os.Exit(1)
	}
	rewardAddr := w.Addresses()[0]

	mn := miner.New(bc, mp, miner.Config{
		RewardAddr:      rewardAddr,
		ReduceLocalDiff: cfg.ReduceLocalDiff,
		BatchSize:       cfg.MinerBatchSize,
		StopTimeout:     cfg.MinerStopWait,
	}, logger)

	// Gossip relay
	relay, err := p2p.NewRelay(cfg.P2PPublishAddr, cfg.P2PPeers, logger)
	if err != nil {
		logger.WithError(err).Error("failed to create relay")
		os.Exit(1)
	}
	if err := relay.Start(); err != nil {
		logger.WithError(err).Error("failed to start relay")
		os.Exit(1)
	}
	defer relay.Close()

	// Optional side stores
	stores := node.Stores{}

	if cfg.KafkaEnabled {
		kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger.Logger)
		defer kafkaClient.Close()
		stores.Kafka = kafkaClient
		logger.Info("kafka event stream enabled", "brokers", cfg.KafkaBrokers)
	}

	if cfg.PostgresEnabled {
		pgClient, err := postgres.NewClient(&postgres.Config{
			URL:          cfg.PostgresURL,
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			MaxLifetime:  5 * time.Minute,
		})
		if err != nil {
			logger.WithError(err).Error("failed to connect to PostgreSQL")
			os.Exit(1)
		}
		defer pgClient.Close()
		stores.Blocks = postgres.NewBlockRepository(pgClient)

		heightCtx, heightCancel := context.WithTimeout(context.Background(), 5*time.Second)
		height, err := stores.Blocks.BestHeight(heightCtx)
		heightCancel()
		if err != nil {
			logger.WithError(err).Error("failed to read block archive height")
			os.Exit(1)
		}
		logger.Info("block archive enabled", "archived_height", height)
	}

	if cfg.RedisEnabled {
		redisClient, err := redisstore.NewClientFromURL(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Error("failed to connect to Redis")
			os.Exit(1)
		}
		defer redisClient.Close()
		stores.Cache = redisClient

		// The cached tip survives restarts; the chain itself does not, so
		// this only tells the operator where the last run left off.
		tipCtx, tipCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if tip, err := redisClient.GetChainTip(tipCtx); err == nil {
			logger.Info("redis cache enabled",
				"last_tip", tip.BlockHash, "last_height", tip.Height)
		} else {
			logger.Info("redis cache enabled")
		}
		tipCancel()
	}

	if cfg.InfluxEnabled {
		influxClient, err := metrics.NewClient(&metrics.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		if err != nil {
			logger.WithError(err).Error("failed to connect to InfluxDB")
			os.Exit(1)
		}
		defer influxClient.Close()
		stores.Influx = influxClient
		logger.Info("influx metrics enabled")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Node
	n := node.New(cfg, logger, bc, mp, mn, relay, stores)
	if err := n.Start(ctx); err != nil {
		logger.WithError(err).Error("failed to start node")
		os.Exit(1)
	}

	// RPC server
	rpcAddr := fmt.Sprintf("%s:%d", cfg.RPCAddr, cfg.RPCPort)
	rpcServer := rpc.NewServer(rpcAddr, cfg.ReadTimeout, cfg.WriteTimeout, logger, bc, mp, w, mn)
	go func() {
		if err := rpcServer.Start(ctx); err != nil {
			logger.WithError(err).Error("rpc server failed")
			cancel()
		}
	}()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	cancel()

	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("rpc shutdown failed")
	}
	if err := n.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("node shutdown failed")
	}

	if stores.Cache != nil {
		statsCtx, statsCancel := context.WithTimeout(context.Background(), 5*time.Second)
		blocks, _ := stores.Cache.GetCounter(statsCtx, redisstore.CounterBlocksAccepted)
		txs, _ := stores.Cache.GetCounter(statsCtx, redisstore.CounterTxsAccepted)
		hashrate, _ := stores.Cache.GetAverageHashrate(statsCtx, 10*time.Minute)
		statsCancel()
		logger.Info("run summary",
			"blocks_accepted_24h", blocks,
			"txs_accepted_24h", txs,
			"avg_hashrate_10m", hashrate,
		)
	}

	logger.Info("shitcoind stopped")
}
