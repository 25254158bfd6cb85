package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/virtue186/xnode/api"
	"github.com/virtue186/xnode/config"
	"github.com/virtue186/xnode/node"
	"github.com/virtue186/xnode/storage"
	"github.com/virtue186/xnode/storage/badger"
	"github.com/virtue186/xnode/storage/leveldb"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:          "xnode",
	Short:        "A peer-to-peer block chain node",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		logger, err := config.NewLogger(os.Stderr, cfg.LogLevel)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, logger)
	},
}

func init() {
	config.SetDefaults(v)
	if err := config.RegisterFlags(v, rootCmd.Flags()); err != nil {
		panic(err)
	}
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.DB {
	case config.BackendBadger:
		return badger.New(&badger.Config{DataDir: cfg.IndexDir()})
	default:
		if err := os.MkdirAll(cfg.IndexDir(), 0o755); err != nil {
			return nil, err
		}
		return leveldb.New(cfg.IndexDir())
	}
}

func run(ctx context.Context, cfg *config.Config, logger log.Logger) error {
	params := cfg.Params()
	level.Info(logger).Log("msg", "starting xnode", "network", params.Name, "datadir", cfg.DataDir, "db", cfg.DB)

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("open index database: %w", err)
	}
	defer db.Close()

	records, err := storage.OpenRecordStore(storage.RecordStoreOpts{
		Dir:          cfg.BlocksDir(),
		FileCapacity: cfg.RecordCapacity,
		Logger:       log.With(logger, "module", "records"),
	})
	if err != nil {
		return fmt.Errorf("open block records: %w", err)
	}
	defer records.Close()

	n, err := node.NewNode(node.NodeOpts{
		Logger:       logger,
		Magic:        params.Magic,
		ListenAddr:   cfg.ListenAddr(),
		Seeds:        cfg.Peers,
		MaxPeers:     cfg.MaxPeers,
		TxPoolLimit:  cfg.MaxPoolTxs,
		DB:           db,
		Records:      records,
		Genesis:      params.Genesis,
		ExternalAddr: cfg.ExternalAddr(),
		InboundRate:  rate.Limit(cfg.InboundRate),
		BlockTime:    cfg.EffectiveBlockTime(),
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Run(ctx) })
	if cfg.RPC != "" {
		apiServer := api.NewServer(api.ServerOpts{
			ListenAddr: cfg.RPC,
			Logger:     log.With(logger, "module", "api"),
			BlockChain: n.BlockChain(),
			TxPool:     n.TxPool(),
			Peers:      n.Peers(),
			Announcer:  n.BroadcastService(),
		})
		g.Go(func() error { return apiServer.Run(ctx) })
	}
	err = g.Wait()
	level.Info(logger).Log("msg", "xnode stopped", "height", n.BlockChain().BestHeight(), "err", err)
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "xnode: %v\n", err)
		os.Exit(1)
	}
}
