package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	cmdconfig "dagmesh/cmd/config"
	"dagmesh/core"
	"dagmesh/pkg/config"
	"dagmesh/transport/memory"
)

func main() {
	rootCmd := &cobra.Command{Use: "dagmeshd"}
	rootCmd.PersistentFlags().String("env", "", "configuration environment to merge over default.yaml")
	rootCmd.AddCommand(nodeCmd())
	rootCmd.AddCommand(addCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "node"}
	start := &cobra.Command{
		Use:   "start",
		Short: "start a single in-process demo node over the memory transport",
		Run: func(cmd *cobra.Command, args []string) {
			env, _ := cmd.Flags().GetString("env")
			seedsPath, _ := cmd.Flags().GetString("seeds")
			cmdconfig.LoadConfig(env)
			cfg := cmdconfig.AppConfig

			logger := logrus.StandardLogger()
			lvl, err := logrus.ParseLevel(cfg.Logging.Level)
			if err != nil {
				lvl = logrus.InfoLevel
			}
			logger.SetLevel(lvl)

			net := memory.NewNetwork()
			tr := net.NewTransport(cfg.Transport.ListenAddr, "dagmeshd")

			pmCfg := core.PeerManagerConfig{
				AutoConnect:          cfg.PeerManager.AutoConnect,
				MaxConnections:       cfg.PeerManager.MaxConnections,
				HandshakeTimeout:     cfg.PeerManager.HandshakeTimeout,
				DiscoveryInterval:    cfg.PeerManager.DiscoveryInterval,
				HealthCheckInterval:  cfg.PeerManager.HealthCheckInterval,
				ReconnectDelay:       cfg.PeerManager.ReconnectDelay,
				MaxReconnectAttempts: cfg.PeerManager.MaxReconnectAttempts,
			}
			peerID := core.NewPeerID()
			pm := core.NewPeerManager(tr, peerID, nil, pmCfg, logger)

			store := core.NewMemStore()
			dag := core.NewDAG()
			syncCfg := core.SynchronizerConfig{
				AnnounceNewBlocks:     cfg.Synchronizer.AnnounceNewBlocks,
				AutoRequestMissing:    cfg.Synchronizer.AutoRequestMissing,
				MaxConcurrentRequests: cfg.Synchronizer.MaxConcurrentRequests,
			}
			syncer := core.NewSynchronizer(store, dag, pm, syncCfg, logger)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if err := pm.Initialize(ctx); err != nil {
				logger.WithError(err).Fatal("peer manager initialize failed")
			}
			if err := syncer.Initialize(ctx); err != nil {
				logger.WithError(err).Fatal("synchronizer initialize failed")
			}
			defer pm.Shutdown(ctx)
			defer syncer.Dispose()

			if seedsPath != "" {
				seeds, err := config.LoadSeedPeers(seedsPath)
				if err != nil {
					logger.WithError(err).Warn("failed to load seed peers")
				}
				for _, seed := range seeds {
					device := core.TransportDevice{Address: seed.Address, DisplayName: seed.DisplayName}
					if err := pm.Connect(ctx, device); err != nil {
						logger.WithError(err).WithField("seed", seed.Address).Warn("seed connect failed")
					}
				}
			}

			logger.WithFields(logrus.Fields{"address": cfg.Transport.ListenAddr, "peer_id": peerID}).Info("node started")
			<-ctx.Done()
		},
	}
	start.Flags().String("seeds", "", "path to a YAML file of seed peers to connect to at startup")
	cmd.AddCommand(start)
	return cmd
}

func addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add [data]",
		Short: "print the CID a raw block of data would be addressed by",
		Run: func(cmd *cobra.Command, args []string) {
			data := "hello dagmesh"
			if len(args) > 0 {
				data = args[0]
			}
			block := core.NewBlockFromData([]byte(data))
			fmt.Printf("%s (%d bytes)\n", block.CID().String(), block.Size())
		},
	}
}
