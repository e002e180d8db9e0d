package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docvault/storagenode/pkg/api"
	"github.com/docvault/storagenode/pkg/config"
	"github.com/docvault/storagenode/pkg/log"
	"github.com/docvault/storagenode/pkg/node"
	"github.com/docvault/storagenode/pkg/rollup"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the storage node",
	Long: `Start opens the node's on-disk stores, launches the block producer,
subscription hub, and (if an archive is configured) the rollup
executor, then serves the HTTP+JSON RPC surface and a gRPC health
endpoint until interrupted.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().String("config", "", "Path to a YAML node configuration file (required)")
	_ = startCmd.MarkFlagRequired("config")
}

func runStart(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %v", err)
	}

	log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("cmd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var archive rollup.ArchiveClient
	if cfg.Node.ArchiveEndpoint != "" && cfg.Node.ArchiveBucket != "" {
		s3Archive, err := rollup.NewS3Archive(ctx, cfg.Node.ArchiveEndpoint, cfg.Node.ArchiveBucket)
		if err != nil {
			return fmt.Errorf("create archive client: %v", err)
		}
		archive = s3Archive
		logger.Info().Str("bucket", cfg.Node.ArchiveBucket).Msg("rollup archive configured")
	} else {
		logger.Warn().Msg("no archive configured, rollup executor disabled")
	}

	n, err := node.New(ctx, cfg.Node, archive)
	if err != nil {
		return fmt.Errorf("create node: %v", err)
	}
	n.Start()
	logger.Info().Msg("node started")

	apiServer := api.NewServer(n)
	httpErrCh := make(chan error, 1)
	go func() {
		if err := apiServer.ListenAndServe(cfg.ListenHTTP); err != nil {
			httpErrCh <- err
		}
	}()
	logger.Info().Str("addr", cfg.ListenHTTP).Msg("http rpc listening")

	grpcServer := api.NewGRPCServer(api.AdminOnlyInterceptor())
	grpcLis, err := net.Listen("tcp", cfg.ListenGRPC)
	if err != nil {
		return fmt.Errorf("listen grpc: %v", err)
	}
	grpcServer.SetServing(true)
	grpcErrCh := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(grpcLis); err != nil {
			grpcErrCh <- err
		}
	}()
	logger.Info().Str("addr", cfg.ListenGRPC).Msg("grpc health listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-httpErrCh:
		logger.Error().Err(err).Msg("http server error")
	case err := <-grpcErrCh:
		logger.Error().Err(err).Msg("grpc server error")
	}

	grpcServer.SetServing(false)
	grpcServer.Stop()
	if err := n.Stop(); err != nil {
		return fmt.Errorf("shutdown: %v", err)
	}
	logger.Info().Msg("shutdown complete")
	return nil
}
