package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"bookspace/internal/util"
	"bookspace/pkg/kv"
	"bookspace/services/bookspace/internal/app"
	"bookspace/services/bookspace/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "bookspace",
		Short:         "Browse the book catalog and manage a personal reading library",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default $BOOKSPACE_CONFIG or config.yaml)")

	load := func() (config.FileConfig, error) {
		path := strings.TrimSpace(configPath)
		if path == "" {
			path = strings.TrimSpace(os.Getenv("BOOKSPACE_CONFIG"))
		}
		cfg, err := config.Load(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		util.InitLogger(cfg.LogLevel)
		return cfg, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newSearchCmd(load),
		newPopularCmd(load),
		newLibraryCmd(load),
	)
	return root
}

type configLoader func() (config.FileConfig, error)

func newApp(ctx context.Context, cfg config.FileConfig) (*app.App, error) {
	timeout, err := cfg.CatalogTimeoutDuration()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, app.Config{
		CatalogBaseURL:       cfg.CatalogBaseURL,
		CatalogAPIKey:        cfg.CatalogAPIKey,
		CatalogTimeout:       timeout,
		CatalogRatePerSecond: cfg.CatalogRatePerSecond,
		CatalogProxy:         cfg.CatalogProxy,
		UserAgent:            cfg.UserAgent,
		Storage: kv.Config{
			Driver:        cfg.StorageDriver,
			Path:          cfg.StoragePath,
			DatabaseURL:   cfg.DatabaseURL,
			RedisAddr:     cfg.RedisAddr,
			RedisPassword: cfg.RedisPassword,
			RedisPrefix:   cfg.RedisPrefix,
			Minio: kv.MinioConfig{
				Endpoint:  cfg.MinioEndpoint,
				AccessKey: cfg.MinioAccessKey,
				SecretKey: cfg.MinioSecretKey,
				Bucket:    cfg.MinioBucket,
				UseSSL:    cfg.MinioUseSSL,
			},
		},
		AMQPURL:           cfg.AMQPURL,
		AMQPExchange:      cfg.AMQPExchange,
		RedisAddr:         cfg.RedisAddr,
		RedisPassword:     cfg.RedisPassword,
		EventStream:       cfg.EventStream,
		EventStreamMaxLen: cfg.EventStreamMaxLen,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init app: %w", err)
	}
	return a, nil
}
