package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/gaoyang-zhang/mindspore-federated/shared/middleware"
	"github.com/gaoyang-zhang/mindspore-federated/shared/worker_builder"
	"github.com/gaoyang-zhang/mindspore-federated/workers/datajoin/worker"
)

const componentName = "Data Join"

func main() {
	middleware.InitLogger()

	config, err := loadConfig()
	if err != nil {
		middleware.LogError(componentName, "Failed to load configuration: %v", err)
		os.Exit(1)
	}

	if err := run(config); err != nil {
		middleware.LogError(componentName, "%v", err)
		os.Exit(1)
	}
}

func run(config *Config) error {
	var current atomic.Pointer[worker.DataWorker]
	status := func() string {
		if w := current.Load(); w != nil {
			return w.Phase()
		}
		return "starting"
	}

	builder := worker_builder.NewWorkerBuilder(componentName)
	switch config.Transport {
	case TransportAMQP:
		builder.WithAMQPTransport(config.amqpConfig())
	default:
		tcpConfig, err := config.tcpConfig()
		if err != nil {
			return fmt.Errorf("failed to load TLS material: %w", err)
		}
		builder.WithTCPTransport(tcpConfig)
	}
	if config.HealthPort != "" {
		builder.WithHealthServer(config.HealthPort, status)
	}

	resources, err := builder.Build()
	if err != nil {
		return err
	}
	defer resources.Close()

	w, err := worker.New(config.workerOptions(), resources.Transport)
	if err != nil {
		return err
	}
	current.Store(w)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	middleware.LogInfo(componentName, "%s %s joining with %s over %s",
		config.Role, config.ServerName, config.RemoteServerName, config.Transport)

	report, err := w.DoWorker(ctx)
	if report != nil {
		for _, failure := range report.FailedBuckets {
			middleware.LogWarn(componentName, "bucket %d failed: %v", failure.BucketID, failure.Err)
		}
	}
	if err != nil {
		var empty *worker.EmptyJoinResultError
		if errors.As(err, &empty) {
			return fmt.Errorf("join produced no output: %w", err)
		}
		return fmt.Errorf("data join failed: %w", err)
	}

	middleware.LogSuccess("%s exported %d records into %d files", config.ServerName, report.ExportedRecords, len(report.Files))
	return nil
}
