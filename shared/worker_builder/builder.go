package worker_builder

import (
	"fmt"

	"github.com/gaoyang-zhang/mindspore-federated/shared/health_server"
	"github.com/gaoyang-zhang/mindspore-federated/shared/middleware"
	"github.com/gaoyang-zhang/mindspore-federated/shared/transport"
)

// WorkerBuilder assembles the long-lived resources of a worker process.
// Errors are accumulated and reported by Build, which releases everything on failure.
type WorkerBuilder struct {
	workerName      string
	resourceTracker *ResourceTracker
	errors          []error

	transport    transport.Transport
	healthServer *health_server.HealthServer
}

// NewWorkerBuilder creates a new worker builder
func NewWorkerBuilder(workerName string) *WorkerBuilder {
	return &WorkerBuilder{
		workerName:      workerName,
		resourceTracker: NewResourceTracker(),
		errors:          make([]error, 0),
	}
}

// WithTCPTransport opens a TCP transport, optionally secured with mutual TLS
func (wb *WorkerBuilder) WithTCPTransport(config transport.TCPConfig) *WorkerBuilder {
	if wb.transport != nil {
		wb.addError(fmt.Errorf("transport already configured"))
		return wb
	}

	tcp, err := transport.NewTCPTransport(config)
	if err != nil {
		wb.addError(fmt.Errorf("failed to create TCP transport: %w", err))
		return wb
	}
	wb.withTransport("tcp", tcp)
	return wb
}

// WithTransport registers an already created transport
func (wb *WorkerBuilder) WithTransport(name string, t transport.Transport) *WorkerBuilder {
	if wb.transport != nil {
		wb.addError(fmt.Errorf("transport already configured"))
		return wb
	}
	wb.withTransport(name, t)
	return wb
}

func (wb *WorkerBuilder) withTransport(name string, t transport.Transport) {
	wb.transport = t
	wb.resourceTracker.Register(ResourceTypeTransport, name, t, t.Close)
}

// WithHealthServer starts the health check server
func (wb *WorkerBuilder) WithHealthServer(port string, status health_server.StatusFunc) *WorkerBuilder {
	hs := health_server.NewHealthServer(port, status)
	if err := hs.Start(); err != nil {
		wb.addError(err)
		return wb
	}
	wb.healthServer = hs
	wb.resourceTracker.Register(ResourceTypeHealthServer, "health-server", hs, func() error {
		hs.Stop()
		return nil
	})
	return wb
}

// GetResourceTracker returns the resource tracker
func (wb *WorkerBuilder) GetResourceTracker() *ResourceTracker {
	return wb.resourceTracker
}

// addError adds an error to the error list
func (wb *WorkerBuilder) addError(err error) {
	middleware.LogError(wb.workerName, "Builder error: %v", err)
	wb.errors = append(wb.errors, err)
}

// HasErrors returns true if there are any errors
func (wb *WorkerBuilder) HasErrors() bool {
	return len(wb.errors) > 0
}

// Validate checks if the builder is in a valid state
func (wb *WorkerBuilder) Validate() error {
	if len(wb.errors) > 0 {
		return fmt.Errorf("builder has %d error(s): %v", len(wb.errors), wb.errors)
	}
	if wb.transport == nil {
		return fmt.Errorf("transport is required")
	}
	return nil
}

// CleanupOnError cleans up all resources and returns a formatted error
func (wb *WorkerBuilder) CleanupOnError(err error) error {
	cleanupErr := wb.resourceTracker.CleanupAll()
	if cleanupErr != nil {
		return fmt.Errorf("error: %w; cleanup error: %v", err, cleanupErr)
	}
	return err
}
