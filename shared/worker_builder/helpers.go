package worker_builder

import (
	"github.com/gaoyang-zhang/mindspore-federated/shared/health_server"
	"github.com/gaoyang-zhang/mindspore-federated/shared/transport"
)

// BuildResult holds all resources created by the builder
type BuildResult struct {
	Transport       transport.Transport
	HealthServer    *health_server.HealthServer
	ResourceTracker *ResourceTracker
}

// Build validates the builder and hands its resources over.
// On failure every resource created so far is closed.
func (wb *WorkerBuilder) Build() (*BuildResult, error) {
	if err := wb.Validate(); err != nil {
		return nil, wb.CleanupOnError(err)
	}

	return &BuildResult{
		Transport:       wb.transport,
		HealthServer:    wb.healthServer,
		ResourceTracker: wb.resourceTracker,
	}, nil
}

// Close releases every resource in reverse creation order
func (r *BuildResult) Close() error {
	return r.ResourceTracker.CleanupAll()
}
