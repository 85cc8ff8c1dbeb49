package worker_builder

import (
	"fmt"
)

// ResourceType represents the type of resource being tracked
type ResourceType int

const (
	ResourceTypeTransport ResourceType = iota
	ResourceTypeHealthServer
	ResourceTypeDirectory
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeTransport:
		return "transport"
	case ResourceTypeHealthServer:
		return "health-server"
	case ResourceTypeDirectory:
		return "directory"
	default:
		return fmt.Sprintf("resource(%d)", int(t))
	}
}

// Resource represents a tracked resource
type Resource struct {
	Type     ResourceType
	Name     string
	Resource interface{}
	closer   func() error
}

// ResourceTracker tracks all created resources for cleanup
type ResourceTracker struct {
	resources []*Resource
}

// NewResourceTracker creates a new resource tracker
func NewResourceTracker() *ResourceTracker {
	return &ResourceTracker{
		resources: make([]*Resource, 0),
	}
}

// Register registers a new resource for tracking
func (rt *ResourceTracker) Register(resourceType ResourceType, name string, resource interface{}, closer func() error) {
	rt.resources = append(rt.resources, &Resource{
		Type:     resourceType,
		Name:     name,
		Resource: resource,
		closer:   closer,
	})
}

// Get retrieves a resource by type and name
func (rt *ResourceTracker) Get(resourceType ResourceType, name string) interface{} {
	for _, r := range rt.resources {
		if r.Type == resourceType && r.Name == name {
			return r.Resource
		}
	}
	return nil
}

// GetAllByType retrieves all resources of a specific type
func (rt *ResourceTracker) GetAllByType(resourceType ResourceType) []interface{} {
	var results []interface{}
	for _, r := range rt.resources {
		if r.Type == resourceType {
			results = append(results, r.Resource)
		}
	}
	return results
}

// CleanupAll closes all tracked resources in reverse order
func (rt *ResourceTracker) CleanupAll() error {
	return rt.CleanupFromIndex(0)
}

// CleanupFromIndex closes all resources from the given index onwards (in reverse)
// and stops tracking them
func (rt *ResourceTracker) CleanupFromIndex(index int) error {
	if index < 0 {
		index = 0
	}
	var lastErr error
	for i := len(rt.resources) - 1; i >= index; i-- {
		r := rt.resources[i]
		if r.closer != nil {
			if err := r.closer(); err != nil {
				lastErr = fmt.Errorf("failed to cleanup %s (%v): %w", r.Name, r.Type, err)
				// Continue cleanup even if one fails
			}
		}
	}
	if index < len(rt.resources) {
		rt.resources = rt.resources[:index]
	}
	return lastErr
}

// GetLastIndex returns the current number of tracked resources
func (rt *ResourceTracker) GetLastIndex() int {
	return len(rt.resources)
}
