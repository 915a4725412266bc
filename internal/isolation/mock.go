package isolation

import (
	"context"
	"fmt"
)

// MockBackend hands back a deterministic directory under root without
// touching the filesystem, for tests that only care about cwd wiring.
type MockBackend struct {
	Root string
}

// NewMockBackend returns a MockBackend rooted at root.
func NewMockBackend(root string) *MockBackend {
	return &MockBackend{Root: root}
}

func (m *MockBackend) Provision(ctx context.Context, spec Spec) (Handle, error) {
	workDir := fmt.Sprintf("%s/%s", m.Root, spec.ClusterID)
	handle := Handle{WorkDir: workDir}
	if spec.Image != "" {
		handle.ContainerID = "mock-container-" + spec.ClusterID
	}
	return handle, nil
}

func (m *MockBackend) Teardown(ctx context.Context, handle Handle) error {
	return nil
}

var _ Backend = (*MockBackend)(nil)
