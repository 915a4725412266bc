package isolation

import (
	"context"
	"testing"
)

func TestMockBackendProvisionsDeterministicWorkDir(t *testing.T) {
	b := NewMockBackend("/tmp/swarmctl")
	handle, err := b.Provision(context.Background(), Spec{ClusterID: "c1"})
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if handle.WorkDir != "/tmp/swarmctl/c1" {
		t.Fatalf("expected deterministic work dir, got %q", handle.WorkDir)
	}
	if handle.ContainerID != "" {
		t.Fatalf("expected no container id without an image, got %q", handle.ContainerID)
	}
}

func TestMockBackendAssignsContainerIDWhenImageRequested(t *testing.T) {
	b := NewMockBackend("/tmp/swarmctl")
	handle, err := b.Provision(context.Background(), Spec{ClusterID: "c2", Image: "ubuntu:22.04"})
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if handle.ContainerID == "" {
		t.Fatalf("expected a container id when an image is requested")
	}
}
