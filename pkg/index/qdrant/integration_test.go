//go:build integration

package qdrant

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/calque-ai/eventscout/pkg/index"
	"github.com/calque-ai/eventscout/pkg/index/indextest"
)

// startQdrant runs a Qdrant container and returns its gRPC URL.
func startQdrant(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "qdrant/qdrant:latest",
			ExposedPorts: []string{"6333/tcp", "6334/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("6333/tcp"),
				wait.ForLog("Qdrant gRPC listening"),
			).WithDeadline(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start Qdrant container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	grpcPort, err := container.MappedPort(ctx, "6334")
	if err != nil {
		t.Fatalf("failed to get mapped gRPC port: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	return fmt.Sprintf("http://%s:%s", host, grpcPort.Port())
}

func TestConformanceIntegration(t *testing.T) {
	url := startQdrant(t)
	n := 0

	indextest.Run(t, func(t *testing.T) index.Index {
		n++
		idx, err := New(context.Background(), Config{
			URL:             url,
			CollectionName:  fmt.Sprintf("events_%d", n),
			VectorDimension: indextest.Dimensions,
		}, index.WithClock(indextest.Clock))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		t.Cleanup(func() { idx.Close() })
		return idx
	})
}
