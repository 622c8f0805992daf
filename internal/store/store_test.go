package store

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/andresmejia3/vigil/internal/matcher"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestVectorText(t *testing.T) {
	vec := []float64{0.5, -1.25, 3, 1e-7}
	got, err := parseVector(vecToString(vec))
	if err != nil {
		t.Fatalf("parseVector failed: %v", err)
	}
	for i := range vec {
		if math.Abs(got[i]-vec[i]) > 1e-12 {
			t.Errorf("component %d = %v, want %v", i, got[i], vec[i])
		}
	}

	if _, err := parseVector("[1,abc]"); err == nil {
		t.Error("expected error for malformed vector")
	}
	if got, err := parseVector("[]"); err != nil || len(got) != 0 {
		t.Errorf("parseVector([]) = %v, %v", got, err)
	}
}

func axis(i int, length float64) []float64 {
	v := make([]float64, matcher.EmbeddingDim)
	v[i] = length
	return v
}

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Explicitly check for Docker availability and fail hard if missing
	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	// Start Postgres Container with pgvector
	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("vigil_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	idA, err := s.CreateIdentity(ctx, "Alice", axis(0, 1))
	if err != nil {
		t.Fatalf("CreateIdentity failed: %v", err)
	}
	if idA <= 0 {
		t.Errorf("Expected positive ID, got %d", idA)
	}

	set, err := matcher.NewKnownFaceSet([]string{"Bob", "Alice"}, [][]float64{axis(1, 1), axis(2, 1)})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ImportKnownFaces(ctx, set); err != nil {
		t.Fatalf("ImportKnownFaces failed: %v", err)
	}

	known, err := s.KnownFaces(ctx)
	if err != nil {
		t.Fatalf("KnownFaces failed: %v", err)
	}
	if known.Len() != 3 {
		t.Fatalf("Expected 3 known faces, got %d", known.Len())
	}
	if labels := known.Labels(); labels[0] != "Alice" || labels[1] != "Bob" || labels[2] != "Alice" {
		t.Errorf("Known faces out of enrollment order: %v", labels)
	}

	// Nearest neighbour with pgvector
	matchID, label, dist, err := s.FindClosestIdentity(ctx, axis(0, 1.2))
	if err != nil {
		t.Fatalf("FindClosestIdentity failed: %v", err)
	}
	if matchID != idA || label != "Alice" || math.Abs(dist-0.2) > 1e-5 {
		t.Errorf("FindClosestIdentity = %d/%s/%v, want %d/Alice/0.2", matchID, label, dist, idA)
	}

	if err := s.RenameIdentity(ctx, idA, "Alicia"); err != nil {
		t.Fatalf("RenameIdentity failed: %v", err)
	}
	if err := s.RenameIdentity(ctx, 9999, "Nobody"); err == nil {
		t.Error("Expected error renaming a missing identity")
	}

	identities, err := s.ListIdentities(ctx)
	if err != nil {
		t.Fatalf("ListIdentities failed: %v", err)
	}
	if len(identities) != 3 || identities[0].Label != "Alicia" {
		t.Errorf("Unexpected identities: %+v", identities)
	}

	if err := s.DeleteIdentity(ctx, idA); err != nil {
		t.Fatalf("DeleteIdentity failed: %v", err)
	}

	// Sightings are deduplicated per run and label
	first, err := s.RecordSighting(ctx, Sighting{RunID: "run-1", Label: "Bob", Confidence: 0.9, FrameIndex: 10})
	if err != nil || !first {
		t.Fatalf("RecordSighting = %v, %v", first, err)
	}
	again, err := s.RecordSighting(ctx, Sighting{RunID: "run-1", Label: "Bob", Confidence: 0.95, FrameIndex: 20})
	if err != nil || again {
		t.Errorf("Duplicate sighting written: %v, %v", again, err)
	}

	sightings, err := s.Sightings(ctx, "run-1")
	if err != nil {
		t.Fatalf("Sightings failed: %v", err)
	}
	if len(sightings) != 1 || sightings[0].FrameIndex != 10 {
		t.Errorf("Unexpected sightings: %+v", sightings)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
