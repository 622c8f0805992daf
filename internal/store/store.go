package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/vigil/internal/matcher"
	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection and pgvector operations.
type Store struct {
	conn *pgx.Conn
}

// Identity is one enrolled embedding. Several rows may share a label.
type Identity struct {
	ID        int
	Label     string
	CreatedAt time.Time
}

// Sighting records the first time a verified, live identity was seen in a run.
type Sighting struct {
	RunID      string
	Label      string
	Confidence float64
	FrameIndex int
	SeenAt     time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables and vector extension if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS known_identities (
			id SERIAL PRIMARY KEY,
			label TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS sightings (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			label TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			frame_index INT NOT NULL,
			seen_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE (run_id, label)
		);
		CREATE INDEX IF NOT EXISTS known_identities_label_idx ON known_identities (label);
	`, matcher.EmbeddingDim)
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// vecToString formats a float slice into a PostgreSQL vector string format "[1.0,2.0,...]"
func vecToString(vec []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector reads pgvector's text output back into a float slice.
func parseVector(s string) ([]float64, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// KnownFaces loads every enrolled embedding in enrollment order.
func (s *Store) KnownFaces(ctx context.Context) (matcher.KnownFaceSet, error) {
	rows, err := s.conn.Query(ctx, "SELECT label, embedding::text FROM known_identities ORDER BY id")
	if err != nil {
		return matcher.KnownFaceSet{}, err
	}
	defer rows.Close()

	var labels []string
	var vectors [][]float64
	for rows.Next() {
		var label, vecStr string
		if err := rows.Scan(&label, &vecStr); err != nil {
			return matcher.KnownFaceSet{}, err
		}
		vec, err := parseVector(vecStr)
		if err != nil {
			return matcher.KnownFaceSet{}, fmt.Errorf("identity %q: %w", label, err)
		}
		labels = append(labels, label)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return matcher.KnownFaceSet{}, err
	}
	return matcher.NewKnownFaceSet(labels, vectors)
}

// CreateIdentity enrolls an embedding under label and returns its ID.
func (s *Store) CreateIdentity(ctx context.Context, label string, vec []float64) (int, error) {
	if len(vec) != matcher.EmbeddingDim {
		return 0, fmt.Errorf("embedding has %d dimensions, want %d", len(vec), matcher.EmbeddingDim)
	}
	var id int
	err := s.conn.QueryRow(ctx,
		"INSERT INTO known_identities (label, embedding) VALUES ($1, $2::vector) RETURNING id",
		label, vecToString(vec)).Scan(&id)
	return id, err
}

// ImportKnownFaces enrolls every entry of set in a single transaction.
func (s *Store) ImportKnownFaces(ctx context.Context, set matcher.KnownFaceSet) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < set.Len(); i++ {
		label, vec := set.Entry(i)
		if _, err := tx.Exec(ctx,
			"INSERT INTO known_identities (label, embedding) VALUES ($1, $2::vector)",
			label, vecToString(vec)); err != nil {
			return fmt.Errorf("failed to import %q: %w", label, err)
		}
	}
	return tx.Commit(ctx)
}

// FindClosestIdentity returns the nearest enrolled embedding by Euclidean
// distance. ID is -1 when nothing is enrolled.
func (s *Store) FindClosestIdentity(ctx context.Context, vec []float64) (int, string, float64, error) {
	// <-> is the L2 distance operator in pgvector
	query := `SELECT id, label, embedding <-> $1::vector FROM known_identities ORDER BY embedding <-> $1::vector ASC, id ASC LIMIT 1`

	var id int
	var label string
	var dist float64
	err := s.conn.QueryRow(ctx, query, vecToString(vec)).Scan(&id, &label, &dist)
	if errors.Is(err, pgx.ErrNoRows) {
		return -1, "", 0, nil
	}
	if err != nil {
		return 0, "", 0, err
	}
	return id, label, dist, nil
}

// ListIdentities returns all enrolled identities.
func (s *Store) ListIdentities(ctx context.Context) ([]Identity, error) {
	rows, err := s.conn.Query(ctx, "SELECT id, label, created_at FROM known_identities ORDER BY id")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Identity, error) {
		var id Identity
		err := row.Scan(&id.ID, &id.Label, &id.CreatedAt)
		return id, err
	})
}

// RenameIdentity updates the label of an enrolled identity.
func (s *Store) RenameIdentity(ctx context.Context, id int, label string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE known_identities SET label = $1 WHERE id = $2", label, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("identity %d not found", id)
	}
	return nil
}

// DeleteIdentity removes an enrolled identity.
func (s *Store) DeleteIdentity(ctx context.Context, id int) error {
	tag, err := s.conn.Exec(ctx, "DELETE FROM known_identities WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("identity %d not found", id)
	}
	return nil
}

// RecordSighting stores a sighting unless the label was already seen in the
// same run. It reports whether a row was written.
func (s *Store) RecordSighting(ctx context.Context, sg Sighting) (bool, error) {
	tag, err := s.conn.Exec(ctx, `
		INSERT INTO sightings (run_id, label, confidence, frame_index)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, label) DO NOTHING
	`, sg.RunID, sg.Label, sg.Confidence, sg.FrameIndex)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Sightings returns the sightings of a run in the order they happened.
func (s *Store) Sightings(ctx context.Context, runID string) ([]Sighting, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT run_id, label, confidence, frame_index, seen_at
		FROM sightings WHERE run_id = $1 ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Sighting, error) {
		var sg Sighting
		err := row.Scan(&sg.RunID, &sg.Label, &sg.Confidence, &sg.FrameIndex, &sg.SeenAt)
		return sg, err
	})
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS sightings CASCADE;
		DROP TABLE IF EXISTS known_identities CASCADE;
	`)
	return err
}
