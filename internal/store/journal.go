package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ogulcanaydogan/milestone-attestation/internal/attest"
	"github.com/ogulcanaydogan/milestone-attestation/internal/hash"
)

// ErrDisabled is returned by Open for the "none" driver.
var ErrDisabled = errors.New("journal disabled")

// Record is a created attestation plus whatever opaque metadata the caller
// attached. The ID covers both, but not CreatedAt.
type Record struct {
	ID          string             `json:"id"`
	Attestation attest.Attestation `json:"attestation"`
	Metadata    json.RawMessage    `json:"metadata,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Journal keeps a history of issued attestations. Appending the same record
// twice is not an error.
type Journal interface {
	Append(ctx context.Context, r Record) error
	List(ctx context.Context, appID uint64) ([]Record, error)
	Close() error
}

// NewRecord canonicalizes metadata and derives the record ID.
func NewRecord(att attest.Attestation, metadata json.RawMessage, now time.Time) (Record, error) {
	var meta json.RawMessage
	if len(metadata) > 0 && string(metadata) != "null" {
		canonical, err := hash.CanonicalJSON(metadata)
		if err != nil {
			return Record{}, fmt.Errorf("canonicalize metadata: %w", err)
		}
		meta = canonical
	}
	id, _, err := hash.HashCanonicalJSON(struct {
		Attestation attest.Attestation `json:"attestation"`
		Metadata    json.RawMessage    `json:"metadata,omitempty"`
	}{att, meta})
	if err != nil {
		return Record{}, fmt.Errorf("hash record: %w", err)
	}
	return Record{
		ID:          id,
		Attestation: att,
		Metadata:    meta,
		CreatedAt:   now.UTC(),
	}, nil
}

// Open returns the journal for driver. "none" and "" yield ErrDisabled.
func Open(driver, path string) (Journal, error) {
	switch driver {
	case "", "none":
		return nil, ErrDisabled
	case "local":
		return OpenLocal(path)
	case "sqlite":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unsupported journal driver %s", driver)
	}
}
