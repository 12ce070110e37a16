package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalJournal stores one JSON file per record in a directory.
type LocalJournal struct {
	dir string
}

func OpenLocal(dir string) (*LocalJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create local journal: %w", err)
	}
	return &LocalJournal{dir: dir}, nil
}

// RecordFileName is the file a record is saved under.
func RecordFileName(r Record) string {
	digest := strings.TrimPrefix(r.ID, "sha256:")
	if len(digest) > 16 {
		digest = digest[:16]
	}
	return fmt.Sprintf("attestation_%d_%d_%s.json", r.Attestation.AppID, r.Attestation.MilestoneIndex, digest)
}

// Append writes r to a temporary file and links it into place, so List never
// sees a partially written record and a failed write leaves nothing behind.
// An existing file for the same ID is kept as is.
func (j *LocalJournal) Append(_ context.Context, r Record) error {
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	tmp, err := os.CreateTemp(j.dir, ".pending-*.json")
	if err != nil {
		return fmt.Errorf("create record file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write record file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync record file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close record file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod record file: %w", err)
	}

	err = os.Link(tmp.Name(), filepath.Join(j.dir, RecordFileName(r)))
	if err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("publish record file: %w", err)
	}
	return nil
}

func (j *LocalJournal) List(_ context.Context, appID uint64) ([]Record, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("read local journal: %w", err)
	}
	prefix := fmt.Sprintf("attestation_%d_", appID)
	out := make([]Record, 0)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		r, err := ReadRecord(filepath.Join(j.dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sortRecords(out)
	return out, nil
}

func (j *LocalJournal) Close() error { return nil }

// ReadRecord loads a record file written by LocalJournal or `msa pull`.
func ReadRecord(path string) (Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, fmt.Errorf("decode record %s: %w", filepath.Base(path), err)
	}
	return r, nil
}

func sortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}
