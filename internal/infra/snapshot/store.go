package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"posed/internal/domain"
	"posed/internal/usecase"
)

// Store persists Replay Guard state as a single JSON document. Writes
// go to a temp file beside the target and are renamed into place, so
// a reader never observes a half-written snapshot even if the process
// dies mid-write.
type Store struct {
	path string
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("snapshot path is required")
	}
	return &Store{path: path}, nil
}

func (s *Store) Load(_ context.Context) (domain.ReplaySnapshot, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ReplaySnapshot{}, false, nil
		}
		return domain.ReplaySnapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	var snap domain.ReplaySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.ReplaySnapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *Store) Save(_ context.Context, snap domain.ReplaySnapshot) error {
	sort.Slice(snap.Channels, func(i, j int) bool {
		return snap.Channels[i].Channel < snap.Channels[j].Channel
	})
	sort.Strings(snap.ReplayKeys)

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

var _ usecase.SnapshotStore = (*Store)(nil)
