package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FileStore keeps one JSON document per target under
// <stateDir>/<invocation>/<attempt>/dispatch/. A re-run of the same
// invocation gets a fresh directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(stateDir, invocationID string, attempt int) (*FileStore, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("file store: state dir is empty")
	}
	if strings.TrimSpace(invocationID) == "" || strings.ContainsAny(invocationID, `/\`) || invocationID == ".." {
		return nil, fmt.Errorf("file store: invalid invocation id %q", invocationID)
	}
	if attempt < 1 {
		return nil, fmt.Errorf("file store: attempt must be >= 1 (got %d)", attempt)
	}
	dir := filepath.Join(stateDir, invocationID, strconv.Itoa(attempt), "dispatch")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(targetID string) string {
	return filepath.Join(s.dir, url.PathEscape(targetID)+".json")
}

func (s *FileStore) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := s.writeTemp(rec)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	// Link fails if the destination exists, which makes the append atomic
	// across processes sharing the directory.
	if err := os.Link(tmp, s.path(rec.TargetID)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrRecordExists, rec.TargetID)
		}
		return fmt.Errorf("file store: save %s: %w", rec.TargetID, err)
	}
	return nil
}

func (s *FileStore) SetHint(ctx context.Context, targetID string, runID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(targetID)
	if err != nil {
		return err
	}
	changed, err := checkHint(rec, runID)
	if err != nil || !changed {
		return err
	}
	rec.RunIDHint = &runID

	tmp, err := s.writeTemp(rec)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path(targetID)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("file store: update %s: %w", targetID, err)
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context, targetID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(targetID)
}

func (s *FileStore) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("file store: list: %w", err)
	}
	var out []Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := decodeFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) read(targetID string) (Record, error) {
	rec, err := decodeFile(s.path(targetID))
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, targetID)
	}
	return rec, err
}

func (s *FileStore) writeTemp(rec Record) (string, error) {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("file store: encode %s: %w", rec.TargetID, err)
	}
	f, err := os.CreateTemp(s.dir, ".record-*")
	if err != nil {
		return "", fmt.Errorf("file store: temp file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("file store: write %s: %w", rec.TargetID, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("file store: sync %s: %w", rec.TargetID, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("file store: close %s: %w", rec.TargetID, err)
	}
	return name, nil
}

func decodeFile(path string) (Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("file store: read %s: %w", filepath.Base(path), err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("file store: decode %s: %w", filepath.Base(path), err)
	}
	return rec, nil
}
