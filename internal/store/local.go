package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/raphaelgruber/storyboard-go/internal/models"
)

// Local is an in-process brute-force vector store persisted as JSON files
// under a root directory. Table sizes for a single production run stay in
// the low thousands, so linear scans are fast enough and the store needs no
// external service.
type Local struct {
	mu   sync.RWMutex
	root string

	chunks   []models.CanonicalChunk
	episodes []models.Episode
	frames   []models.Frame
	failures []models.Failure
}

const (
	chunksFile   = "chunks.json"
	episodesFile = "episodes.json"
	framesFile   = "frames.json"
	failuresFile = "failures.json"
)

// NewLocal opens (or creates) a local store rooted at dir.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	s := &Local{root: dir}
	if err := loadTable(filepath.Join(dir, chunksFile), &s.chunks); err != nil {
		return nil, err
	}
	if err := loadTable(filepath.Join(dir, episodesFile), &s.episodes); err != nil {
		return nil, err
	}
	if err := loadTable(filepath.Join(dir, framesFile), &s.frames); err != nil {
		return nil, err
	}
	if err := loadTable(filepath.Join(dir, failuresFile), &s.failures); err != nil {
		return nil, err
	}
	return s, nil
}

func loadTable[T any](path string, out *[]T) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func saveTable[T any](path string, records []T) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// InsertChunk upserts a canonical-text record by chunk id and persists the
// table.
func (s *Local) InsertChunk(_ context.Context, c models.CanonicalChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i := range s.chunks {
		if s.chunks[i].ChunkID == c.ChunkID {
			s.chunks[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		s.chunks = append(s.chunks, c)
	}
	return saveTable(filepath.Join(s.root, chunksFile), s.chunks)
}

// InsertEpisode appends an episodic-text record and persists the table.
func (s *Local) InsertEpisode(_ context.Context, e models.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes = append(s.episodes, e)
	return saveTable(filepath.Join(s.root, episodesFile), s.episodes)
}

// InsertFrame upserts a visual-context record by frame id and persists the
// table.
func (s *Local) InsertFrame(_ context.Context, f models.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i := range s.frames {
		if s.frames[i].FrameID == f.FrameID {
			s.frames[i] = f
			replaced = true
			break
		}
	}
	if !replaced {
		s.frames = append(s.frames, f)
	}
	return saveTable(filepath.Join(s.root, framesFile), s.frames)
}

// InsertFailure appends a failure record and persists the table.
func (s *Local) InsertFailure(_ context.Context, f models.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, f)
	return saveTable(filepath.Join(s.root, failuresFile), s.failures)
}

// SearchChunks returns the k nearest canonical chunks by cosine distance.
func (s *Local) SearchChunks(_ context.Context, query []float32, k int) ([]ChunkHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]ChunkHit, 0, len(s.chunks))
	for _, c := range s.chunks {
		hits = append(hits, ChunkHit{CanonicalChunk: c, Distance: CosineDistance(query, c.Embedding)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	return truncate(hits, k), nil
}

// SearchEpisodes returns the k nearest episodes by cosine distance.
func (s *Local) SearchEpisodes(_ context.Context, query []float32, k int) ([]EpisodeHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]EpisodeHit, 0, len(s.episodes))
	for _, e := range s.episodes {
		hits = append(hits, EpisodeHit{Episode: e, Distance: CosineDistance(query, e.Embedding)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	return truncate(hits, k), nil
}

// SearchFrames returns the k nearest visual-context records by cosine
// distance.
func (s *Local) SearchFrames(_ context.Context, query []float32, k int) ([]FrameHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]FrameHit, 0, len(s.frames))
	for _, f := range s.frames {
		hits = append(hits, FrameHit{Frame: f, Distance: CosineDistance(query, f.Embedding)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	return truncate(hits, k), nil
}

// FilterFrames returns all frames matching the filter, in insertion order.
func (s *Local) FilterFrames(_ context.Context, filter FrameFilter) ([]models.Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Frame{}
	for _, f := range s.frames {
		if filter.Matches(f) {
			out = append(out, f)
		}
	}
	return out, nil
}

// RecentFailures returns up to limit failures, newest first.
func (s *Local) RecentFailures(_ context.Context, limit int) ([]models.Failure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Failure, len(s.failures))
	copy(out, s.failures)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return truncate(out, limit), nil
}

// Counts reports the record count of each table.
func (s *Local) Counts(_ context.Context) (TableCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return TableCounts{
		Chunks:   len(s.chunks),
		Episodes: len(s.episodes),
		Frames:   len(s.frames),
		Failures: len(s.failures),
	}, nil
}

// Reset drops all tables in memory and on disk.
func (s *Local) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunks = nil
	s.episodes = nil
	s.frames = nil
	s.failures = nil
	for _, name := range []string{chunksFile, episodesFile, framesFile, failuresFile} {
		if err := os.Remove(filepath.Join(s.root, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

// Close is a no-op; every insert already persists synchronously.
func (s *Local) Close(_ context.Context) error {
	return nil
}

func truncate[T any](items []T, k int) []T {
	if k >= 0 && len(items) > k {
		return items[:k]
	}
	return items
}
