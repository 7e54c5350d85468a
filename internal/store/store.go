// Package store provides the multi-modal vector store: four typed tables
// (canonical text, episodic text, visual context, failures) behind one
// interface, with a SurrealDB HNSW implementation and an in-process
// brute-force implementation for small cardinalities.
package store

import (
	"context"

	"github.com/raphaelgruber/storyboard-go/internal/models"
)

// ChunkHit is a canonical-text search result.
type ChunkHit struct {
	models.CanonicalChunk
	Distance float64
}

// EpisodeHit is an episodic-text search result.
type EpisodeHit struct {
	models.Episode
	Distance float64
}

// FrameHit is a visual-context search result.
type FrameHit struct {
	models.Frame
	Distance float64
}

// Similarity converts the cosine distance into a [0,1] similarity.
func (h FrameHit) Similarity() float64 { return 1 - h.Distance }

// Similarity converts the cosine distance into a [0,1] similarity.
func (h EpisodeHit) Similarity() float64 { return 1 - h.Distance }

// FrameFilter is a predicate over visual-context records. Zero-valued
// fields match everything.
type FrameFilter struct {
	FrameID  string
	Entity   string
	Source   models.FrameSource
	SceneMin *int
	SceneMax *int
}

// Matches reports whether the frame satisfies the filter.
func (f FrameFilter) Matches(fr models.Frame) bool {
	if f.FrameID != "" && fr.FrameID != f.FrameID {
		return false
	}
	if f.Entity != "" && fr.Entity != f.Entity {
		return false
	}
	if f.Source != "" && fr.Source != f.Source {
		return false
	}
	if f.SceneMin != nil && fr.SceneID < *f.SceneMin {
		return false
	}
	if f.SceneMax != nil && fr.SceneID > *f.SceneMax {
		return false
	}
	return true
}

// TableCounts reports per-table record counts.
type TableCounts struct {
	Chunks   int `json:"chunks"`
	Episodes int `json:"episodes"`
	Frames   int `json:"frames"`
	Failures int `json:"failures"`
}

// Store is the vector store contract. Tables are independent namespaces;
// cross-table joins happen in the retrieval engine, in memory. A search on
// an empty table returns an empty result set, never an error.
type Store interface {
	InsertChunk(ctx context.Context, c models.CanonicalChunk) error
	InsertEpisode(ctx context.Context, e models.Episode) error
	InsertFrame(ctx context.Context, f models.Frame) error
	InsertFailure(ctx context.Context, f models.Failure) error

	SearchChunks(ctx context.Context, query []float32, k int) ([]ChunkHit, error)
	SearchEpisodes(ctx context.Context, query []float32, k int) ([]EpisodeHit, error)
	SearchFrames(ctx context.Context, query []float32, k int) ([]FrameHit, error)

	FilterFrames(ctx context.Context, filter FrameFilter) ([]models.Frame, error)
	RecentFailures(ctx context.Context, limit int) ([]models.Failure, error)

	Counts(ctx context.Context) (TableCounts, error)
	Reset(ctx context.Context) error
	Close(ctx context.Context) error
}
