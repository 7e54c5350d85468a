package models

import "time"

// EmbeddingDim is the fixed vector dimension used across all tables.
// It matches text-embedding-3-large truncated to 1536 dimensions.
const EmbeddingDim = 1536

// RefSceneID marks a record as a standalone reference image rather than a
// frame that belongs to a numbered scene.
const RefSceneID = -1

// FrameCategory classifies a visual-context record.
type FrameCategory string

const (
	CategoryCharacter   FrameCategory = "character"
	CategoryEnvironment FrameCategory = "environment"
	CategoryProps       FrameCategory = "props"
	CategoryGenerated   FrameCategory = "generated"
	CategoryOther       FrameCategory = "other"
)

// FrameSource indicates where a visual-context record came from.
type FrameSource string

const (
	SourceUpload    FrameSource = "user_upload"
	SourceGenerated FrameSource = "generated"
)

// CanonicalChunk is a static chunk of script or style text with its
// embedding. Indexed once at ingest time.
type CanonicalChunk struct {
	ChunkID   string    `json:"chunk_id"`
	Text      string    `json:"chunk_text"`
	Embedding []float32 `json:"embedding"`
}

// Episode is one episodic-text record, written per accepted or attempted
// render.
type Episode struct {
	SceneID      int       `json:"scene_id"`
	ShotID       int       `json:"shot_id"`
	Summary      string    `json:"summary"`
	Embedding    []float32 `json:"embedding"`
	Entities     []string  `json:"entities"`
	QualityScore float64   `json:"quality_score"`
	Timestamp    time.Time `json:"timestamp"`
}

// Frame is one visual-context record: either an ingested reference image
// (SceneID == RefSceneID) or an accepted generated frame.
type Frame struct {
	FrameID      string        `json:"frame_id"`
	SceneID      int           `json:"scene_id"`
	ShotID       int           `json:"shot_id"`
	Embedding    []float32     `json:"embedding"`
	ThumbPath    string        `json:"thumb_path"`
	Category     FrameCategory `json:"category"`
	Entity       string        `json:"entity"`
	Tags         []string      `json:"tags"`
	Source       FrameSource   `json:"source"`
	Confidence   float64       `json:"confidence"`
	Prompt       string        `json:"prompt"`
	OriginalPath string        `json:"original_path"`
}

// IsReference reports whether the frame is a reference image rather than a
// generated scene frame.
func (f Frame) IsReference() bool {
	return f.SceneID == RefSceneID
}

// Failure records a rejected render/QA attempt. The negative-prompt token is
// folded into future negative prompts to bias generation away from the
// failure mode.
type Failure struct {
	FrameID        string    `json:"frame_id"`
	ErrCode        string    `json:"err_code"`
	NegPromptToken string    `json:"neg_prompt_token"`
	Timestamp      time.Time `json:"timestamp"`
}

// ZeroVector returns an all-zero embedding. Used as the degraded value when
// the embedding collaborator is unavailable.
func ZeroVector() []float32 {
	return make([]float32, EmbeddingDim)
}
