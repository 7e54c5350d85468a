package models

import (
	"time"

	"github.com/google/uuid"
)

// PolicyAction is the outcome of a policy decision for one render attempt.
type PolicyAction string

const (
	ActionAccept    PolicyAction = "accept"
	ActionRetryNew  PolicyAction = "retry_new"
	ActionRetryEdit PolicyAction = "retry_edit"
	ActionGiveUp    PolicyAction = "give_up"
)

// AcceptedFrame is the durable record of one accepted render.
type AcceptedFrame struct {
	FrameID        string   `json:"frame_id"`
	SceneID        int      `json:"scene_id"`
	ShotID         int      `json:"shot_id"`
	VariationIdx   int      `json:"variation_idx"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Entities       []string `json:"entities"`
	Camera         Camera   `json:"camera"`
	ImagePath      string   `json:"image_path"`
	QualityScore   float64  `json:"quality_score"`
	RetryCount     int      `json:"retry_count"`
	EditRetryCount int      `json:"edit_retry_count"`
}

// LogEvent is one entry in the append-only run event log (logs.jsonl).
type LogEvent struct {
	TS      time.Time      `json:"ts"`
	Stage   string         `json:"stage"`
	TraceID string         `json:"trace_id"`
	Status  string         `json:"status"`
	Model   string         `json:"model,omitempty"`
	Tokens  int            `json:"tokens,omitempty"`
	CostUSD float64        `json:"cost_usd,omitempty"`
	Error   string         `json:"error,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// RunState is the single mutable aggregate for a generation run. It is
// owned exclusively by the control loop: nodes receive it sequentially and
// no two nodes ever mutate it concurrently.
type RunState struct {
	// Inputs
	ScriptPath   string `json:"script_path"`
	StylePath    string `json:"style_path"`
	EntitiesPath string `json:"entities_path"`
	RefsDir      string `json:"refs_dir,omitempty"`
	OutputDir    string `json:"output_dir"`

	// Parsed data
	Scenes       []SceneData    `json:"scenes"`
	StyleText    string         `json:"style_text"`
	EntitiesText string         `json:"entities_text"`
	EntitiesMeta map[string]any `json:"entities_meta,omitempty"`

	// Cursor
	SceneIdx     int `json:"current_scene_idx"`
	ShotIdx      int `json:"current_shot_idx"`
	VariationIdx int `json:"current_variation_idx"`

	// Shot-scoped working set
	Plan         *ShotPlan     `json:"current_plan,omitempty"`
	ReviewedPlan *ReviewedPlan `json:"reviewed_plan,omitempty"`
	Variations   []ShotPlan    `json:"variations,omitempty"`

	// Attempt-scoped state
	FastQA         *QAResult    `json:"fast_qa_result,omitempty"`
	VisionQA       *QAResult    `json:"vision_qa_result,omitempty"`
	VisionSampled  bool         `json:"vision_sampled,omitempty"`
	Action         PolicyAction `json:"policy_action,omitempty"`
	RetryCount     int          `json:"retry_count"`
	EditRetryCount int          `json:"edit_retry_count"`
	ImagePath      string       `json:"current_image_path,omitempty"`
	ImageB64       string       `json:"-"` // large; never serialized

	// Outputs
	AcceptedFrames []AcceptedFrame `json:"accepted_frames"`

	// Accounting
	TotalTokens int        `json:"total_tokens"`
	TotalCost   float64    `json:"total_cost"`
	StartTime   time.Time  `json:"start_time"`
	TraceID     string     `json:"trace_id"`
	Events      []LogEvent `json:"logs"`

	// Limits
	BudgetUSD      float64 `json:"budget_usd"`
	NVariations    int     `json:"n_variations"`
	MaxRetries     int     `json:"max_retries"`
	MaxEditRetries int     `json:"max_edit_retries"`
	ShotsPerScene  int     `json:"shots_per_scene"`

	Complete bool `json:"complete"`
}

// NewRunState creates a run state with a fresh trace id.
func NewRunState() *RunState {
	return &RunState{
		StartTime: time.Now(),
		TraceID:   uuid.NewString(),
	}
}

// CurrentScene returns the scene under the cursor, or nil when exhausted.
func (s *RunState) CurrentScene() *SceneData {
	if s.SceneIdx < 0 || s.SceneIdx >= len(s.Scenes) {
		return nil
	}
	return &s.Scenes[s.SceneIdx]
}

// CurrentVariation returns the variation under the cursor, or nil when the
// variation list is empty or the cursor is out of range.
func (s *RunState) CurrentVariation() *ShotPlan {
	if s.VariationIdx < 0 || s.VariationIdx >= len(s.Variations) {
		return nil
	}
	return &s.Variations[s.VariationIdx]
}

// EffectiveQA returns the QA result policy should act on: the deep vision
// result when present, the fast result otherwise.
func (s *RunState) EffectiveQA() *QAResult {
	if s.VisionQA != nil {
		return s.VisionQA
	}
	return s.FastQA
}

// ResetAttempt clears the per-attempt QA results.
func (s *RunState) ResetAttempt() {
	s.FastQA = nil
	s.VisionQA = nil
	s.VisionSampled = false
}

// ResetVariation clears per-variation counters and QA state. Called when the
// cursor advances to the next variation of the same shot.
func (s *RunState) ResetVariation() {
	s.RetryCount = 0
	s.EditRetryCount = 0
	s.ResetAttempt()
}

// ResetShot clears all shot-scoped state. Called when the cursor advances to
// the next shot.
func (s *RunState) ResetShot() {
	s.VariationIdx = 0
	s.Plan = nil
	s.ReviewedPlan = nil
	s.Variations = nil
	s.ImagePath = ""
	s.ImageB64 = ""
	s.Action = ""
	s.ResetVariation()
}
