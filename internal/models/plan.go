// Package models defines data structures for the storyboard generation engine.
package models

// Entity is a character or prop that appears in a shot.
type Entity struct {
	Name        string `json:"name"`
	Pose        string `json:"pose,omitempty"`
	Emotion     string `json:"emotion,omitempty"`
	Description string `json:"description,omitempty"`
}

// Camera describes the camera configuration for a shot.
type Camera struct {
	Type     string `json:"type"`     // "static", "tracking", "pan", ...
	Angle    string `json:"angle"`    // "low", "high", "eye-level", ...
	Distance string `json:"distance"` // "close-up", "medium", "wide", "full"
	Movement string `json:"movement,omitempty"`
}

// DefaultCamera is the fallback used when the planner response is missing
// or malformed.
func DefaultCamera() Camera {
	return Camera{Type: "static", Angle: "eye-level", Distance: "medium"}
}

// ShotPlan is the plan for a single frame within a scene. Once a plan has
// been reviewed it is treated as immutable; camera variations are
// independent copies with only the camera and prompt fields altered.
type ShotPlan struct {
	SceneID     int      `json:"scene_id"`
	ShotID      int      `json:"shot_id"`
	Entities    []Entity `json:"entities"`
	Camera      Camera   `json:"camera"`
	ImagePrompt string   `json:"image_prompt"`
	StyleNotes  string   `json:"style_notes,omitempty"`
}

// EntityNames returns the names of all entities in the plan.
func (p ShotPlan) EntityNames() []string {
	names := make([]string, 0, len(p.Entities))
	for _, e := range p.Entities {
		names = append(names, e.Name)
	}
	return names
}

// ReviewedPlan wraps a ShotPlan after the review pass. It is created once
// per shot before variation fan-out and consumed by every variation derived
// from it.
type ReviewedPlan struct {
	Plan            ShotPlan `json:"plan"`
	VisualContext   []string `json:"visual_context"` // reference frame ids used during review
	NegativePrompt  string   `json:"negative_prompt"`
	EstimatedTokens int      `json:"estimated_tokens"`
}

// SceneData is one parsed scene from the script.
type SceneData struct {
	SceneID     int      `json:"scene_id"`
	RawText     string   `json:"raw_text"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	Time        string   `json:"time,omitempty"`
	Entities    []string `json:"entities,omitempty"`
}
