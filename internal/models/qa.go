package models

// QAStatus is the verdict of a quality assessment pass.
type QAStatus string

const (
	QAPass  QAStatus = "pass"
	QARetry QAStatus = "retry"
	QAFail  QAStatus = "fail"
)

// GuidanceCategory buckets retry guidance so that policy logic never has to
// inspect free text.
type GuidanceCategory string

const (
	GuidanceComposition GuidanceCategory = "composition"
	GuidanceEntity      GuidanceCategory = "entity"
	GuidanceStyle       GuidanceCategory = "style"
	GuidanceArtifact    GuidanceCategory = "artifact"
	GuidanceOther       GuidanceCategory = "other"
)

// RetryGuidance carries the judge's improvement hints for a rejected render.
type RetryGuidance struct {
	Category GuidanceCategory `json:"category"`
	Text     string           `json:"text"`
}

// QAResult is the outcome of one quality assessment of a rendered frame.
// Two independent sources (fast pass, deep vision pass) may each produce one
// per attempt; policy consumes the deep one when present.
type QAResult struct {
	Status       QAStatus       `json:"status"`
	QualityScore float64        `json:"quality_score"` // in [0,1]
	Issues       []string       `json:"issues,omitempty"`
	Guidance     *RetryGuidance `json:"guidance,omitempty"`
}

// GuidanceText returns the free-text guidance, or "" when none was given.
func (r *QAResult) GuidanceText() string {
	if r == nil || r.Guidance == nil {
		return ""
	}
	return r.Guidance.Text
}
