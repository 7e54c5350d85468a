package models

import "testing"

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "hero", "hero"},
		{"uppercase", "Main Street", "main-street"},
		{"underscores", "ref_hero_closeup", "ref-hero-closeup"},
		{"special chars stripped", "Hero, (angry)!", "hero-angry"},
		{"numbers preserved", "scene-12", "scene-12"},
		{"surrounding space", "  castle  ", "castle"},
		{"empty string", "", ""},
		{"only special chars", "!@#$%", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Slugify(tt.in)
			if got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFrameFilename(t *testing.T) {
	got := FrameFilename(2, 5, 1, "0d9b1c2e-aaaa-bbbb-cccc-000000000000")
	want := "frame_s2_sh5_v1_0d9b1c2e.png"
	if got != want {
		t.Errorf("FrameFilename = %q, want %q", got, want)
	}

	// Short ids are used as-is.
	if got := FrameFilename(1, 1, 0, "abc"); got != "frame_s1_sh1_v0_abc.png" {
		t.Errorf("FrameFilename short id = %q", got)
	}
}

func TestRunStateResets(t *testing.T) {
	s := NewRunState()
	s.Variations = []ShotPlan{{SceneID: 1, ShotID: 1}, {SceneID: 1, ShotID: 1}}
	s.VariationIdx = 1
	s.RetryCount = 2
	s.EditRetryCount = 1
	s.FastQA = &QAResult{Status: QARetry}
	s.VisionQA = &QAResult{Status: QAFail}

	s.ResetVariation()
	if s.RetryCount != 0 || s.EditRetryCount != 0 || s.FastQA != nil || s.VisionQA != nil {
		t.Errorf("ResetVariation left attempt state behind: %+v", s)
	}
	if s.VariationIdx != 1 {
		t.Errorf("ResetVariation must not move the cursor")
	}

	s.ResetShot()
	if s.VariationIdx != 0 || s.Variations != nil || s.Plan != nil || s.ReviewedPlan != nil {
		t.Errorf("ResetShot left shot state behind: %+v", s)
	}
}
