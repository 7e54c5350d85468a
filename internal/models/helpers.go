package models

import (
	"fmt"
	"strings"
)

// Slugify converts free text into a lowercase ascii identifier suitable for
// frame ids and file names.
func Slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '_', r == '-':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// FrameFilename builds the canonical on-disk name for a rendered frame.
func FrameFilename(sceneID, shotID, variationIdx int, frameID string) string {
	short := frameID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("frame_s%d_sh%d_v%d_%s.png", sceneID, shotID, variationIdx, short)
}
