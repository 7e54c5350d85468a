// Package script turns the markdown inputs of a run into structured data:
// scenes from the script, canonical text chunks for the memory store, and
// reference image records from a manifest.
package script

import (
	"regexp"
	"strings"

	"github.com/raphaelgruber/storyboard-go/internal/models"
)

// Scene heading forms accepted by the parser. The first capture is the
// scene number, the second the rest of the heading line.
var scenePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^#+\s*Scene\s+(\d+)[:\s-]*(.*)$`),
	regexp.MustCompile(`(?i)^Scene\s+(\d+)[:\s-]*(.*)$`),
	regexp.MustCompile(`(?i)^\[Scene\s+(\d+)\][:\s-]*(.*)$`),
}

// sluglineRe matches screenplay sluglines like "INT. ROOFTOP - DUSK".
var sluglineRe = regexp.MustCompile(`(?m)^(?:INT|EXT)[.\s]+([^-\n]+?)\s*-\s*(\S[^\n]*)$`)

// mentionRe finds @mentions, the script's inline entity markers.
var mentionRe = regexp.MustCompile(`@([a-zA-Z0-9_-]+)`)

// ParseScenes splits script markdown into scenes at scene headings. Text
// before the first heading is ignored. Location, time and entities are
// extracted from each scene's body.
func ParseScenes(content string) []models.SceneData {
	var scenes []models.SceneData
	var current *models.SceneData
	var body []string

	flush := func() {
		if current == nil {
			return
		}
		current.RawText = strings.TrimSpace(strings.Join(body, "\n"))
		current.Location, current.Time = extractSlugline(current.RawText)
		current.Entities = extractEntities(current.RawText)
		scenes = append(scenes, *current)
	}

	for _, line := range strings.Split(content, "\n") {
		if id, desc, ok := matchSceneHeading(line); ok {
			flush()
			current = &models.SceneData{SceneID: id, Description: desc}
			body = body[:0]
			continue
		}
		if current != nil {
			body = append(body, line)
		}
	}
	flush()

	return scenes
}

func matchSceneHeading(line string) (int, string, bool) {
	for _, re := range scenePatterns {
		if m := re.FindStringSubmatch(line); m != nil {
			return atoiSafe(m[1]), strings.TrimSpace(m[2]), true
		}
	}
	return 0, "", false
}

func extractSlugline(text string) (location, time string) {
	if m := sluglineRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	return "", ""
}

// extractEntities collects @mentions in order of first appearance.
func extractEntities(text string) []string {
	var entities []string
	seen := map[string]bool{}
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		name := strings.ToLower(m[1])
		if !seen[name] {
			seen[name] = true
			entities = append(entities, name)
		}
	}
	return entities
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
