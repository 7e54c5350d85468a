package script

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Inputs holds the raw contents of the three run input files.
type Inputs struct {
	Script   string
	Style    string
	Entities string
	// EntitiesMeta is the structured form of the entities file, when it
	// embeds a JSON block.
	EntitiesMeta map[string]any
}

// LoadInputs reads and validates the script, style and entities files.
// Missing or non-markdown files are fatal; a run never starts on bad
// inputs.
func LoadInputs(scriptPath, stylePath, entitiesPath string) (Inputs, error) {
	var in Inputs

	for _, f := range []struct {
		name string
		path string
		dst  *string
	}{
		{"script", scriptPath, &in.Script},
		{"style", stylePath, &in.Style},
		{"entities", entitiesPath, &in.Entities},
	} {
		if !strings.HasSuffix(f.path, ".md") {
			return Inputs{}, fmt.Errorf("%s file must be markdown: %s", f.name, f.path)
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			return Inputs{}, fmt.Errorf("read %s file: %w", f.name, err)
		}
		*f.dst = string(data)
	}

	in.EntitiesMeta = extractJSONBlock(in.Entities)
	return in, nil
}

// extractJSONBlock pulls the first JSON object out of markdown, if any.
// An entities file without one is plain prose, which is fine.
func extractJSONBlock(content string) map[string]any {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start == -1 || end <= start {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return nil
	}
	return out
}
