package compliance

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PatternFile is the on-disk shape of a policy pattern override. Both lists
// are optional; an empty list keeps the compiled-in defaults so a sparse file
// cannot accidentally disable a rule.
type PatternFile struct {
	ArtifactMarkers  []string `yaml:"artifact_markers"`
	QuestionPatterns []string `yaml:"question_patterns"`
}

// LoadPatterns reads a YAML pattern file and applies it over the defaults.
func LoadPatterns(path string) (PatternFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PatternFile{}, fmt.Errorf("compliance: read pattern file %s: %w", path, err)
	}

	var pf PatternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return PatternFile{}, fmt.Errorf("compliance: parse pattern file %s: %w", path, err)
	}

	pf.ArtifactMarkers = normalize(pf.ArtifactMarkers)
	pf.QuestionPatterns = normalize(pf.QuestionPatterns)
	return pf, nil
}

// Apply overlays the file's non-empty lists onto a rule set.
func (pf PatternFile) Apply(rules RuleSet) RuleSet {
	if len(pf.ArtifactMarkers) > 0 {
		rules.ArtifactMarkers = pf.ArtifactMarkers
	}
	if len(pf.QuestionPatterns) > 0 {
		rules.QuestionPatterns = pf.QuestionPatterns
	}
	return rules
}

// normalize lowercases entries and drops blanks; matching is always done on
// lowercased text.
func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
