package config

import (
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/promptfirewall/firewall/internal/core"
)

// FilePatternConfig decodes a PatternConfig document from a YAML file
// on disk, re-reading it on every Load() call so regex.Detector.Reload
// picks up edits without a process restart.
type FilePatternConfig struct {
	Path string
}

func NewFilePatternConfig(path string) *FilePatternConfig {
	return &FilePatternConfig{Path: path}
}

func (l *FilePatternConfig) Load() (*core.PatternDocument, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading patterns file %s", l.Path)
	}

	var doc core.PatternDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "parsing patterns file %s", l.Path)
	}
	assignMissingPatternNames(&doc)
	return &doc, nil
}

// assignMissingPatternNames fills in a stable UUID for any pattern
// entry an operator left unnamed in patterns.yaml, so detections always
// carry a usable matchedPattern identifier even for a quickly-added
// pattern.
func assignMissingPatternNames(doc *core.PatternDocument) {
	for i := range doc.Patterns {
		for j := range doc.Patterns[i].Patterns {
			if doc.Patterns[i].Patterns[j].Name == "" {
				doc.Patterns[i].Patterns[j].Name = uuid.NewString()
			}
		}
	}
}

// StaticPatternConfig serves an in-memory PatternDocument without any
// file I/O; used by tests and by callers that build policies
// programmatically.
type StaticPatternConfig struct {
	Doc *core.PatternDocument
}

func (s *StaticPatternConfig) Load() (*core.PatternDocument, error) {
	return s.Doc, nil
}
