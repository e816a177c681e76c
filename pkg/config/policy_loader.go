package config

import (
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/promptfirewall/firewall/internal/core"
)

// FilePolicyConfig decodes a PolicyConfig document from a YAML file on
// disk, re-reading it on every Load() call so PolicyEngine.Reload
// picks up edits without a restart.
type FilePolicyConfig struct {
	Path string
}

func NewFilePolicyConfig(path string) *FilePolicyConfig {
	return &FilePolicyConfig{Path: path}
}

func (l *FilePolicyConfig) Load() (*core.PolicyDocument, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading policy file %s", l.Path)
	}

	var doc core.PolicyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "parsing policy file %s", l.Path)
	}
	assignMissingRuleIDs(&doc)
	return &doc, nil
}

// assignMissingRuleIDs fills in a stable UUID for any rule an operator
// left untyped in policies.yaml, so a rule always has a unique
// identifier to reference in logs and BLOCK/WARN reasons.
func assignMissingRuleIDs(doc *core.PolicyDocument) {
	for id, def := range doc.Policies {
		for i := range def.Rules {
			if def.Rules[i].Type == "" {
				def.Rules[i].Type = uuid.NewString()
			}
		}
		doc.Policies[id] = def
	}
}

// StaticPolicyConfig serves an in-memory PolicyDocument without file I/O.
type StaticPolicyConfig struct {
	Doc *core.PolicyDocument
}

func (s *StaticPolicyConfig) Load() (*core.PolicyDocument, error) {
	return s.Doc, nil
}
