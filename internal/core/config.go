package core

import "gopkg.in/yaml.v3"

// PatternDef is one regex definition within a category, as decoded
// from a PatternConfig document.
type PatternDef struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Description string `yaml:"description"`
	Severity    string `yaml:"severity"`
}

// ContextualPatternDef is a trigger phrase scanned as a case-insensitive
// substring.
type ContextualPatternDef struct {
	Trigger  string `yaml:"trigger"`
	Severity string `yaml:"severity"`
}

// PatternCategory is one category's ordered pattern list.
type PatternCategory struct {
	Name     string
	Patterns []PatternDef
}

// PatternCategories preserves the declaration order of the `patterns:`
// map in the YAML document. Detections are emitted in category order
// then pattern order, which a plain map[string][]PatternDef can't
// guarantee since Go map iteration order is randomized.
type PatternCategories []PatternCategory

func (c *PatternCategories) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	out := make(PatternCategories, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var name string
		if err := node.Content[i].Decode(&name); err != nil {
			return err
		}
		var defs []PatternDef
		if err := node.Content[i+1].Decode(&defs); err != nil {
			return err
		}
		out = append(out, PatternCategory{Name: name, Patterns: defs})
	}
	*c = out
	return nil
}

// PatternDocument is the decoded shape of a PatternConfig YAML document.
type PatternDocument struct {
	Patterns           PatternCategories      `yaml:"patterns"`
	ContextualPatterns []ContextualPatternDef `yaml:"contextual_patterns"`
}

// PatternConfig is the provider interface RegexDetector consumes. A
// provider yields an immutable snapshot; RegexDetector.Reload() asks
// for a fresh one and swaps it in atomically.
type PatternConfig interface {
	Load() (*PatternDocument, error)
}

// RuleDef is one policy rule. Enabled is a pointer so an omitted
// enabled key can be told apart from an explicit false: a rule an
// operator forgets to flag stays active rather than going silently
// dead.
type RuleDef struct {
	Type       string   `yaml:"type"`
	Enabled    *bool    `yaml:"enabled"`
	Severity   string   `yaml:"severity,omitempty"`
	Action     string   `yaml:"action"`
	Categories []string `yaml:"categories,omitempty"`
}

// IsEnabled reports whether the rule is active; an omitted enabled key
// defaults to true.
func (r RuleDef) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }

// PolicyDef is one named, versioned policy. Enabled follows the same
// omitted-means-true convention as RuleDef.Enabled.
type PolicyDef struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Version     string    `yaml:"version"`
	Enabled     *bool     `yaml:"enabled"`
	Rules       []RuleDef `yaml:"rules"`
}

// IsEnabled reports whether the policy is active; an omitted enabled
// key defaults to true.
func (p PolicyDef) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

// Bool returns a pointer to v, for building policy documents in code.
func Bool(v bool) *bool { return &v }

// AllowlistDef is the allowlist sibling structure.
type AllowlistDef struct {
	Patterns []string `yaml:"patterns"`
}

// DenylistDef is the denylist sibling structure.
type DenylistDef struct {
	Keywords []string `yaml:"keywords"`
	Phrases  []string `yaml:"phrases"`
	Patterns []string `yaml:"patterns"`
}

// PolicySettings carries document-level settings.
type PolicySettings struct {
	DefaultPolicy string `yaml:"default_policy"`
}

// PolicyDocument is the decoded shape of a PolicyConfig YAML document.
type PolicyDocument struct {
	Settings  PolicySettings       `yaml:"settings"`
	Policies  map[string]PolicyDef `yaml:"policies"`
	Allowlist AllowlistDef         `yaml:"allowlist"`
	Denylist  DenylistDef          `yaml:"denylist"`
}

// PolicyConfig is the provider interface PolicyEngine consumes.
type PolicyConfig interface {
	Load() (*PolicyDocument, error)
}
