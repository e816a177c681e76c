// Package policy implements the deny/allow-list and rule-table
// evaluator that turns a set of Detections into a final Action and
// reason. Like regex.Detector, reload publishes an immutable snapshot
// behind an atomic pointer.
package policy

import (
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/promptfirewall/firewall/internal/core"
	"github.com/promptfirewall/firewall/pkg/observability"
)

const (
	reasonDenylist     = "Prompt contains denied keywords or phrases"
	reasonAllowlist    = "Prompt matches allowlist"
	reasonNoDetections = "No sensitive data detected"
	reasonNoRulesHit   = "No policy rules triggered"
)

type compiledRule struct {
	ruleType    string
	enabled     bool
	severity    core.Severity
	hasSeverity bool
	action      core.Action
	categories  map[string]bool // empty map = any category
}

type compiledPolicy struct {
	id          string
	name        string
	description string
	version     string
	enabled     bool
	rules       []compiledRule
}

type snapshot struct {
	policies          map[string]compiledPolicy
	defaultPolicyID   string
	allowlistPatterns []string
	denylistKeywords  []string
	denylistPhrases   []string
	denylistPatterns  []*regexp.Regexp
}

// Engine is PolicyEngine.
type Engine struct {
	config  core.PolicyConfig
	logger  observability.Logger
	metrics observability.MetricsClient

	snap atomic.Pointer[snapshot]
}

// New builds an Engine and performs the first load.
func New(config core.PolicyConfig, logger observability.Logger, metrics observability.MetricsClient) (*Engine, error) {
	if logger == nil {
		logger = observability.NoopLogger{}
	}
	if metrics == nil {
		metrics = observability.NoopMetricsClient{}
	}
	e := &Engine{config: config, logger: logger, metrics: metrics}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload atomically swaps in a freshly loaded policy snapshot. An
// invalid denylist regex is logged and skipped, mirroring
// RegexDetector's tolerance for individually bad patterns.
func (e *Engine) Reload() error {
	doc, err := e.config.Load()
	if err != nil {
		return err
	}

	next := &snapshot{
		policies:        make(map[string]compiledPolicy, len(doc.Policies)),
		defaultPolicyID: doc.Settings.DefaultPolicy,
	}
	if next.defaultPolicyID == "" {
		next.defaultPolicyID = "default"
	}

	for id, def := range doc.Policies {
		rules := make([]compiledRule, 0, len(def.Rules))
		for _, r := range def.Rules {
			cr := compiledRule{
				ruleType: r.Type,
				enabled:  r.IsEnabled(),
				action:   core.Action(strings.ToLower(r.Action)),
			}
			if r.Severity != "" {
				cr.severity = core.ParseSeverity(r.Severity)
				cr.hasSeverity = true
			}
			if len(r.Categories) > 0 {
				cr.categories = make(map[string]bool, len(r.Categories))
				for _, c := range r.Categories {
					cr.categories[c] = true
				}
			}
			rules = append(rules, cr)
		}
		next.policies[id] = compiledPolicy{
			id:          id,
			name:        def.Name,
			description: def.Description,
			version:     def.Version,
			enabled:     def.IsEnabled(),
			rules:       rules,
		}
	}

	for _, p := range doc.Allowlist.Patterns {
		next.allowlistPatterns = append(next.allowlistPatterns, strings.ToLower(p))
	}
	for _, k := range doc.Denylist.Keywords {
		next.denylistKeywords = append(next.denylistKeywords, strings.ToLower(k))
	}
	for _, p := range doc.Denylist.Phrases {
		next.denylistPhrases = append(next.denylistPhrases, strings.ToLower(p))
	}
	for _, pattern := range doc.Denylist.Patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			e.logger.Warn("invalid_denylist_pattern", map[string]interface{}{"pattern": pattern, "error": err.Error()})
			continue
		}
		next.denylistPatterns = append(next.denylistPatterns, re)
	}

	e.snap.Store(next)
	e.logger.Info("policies_loaded", map[string]interface{}{
		"count":   len(next.policies),
		"default": next.defaultPolicyID,
	})
	return nil
}

// Evaluate decides an Action for prompt and detections under the
// named (or default) policy. Layers are checked in order: denylist,
// allowlist, no-detections, rule table; the first matching layer
// decides.
func (e *Engine) Evaluate(prompt string, detections []core.Detection, policyID string) (core.Action, string, error) {
	snap := e.snap.Load()

	pid := policyID
	if pid == "" {
		pid = snap.defaultPolicyID
	}

	p, ok := snap.policies[pid]
	if !ok {
		return "", "", core.NewPolicyError(pid, "policy not found")
	}
	if !p.enabled {
		return "", "", core.NewPolicyError(pid, "policy is disabled")
	}

	if e.matchesDenylist(prompt, snap) {
		e.metrics.IncrementCounterWithLabels("policy_evaluations_total", 1, map[string]string{"policy_id": pid, "action": string(core.ActionBlock)})
		return core.ActionBlock, reasonDenylist, nil
	}

	if e.matchesAllowlist(prompt, snap) {
		e.metrics.IncrementCounterWithLabels("policy_evaluations_total", 1, map[string]string{"policy_id": pid, "action": string(core.ActionAllow)})
		return core.ActionAllow, reasonAllowlist, nil
	}

	if len(detections) == 0 {
		e.metrics.IncrementCounterWithLabels("policy_evaluations_total", 1, map[string]string{"policy_id": pid, "action": string(core.ActionAllow)})
		return core.ActionAllow, reasonNoDetections, nil
	}

	action, reason := evaluateRules(p, detections)
	e.metrics.IncrementCounterWithLabels("policy_evaluations_total", 1, map[string]string{"policy_id": pid, "action": string(action)})
	return action, reason, nil
}

func (e *Engine) matchesDenylist(prompt string, snap *snapshot) bool {
	lower := strings.ToLower(prompt)
	for _, k := range snap.denylistKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	for _, phrase := range snap.denylistPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	for _, re := range snap.denylistPatterns {
		if re.MatchString(prompt) {
			return true
		}
	}
	return false
}

func (e *Engine) matchesAllowlist(prompt string, snap *snapshot) bool {
	lower := strings.ToLower(prompt)
	for _, p := range snap.allowlistPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func evaluateRules(p compiledPolicy, detections []core.Detection) (core.Action, string) {
	highest := core.ActionAllow
	var reasons []string

	for _, rule := range p.rules {
		if !rule.enabled {
			continue
		}
		for _, d := range detections {
			if len(rule.categories) > 0 && !rule.categories[d.Category] {
				continue
			}
			if rule.hasSeverity && rule.severity != d.Severity {
				continue
			}

			switch rule.action {
			case core.ActionBlock:
				highest = core.ActionBlock
				reasons = append(reasons, "Blocked by rule '"+rule.ruleType+"': "+d.MatchedPattern+" ("+string(d.Severity)+")")
			case core.ActionWarn:
				if highest != core.ActionBlock {
					highest = core.ActionWarn
				}
				reasons = append(reasons, "Warning from rule '"+rule.ruleType+"': "+d.MatchedPattern)
			}
		}
	}

	if len(reasons) == 0 {
		return core.ActionAllow, reasonNoRulesHit
	}
	if len(reasons) > 3 {
		reasons = reasons[:3]
	}
	return highest, strings.Join(reasons, "; ")
}

// DefaultPolicyID returns the ID of the policy used when a request
// names none. Callers that key cache entries or results by policy use
// this so an omitted ID and the default ID land in the same place.
func (e *Engine) DefaultPolicyID() string {
	return e.snap.Load().defaultPolicyID
}

// Policies returns the IDs of the currently loaded policies.
func (e *Engine) Policies() []string {
	snap := e.snap.Load()
	out := make([]string, 0, len(snap.policies))
	for id := range snap.policies {
		out = append(out, id)
	}
	return out
}

// Info is a read-only summary of one loaded policy.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Enabled     bool   `json:"enabled"`
	RuleCount   int    `json:"rule_count"`
}

// PolicyInfo returns a summary of the named policy, or false if it
// isn't loaded.
func (e *Engine) PolicyInfo(id string) (Info, bool) {
	snap := e.snap.Load()
	p, ok := snap.policies[id]
	if !ok {
		return Info{}, false
	}
	return Info{
		ID:          p.id,
		Name:        p.name,
		Description: p.description,
		Version:     p.version,
		Enabled:     p.enabled,
		RuleCount:   len(p.rules),
	}, true
}
