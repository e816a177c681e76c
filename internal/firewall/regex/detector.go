// Package regex implements a pure, deterministic, no-I/O scanner over
// a compiled pattern set. Reload publishes an immutable snapshot
// behind an atomic pointer, so readers always see a complete
// snapshot, never a torn mix of old and new state.
package regex

import (
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/promptfirewall/firewall/internal/core"
	"github.com/promptfirewall/firewall/pkg/observability"
)

type compiledPattern struct {
	name        string
	description string
	severity    core.Severity
	category    string
	re          *regexp.Regexp
}

type compiledContextual struct {
	trigger  string
	severity core.Severity
}

// snapshot is the immutable compiled state swapped in by Reload.
type snapshot struct {
	categories []string
	byCategory map[string][]compiledPattern
	contextual []compiledContextual
}

// Detector is RegexDetector. Zero value is not usable; construct with New.
type Detector struct {
	config  core.PatternConfig
	logger  observability.Logger
	metrics observability.MetricsClient

	snap atomic.Pointer[snapshot]
}

// New builds a Detector and performs the first load. A pattern that
// fails to compile is logged and skipped rather than failing
// construction.
func New(config core.PatternConfig, logger observability.Logger, metrics observability.MetricsClient) (*Detector, error) {
	if logger == nil {
		logger = observability.NoopLogger{}
	}
	if metrics == nil {
		metrics = observability.NoopMetricsClient{}
	}
	d := &Detector{config: config, logger: logger, metrics: metrics}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload atomically swaps in a freshly loaded and compiled pattern
// set. In-flight Check calls continue to use the snapshot they already
// loaded.
func (d *Detector) Reload() error {
	doc, err := d.config.Load()
	if err != nil {
		return err
	}

	next := &snapshot{
		byCategory: make(map[string][]compiledPattern, len(doc.Patterns)),
	}

	total := 0
	for _, cat := range doc.Patterns {
		next.categories = append(next.categories, cat.Name)
		compiled := make([]compiledPattern, 0, len(cat.Patterns))
		for _, def := range cat.Patterns {
			re, err := regexp.Compile("(?i)" + def.Pattern)
			if err != nil {
				d.logger.Warn("invalid_regex_pattern", map[string]interface{}{
					"pattern": def.Name,
					"error":   err.Error(),
				})
				continue
			}
			compiled = append(compiled, compiledPattern{
				name:        def.Name,
				description: def.Description,
				severity:    core.ParseSeverity(def.Severity),
				category:    cat.Name,
				re:          re,
			})
			total++
		}
		next.byCategory[cat.Name] = compiled
	}

	for _, ctx := range doc.ContextualPatterns {
		next.contextual = append(next.contextual, compiledContextual{
			trigger:  strings.ToLower(ctx.Trigger),
			severity: core.ParseSeverity(ctx.Severity),
		})
	}

	d.snap.Store(next)
	d.logger.Info("regex_patterns_loaded", map[string]interface{}{
		"categories":     len(next.categories),
		"total_patterns": total,
	})
	return nil
}

// Check scans prompt against the currently published snapshot. Pure,
// no I/O, deterministic: the same prompt against the same snapshot
// always returns byte-identical detections.
func (d *Detector) Check(prompt string) []core.Detection {
	snap := d.snap.Load()
	var detections []core.Detection

	for _, category := range snap.categories {
		for _, p := range snap.byCategory[category] {
			locs := p.re.FindAllStringIndex(prompt, -1)
			if len(locs) == 0 {
				continue
			}

			positions := make([]core.Span, len(locs))
			matchedText := make([]string, 0, 3)
			for i, loc := range locs {
				positions[i] = core.Span{Start: loc[0], End: loc[1]}
				if i < 3 {
					matchedText = append(matchedText, prompt[loc[0]:loc[1]])
				}
			}

			detections = append(detections, core.Detection{
				Kind:           core.DetectionRegex,
				MatchedPattern: p.name,
				Confidence:     1.0,
				Severity:       p.severity,
				Category:       p.category,
				Positions:      positions,
				Metadata: map[string]interface{}{
					"description":  p.description,
					"match_count":  len(locs),
					"matched_text": matchedText,
				},
			})

			d.metrics.IncrementCounterWithLabels("regex_detections_total", 1, map[string]string{
				"pattern_name": p.name,
				"category":     p.category,
			})
		}
	}

	detections = append(detections, d.checkContextual(prompt, snap)...)
	return detections
}

func (d *Detector) checkContextual(prompt string, snap *snapshot) []core.Detection {
	var detections []core.Detection
	lower := strings.ToLower(prompt)

	for _, ctx := range snap.contextual {
		idx := strings.Index(lower, ctx.trigger)
		if idx < 0 {
			continue
		}

		end := idx + len(ctx.trigger) + 50
		if end > len(prompt) {
			end = len(prompt)
		}

		detections = append(detections, core.Detection{
			Kind:           core.DetectionContextual,
			MatchedPattern: ctx.trigger,
			Confidence:     0.8,
			Severity:       ctx.severity,
			Category:       "contextual",
			Positions:      []core.Span{{Start: idx, End: idx + len(ctx.trigger)}},
			Metadata: map[string]interface{}{
				"trigger":     ctx.trigger,
				"context":     prompt[idx:end],
				"description": "Contextual pattern detected: " + ctx.trigger,
			},
		})
	}
	return detections
}

// Categories returns the names of currently loaded pattern categories.
func (d *Detector) Categories() []string {
	snap := d.snap.Load()
	out := make([]string, len(snap.categories))
	copy(out, snap.categories)
	return out
}

// PatternsInCategory returns the pattern names within a category, or
// nil if the category doesn't exist.
func (d *Detector) PatternsInCategory(category string) []string {
	snap := d.snap.Load()
	patterns, ok := snap.byCategory[category]
	if !ok {
		return nil
	}
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = p.name
	}
	return out
}
