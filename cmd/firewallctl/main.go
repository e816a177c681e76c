// Command firewallctl is a standalone CLI wrapper around the firewall
// core, useful for smoke-testing a patterns/policy pair against a
// single prompt without standing up the (out-of-scope) transport
// layer. It wires the exact same components a production server would
// construct; only the request source (a flag instead of an HTTP body)
// differs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/promptfirewall/firewall/internal/core"
	"github.com/promptfirewall/firewall/internal/firewall/cache"
	"github.com/promptfirewall/firewall/internal/firewall/embedding"
	"github.com/promptfirewall/firewall/internal/firewall/pipeline"
	"github.com/promptfirewall/firewall/internal/firewall/policy"
	"github.com/promptfirewall/firewall/internal/firewall/regex"
	"github.com/promptfirewall/firewall/internal/firewall/semantic"
	"github.com/promptfirewall/firewall/internal/firewall/vectorindex"
	"github.com/promptfirewall/firewall/pkg/config"
	"github.com/promptfirewall/firewall/pkg/observability"
)

var (
	patternsFile = flag.String("patterns", "config/patterns.yaml", "Path to the pattern config YAML file")
	policyFile   = flag.String("policies", "config/policies.yaml", "Path to the policy config YAML file")
	redisAddr    = flag.String("redis", "", "Redis address for the L2 cache (empty disables caching)")
	policyID     = flag.String("policy", "", "Policy ID to evaluate against (empty uses the default policy)")
	userID       = flag.String("user", "", "User identifier attached to the validation request")
	prompt       = flag.String("prompt", "", "Prompt text to validate (required)")
	timeout      = flag.Duration("timeout", 5*time.Second, "Validation deadline")
)

func main() {
	flag.Parse()
	if *prompt == "" {
		fmt.Fprintln(os.Stderr, "firewallctl: -prompt is required")
		os.Exit(2)
	}

	logger := observability.NewStandardLogger("firewallctl")
	metrics := observability.NoopMetricsClient{}

	regexDetector, err := regex.New(config.NewFilePatternConfig(*patternsFile), logger.WithPrefix("regex"), metrics)
	if err != nil {
		fatal(logger, "loading pattern config", err)
	}

	policyEngine, err := policy.New(config.NewFilePolicyConfig(*policyFile), logger.WithPrefix("policy"), metrics)
	if err != nil {
		fatal(logger, "loading policy config", err)
	}

	semanticDetector := semantic.New(
		embedding.NewMockEmbedder(384),
		vectorindex.NewMemoryIndex(),
		logger.WithPrefix("semantic"),
		metrics,
	)

	var cacheMgr *cache.Manager
	if *redisAddr != "" {
		store := cache.NewRedisStore(goredis.NewClient(&goredis.Options{Addr: *redisAddr}))
		cacheMgr = cache.New(store, cache.Config{}, logger.WithPrefix("cache"), metrics)
	}

	p := pipeline.New(regexDetector, semanticDetector, policyEngine, cacheMgr, logger.WithPrefix("pipeline"), metrics)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result := p.Validate(ctx, core.Prompt{Text: *prompt, UserID: *userID, PolicyID: *policyID})

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fatal(logger, "encoding result", err)
	}
	fmt.Println(string(out))

	if result.Status == core.StatusBlocked || result.Status == core.StatusError {
		os.Exit(1)
	}
}

func fatal(logger observability.Logger, op string, err error) {
	logger.Fatal("firewallctl_failed", map[string]interface{}{"op": op, "error": err.Error()})
}
