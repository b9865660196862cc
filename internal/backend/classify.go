package backend

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/joescharf/cloudvoice/internal/llm"
	"github.com/joescharf/cloudvoice/internal/tools"
)

// DefaultHours is assumed when a prompt names no duration.
const DefaultHours = 10

// Classifier picks the tool that should answer a prompt.
type Classifier interface {
	ClassifyIntent(ctx context.Context, prompt string) (*llm.Intent, error)
}

var (
	instancePattern = regexp.MustCompile(`\b(gpu|[a-z]+\d[a-z0-9]*)[\s._-]?((?:\d*x)?large|medium|small|micro|nano|xl)\b`)
	hoursPattern    = regexp.MustCompile(`\b(\d+)\s*(?:h|hr|hrs|hour|hours)\b`)
	deployWords     = []string{"deploy", "launch", "provision", "spin up", "start", "confirm"}
	carbonWords     = []string{"carbon", "co2", "emission", "footprint", "energy", "check"}
)

// KeywordClassifier routes prompts with keyword rules. It needs no
// credentials and backs the LLM classifier when that fails.
type KeywordClassifier struct{}

func (KeywordClassifier) ClassifyIntent(_ context.Context, prompt string) (*llm.Intent, error) {
	p := strings.ToLower(prompt)
	intent := &llm.Intent{
		Instance: extractInstance(p),
		Hours:    extractHours(p),
	}

	switch {
	case containsAny(p, deployWords):
		intent.Tool = tools.ToolDeployInstance
	case containsAny(p, carbonWords) || intent.Instance != "":
		intent.Tool = tools.ToolCarbonFootprint
	default:
		intent.Tool = tools.ToolSearchKnowledge
		intent.Query = strings.TrimSpace(prompt)
	}

	fillDefaults(intent, prompt)
	return intent, nil
}

// fillDefaults completes an intent whose prompt named no instance or duration.
func fillDefaults(intent *llm.Intent, prompt string) {
	if intent.Hours <= 0 {
		intent.Hours = DefaultHours
	}
	if intent.Tool == tools.ToolSearchKnowledge || intent.Instance != "" {
		intent.Instance = tools.NormalizeInstance(intent.Instance)
		return
	}
	intent.Instance = "t3.medium"
	if strings.Contains(strings.ToLower(prompt), "gpu") {
		intent.Instance = "gpu.large"
	}
}

func extractInstance(p string) string {
	m := instancePattern.FindStringSubmatch(p)
	if m == nil {
		return ""
	}
	return tools.NormalizeInstance(m[1] + "." + m[2])
}

func extractHours(p string) int {
	m := hoursPattern.FindStringSubmatch(p)
	if m == nil {
		return DefaultHours
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return DefaultHours
	}
	return n
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// FallbackClassifier tries Primary and uses Fallback when it fails.
type FallbackClassifier struct {
	Primary  Classifier
	Fallback Classifier
	Logger   *slog.Logger
}

func (f FallbackClassifier) ClassifyIntent(ctx context.Context, prompt string) (*llm.Intent, error) {
	if f.Primary != nil {
		intent, err := f.Primary.ClassifyIntent(ctx, prompt)
		if err == nil {
			return intent, nil
		}
		if f.Logger != nil {
			f.Logger.Warn("intent classification failed, using keyword rules", "error", err)
		}
	}
	return f.Fallback.ClassifyIntent(ctx, prompt)
}
