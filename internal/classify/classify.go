// Package classify assigns an intent, a sentiment score, and a language to
// inbound messages.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/genai"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/prompts"
)

// ErrUnparseable is returned when a model reply carries no classification.
var ErrUnparseable = errors.New("classification reply could not be parsed")

// Input is what a classifier sees.
type Input struct {
	Text string
	// Context is the formatted conversation history.
	Context string
}

// Result is the classification of one message.
type Result struct {
	Intent      models.Intent
	Confidence  float64
	Sentiment   float64
	Language    string
	OrderNumber string
	Reason      string
}

// Classifier assigns an intent to an inbound message.
type Classifier interface {
	Classify(ctx context.Context, in Input) (Result, error)
}

// RuleClassifier classifies with keyword rules only. It never fails.
type RuleClassifier struct {
	DefaultLanguage string
	AutoDetect      bool
}

// Classify implements Classifier.
func (c RuleClassifier) Classify(ctx context.Context, in Input) (Result, error) {
	intent, conf := RuleIntent(in.Text)
	return c.annotate(Result{Intent: intent, Confidence: conf, Reason: "keyword rules"}, in.Text), nil
}

func (c RuleClassifier) annotate(r Result, text string) Result {
	r.Sentiment = Sentiment(text)
	r.OrderNumber = ExtractOrderNumber(text)
	def := c.DefaultLanguage
	if def == "" {
		def = models.DefaultLanguage
	}
	r.Language = def
	if c.AutoDetect {
		r.Language = DetectLanguage(text, def)
	}
	return r
}

// LLMClassifier asks a generator for the intent. Urgency markers short
// circuit the model, and unparseable replies or model errors are returned so
// the caller can fall back.
type LLMClassifier struct {
	gen   genai.Generator
	rules RuleClassifier
}

// NewLLMClassifier creates an LLMClassifier backed by gen.
func NewLLMClassifier(gen genai.Generator, rules RuleClassifier) *LLMClassifier {
	return &LLMClassifier{gen: gen, rules: rules}
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, in Input) (Result, error) {
	if DetectUrgency(in.Text) {
		return c.rules.annotate(Result{Intent: models.IntentUrgent, Confidence: 0.9, Reason: "urgency markers"}, in.Text), nil
	}

	reply, err := c.gen.Generate(ctx, genai.Request{
		Purpose:     genai.PurposeClassification,
		UserPrompt:  prompts.Classification(in.Text, in.Context),
		MaxTokens:   60,
		Temperature: 0,
	})
	if err != nil {
		slog.Warn("LLMClassifier.Classify: generation failed", "error", err)
		return Result{}, fmt.Errorf("classify: %w", err)
	}
	intent, reason, err := ParseClassification(reply)
	if err != nil {
		slog.Warn("LLMClassifier.Classify: unparseable reply", "reply", reply)
		return Result{}, err
	}
	return c.rules.annotate(Result{Intent: intent, Confidence: 0.8, Reason: reason}, in.Text), nil
}

// ParseClassification reads the "CLASSIFICATION: <label>" and optional
// "REASON: ..." lines of a model reply.
func ParseClassification(reply string) (models.Intent, string, error) {
	var label, reason string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "CLASSIFICATION:"):
			label = strings.TrimSpace(line[len("CLASSIFICATION:"):])
		case strings.HasPrefix(upper, "REASON:"):
			reason = strings.TrimSpace(line[len("REASON:"):])
		}
	}
	if label == "" {
		return models.IntentGeneral, "", ErrUnparseable
	}
	intent, ok := models.ParseIntent(label)
	if !ok {
		return models.IntentGeneral, "", fmt.Errorf("%w: unknown label %q", ErrUnparseable, label)
	}
	return intent, reason, nil
}

// New picks the classifier named by cfg.Classifier. The llm classifier
// needs a generator; without one the rule classifier is used.
func New(cfg models.AgentConfig, gen genai.Generator) Classifier {
	rules := RuleClassifier{DefaultLanguage: cfg.DefaultLanguage, AutoDetect: cfg.AutoDetectLanguage}
	if cfg.Classifier == "llm" && gen != nil {
		return NewLLMClassifier(gen, rules)
	}
	return rules
}

// Annotate computes the classifier-independent signals for text. The engine
// uses it when classification fails.
func Annotate(cfg models.AgentConfig, text string) Result {
	rules := RuleClassifier{DefaultLanguage: cfg.DefaultLanguage, AutoDetect: cfg.AutoDetectLanguage}
	return rules.annotate(Result{Intent: models.IntentGeneral, Confidence: 0}, text)
}
