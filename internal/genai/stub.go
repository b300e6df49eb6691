package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

var stubReplies = map[models.Intent]string{
	models.IntentSupport: "Thank you for reaching out! I understand your concern. Could you please provide your order number or account email so I can look into this for you right away?",
	models.IntentSales:   "Thank you for your interest in our plans! Pricing depends on your team size and the features you need, and our sales team can put together a quote for you. I'd be happy to schedule a demo to walk you through everything. Would that work for you?",
	models.IntentGeneral: "Hello! Thanks for getting in touch. How can I assist you today?",
	models.IntentUrgent:  "I understand this is urgent. I'm connecting you with a member of our team who will get back to you as soon as possible.",
}

// Stub is a deterministic generator for offline runs and tests.
type Stub struct{}

// NewStub creates a Stub.
func NewStub() *Stub { return &Stub{} }

// Generate implements Generator.
func (s *Stub) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", wrapError("stub", err)
	}
	intent := req.Intent
	if intent == "" {
		intent = models.IntentGeneral
	}
	if req.Purpose == PurposeClassification {
		return fmt.Sprintf("CLASSIFICATION: %s\nREASON: stub provider", strings.ToUpper(string(intent))), nil
	}
	if reply, ok := stubReplies[intent]; ok {
		return reply, nil
	}
	return stubReplies[models.IntentGeneral], nil
}
