package chat

import (
	"context"
	"strings"

	"github.com/mcclellann/lendtrack/pkg/models"
)

// Reply is what a Responder produces for one user message.
type Reply struct {
	Content    string
	Kind       models.ReplyKind
	Confidence float64
	TokensUsed int
	Model      string
}

// Responder answers a user message within a conversation.
type Responder interface {
	Respond(ctx context.Context, conv models.Conversation, content string) (Reply, error)
}

const keywordModel = "keyword-rules"

// KeywordResponder answers from a fixed set of canned replies picked by
// keyword. It stands in until a generative backend is configured.
type KeywordResponder struct{}

func (KeywordResponder) Respond(ctx context.Context, conv models.Conversation, content string) (Reply, error) {
	reply := Reply{
		Content:    "I understand your message. Let me help you with that.",
		Kind:       models.ReplyGeneralAdvice,
		Confidence: 0.8,
		Model:      keywordModel,
	}
	text := strings.ToLower(content)
	switch {
	case strings.Contains(text, "payment"):
		reply.Content = "Based on your loan details, I recommend making payments on time to avoid penalties. " +
			"Would you like me to show your upcoming payment schedule?"
		reply.Kind = models.ReplyPaymentPlan
	case strings.Contains(text, "penalty"):
		reply.Content = "Penalties are applied when payments are late. You can avoid them by paying before the due date. " +
			"Let me check your current penalty status."
		reply.Kind = models.ReplyPenaltyExplanation
	}
	reply.TokensUsed = len(strings.Fields(content)) + len(strings.Fields(reply.Content))
	return reply, nil
}
