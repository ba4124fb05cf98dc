// Package reply provides the source of assistant replies. The session
// controller treats a Source as a black box mapping user text to
// assistant text.
package reply

import (
	"context"
	"strings"
)

// Source generates an assistant reply for the given user text.
type Source interface {
	Generate(ctx context.Context, userText string) (string, error)
}

// rule maps a keyword to a canned reply.
type rule struct {
	keyword string
	reply   string
}

// Canned answers from a fixed keyword lookup table. It is the fallback
// source used when no LLM provider is configured and never fails.
type Canned struct {
	rules    []rule
	fallback string
}

// DefaultFallback is spoken when no keyword matches.
const DefaultFallback = "I'm not sure about that one. Could you rephrase it?"

// NewCanned creates a canned source with the built-in rule set.
func NewCanned() *Canned {
	return &Canned{
		rules: []rule{
			{keyword: "hello", reply: "Hello! How can I help you today?"},
			{keyword: "hi", reply: "Hi there! What can I do for you?"},
			{keyword: "help", reply: "You can type a question or tap the microphone to talk to me."},
			{keyword: "hours", reply: "We're open Monday to Friday, nine to five."},
			{keyword: "price", reply: "Pricing depends on the plan - the starter plan is free."},
			{keyword: "thanks", reply: "You're welcome!"},
			{keyword: "thank you", reply: "You're welcome!"},
			{keyword: "bye", reply: "Goodbye! Have a great day."},
		},
		fallback: DefaultFallback,
	}
}

// Generate returns the reply for the first matching keyword, or the
// fallback when nothing matches. It never returns an error.
func (c *Canned) Generate(_ context.Context, userText string) (string, error) {
	lower := strings.ToLower(userText)
	for _, r := range c.rules {
		if strings.Contains(lower, r.keyword) {
			return r.reply, nil
		}
	}
	return c.fallback, nil
}
