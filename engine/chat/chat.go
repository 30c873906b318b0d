// Package chat implements the conversational sales assistant. A user question
// is first mined for vehicle mentions, then answered by the chat model with
// matching inventory injected as context, so the assistant only ever offers
// vehicles that actually exist in the store.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BusinessTrucks/btagent/engine/domain"
	"github.com/BusinessTrucks/btagent/pkg/openrouter"
	"github.com/BusinessTrucks/btagent/pkg/trucknlp"
)

// DefaultSystemPrompt frames the assistant persona. Kept short: the inventory
// context below it does the heavy lifting.
const DefaultSystemPrompt = "You are Anna, a sales assistant for Business Trucks, a commercial " +
	"vehicle dealer in Russia. Answer in the customer's language. Recommend only " +
	"vehicles from the inventory context provided. If nothing matches, say so and " +
	"ask a clarifying question. Always mention price and location when known."

// Retriever is the retrieval slice the assistant searches through.
type Retriever interface {
	Search(ctx context.Context, req domain.QueryRequest) ([]domain.SearchResult, error)
}

// Completer runs one chat completion.
type Completer interface {
	Chat(ctx context.Context, messages []openrouter.Message, temperature float32, maxTokens int) (*openrouter.ChatResult, error)
}

// Options configures the assistant.
type Options struct {
	TopK         int
	Temperature  float32
	MaxTokens    int
	SystemPrompt string
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		TopK:         5,
		Temperature:  0.4,
		MaxTokens:    700,
		SystemPrompt: DefaultSystemPrompt,
	}
}

// Assistant answers customer questions against live inventory.
type Assistant struct {
	retriever Retriever
	completer Completer
	opts      Options
	logger    *slog.Logger
}

// New creates an Assistant.
func New(retriever Retriever, completer Completer, opts Options, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultOptions().MaxTokens
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	return &Assistant{retriever: retriever, completer: completer, opts: opts, logger: logger}
}

// Answer is one assistant reply with the inventory that backed it.
type Answer struct {
	Text       string                `json:"text"`
	Matches    []domain.SearchResult `json:"matches"`
	Model      string                `json:"model"`
	TokensUsed int                   `json:"tokens_used"`
}

// Ask answers one customer question. History carries prior turns, oldest
// first, without the system prompt.
func (a *Assistant) Ask(ctx context.Context, question string, history []openrouter.Message) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("chat: %w: empty question", domain.ErrInvalidQuery)
	}

	matches, err := a.lookup(ctx, question)
	if err != nil {
		// A dead store should not mute the assistant; answer without
		// inventory context and say so in the prompt.
		a.logger.Warn("chat: inventory lookup failed", "error", err)
		matches = nil
	}

	messages := make([]openrouter.Message, 0, len(history)+3)
	messages = append(messages, openrouter.Message{Role: "system", Content: a.opts.SystemPrompt})
	messages = append(messages, openrouter.Message{Role: "system", Content: contextBlock(matches)})
	messages = append(messages, history...)
	messages = append(messages, openrouter.Message{Role: "user", Content: question})

	result, err := a.completer.Chat(ctx, messages, a.opts.Temperature, a.opts.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("chat: completion: %w", err)
	}

	a.logger.Info("chat: answered", "matches", len(matches), "tokens", result.TokensUsed)
	return &Answer{
		Text:       result.Reply,
		Matches:    matches,
		Model:      result.Model,
		TokensUsed: result.TokensUsed,
	}, nil
}

// lookup searches inventory for the question, narrowing by make when the
// question names one explicitly.
func (a *Assistant) lookup(ctx context.Context, question string) ([]domain.SearchResult, error) {
	req := domain.QueryRequest{Text: question, TopK: a.opts.TopK}
	if m := trucknlp.ExtractBest(question); m != nil && m.Confidence >= 0.6 {
		req.Filters = append(req.Filters, domain.Filter{Attribute: "make", Equals: m.Make})
		if m.Model != "" {
			req.Filters = append(req.Filters, domain.Filter{Attribute: "model", Equals: m.Model})
		}
	}

	matches, err := a.retriever.Search(ctx, req)
	if err == nil && len(matches) == 0 && len(req.Filters) > 1 {
		// The exact model may not be in stock; retry with the make only.
		req.Filters = req.Filters[:1]
		matches, err = a.retriever.Search(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// contextBlock renders matches into the inventory context message.
func contextBlock(matches []domain.SearchResult) string {
	if len(matches) == 0 {
		return "Inventory context: no matching vehicles found in current stock."
	}
	var b strings.Builder
	b.WriteString("Inventory context, current stock matching the question:\n")
	for i, m := range matches {
		rec := m.Record
		fmt.Fprintf(&b, "%d. %s %s", i+1, rec.Attr("make"), rec.Attr("model"))
		if y := rec.Attr("year"); y != "" {
			fmt.Fprintf(&b, " (%s)", y)
		}
		if p := rec.Attr("price"); p != "" {
			currency := rec.Attr("currency")
			if currency == "" {
				currency = "RUB"
			}
			fmt.Fprintf(&b, ", %s %s", p, currency)
		}
		if c := rec.Attr("city"); c != "" {
			fmt.Fprintf(&b, ", %s", c)
		}
		if u := rec.Attr("url"); u != "" {
			fmt.Fprintf(&b, ", %s", u)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
