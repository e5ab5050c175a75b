package suggest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"ycyw-chat/internal/config"
	"ycyw-chat/internal/logger"
	"ycyw-chat/internal/model"
)

var ErrDisabled = errors.New("reply drafting disabled: no OpenAI API key")

// maxTranscript bounds how many of the latest messages go into the prompt.
const maxTranscript = 30

// Drafter proposes a support agent's next reply from the dialog transcript.
type Drafter struct {
	client  openai.Client
	model   string
	enabled bool
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(cfg config.OpenAIConfig, l *slog.Logger, opts ...option.RequestOption) *Drafter {
	opts = append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	m := cfg.Model
	if m == "" {
		m = string(openai.ChatModelGPT4o)
	}
	return &Drafter{
		client:  openai.NewClient(opts...),
		model:   m,
		enabled: cfg.Enabled(),
		logger:  logger.Or(l).With("component", "suggest"),
	}
}

// Draft streams a reply proposal for agent in d, calling onToken for each
// delta, and returns the whole text. A new Draft cancels the one running.
func (dr *Drafter) Draft(ctx context.Context, d model.Dialog, agent *model.UserProfile, onToken func(string)) (string, error) {
	if !dr.enabled {
		return "", ErrDisabled
	}
	if !agent.IsSupport() {
		return "", fmt.Errorf("drafting is reserved to support agents")
	}

	ctx, cancel := context.WithCancel(ctx)
	dr.mu.Lock()
	if dr.cancel != nil {
		dr.cancel()
	}
	dr.cancel = cancel
	dr.mu.Unlock()
	defer cancel()

	ctx = logger.WithLogFields(ctx, logger.LogFields{DialogID: logger.Ptr(d.ID)})
	prompt := buildPrompt(d, agent)

	var full strings.Builder
	err := dr.stream(ctx, prompt, func(tok string) {
		full.WriteString(tok)
		if onToken != nil {
			onToken(tok)
		}
	})
	if err != nil {
		dr.logger.WarnContext(ctx, "draft failed", logger.Err(err))
		return "", fmt.Errorf("streaming draft: %w", err)
	}
	dr.logger.DebugContext(ctx, "draft ready", slog.Int("chars", full.Len()))
	return strings.TrimSpace(full.String()), nil
}

func (dr *Drafter) stream(ctx context.Context, prompt string, onToken func(string)) error {
	stream := dr.client.Responses.NewStreaming(ctx, responses.ResponseNewParams{
		Model: dr.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(prompt),
		},
	})
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		if event.Type == "response.output_text.delta" {
			onToken(event.Delta)
		}
	}
	return stream.Err()
}

func buildPrompt(d model.Dialog, agent *model.UserProfile) string {
	var sb strings.Builder

	sb.WriteString("You are helping a customer support agent answer a customer in a live chat. ")
	sb.WriteString("Write the agent's next message only, in the language the customer uses. ")
	sb.WriteString("Stay courteous and concise and do not invent facts that are not in the conversation.\n\n")

	fmt.Fprintf(&sb, "Dialog topic: %s\n", d.Title())
	if date := d.Date(); date != "" {
		fmt.Fprintf(&sb, "Opened: %s\n", date)
	}
	fmt.Fprintf(&sb, "Status: %s\n", d.Status)
	if agent != nil {
		fmt.Fprintf(&sb, "Agent: %s\n", agent.FirstName)
	}

	msgs := model.SortMessages(d.Messages)
	if len(msgs) > maxTranscript {
		msgs = msgs[len(msgs)-maxTranscript:]
	}

	sb.WriteString("\n--- CONVERSATION ---\n")
	if len(msgs) == 0 {
		sb.WriteString("(no messages yet)\n")
	}
	for _, msg := range msgs {
		if msg.Type != model.MessageChat && msg.Type != "" {
			sb.WriteString(model.FormatMessage(msg))
			sb.WriteString("\n")
			continue
		}
		who := model.SenderName(msg.Sender, d.Participants)
		if agent != nil && model.Kind(msg, fmt.Sprint(agent.ID)) == model.KindMine {
			who += " (agent)"
		}
		fmt.Fprintf(&sb, "[%s] %s: %s\n", model.FormatTimestamp(msg.Timestamp), who, msg.Content)
	}
	sb.WriteString("--- END CONVERSATION ---\n\n")
	sb.WriteString("Agent's reply:")

	return sb.String()
}
