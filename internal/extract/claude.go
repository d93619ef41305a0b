package extract

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultModel is the model used for extraction unless configured otherwise.
const DefaultModel = "claude-haiku-4-5-20251001"

const extractionSystemPrompt = `You extract parties from financial transaction descriptions for AML screening.

Return ONLY a JSON object, no prose, with this shape:
{
  "organizations": [{"name": "...", "role": "originator|beneficiary|intermediary|other", "jurisdiction": "ISO code or name if stated", "entity_type": "company|bank|shell_company|other"}],
  "people": [{"name": "...", "role": "...", "country": "..."}],
  "jurisdictions": ["every country or territory the text mentions"],
  "transaction_fields": {"amount": "...", "currency": "...", "purpose": "..."}
}

Rules:
- Include every organization and person named in the text, once each.
- Mark an organization "shell_company" only when the text itself suggests it (nominee directors, no operations, bearer shares, registered agent address).
- Omit fields you cannot fill. Never invent names.`

// ClaudeExtractor implements Extractor on the Anthropic Messages API.
type ClaudeExtractor struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

// ClaudeOptions configures the extractor.
type ClaudeOptions struct {
	APIKey    string
	Model     string
	MaxTokens int64
}

// NewClaudeExtractor creates an extractor backed by the Anthropic SDK.
func NewClaudeExtractor(opts ClaudeOptions) *ClaudeExtractor {
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &ClaudeExtractor{
		client:    sdk.NewClient(option.WithAPIKey(opts.APIKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Extract sends the transaction text through the extraction prompt and
// parses the JSON reply.
func (e *ClaudeExtractor) Extract(ctx context.Context, text string) (*Result, error) {
	msg, err := e.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(e.model),
		MaxTokens: e.maxTokens,
		System: []sdk.TextBlockParam{
			{Text: extractionSystemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(text)),
		},
		Temperature: sdk.Float(0),
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: create message")
	}

	var reply strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}

	result, err := parseResult(reply.String())
	if err != nil {
		return nil, err
	}
	zap.L().Info("extract: entities extracted",
		zap.String("model", e.model),
		zap.Int("organizations", len(result.Organizations)),
		zap.Int("people", len(result.People)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens))
	return result, nil
}

// parseResult decodes the model's JSON reply, tolerating a markdown code
// fence around it.
func parseResult(reply string) (*Result, error) {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	var result Result
	if err := json.Unmarshal([]byte(s), &result); err != nil {
		return nil, eris.Wrap(err, "extract: parse model reply")
	}

	for i := 0; i < len(result.Organizations); i++ {
		if strings.TrimSpace(result.Organizations[i].Name) == "" {
			result.Organizations = append(result.Organizations[:i], result.Organizations[i+1:]...)
			i--
		}
	}
	for i := 0; i < len(result.People); i++ {
		if strings.TrimSpace(result.People[i].Name) == "" {
			result.People = append(result.People[:i], result.People[i+1:]...)
			i--
		}
	}
	return &result, nil
}
