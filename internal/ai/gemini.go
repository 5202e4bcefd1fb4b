package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiNarrator implements Narrator using Google's Gemini models.
type GeminiNarrator struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiNarrator initializes a new Gemini client.
// apiKey should be provided from environment variables.
func NewGeminiNarrator(ctx context.Context, apiKey string) (*GeminiNarrator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel("gemini-2.0-flash")

	// Force JSON response for structured parsing.
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.2)

	return &GeminiNarrator{
		client: client,
		model:  model,
	}, nil
}

// Close cleans up the Gemini client resources.
func (n *GeminiNarrator) Close() {
	n.client.Close()
}

func (n *GeminiNarrator) Summarize(ctx context.Context, digest RunDigest) (*RunSummary, error) {
	prompt, err := buildSummaryPrompt(digest)
	if err != nil {
		return nil, err
	}

	resp, err := n.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini generation error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no response candidates from Gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		}
	}
	return parseSummary(responseText.String())
}

func buildSummaryPrompt(d RunDigest) (string, error) {
	payload, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`Role: You summarise multi-drop van routing runs for a dispatch operator.

Input is one run record:
%s

RULES:
1. "summary": at most three short sentences. Say how many drops were considered, how many routes were
   created and how many drops were left over. If the run was skipped, say why and nothing else.
2. "actions": concrete follow-ups only, most urgent first. Mention drop ids from the errors when present.
   Validation errors mean a cluster was rejected and will be retried next run. Persistence errors need
   a database check. Overflow that keeps recurring needs a larger vehicle or a manual split.
   Return an empty list when nothing needs attention.
3. Never invent numbers that are not in the record.

Output JSON Schema:
{
  "summary": "string",
  "actions": ["string"]
}
`, payload), nil
}

func parseSummary(raw string) (*RunSummary, error) {
	clean := cleanJSONString(raw)
	var out RunSummary
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w. Raw: %s", err, clean)
	}
	if out.Actions == nil {
		out.Actions = []string{}
	}
	return &out, nil
}

// cleanJSONString removes markdown code blocks if present (e.g. ```json ... ```)
func cleanJSONString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "```json")
	input = strings.TrimPrefix(input, "```")
	input = strings.TrimSuffix(input, "```")
	return strings.TrimSpace(input)
}
