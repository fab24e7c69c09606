// internal/ai/openai.go
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are a helpful assistant that summarizes Discord chats."

const instructionPrompt = `
Summarize the Discord messages for a friend who missed the chat.

Style:
- Plain, direct, casual. Lay it out; let the reader infer.
- Use simple verbs: said, talked about, asked.
- Do not use meta phrases like "shared opinions," "discussed their thoughts," "talked about various," or "sent short messages."
- Focus on what was said, not how it was said.
- Do not describe message length, order, or structure (e.g., "sent short messages," "the chat started with," "later shifted").
- Avoid academic/formal wording and abstract nouns.
- Do NOT use timeline/meta phrasing: "started with", "then", "shifted", "throughout", "ended with", "shared a mix", "the conversation revolved around", "delved into", "analyzed".
- No speculation about feelings or intentions unless explicitly stated.
- Do not describe the tone of the conversation (no "joked," "humorous," "playful," "lighthearted," "banter," "teasing," "funny," etc.).
- Do not label any part of the chat as jokes, humor, or banter. Only state what was said.
- Focus only on the content and topics of the messages, not the mood or style.
- Summarize all main themes that appeared in the chat, even if they are sensitive, awkward, or uncomfortable.
- Do not default to only one subject. If multiple distinct conversations happened, mention each.
- The purpose is coverage of content, not judgment or filtering.

Length & format:
- One short paragraph (2-6 simple sentences).
- Prefer shorter over longer, but if there is content to talk about make it longer.

Content rules:
- Consider the whole window equally; don't overweight first or last messages.
- Mention names only if needed for clarity.
- Keep wording concrete and literal; don't generalize or interpret.
`

const topicsFormat = `
- After the paragraph, add a Topics list (2-6 items), each a few words.
- No emojis. No decorative lines. Use exactly these labels:

**Summary**
<paragraph here>

**Topics**
- <topic>
- <topic>

- If clear topics aren't present, keep the Topics list very short or omit it.
`

type AIService struct {
	client *openai.Client
}

func NewAIService(apiKey string) *AIService {
	return &AIService{
		client: openai.NewClient(apiKey),
	}
}

// Summarize turns a formatted message window into a digest. Failures are
// opaque to callers; the orchestrator converts them to a generic apology.
func (ai *AIService) Summarize(ctx context.Context, formatted string, includeTopics bool, language string) (string, error) {
	instructions := instructionPrompt
	if includeTopics {
		instructions += topicsFormat
	}
	if language != "" {
		instructions += fmt.Sprintf("\nWrite the summary in %s.\n", language)
	}

	resp, err := ai.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: openai.GPT4oMini,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: instructions},
			{Role: openai.ChatMessageRoleUser, Content: "Messages:\n" + formatted},
		},
		MaxTokens:   400,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summarize: empty response")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
