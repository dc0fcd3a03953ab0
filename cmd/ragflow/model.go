package main

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// offlineModel stands in for a real model. It answers with the best retrieved
// passage, approves any non-empty context and lists tables for SQL prompts.
type offlineModel struct{}

var _ llms.Model = (*offlineModel)(nil)

func (m *offlineModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	var prompt string
	if len(messages) > 0 {
		for _, p := range messages[len(messages)-1].Parts {
			if t, ok := p.(llms.TextContent); ok {
				prompt += t.Text
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply(prompt)}}}, nil
}

func (m *offlineModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *offlineModel) reply(prompt string) string {
	switch {
	case strings.HasPrefix(prompt, "You are a grader"):
		if strings.Contains(section(prompt, "#Context:"), "Content:") {
			return "yes"
		}
		return "no"
	case strings.HasPrefix(prompt, "Rewrite the question"):
		return section(prompt, "#Question:")
	case strings.HasPrefix(prompt, "Combine the following answers"):
		first, _, _ := strings.Cut(section(prompt, "#Answers:"), "\n")
		if _, answer, ok := strings.Cut(first, ") "); ok {
			return answer
		}
		return first
	case strings.HasPrefix(prompt, "Write one SQLite SELECT query"):
		return "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name"
	case strings.HasPrefix(prompt, "Answer the question using the result"):
		return section(prompt, "#Result:")
	}

	for _, line := range strings.Split(section(prompt, "#Context:"), "\n") {
		if content, ok := strings.CutPrefix(line, "Content: "); ok {
			return content
		}
	}
	return "I don't know."
}

// section returns the text between header and the next header.
func section(prompt, header string) string {
	_, rest, ok := strings.Cut(prompt, header+"\n")
	if !ok {
		return ""
	}
	if i := strings.Index(rest, "\n\n#"); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest)
}
