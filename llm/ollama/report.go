// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

package ollama

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Reasoning models emit their chain of thought inside <think> tags. Report
// generation wants only the final answer, so the tags and everything between
// them are removed.
var thinkTagRE = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThink removes every <think>...</think> block from s. An opening tag
// with no matching close swallows the rest of the string.
func StripThink(s string) string {
	s = thinkTagRE.ReplaceAllString(s, "")
	if i := strings.Index(s, "<think>"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// Completion is an OpenAI-shaped chat completion envelope. The daemon's
// native response is normalized into this so report tooling built against
// the OpenAI format works unchanged.
type Completion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   CompletionUsage    `json:"usage"`
}

type CompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type CompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ReportClient is a Client whose chat results are post-processed for report
// generation: think blocks stripped, response normalized to the OpenAI
// envelope with a synthesized id and timestamp.
type ReportClient struct {
	*Client
}

// NewReportClient wraps cfg in a report-oriented client.
func NewReportClient(cfg Config) *ReportClient {
	return &ReportClient{Client: NewClient(cfg)}
}

// Chat runs the underlying exchange and strips think blocks from the result.
func (c *ReportClient) Chat(ctx context.Context, in ChatInput) (*ChatOutput, error) {
	out, err := c.Client.Chat(ctx, in)
	if err != nil {
		return nil, err
	}
	out.Content = StripThink(out.Content)
	return out, nil
}

// ChatCompletion runs an exchange and returns the normalized OpenAI-shaped
// envelope.
func (c *ReportClient) ChatCompletion(ctx context.Context, in ChatInput) (*Completion, error) {
	out, err := c.Chat(ctx, in)
	if err != nil {
		return nil, err
	}
	return &Completion{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   out.Model,
		Choices: []CompletionChoice{{
			Message:      ChatMessage{Role: out.Role, Content: out.Content},
			FinishReason: "stop",
		}},
		Usage: CompletionUsage{
			PromptTokens:     out.PromptTokens,
			CompletionTokens: out.CompletionTokens,
			TotalTokens:      out.PromptTokens + out.CompletionTokens,
		},
	}, nil
}

// ChatStream streams the exchange with think blocks removed on the fly.
// Buffering is per-block: once an opening tag is seen, content is withheld
// until the closing tag arrives; an unclosed block is dropped entirely.
func (c *ReportClient) ChatStream(ctx context.Context, in ChatInput) (<-chan StreamEvent, error) {
	inner, err := c.Client.ChatStream(ctx, in)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		var pending strings.Builder
		inThink := false

		send := func(ev StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for ev := range inner {
			if ev.Done || ev.Err != nil {
				// The held-back tail was only a suspected partial tag;
				// at end of stream it is plain text and must not be lost.
				if !inThink && pending.Len() > 0 {
					if !send(StreamEvent{Content: pending.String()}) {
						return
					}
					pending.Reset()
				}
				if !send(ev) {
					return
				}
				continue
			}
			pending.WriteString(ev.Content)
			buf := pending.String()
			pending.Reset()

			var emit strings.Builder
			for buf != "" {
				if inThink {
					end := strings.Index(buf, "</think>")
					if end < 0 {
						// Keep a tail in case the closing tag is split
						// across chunks; drop the rest.
						if tail := len(buf) - (len("</think>") - 1); tail > 0 {
							buf = buf[tail:]
						}
						pending.WriteString(buf)
						buf = ""
						break
					}
					buf = buf[end+len("</think>"):]
					inThink = false
					continue
				}
				start := strings.Index(buf, "<think>")
				if start < 0 {
					// Hold back a possible partial opening tag at the
					// buffer edge.
					safe := len(buf)
					for i := max(0, len(buf)-len("<think>")+1); i < len(buf); i++ {
						if strings.HasPrefix("<think>", buf[i:]) {
							safe = i
							break
						}
					}
					emit.WriteString(buf[:safe])
					pending.WriteString(buf[safe:])
					buf = ""
					break
				}
				emit.WriteString(buf[:start])
				buf = buf[start+len("<think>"):]
				inThink = true
			}

			if emit.Len() > 0 || ev.Role != "" {
				if !send(StreamEvent{Role: ev.Role, Content: emit.String()}) {
					return
				}
			}
		}
	}()
	return out, nil
}
