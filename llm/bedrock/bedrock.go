// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

// Package bedrock wraps the AWS Bedrock runtime SDK. Request bodies are
// shaped per model family (Anthropic, Amazon Titan, Meta, Mistral) since
// Bedrock has no single wire format.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"

	anthropicVersion = "bedrock-2023-05-31"
)

// Config holds connection settings for the Bedrock runtime.
type Config struct {
	Region  string
	Model   string
	Timeout time.Duration

	Lookup func(name string) (string, bool)
}

// invoker is the slice of the Bedrock runtime client we use. Tests inject a
// fake.
type invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

// Client invokes Bedrock-hosted models.
type Client struct {
	cfg    Config
	api    invoker
	apiErr error
}

// NewClient resolves AWS credentials from the default chain and builds a
// client. Credential resolution failure is deferred to the first call.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	c := &Client{cfg: cfg}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(c.region()),
	)
	if err != nil {
		c.apiErr = fmt.Errorf("loading AWS config: %w", err)
		return c
	}
	c.api = bedrockruntime.NewFromConfig(awsCfg)
	return c
}

// newClientWithAPI is the test seam.
func newClientWithAPI(cfg Config, api invoker) *Client {
	return &Client{cfg: cfg, api: api}
}

func (c *Client) setting(name, static, fallback string) string {
	if c.cfg.Lookup != nil {
		if v, ok := c.cfg.Lookup(name); ok && v != "" {
			return v
		}
	}
	if static != "" {
		return static
	}
	return fallback
}

func (c *Client) region() string {
	return c.setting("region", c.cfg.Region, "us-east-1")
}

// Model returns the configured model identifier, resolved fresh.
func (c *Client) Model() string {
	return c.setting("model", c.cfg.Model, DefaultModel)
}

// Input describes one invocation.
type Input struct {
	Model       string
	Prompt      string
	System      string
	Temperature *float64
	MaxTokens   *int
}

// Output is a completed invocation.
type Output struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// buildBody shapes the request for the model's family.
func buildBody(model, prompt, system string, temperature *float64, maxTokens *int) ([]byte, error) {
	temp := 0.7
	if temperature != nil {
		temp = *temperature
	}
	tokens := 2048
	if maxTokens != nil {
		tokens = *maxTokens
	}

	switch {
	case strings.Contains(model, "anthropic"):
		body := map[string]interface{}{
			"anthropic_version": anthropicVersion,
			"max_tokens":        tokens,
			"temperature":       temp,
			"messages": []map[string]string{
				{"role": "user", "content": prompt},
			},
		}
		if system != "" {
			body["system"] = system
		}
		return json.Marshal(body)

	case strings.Contains(model, "amazon"):
		return json.Marshal(map[string]interface{}{
			"inputText": prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": tokens,
				"temperature":   temp,
			},
		})

	case strings.Contains(model, "meta"), strings.Contains(model, "mistral"):
		return json.Marshal(map[string]interface{}{
			"prompt":      prompt,
			"max_gen_len": tokens,
			"temperature": temp,
		})

	default:
		return nil, fmt.Errorf("unsupported model family: %s", model)
	}
}

// parseBody extracts the generated text for the model's family.
func parseBody(model string, raw []byte) (string, int, int, error) {
	switch {
	case strings.Contains(model, "anthropic"):
		var parsed struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			Usage struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return "", 0, 0, err
		}
		var text strings.Builder
		for _, c := range parsed.Content {
			text.WriteString(c.Text)
		}
		return text.String(), parsed.Usage.InputTokens, parsed.Usage.OutputTokens, nil

	case strings.Contains(model, "amazon"):
		var parsed struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return "", 0, 0, err
		}
		if len(parsed.Results) == 0 {
			return "", 0, 0, fmt.Errorf("response has no results")
		}
		return parsed.Results[0].OutputText, 0, 0, nil

	default:
		var parsed struct {
			Generation string `json:"generation"`
			Outputs    []struct {
				Text string `json:"text"`
			} `json:"outputs"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return "", 0, 0, err
		}
		if parsed.Generation != "" {
			return parsed.Generation, 0, 0, nil
		}
		if len(parsed.Outputs) > 0 {
			return parsed.Outputs[0].Text, 0, 0, nil
		}
		return "", 0, 0, fmt.Errorf("response has no generation")
	}
}

// Invoke runs a blocking model invocation. The SDK call runs on its own
// goroutine so context cancellation returns promptly regardless of what the
// SDK is doing.
func (c *Client) Invoke(ctx context.Context, in Input) (*Output, error) {
	if c.api == nil {
		return nil, c.apiErr
	}
	model := in.Model
	if model == "" {
		model = c.Model()
	}

	body, err := buildBody(model, in.Prompt, in.System, in.Temperature, in.MaxTokens)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	type result struct {
		out *bedrockruntime.InvokeModelOutput
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(model),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		ch <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		text, inTok, outTok, err := parseBody(model, res.out.Body)
		if err != nil {
			return nil, fmt.Errorf("parsing response: %w", err)
		}
		return &Output{Text: text, Model: model, PromptTokens: inTok, CompletionTokens: outTok}, nil
	}
}

// StreamEvent is one element of an invocation stream.
type StreamEvent struct {
	Text string
	Done bool
	Err  error
}

// InvokeStream runs a streaming invocation. Only Anthropic-family models
// support streaming here; the returned channel always ends with a Done event.
func (c *Client) InvokeStream(ctx context.Context, in Input) (<-chan StreamEvent, error) {
	if c.api == nil {
		return nil, c.apiErr
	}
	model := in.Model
	if model == "" {
		model = c.Model()
	}
	if !strings.Contains(model, "anthropic") {
		return nil, fmt.Errorf("streaming not supported for model family: %s", model)
	}

	body, err := buildBody(model, in.Prompt, in.System, in.Temperature, in.MaxTokens)
	if err != nil {
		return nil, err
	}

	resp, err := c.api.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		stream := resp.GetStream()
		defer stream.Close()
		defer func() {
			select {
			case out <- StreamEvent{Done: true}:
			case <-ctx.Done():
			}
		}()

		for event := range stream.Events() {
			chunk, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			var parsed struct {
				Type  string `json:"type"`
				Delta struct {
					Text string `json:"text"`
				} `json:"delta"`
			}
			if err := json.Unmarshal(chunk.Value.Bytes, &parsed); err != nil {
				continue
			}
			if parsed.Type != "content_block_delta" || parsed.Delta.Text == "" {
				continue
			}
			select {
			case out <- StreamEvent{Text: parsed.Delta.Text}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			select {
			case out <- StreamEvent{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}
