// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

// Package llm provides the provider handler abstraction for the GlyphMind
// analysis backend: a declarative provider registry, live environment-backed
// configuration resolution, and a uniform chat/generation contract over
// heterogeneous LLM vendor APIs.
//
// Providers are described by metadata records (see ProviderMetadata) loaded
// from a JSON file. The Registry maps user-supplied names and aliases to a
// standard name and produces a freshly configured Handler per request: handler
// instances are never cached, so every call observes the current contents of
// the .env backing store without a process restart.
//
// Vendor integrations fall into three groups:
//
//   - OpenAI-style REST vendors (DeepSeek, SiliconFlow, Zhipu, VolcEngine,
//     Groq, Together, Perplexity, Anyscale, Moonshot, Cohere-compatible)
//     share one chat-completions client parameterized per vendor.
//   - The Ollama local daemon speaks its own wire format and NDJSON streaming;
//     see the ollama subpackage.
//   - Google Gemini (REST) and AWS Bedrock (SDK) live in their own
//     subpackages and are adapted to the Handler contract in factories.go.
package llm
