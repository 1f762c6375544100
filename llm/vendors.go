// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

package llm

// OpenAI-compatible vendor profiles. Each factory binds a wire profile to
// the shared REST core; everything else (credentials, models, parameters)
// resolves live from the environment store.

func openAIFactory(opts openAIOptions) HandlerFactory {
	return func(fc FactoryContext) (Handler, error) {
		if name := fc.Config.GetString("provider_name"); name != "" {
			opts.Name = name
		}
		return newOpenAIHandler(opts, fc.Config, fc.Source, fc.EnvPrefix, fc.Log), nil
	}
}

func newDeepSeekFactory() HandlerFactory {
	return openAIFactory(openAIOptions{
		Name:           "deepseek",
		DefaultBaseURL: "https://api.deepseek.com/v1",
		DefaultModel:   "deepseek-chat",
		ModelsPath:     "/models",
	})
}

func newSiliconFlowFactory() HandlerFactory {
	return openAIFactory(openAIOptions{
		Name:           "siliconflow",
		DefaultBaseURL: "https://api.siliconflow.cn/v1",
		DefaultModel:   "deepseek-ai/DeepSeek-V3",
		ModelsPath:     "/models",
	})
}

func newZhipuFactory() HandlerFactory {
	return openAIFactory(openAIOptions{
		Name:           "zhipu",
		DefaultBaseURL: "https://open.bigmodel.cn/api/paas/v4",
		DefaultModel:   "glm-4",
		StaticModels:   []string{"glm-4", "glm-4-flash", "glm-4-plus", "glm-3-turbo"},
	})
}

func newVolcengineFactory() HandlerFactory {
	return openAIFactory(openAIOptions{
		Name:           "volcengine",
		DefaultBaseURL: "https://ark.cn-beijing.volces.com/api/v3",
		ModelsPath:     "/models",
	})
}

func newGroqFactory() HandlerFactory {
	return openAIFactory(openAIOptions{
		Name:           "groq",
		DefaultBaseURL: "https://api.groq.com/openai/v1",
		DefaultModel:   "llama-3.3-70b-versatile",
		ModelsPath:     "/models",
	})
}

func newTogetherFactory() HandlerFactory {
	return openAIFactory(openAIOptions{
		Name:           "together",
		DefaultBaseURL: "https://api.together.xyz/v1",
		DefaultModel:   "meta-llama/Llama-3.3-70B-Instruct-Turbo",
		ModelsPath:     "/models",
	})
}

// Perplexity has no model listing endpoint; the catalog is fixed.
func newPerplexityFactory() HandlerFactory {
	return openAIFactory(openAIOptions{
		Name:           "perplexity",
		DefaultBaseURL: "https://api.perplexity.ai",
		DefaultModel:   "sonar",
		StaticModels:   []string{"sonar", "sonar-pro", "sonar-reasoning", "sonar-reasoning-pro"},
	})
}

func newMoonshotFactory() HandlerFactory {
	return openAIFactory(openAIOptions{
		Name:           "moonshot",
		DefaultBaseURL: "https://api.moonshot.cn/v1",
		DefaultModel:   "moonshot-v1-8k",
		ModelsPath:     "/models",
	})
}

func newAnyscaleFactory() HandlerFactory {
	return openAIFactory(openAIOptions{
		Name:           "anyscale",
		DefaultBaseURL: "https://api.endpoints.anyscale.com/v1",
		DefaultModel:   "mistralai/Mixtral-8x7B-Instruct-v0.1",
		ModelsPath:     "/models",
	})
}

// Cohere exposes an OpenAI-compatible layer alongside its native API; the
// compatible layer is enough here.
func newCohereFactory() HandlerFactory {
	return openAIFactory(openAIOptions{
		Name:           "cohere",
		DefaultBaseURL: "https://api.cohere.ai/v1",
		DefaultModel:   "command-r-plus",
		ModelsPath:     "/models",
	})
}

func newOpenAICompatibleFactory() HandlerFactory {
	return openAIFactory(openAIOptions{
		Name:       "openai",
		ModelsPath: "/models",
	})
}
