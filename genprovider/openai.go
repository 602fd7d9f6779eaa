package genprovider

import (
	"context"
	"errors"

	"github.com/pagecraft/sitegov_backend/config"
	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
)

// Per-million-token USD prices. Unknown models fall back to the gpt-4o-mini
// rate so cost accounting never silently records zero.
var (
	chatPromptPricePerM = map[string]decimal.Decimal{
		openai.GPT4oMini: decimal.NewFromFloat(0.15),
		openai.GPT4o:     decimal.NewFromFloat(2.50),
	}
	chatCompletionPricePerM = map[string]decimal.Decimal{
		openai.GPT4oMini: decimal.NewFromFloat(0.60),
		openai.GPT4o:     decimal.NewFromFloat(10.00),
	}
	embeddingPricePerM = map[openai.EmbeddingModel]decimal.Decimal{
		openai.SmallEmbedding3: decimal.NewFromFloat(0.02),
		openai.LargeEmbedding3: decimal.NewFromFloat(0.13),
	}

	million = decimal.NewFromInt(1_000_000)
)

type openAIProvider struct{}

func (openAIProvider) Generate(ctx context.Context, prompt string) (*GenerationResult, error) {
	client := config.GetOpenAI()
	if client == nil {
		return nil, ErrProviderUnavailable
	}

	model := config.GenerationModel()
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty completion response")
	}

	return &GenerationResult{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		CostUsd:          chatCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, nil
}

func (openAIProvider) Embed(ctx context.Context, text string) (*EmbeddingResult, error) {
	client := config.GetOpenAI()
	if client == nil {
		return nil, ErrProviderUnavailable
	}

	model := config.EmbeddingModel()
	resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: model,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("empty embedding response")
	}

	return &EmbeddingResult{
		Vector:  resp.Data[0].Embedding,
		Tokens:  resp.Usage.PromptTokens,
		CostUsd: embeddingCost(model, resp.Usage.PromptTokens),
	}, nil
}

func chatCost(model string, promptTokens, completionTokens int) decimal.Decimal {
	promptPrice, ok := chatPromptPricePerM[model]
	if !ok {
		promptPrice = chatPromptPricePerM[openai.GPT4oMini]
	}
	completionPrice, ok := chatCompletionPricePerM[model]
	if !ok {
		completionPrice = chatCompletionPricePerM[openai.GPT4oMini]
	}
	prompt := decimal.NewFromInt(int64(promptTokens)).Mul(promptPrice).Div(million)
	completion := decimal.NewFromInt(int64(completionTokens)).Mul(completionPrice).Div(million)
	return prompt.Add(completion)
}

func embeddingCost(model openai.EmbeddingModel, tokens int) decimal.Decimal {
	price, ok := embeddingPricePerM[model]
	if !ok {
		price = embeddingPricePerM[openai.SmallEmbedding3]
	}
	return decimal.NewFromInt(int64(tokens)).Mul(price).Div(million)
}
