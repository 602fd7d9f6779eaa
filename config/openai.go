package config

import (
	"log"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var (
	openaiClient *openai.Client
)

// GetOpenAI returns the process-global OpenAI client, or nil when no API key
// is configured (tests and local dev inject a fake provider instead).
func GetOpenAI() *openai.Client {
	return openaiClient
}

// ConnectOpenAI initializes the OpenAI client from env. It never blocks:
// a missing key just leaves the client nil.
func ConnectOpenAI() {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		log.Printf("OPENAI_API_KEY not set; generation provider disabled")
		return
	}
	openaiClient = openai.NewClient(apiKey)
	log.Printf("openai client ready")
}

// GenerationModel is the chat model used for content generation.
func GenerationModel() string {
	if v := strings.TrimSpace(os.Getenv("OPENAI_MODEL")); v != "" {
		return v
	}
	return openai.GPT4oMini
}

// EmbeddingModel is the embedding model; its output dimension must match
// models.EmbeddingDimension.
func EmbeddingModel() openai.EmbeddingModel {
	if v := strings.TrimSpace(os.Getenv("OPENAI_EMBEDDING_MODEL")); v != "" {
		return openai.EmbeddingModel(v)
	}
	return openai.SmallEmbedding3
}
