package config

import (
	"os"
	"strconv"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

type EmbeddingConfig struct {
	Provider  string
	Model     string
	Dimension int
}

type LLMConfig struct {
	Provider string
	Model    string
}

// GenerationConfig holds the sampling parameters forwarded to the LLM.
type GenerationConfig struct {
	MaxTokens        int
	Temperature      float32
	TopP             float32
	FrequencyPenalty float32
	PresencePenalty  float32
}

// RAGConfig holds the retrieval and context-assembly knobs.
type RAGConfig struct {
	TopK            int
	MaxContextChars int
	ExcerptChars    int
	CacheCapacity   int
}

type Config struct {
	PostgresDSN string
	Neo4jURI    string
	Neo4jUser   string
	Neo4jPass   string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	ListenAddr string

	Embeddings EmbeddingConfig
	LLM        LLMConfig
	Generation GenerationConfig
	RAG        RAGConfig
}

func Load() Config {
	return Config{
		PostgresDSN: getEnv("POSTGRES_DSN", "postgres://localhost:5432/paper-rag?sslmode=disable"),
		Neo4jURI:    getEnv("NEO4J_URI", "neo4j://localhost:7687"),
		Neo4jUser:   getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPass:   getEnv("NEO4J_PASSWORD", "password"),

		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		Embeddings: EmbeddingConfig{
			Provider:  getEnv("EMBEDDINGS_PROVIDER", ProviderOllama),
			Model:     getEnv("EMBEDDINGS_MODEL", "nomic-embed-text"),
			Dimension: getEnvInt("EMBEDDINGS_DIMENSION", 768),
		},
		LLM: LLMConfig{
			Provider: getEnv("LLM_PROVIDER", ProviderOllama),
			Model:    getEnv("LLM_MODEL", "llama3.1:8b"),
		},
		Generation: GenerationConfig{
			MaxTokens:        getEnvInt("GENERATION_MAX_TOKENS", 2000),
			Temperature:      getEnvFloat("GENERATION_TEMPERATURE", 0.3),
			TopP:             getEnvFloat("GENERATION_TOP_P", 1),
			FrequencyPenalty: getEnvFloat("GENERATION_FREQUENCY_PENALTY", 0),
			PresencePenalty:  getEnvFloat("GENERATION_PRESENCE_PENALTY", 0),
		},
		RAG: RAGConfig{
			TopK:            getEnvInt("RAG_TOP_K", 5),
			MaxContextChars: getEnvInt("RAG_MAX_CONTEXT_CHARS", 14000),
			ExcerptChars:    getEnvInt("RAG_EXCERPT_CHARS", 1500),
			CacheCapacity:   getEnvInt("RAG_CACHE_CAPACITY", 1000),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float32) float32 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(parsed)
		}
	}
	return fallback
}
