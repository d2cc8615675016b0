package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration, sourced from the environment
// with optional .env overrides.
type Config struct {
	DataDir string

	ChunkSize    int
	ChunkOverlap int

	// Embeddings configuration
	EmbeddingsProvider    string // "openai", "gemini", or "none"
	OpenAIAPIKey          string
	OpenAIEmbeddingsModel string
	GeminiAPIKey          string
	GeminiEmbeddingsModel string
	EmbeddingDimensions   int

	// Drop-folder watcher
	WatchDir       string
	WatchWorkspace string
}

// Load reads configuration from the environment, loading a .env file
// first if one exists in the working directory.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	chunkSize, err := getEnvInt("CAIRN_CHUNK_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	chunkOverlap, err := getEnvInt("CAIRN_CHUNK_OVERLAP", 200)
	if err != nil {
		return nil, err
	}
	dimensions, err := getEnvInt("EMBEDDING_DIMENSIONS", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:      getEnv("CAIRN_DATA_DIR", "./data"),
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,

		EmbeddingsProvider:    getEnv("EMBEDDINGS_PROVIDER", "none"),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIEmbeddingsModel: getEnv("OPENAI_EMBEDDINGS_MODEL", "text-embedding-3-small"),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiEmbeddingsModel: getEnv("GEMINI_EMBEDDINGS_MODEL", "text-embedding-004"),
		EmbeddingDimensions:   dimensions,

		WatchDir:       getEnv("CAIRN_WATCH_DIR", ""),
		WatchWorkspace: getEnv("CAIRN_WATCH_WORKSPACE", "default"),
	}

	switch cfg.EmbeddingsProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when EMBEDDINGS_PROVIDER=openai")
		}
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required when EMBEDDINGS_PROVIDER=gemini")
		}
	case "none":
	default:
		return nil, fmt.Errorf("unknown EMBEDDINGS_PROVIDER %q (want openai, gemini, or none)", cfg.EmbeddingsProvider)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, value)
	}
	return intValue, nil
}
