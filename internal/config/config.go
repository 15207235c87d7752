package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Logging  LoggingConfig  `json:"logging"`
	Provider ProviderConfig `json:"provider"`
	Qdrant   QdrantConfig   `json:"qdrant"`
	RAG      RAGConfig      `json:"rag"`
	Import   ImportConfig   `json:"import"`
	Admin    AdminConfig    `json:"admin"`
}

// ServerConfig controls the HTTP server
type ServerConfig struct {
	Port        int    `json:"port"`
	BindAddress string `json:"bind_address"`
}

// DatabaseConfig controls the sqlite database
type DatabaseConfig struct {
	Path string `json:"path"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level        string `json:"level"`         // "debug", "info", "warn", "error"
	DebugEnabled bool   `json:"debug_enabled"` // Enable debug file logging
	File         string `json:"file"`          // Debug log file path
	MaxSizeMB    int    `json:"max_size_mb"`   // Max file size before rotation
	MaxBackups   int    `json:"max_backups"`   // Number of backup files to keep
}

// ProviderConfig configures the LLM provider. An empty Type disables the AI
// features entirely; chat and Q&A then answer with an [ERROR] event.
type ProviderConfig struct {
	Type             string `json:"type"` // "gemini", "openai", "ollama" or ""
	GeminiKey        string `json:"gemini_key"`
	GeminiEmbedModel string `json:"gemini_embed_model"`
	GeminiChatModel  string `json:"gemini_chat_model"`
	OpenAIKey        string `json:"openai_key"`
	OpenAIEmbedModel string `json:"openai_embed_model"`
	OpenAIChatModel  string `json:"openai_chat_model"`
	OllamaEndpoint   string `json:"ollama_endpoint"`
	OllamaEmbedModel string `json:"ollama_embed_model"`
	OllamaChatModel  string `json:"ollama_chat_model"`
}

// QdrantConfig configures the vector store. An empty URL disables indexing
// and retrieval; chat still works with an empty context section.
type QdrantConfig struct {
	URL            string `json:"url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RAGConfig tunes the retrieval pipeline
type RAGConfig struct {
	MaxChunkChars   int `json:"max_chunk_chars"`   // Chunk size ceiling
	PreviewChars    int `json:"preview_chars"`     // Stored preview length
	TopK            int `json:"top_k"`             // Retrieval result count
	MaxHistory      int `json:"max_history"`       // Chat history messages kept in prompt
	VectorDimension int `json:"vector_dimension"`  // Embedding dimension for collection creation
}

// ImportConfig controls the chapter import drop folder
type ImportConfig struct {
	Enabled       bool     `json:"enabled"`
	Folder        string   `json:"folder"`
	AllowedExts   []string `json:"allowed_exts"`
	MaxFileSizeMB int      `json:"max_file_size_mb"`
}

// AdminConfig controls operator access to admin endpoints.
// TokenHash is a bcrypt hash of the operator token; the plain token never
// lives in config.
type AdminConfig struct {
	TokenHash string `json:"token_hash"`
}

// Load reads configuration from file and environment.
// A missing file is not an error; defaults plus env overrides apply.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			BindAddress: "0.0.0.0",
		},
		Database: DatabaseConfig{
			Path: "novelverse.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "debug.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Provider: ProviderConfig{
			GeminiEmbedModel: "text-embedding-004",
			GeminiChatModel:  "gemini-2.0-flash",
			OpenAIEmbedModel: "text-embedding-3-small",
			OpenAIChatModel:  "gpt-4o-mini",
			OllamaEndpoint:   "http://localhost:11434",
			OllamaEmbedModel: "nomic-embed-text",
			OllamaChatModel:  "llama3.2",
		},
		Qdrant: QdrantConfig{
			TimeoutSeconds: 15,
		},
		RAG: RAGConfig{
			MaxChunkChars:   1500,
			PreviewChars:    200,
			TopK:            5,
			MaxHistory:      6,
			VectorDimension: 768,
		},
		Import: ImportConfig{
			Folder:        "import",
			AllowedExts:   []string{".txt", ".md", ".html"},
			MaxFileSizeMB: 10,
		},
	}
}

// Save writes the configuration back to disk
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyEnvOverrides applies NOVELVERSE_* environment variable overrides
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NOVELVERSE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("NOVELVERSE_BIND_ADDRESS"); v != "" {
		c.Server.BindAddress = v
	}
	if v := os.Getenv("NOVELVERSE_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("NOVELVERSE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("NOVELVERSE_DEBUG_ENABLED"); v != "" {
		c.Logging.DebugEnabled = v == "true"
	}
	if v := os.Getenv("NOVELVERSE_PROVIDER"); v != "" {
		c.Provider.Type = v
	}
	if v := os.Getenv("NOVELVERSE_GEMINI_API_KEY"); v != "" {
		c.Provider.GeminiKey = v
	}
	if v := os.Getenv("NOVELVERSE_OPENAI_API_KEY"); v != "" {
		c.Provider.OpenAIKey = v
	}
	if v := os.Getenv("NOVELVERSE_OLLAMA_ENDPOINT"); v != "" {
		c.Provider.OllamaEndpoint = v
	}
	if v := os.Getenv("NOVELVERSE_QDRANT_URL"); v != "" {
		c.Qdrant.URL = v
	}
	if v := os.Getenv("NOVELVERSE_QDRANT_API_KEY"); v != "" {
		c.Qdrant.APIKey = v
	}
	if v := os.Getenv("NOVELVERSE_IMPORT_FOLDER"); v != "" {
		c.Import.Folder = v
		c.Import.Enabled = true
	}
	if v := os.Getenv("NOVELVERSE_ADMIN_TOKEN_HASH"); v != "" {
		c.Admin.TokenHash = v
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.Provider.Type {
	case "", "ollama":
		// Empty disables AI features; ollama needs no credential
	case "gemini":
		if c.Provider.GeminiKey == "" {
			return fmt.Errorf("gemini API key is required")
		}
	case "openai":
		if c.Provider.OpenAIKey == "" {
			return fmt.Errorf("openai API key is required")
		}
	default:
		return fmt.Errorf("unknown provider type: %s", c.Provider.Type)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.RAG.MaxChunkChars <= 0 {
		return fmt.Errorf("rag.max_chunk_chars must be positive")
	}
	if c.RAG.PreviewChars <= 0 {
		return fmt.Errorf("rag.preview_chars must be positive")
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag.top_k must be positive")
	}
	return nil
}
