package types

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerAddr string

	PGHost   string
	PGPort   int
	PGUser   string
	PGPass   string
	PGDBName string

	EmbedURL   string
	EmbedModel string
	ChatURL    string
	ChatModel  string
	EmbedDim   int

	MinScore         float64
	MaxCharsPerChunk int
	MaxContextChunks int
	ChunkSize        int
	ChunkOverlap     int

	UploadDir string
	IndexPath string
	CodesDir  string

	// Optional directory watcher. Disabled when SourceDir is empty.
	SourceDir      string
	ArchiveDir     string
	MonitoringTime time.Duration
}

// LoadConfig reads the process environment. Call after godotenv has loaded
// the .env file.
func LoadConfig() Config {
	return Config{
		ServerAddr: envStr("SERVER_ADDR", ":5000"),

		PGHost:   envStr("PG_HOST", "localhost"),
		PGPort:   envInt("PG_PORT", 5432),
		PGUser:   envStr("PG_USER", "postgres"),
		PGPass:   envStr("PG_PASS", "postgres"),
		PGDBName: envStr("PG_DB_NAME", "mercurial"),

		EmbedURL:   envStr("OLLAMA_EMBED_URL", "http://localhost:11434/api/embed"),
		EmbedModel: envStr("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		ChatURL:    envStr("OLLAMA_CHAT_URL", "http://localhost:11434/api/chat"),
		ChatModel:  envStr("OLLAMA_CHAT_MODEL", "llama3.1"),
		EmbedDim:   envInt("EMBED_DIM", 768),

		MinScore:         envFloat("RAG_MIN_SCORE", 0.18),
		MaxCharsPerChunk: envInt("RAG_MAX_CHARS_PER_CHUNK", 700),
		MaxContextChunks: envInt("RAG_MAX_CONTEXT_CHUNKS", 8),
		ChunkSize:        envInt("CHUNK_SIZE", 900),
		ChunkOverlap:     envInt("CHUNK_OVERLAP", 150),

		UploadDir: envStr("UPLOAD_DIR", "data/uploads"),
		IndexPath: envStr("INDEX_PATH", "data/vector.index"),
		CodesDir:  envStr("CODES_DIR", "codes"),

		SourceDir:      os.Getenv("SOURCE_DIR"),
		ArchiveDir:     envStr("ARCHIVE_DIR", "data/archive"),
		MonitoringTime: envDuration("MONITORING_TIME", 3*time.Second),
	}
}

func (c Config) PGConnStr() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.PGHost, c.PGPort, c.PGUser, c.PGPass, c.PGDBName)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
