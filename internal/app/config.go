package app

import (
	"github.com/docuchat/docuchat-core/internal/ingest"
	"github.com/docuchat/docuchat-core/internal/platform/envutil"
	"github.com/docuchat/docuchat-core/internal/platform/logger"
)

type Config struct {
	LogMode string

	ChunkSize    int
	ChunkOverlap int
	TopK         int

	RecordDBPath string
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		LogMode:      envutil.Str("LOG_MODE", "development"),
		ChunkSize:    envutil.Int("CHUNK_SIZE", ingest.DefaultChunkSize),
		ChunkOverlap: envutil.Int("CHUNK_OVERLAP", ingest.DefaultChunkOverlap),
		TopK:         envutil.Int("RETRIEVER_TOP_K", 4),
		RecordDBPath: envutil.Str("RECORD_DB_PATH", "records.db"),
	}
	log.Info("Configuration loaded",
		"chunk_size", cfg.ChunkSize,
		"chunk_overlap", cfg.ChunkOverlap,
		"top_k", cfg.TopK,
	)
	return cfg
}
