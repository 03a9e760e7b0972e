package app

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/docuchat/docuchat-core/internal/chat"
	"github.com/docuchat/docuchat-core/internal/data/db"
	"github.com/docuchat/docuchat-core/internal/data/records"
	"github.com/docuchat/docuchat-core/internal/data/repos/user"
	"github.com/docuchat/docuchat-core/internal/ingest"
	"github.com/docuchat/docuchat-core/internal/platform/gcs"
	"github.com/docuchat/docuchat-core/internal/platform/logger"
	"github.com/docuchat/docuchat-core/internal/platform/openai"
	"github.com/docuchat/docuchat-core/internal/platform/pinecone"
	"github.com/docuchat/docuchat-core/internal/platform/sendgrid"
	"github.com/docuchat/docuchat-core/internal/retriever"
	"github.com/docuchat/docuchat-core/internal/services"
)

// App wires the whole document-chat core: storage, index, retrieval, chat
// and identity. Embedders of this module construct one App and use its
// services.
type App struct {
	Log *logger.Logger
	DB  *gorm.DB
	Cfg Config

	Store   gcs.ObjectStore
	Vectors pinecone.VectorStore
	OpenAI  openai.Client
	Records records.Store
	Cache   *retriever.Cache
	Indexer ingest.Indexer
	Chain   *chat.Chain
	Auth    services.AuthService
	Docs    services.DocumentService
}

func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := db.AutoMigrate(pg.DB()); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}

	gcsCfg, err := gcs.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	store, err := gcs.NewObjectStore(ctx, log, gcsCfg)
	if err != nil {
		return nil, fmt.Errorf("init object store: %w", err)
	}

	pcClient, err := pinecone.New(log, pinecone.Config{
		APIKey: os.Getenv("PINECONE_API_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("init pinecone client: %w", err)
	}
	vectors, err := pinecone.NewVectorStore(log, pcClient)
	if err != nil {
		return nil, fmt.Errorf("init vector store: %w", err)
	}

	oa, err := openai.NewClient(log)
	if err != nil {
		return nil, fmt.Errorf("init openai client: %w", err)
	}

	recs, err := records.NewSQLiteStore(log, cfg.RecordDBPath)
	if err != nil {
		return nil, fmt.Errorf("init record store: %w", err)
	}

	extract, err := ingest.NewExtractor(log)
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}

	cache := retriever.NewCache(log, oa, vectors, cfg.TopK)

	indexer, err := ingest.NewIndexer(log, store, vectors, oa, recs, extract, cache, ingest.Config{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	})
	if err != nil {
		return nil, fmt.Errorf("init indexer: %w", err)
	}

	chain, err := chat.NewChain(log, oa, cache, cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("init chat chain: %w", err)
	}

	authCfg, err := services.AuthConfigFromEnv()
	if err != nil {
		return nil, err
	}

	var mail sendgrid.Client
	if os.Getenv("SENDGRID_API_KEY") != "" {
		mail, err = sendgrid.NewFromEnv(log)
		if err != nil {
			return nil, fmt.Errorf("init sendgrid client: %w", err)
		}
	} else {
		log.Warn("SENDGRID_API_KEY not set; password reset email disabled")
	}

	users := user.NewUserRepo(pg.DB(), log)
	auth, err := services.NewAuthService(log, users, store, indexer, mail, authCfg)
	if err != nil {
		return nil, fmt.Errorf("init auth service: %w", err)
	}

	docs, err := services.NewDocumentService(log, store, indexer)
	if err != nil {
		return nil, fmt.Errorf("init document service: %w", err)
	}

	return &App{
		Log:     log,
		DB:      pg.DB(),
		Cfg:     cfg,
		Store:   store,
		Vectors: vectors,
		OpenAI:  oa,
		Records: recs,
		Cache:   cache,
		Indexer: indexer,
		Chain:   chain,
		Auth:    auth,
		Docs:    docs,
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.Log.Sync()
}
