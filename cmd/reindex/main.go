package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/docuchat/docuchat-core/internal/data/db"
	"github.com/docuchat/docuchat-core/internal/data/records"
	"github.com/docuchat/docuchat-core/internal/domain"
	"github.com/docuchat/docuchat-core/internal/ingest"
	"github.com/docuchat/docuchat-core/internal/platform/envutil"
	"github.com/docuchat/docuchat-core/internal/platform/gcs"
	"github.com/docuchat/docuchat-core/internal/platform/logger"
	"github.com/docuchat/docuchat-core/internal/platform/openai"
	"github.com/docuchat/docuchat-core/internal/platform/pinecone"
)

// reindex rebuilds vector namespaces from object storage. It refreshes a
// single namespace, or with -all every user in the database.
func main() {
	var (
		namespace = flag.String("namespace", "", "namespace to refresh (defaults folder to <namespace>/)")
		folder    = flag.String("folder", "", "storage folder to mirror (optional with -namespace)")
		all       = flag.Bool("all", false, "refresh every user's namespace")
		timeout   = flag.Duration("timeout", 30*time.Minute, "overall timeout")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, relying on environment variables")
	}

	log, err := logger.New(envutil.Str("LOG_MODE", "development"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, log, *namespace, *folder, *all); err != nil {
		log.Error("Reindex failed", "error", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, namespace, folder string, all bool) error {
	if !all && namespace == "" {
		return fmt.Errorf("either -namespace or -all is required")
	}

	gcsCfg, err := gcs.ConfigFromEnv()
	if err != nil {
		return err
	}
	store, err := gcs.NewObjectStore(ctx, log, gcsCfg)
	if err != nil {
		return fmt.Errorf("init object store: %w", err)
	}

	pcClient, err := pinecone.New(log, pinecone.Config{APIKey: os.Getenv("PINECONE_API_KEY")})
	if err != nil {
		return fmt.Errorf("init pinecone client: %w", err)
	}
	vectors, err := pinecone.NewVectorStore(log, pcClient)
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}

	oa, err := openai.NewClient(log)
	if err != nil {
		return fmt.Errorf("init openai client: %w", err)
	}

	recs, err := records.NewSQLiteStore(log, "")
	if err != nil {
		return fmt.Errorf("init record store: %w", err)
	}

	extract, err := ingest.NewExtractor(log)
	if err != nil {
		return fmt.Errorf("init extractor: %w", err)
	}

	indexer, err := ingest.NewIndexer(log, store, vectors, oa, recs, extract, nil, ingest.Config{
		ChunkSize:    envutil.Int("CHUNK_SIZE", ingest.DefaultChunkSize),
		ChunkOverlap: envutil.Int("CHUNK_OVERLAP", ingest.DefaultChunkOverlap),
	})
	if err != nil {
		return fmt.Errorf("init indexer: %w", err)
	}

	if !all {
		if folder == "" {
			folder = namespace + "/"
		}
		stats, err := indexer.Refresh(ctx, namespace, folder)
		if err != nil {
			return err
		}
		log.Info("Namespace refreshed",
			"namespace", namespace,
			"indexed", stats.SourcesIndexed,
			"skipped", stats.SourcesSkipped,
			"removed", stats.SourcesRemoved,
		)
		return nil
	}

	pg, err := db.NewPostgresService(log)
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}

	var users []domain.User
	if err := pg.DB().WithContext(ctx).Find(&users).Error; err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	failed := 0
	for i := range users {
		u := &users[i]
		stats, err := indexer.Refresh(ctx, u.Namespace(), u.RootFolder())
		if err != nil {
			log.Error("Refresh failed", "user_id", u.ID, "error", err)
			failed++
			continue
		}
		log.Info("Namespace refreshed",
			"user_id", u.ID,
			"indexed", stats.SourcesIndexed,
			"skipped", stats.SourcesSkipped,
			"removed", stats.SourcesRemoved,
		)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d namespaces failed", failed, len(users))
	}
	log.Info("All namespaces refreshed", "users", len(users))
	return nil
}
