package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/docuchat/docuchat-core/internal/domain"
	"github.com/docuchat/docuchat-core/internal/platform/logger"
)

// ListOptions selects what a folder listing returns. Zero value returns
// nothing; callers opt in to files and/or folders explicitly.
type ListOptions struct {
	Files     bool
	Folders   bool
	Recursive bool
}

// ObjectStore is the blob contract the ingestion and document layers consume.
// Folder paths always carry a trailing separator.
type ObjectStore interface {
	List(ctx context.Context, folderPath string, opts ListOptions) ([]Entry, error)
	Exists(ctx context.Context, path string) (bool, error)
	Put(ctx context.Context, path string, r io.Reader, contentType string) error
	PutFolder(ctx context.Context, folderPath string) error
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	// Delete removes exactly one object for a file path, or every object
	// under the prefix for a folder path (trailing separator).
	Delete(ctx context.Context, path string) error
}

type Config struct {
	BucketName   string
	EmulatorHost string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		BucketName:   strings.TrimSpace(os.Getenv("STORAGE_BUCKET_NAME")),
		EmulatorHost: strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")),
	}
	if cfg.BucketName == "" {
		return cfg, fmt.Errorf("missing env var STORAGE_BUCKET_NAME")
	}
	return cfg, nil
}

type bucketStore struct {
	log    *logger.Logger
	client *storage.Client
	bucket string
}

func NewObjectStore(ctx context.Context, log *logger.Logger, cfg Config) (ObjectStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.BucketName) == "" {
		return nil, fmt.Errorf("bucket name required")
	}

	var opts []option.ClientOption
	if cfg.EmulatorHost != "" {
		endpoint := cfg.EmulatorHost
		if !strings.Contains(endpoint, "://") {
			endpoint = "http://" + endpoint
		}
		opts = append(opts,
			option.WithEndpoint(strings.TrimRight(endpoint, "/")+"/storage/v1/"),
			option.WithoutAuthentication(),
		)
	} else {
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &bucketStore{
		log:    log.With("client", "ObjectStore"),
		client: client,
		bucket: cfg.BucketName,
	}, nil
}

func normalizeFolder(folderPath string) string {
	folderPath = strings.TrimSpace(folderPath)
	if folderPath == "" {
		return ""
	}
	return strings.TrimRight(folderPath, "/") + "/"
}

func (s *bucketStore) List(ctx context.Context, folderPath string, opts ListOptions) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.list(ctx, normalizeFolder(folderPath), opts)
}

func (s *bucketStore) list(ctx context.Context, prefix string, opts ListOptions) ([]Entry, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{
		Prefix:    prefix,
		Delimiter: "/",
	})

	var files []Entry
	var folders []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, err)
		}
		if attrs.Prefix != "" {
			folders = append(folders, attrs.Prefix)
			continue
		}
		// The folder's own zero-byte marker lists under its parent prefix
		// only as itself; skip markers so files stay files.
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		files = append(files, fileEntry(attrs.Name, attrs.Size, attrs.ContentType, attrs.Created))
	}

	var out []Entry
	if opts.Files {
		out = append(out, files...)
	}
	if opts.Folders {
		for _, f := range folders {
			out = append(out, folderEntry(f))
		}
	}
	if opts.Recursive {
		for _, f := range folders {
			sub, err := s.list(ctx, f, opts)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	}
	return out, nil
}

func (s *bucketStore) Exists(ctx context.Context, path string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := s.client.Bucket(s.bucket).Object(path).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %q: %w", path, err)
}

func (s *bucketStore) Put(ctx context.Context, path string, r io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %q: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %q: %w", path, err)
	}
	return nil
}

func (s *bucketStore) PutFolder(ctx context.Context, folderPath string) error {
	marker := normalizeFolder(folderPath)
	if marker == "" {
		return fmt.Errorf("%w: empty folder path", domain.ErrInvalidArgument)
	}
	return s.Put(ctx, marker, strings.NewReader(""), "")
}

// readCloserWithCancel ties the download context's cancel to Close so the
// reader stays usable after Download returns.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (s *bucketStore) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)

	r, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx2)
	if err != nil {
		cancel()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("download %q: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("open reader for %q: %w", path, err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (s *bucketStore) Delete(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if !strings.HasSuffix(path, "/") {
		err := s.client.Bucket(s.bucket).Object(path).Delete(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("delete %q: %w", path, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("delete %q: %w", path, err)
		}
		return nil
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: path})
	deleted := 0
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("list for delete %q: %w", path, err)
		}
		if err := s.client.Bucket(s.bucket).Object(attrs.Name).Delete(ctx); err != nil &&
			!errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("delete %q under %q: %w", attrs.Name, path, err)
		}
		deleted++
	}
	if deleted == 0 {
		return fmt.Errorf("delete %q: %w", path, domain.ErrNotFound)
	}
	s.log.Debug("Deleted folder prefix", "prefix", path, "objects", deleted)
	return nil
}
