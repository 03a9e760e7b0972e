package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docuchat/docuchat-core/internal/domain"
	"github.com/docuchat/docuchat-core/internal/ingest"
	"github.com/docuchat/docuchat-core/internal/platform/gcs"
	"github.com/docuchat/docuchat-core/internal/platform/logger"
)

// DocumentService is the user-facing surface over storage and indexing.
// Every operation is scoped to the calling user's folder; paths outside it
// are rejected before they reach storage.
type DocumentService interface {
	EnsureRootFolder(ctx context.Context, u *domain.User) error
	// Upload stores the document and refreshes the user's index. If
	// indexing fails the just-uploaded object is removed again, so storage
	// and index never drift apart on a failed upload.
	Upload(ctx context.Context, u *domain.User, folderPath, name string, r io.Reader, contentType string) error
	Delete(ctx context.Context, u *domain.User, path string) error
	List(ctx context.Context, u *domain.User, folderPath string) ([]gcs.Entry, error)
	CreateFolder(ctx context.Context, u *domain.User, parentPath, name string) error
	Download(ctx context.Context, u *domain.User, path string) (io.ReadCloser, error)
	// Refresh re-syncs the user's index against storage.
	Refresh(ctx context.Context, u *domain.User) (ingest.RefreshStats, error)
}

type documentService struct {
	log     *logger.Logger
	store   gcs.ObjectStore
	indexer ingest.Indexer
}

func NewDocumentService(log *logger.Logger, store gcs.ObjectStore, indexer ingest.Indexer) (DocumentService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if store == nil || indexer == nil {
		return nil, fmt.Errorf("document service dependencies missing")
	}
	return &documentService{
		log:     log.With("service", "DocumentService"),
		store:   store,
		indexer: indexer,
	}, nil
}

// validateName rejects path traversal and separator tricks in user-chosen
// file and folder names.
func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty name", domain.ErrInvalidArgument)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: invalid name %q", domain.ErrInvalidArgument, name)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: name %q must not contain path separators", domain.ErrInvalidArgument, name)
	}
	return nil
}

// validateDocumentType enforces the PDF-only upload surface before any
// remote call. Content type is checked only when the caller supplies one.
func validateDocumentType(name, contentType string) error {
	if !strings.HasSuffix(strings.ToLower(strings.TrimSpace(name)), ".pdf") {
		return fmt.Errorf("%w: only PDF documents can be uploaded", domain.ErrInvalidArgument)
	}
	if contentType != "" && !strings.EqualFold(contentType, "application/pdf") {
		return fmt.Errorf("%w: content type %q is not a PDF", domain.ErrInvalidArgument, contentType)
	}
	return nil
}

// userFolder resolves a folder path against the user's root and verifies
// it stays inside it. Empty means the root itself.
func userFolder(u *domain.User, folderPath string) (string, error) {
	root := u.RootFolder()
	folderPath = strings.TrimSpace(folderPath)
	if folderPath == "" {
		return root, nil
	}
	if !strings.HasSuffix(folderPath, "/") {
		folderPath += "/"
	}
	if folderPath == root {
		return root, nil
	}
	if !strings.HasPrefix(folderPath, root) || strings.Contains(folderPath, "..") {
		return "", fmt.Errorf("%w: folder %q is outside the user's space", domain.ErrUnauthorized, folderPath)
	}
	return folderPath, nil
}

// userObject verifies a file path belongs to the user.
func userObject(u *domain.User, path string) (string, error) {
	root := u.RootFolder()
	path = strings.TrimSpace(path)
	if path == "" || path == root {
		return "", fmt.Errorf("%w: empty path", domain.ErrInvalidArgument)
	}
	if !strings.HasPrefix(path, root) || strings.Contains(path, "..") {
		return "", fmt.Errorf("%w: path %q is outside the user's space", domain.ErrUnauthorized, path)
	}
	return path, nil
}

func (s *documentService) EnsureRootFolder(ctx context.Context, u *domain.User) error {
	root := u.RootFolder()
	exists, err := s.store.Exists(ctx, root)
	if err != nil {
		return fmt.Errorf("check root folder: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.store.PutFolder(ctx, root); err != nil {
		return fmt.Errorf("create root folder: %w", err)
	}
	return nil
}

func (s *documentService) Upload(ctx context.Context, u *domain.User, folderPath, name string, r io.Reader, contentType string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := validateDocumentType(name, contentType); err != nil {
		return err
	}
	folder, err := userFolder(u, folderPath)
	if err != nil {
		return err
	}
	if err := s.EnsureRootFolder(ctx, u); err != nil {
		return err
	}

	path := folder + strings.TrimSpace(name)
	if err := s.store.Put(ctx, path, r, contentType); err != nil {
		return fmt.Errorf("store %q: %w", path, err)
	}

	if _, err := s.indexer.Refresh(ctx, u.Namespace(), u.RootFolder()); err != nil {
		// Roll the upload back so the folder only ever holds documents the
		// index has accepted.
		if delErr := s.store.Delete(ctx, path); delErr != nil && !errors.Is(delErr, domain.ErrNotFound) {
			s.log.Error("Rollback of failed upload did not delete object",
				"path", path, "error", delErr)
		} else if _, rerr := s.indexer.Refresh(ctx, u.Namespace(), u.RootFolder()); rerr != nil {
			s.log.Warn("Post-rollback refresh failed", "namespace", u.Namespace(), "error", rerr)
		}
		return fmt.Errorf("index %q: %w", path, err)
	}

	s.log.Info("Document uploaded", "user_id", u.ID, "path", path)
	return nil
}

func (s *documentService) Delete(ctx context.Context, u *domain.User, path string) error {
	target, err := userObject(u, path)
	if err != nil {
		return err
	}

	// Storage first. Until the refresh lands the index can briefly return
	// chunks of the deleted document; the refresh removes them.
	if err := s.store.Delete(ctx, target); err != nil {
		return fmt.Errorf("delete %q: %w", target, err)
	}
	if _, err := s.indexer.Refresh(ctx, u.Namespace(), u.RootFolder()); err != nil {
		return fmt.Errorf("refresh after delete of %q: %w", target, err)
	}

	s.log.Info("Document deleted", "user_id", u.ID, "path", target)
	return nil
}

func (s *documentService) List(ctx context.Context, u *domain.User, folderPath string) ([]gcs.Entry, error) {
	folder, err := userFolder(u, folderPath)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.List(ctx, folder, gcs.ListOptions{Files: true, Folders: true})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", folder, err)
	}
	gcs.SortEntries(entries)
	return entries, nil
}

func (s *documentService) CreateFolder(ctx context.Context, u *domain.User, parentPath, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	parent, err := userFolder(u, parentPath)
	if err != nil {
		return err
	}
	if err := s.EnsureRootFolder(ctx, u); err != nil {
		return err
	}
	if err := s.store.PutFolder(ctx, parent+strings.TrimSpace(name)); err != nil {
		return fmt.Errorf("create folder: %w", err)
	}
	return nil
}

func (s *documentService) Download(ctx context.Context, u *domain.User, path string) (io.ReadCloser, error) {
	target, err := userObject(u, path)
	if err != nil {
		return nil, err
	}
	return s.store.Download(ctx, target)
}

func (s *documentService) Refresh(ctx context.Context, u *domain.User) (ingest.RefreshStats, error) {
	return s.indexer.Refresh(ctx, u.Namespace(), u.RootFolder())
}
