package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docuchat/docuchat-core/internal/data/records"
	"github.com/docuchat/docuchat-core/internal/domain"
	"github.com/docuchat/docuchat-core/internal/ingest"
	"github.com/docuchat/docuchat-core/internal/platform/logger"
	"github.com/docuchat/docuchat-core/internal/platform/sendgrid"
	"github.com/docuchat/docuchat-core/internal/testutil"
)

// memUserRepo keeps users in a map; the tx parameter is ignored.
type memUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[uuid.UUID]domain.User)}
}

func (m *memUserRepo) Create(ctx context.Context, _ *gorm.DB, u *domain.User) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = *u
	return u, nil
}

func (m *memUserRepo) GetByID(ctx context.Context, _ *gorm.DB, id uuid.UUID) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (m *memUserRepo) GetByEmail(ctx context.Context, _ *gorm.DB, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memUserRepo) EmailExists(ctx context.Context, _ *gorm.DB, email string) (bool, error) {
	_, err := m.GetByEmail(ctx, nil, email)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m *memUserRepo) UpdateDisplayName(ctx context.Context, _ *gorm.DB, id uuid.UUID, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.DisplayName = displayName
	m.users[id] = u
	return nil
}

func (m *memUserRepo) UpdatePasswordHash(ctx context.Context, _ *gorm.DB, id uuid.UUID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordHash = passwordHash
	m.users[id] = u
	return nil
}

func (m *memUserRepo) Delete(ctx context.Context, _ *gorm.DB, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

// memMailer records sends.
type memMailer struct {
	mu    sync.Mutex
	sends []sendgrid.SendEmailRequest
}

func (m *memMailer) Send(ctx context.Context, req sendgrid.SendEmailRequest) (*sendgrid.SendEmailResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, req)
	return &sendgrid.SendEmailResult{StatusCode: 202}, nil
}

type authFixture struct {
	auth    AuthService
	repo    *memUserRepo
	store   *testutil.MemObjectStore
	vectors *testutil.MemVectorStore
	mail    *memMailer
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{
		repo:    newMemUserRepo(),
		store:   testutil.NewMemObjectStore(),
		vectors: testutil.NewMemVectorStore(),
		mail:    &memMailer{},
	}
	ix, err := ingest.NewIndexer(logger.NewNop(), f.store, f.vectors, &testutil.HashEmbedder{},
		records.NewMemoryStore(), testutil.TextExtractor{}, nil, ingest.Config{ChunkSize: 200})
	if err != nil {
		t.Fatalf("NewIndexer: %v", err)
	}

	auth, err := NewAuthService(logger.NewNop(), f.repo, f.store, ix, f.mail, AuthConfig{
		JWTSecret:  "test-secret",
		SessionTTL: time.Hour,
		ResetTTL:   10 * time.Minute,
		AppBaseURL: "https://app.example.com",
	})
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	f.auth = auth
	return f
}

func TestRegisterLoginVerify(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	u, token, err := f.auth.Register(ctx, "Person@Example.com", "longenough", "longenough", "Person")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Email != "person@example.com" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if token == "" {
		t.Fatalf("missing session token")
	}

	// Registration provisions the storage root.
	exists, _ := f.store.Exists(ctx, u.RootFolder())
	if !exists {
		t.Fatalf("root folder not created")
	}

	got, err := f.auth.VerifyToken(ctx, token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("verified user: want=%v got=%v", u.ID, got.ID)
	}

	if _, _, err := f.auth.Login(ctx, "person@example.com", "longenough"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, _, err := f.auth.Login(ctx, "person@example.com", "wrongpassword"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("wrong password: want ErrUnauthorized got=%v", err)
	}
	if _, _, err := f.auth.Login(ctx, "nobody@example.com", "whatever"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("unknown email: want ErrUnauthorized got=%v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if _, _, err := f.auth.Register(ctx, "not-an-email", "longenough", "longenough", ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("bad email: want ErrInvalidArgument got=%v", err)
	}
	if _, _, err := f.auth.Register(ctx, "a@b.com", "short", "short", ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("short password: want ErrInvalidArgument got=%v", err)
	}

	if _, _, err := f.auth.Register(ctx, "a@b.com", "longenough", "longenough", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, _, err := f.auth.Register(ctx, "a@b.com", "otherpassword", "otherpassword", ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("duplicate email: want ErrInvalidArgument got=%v", err)
	}
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	f := newAuthFixture(t)

	if _, err := f.auth.VerifyToken(context.Background(), "not.a.token"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized got=%v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	u, _, err := f.auth.Register(ctx, "reset@example.com", "originalpw", "originalpw", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := f.auth.SendPasswordReset(ctx, "reset@example.com"); err != nil {
		t.Fatalf("SendPasswordReset: %v", err)
	}
	if len(f.mail.sends) != 1 {
		t.Fatalf("mail sends: want=1 got=%d", len(f.mail.sends))
	}

	// Pull the token back out of the email link.
	body := f.mail.sends[0].Text
	i := strings.Index(body, "token=")
	if i < 0 {
		t.Fatalf("reset link missing from email body: %q", body)
	}
	token := body[i+len("token="):]

	if err := f.auth.ResetPassword(ctx, token, "brandnewpassword"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, _, err := f.auth.Login(ctx, u.Email, "brandnewpassword"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, _, err := f.auth.Login(ctx, u.Email, "originalpw"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("old password still accepted")
	}

	// A session token must not pass as a reset token.
	_, session, _ := f.auth.Login(ctx, u.Email, "brandnewpassword")
	if err := f.auth.ResetPassword(ctx, session, "anotherpassword"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("session token accepted for reset: %v", err)
	}
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	f := newAuthFixture(t)

	if err := f.auth.SendPasswordReset(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("SendPasswordReset for unknown email: %v", err)
	}
	if len(f.mail.sends) != 0 {
		t.Fatalf("no mail expected for unknown email")
	}
}

func TestDeleteUserRemovesEverything(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	u, _, err := f.auth.Register(ctx, "leaver@example.com", "longenough", "longenough", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Give the account a document and an index.
	if err := f.store.Put(ctx, u.RootFolder()+"doc.pdf", strings.NewReader("content"), ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	ix, _ := ingest.NewIndexer(logger.NewNop(), f.store, f.vectors, &testutil.HashEmbedder{},
		records.NewMemoryStore(), testutil.TextExtractor{}, nil, ingest.Config{})
	if _, err := ix.Refresh(ctx, u.Namespace(), u.RootFolder()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if f.vectors.Count(u.Namespace()) == 0 {
		t.Fatalf("expected vectors before delete")
	}

	if err := f.auth.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	if f.vectors.Count(u.Namespace()) != 0 {
		t.Fatalf("vectors remain after account deletion")
	}
	if paths := f.store.Paths(); len(paths) != 0 {
		t.Fatalf("storage remains after account deletion: %v", paths)
	}
	if _, err := f.repo.GetByID(ctx, nil, u.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("user row remains: %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	u, _, err := f.auth.Register(ctx, "profile@example.com", "longenough", "longenough", "Before")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := f.auth.UpdateProfile(ctx, u.ID, "After", "")
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if got.DisplayName != "After" {
		t.Fatalf("display name: want=After got=%q", got.DisplayName)
	}

	if _, err := f.auth.UpdateProfile(ctx, u.ID, "  ", ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("blank name: want ErrInvalidArgument got=%v", err)
	}
}

func TestRegisterRejectsMismatchedConfirmation(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if _, _, err := f.auth.Register(ctx, "typo@example.com", "longenough", "longenuogh", ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("mismatched confirmation: want ErrInvalidArgument got=%v", err)
	}
	// The failed attempt must not claim the email or provision storage.
	if _, _, err := f.auth.Register(ctx, "typo@example.com", "longenough", "longenough", ""); err != nil {
		t.Fatalf("Register after rejected attempt: %v", err)
	}
}

func TestUpdateProfileChangesPassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	u, _, err := f.auth.Register(ctx, "pw@example.com", "originalpw", "originalpw", "Keep")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := f.auth.UpdateProfile(ctx, u.ID, "", "replacementpw"); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if _, _, err := f.auth.Login(ctx, u.Email, "replacementpw"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, _, err := f.auth.Login(ctx, u.Email, "originalpw"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("old password still accepted")
	}

	// A password-only update leaves the display name alone.
	got, err := f.repo.GetByID(ctx, nil, u.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.DisplayName != "Keep" {
		t.Fatalf("display name changed by password update: %q", got.DisplayName)
	}

	if _, err := f.auth.UpdateProfile(ctx, u.ID, "", "short"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("weak new password: want ErrInvalidArgument got=%v", err)
	}
}
