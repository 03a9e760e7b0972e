package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/docuchat/docuchat-core/internal/data/repos/user"
	"github.com/docuchat/docuchat-core/internal/domain"
	"github.com/docuchat/docuchat-core/internal/ingest"
	"github.com/docuchat/docuchat-core/internal/platform/envutil"
	"github.com/docuchat/docuchat-core/internal/platform/gcs"
	"github.com/docuchat/docuchat-core/internal/platform/logger"
	"github.com/docuchat/docuchat-core/internal/platform/sendgrid"
)

const (
	minPasswordLen = 8

	tokenPurposeSession = "session"
	tokenPurposeReset   = "password_reset"
)

type AuthService interface {
	// Register validates the credentials, including the confirmation copy of
	// the password, before any remote call is made.
	Register(ctx context.Context, email, password, confirm, displayName string) (*domain.User, string, error)
	Login(ctx context.Context, email, password string) (*domain.User, string, error)
	// VerifyToken validates a session token and returns the user it names.
	VerifyToken(ctx context.Context, token string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	// UpdateProfile changes the display name and/or password. Empty fields
	// are left untouched; at least one must be set.
	UpdateProfile(ctx context.Context, userID uuid.UUID, displayName, newPassword string) (*domain.User, error)
	// DeleteUser removes the account plus everything it owns: stored
	// documents, index namespace, and fingerprint records.
	DeleteUser(ctx context.Context, userID uuid.UUID) error
	SendPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	// GoogleSignIn exchanges an OAuth authorization code and signs the
	// Google account in, creating a local user on first sight of the email.
	GoogleSignIn(ctx context.Context, code string) (*domain.User, string, error)
}

type AuthConfig struct {
	JWTSecret      string
	SessionTTL     time.Duration
	ResetTTL       time.Duration
	AppBaseURL     string
	GoogleClient   string
	GoogleSecret   string
	GoogleRedirect string
}

func AuthConfigFromEnv() (AuthConfig, error) {
	cfg := AuthConfig{
		JWTSecret:      strings.TrimSpace(os.Getenv("AUTH_JWT_SECRET")),
		SessionTTL:     envutil.Dur("AUTH_SESSION_TTL_SECONDS", 24*time.Hour),
		ResetTTL:       envutil.Dur("AUTH_RESET_TTL_SECONDS", time.Hour),
		AppBaseURL:     strings.TrimSpace(os.Getenv("APP_BASE_URL")),
		GoogleClient:   strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")),
		GoogleSecret:   strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_SECRET")),
		GoogleRedirect: strings.TrimSpace(os.Getenv("GOOGLE_REDIRECT_URI")),
	}
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("missing env var AUTH_JWT_SECRET")
	}
	return cfg, nil
}

type authService struct {
	log     *logger.Logger
	users   user.UserRepo
	store   gcs.ObjectStore
	indexer ingest.Indexer
	mail    sendgrid.Client
	cfg     AuthConfig

	oauthCfg    *oauth2.Config
	userinfoURL string
	oauthHTTP   *http.Client
}

// NewAuthService wires identity. mail may be nil, which disables password
// reset email (useful in the CLI and in tests).
func NewAuthService(log *logger.Logger, users user.UserRepo, store gcs.ObjectStore, indexer ingest.Indexer, mail sendgrid.Client, cfg AuthConfig) (AuthService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if users == nil || store == nil || indexer == nil {
		return nil, fmt.Errorf("auth dependencies missing")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("jwt secret required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}

	var oc *oauth2.Config
	if cfg.GoogleClient != "" && cfg.GoogleSecret != "" {
		oc = &oauth2.Config{
			ClientID:     cfg.GoogleClient,
			ClientSecret: cfg.GoogleSecret,
			RedirectURL:  cfg.GoogleRedirect,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     googleoauth.Endpoint,
		}
	}

	return &authService{
		log:         log.With("service", "AuthService"),
		users:       users,
		store:       store,
		indexer:     indexer,
		mail:        mail,
		cfg:         cfg,
		oauthCfg:    oc,
		userinfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		oauthHTTP:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 || !strings.Contains(email[at+1:], ".") {
		return fmt.Errorf("%w: invalid email %q", domain.ErrInvalidArgument, email)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidArgument, minPasswordLen)
	}
	return nil
}

func (s *authService) Register(ctx context.Context, email, password, confirm, displayName string) (*domain.User, string, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, "", err
	}
	if err := validatePassword(password); err != nil {
		return nil, "", err
	}
	if password != confirm {
		return nil, "", fmt.Errorf("%w: passwords do not match", domain.ErrInvalidArgument)
	}

	exists, err := s.users.EmailExists(ctx, nil, email)
	if err != nil {
		return nil, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, "", fmt.Errorf("%w: email already registered", domain.ErrInvalidArgument)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	u := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hash),
	}
	if _, err := s.users.Create(ctx, nil, u); err != nil {
		return nil, "", fmt.Errorf("create user: %w", err)
	}

	// Every account starts with its own storage folder so listings and
	// refreshes have a stable anchor.
	if err := s.store.PutFolder(ctx, u.RootFolder()); err != nil {
		s.log.Warn("Failed to create root folder for new user", "user_id", u.ID, "error", err)
	}

	token, err := s.signToken(u, tokenPurposeSession, s.cfg.SessionTTL)
	if err != nil {
		return nil, "", err
	}

	s.log.Info("User registered", "user_id", u.ID, "email", u.Email)
	return u, token, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	email = normalizeEmail(email)

	u, err := s.users.GetByEmail(ctx, nil, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, "", domain.ErrUnauthorized
	}
	if err != nil {
		return nil, "", fmt.Errorf("lookup user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, "", domain.ErrUnauthorized
	}

	token, err := s.signToken(u, tokenPurposeSession, s.cfg.SessionTTL)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

type authClaims struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

func (s *authService) signToken(u *domain.User, purpose string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := authClaims{
		Email:   u.Email,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func (s *authService) parseToken(token, purpose string) (uuid.UUID, error) {
	var claims authClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, domain.ErrUnauthorized
	}
	if claims.Purpose != purpose {
		return uuid.Nil, domain.ErrUnauthorized
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, domain.ErrUnauthorized
	}
	return id, nil
}

func (s *authService) VerifyToken(ctx context.Context, token string) (*domain.User, error) {
	id, err := s.parseToken(token, tokenPurposeSession)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, nil, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return u, nil
}

func (s *authService) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.users.GetByEmail(ctx, nil, normalizeEmail(email))
}

func (s *authService) UpdateProfile(ctx context.Context, userID uuid.UUID, displayName, newPassword string) (*domain.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" && newPassword == "" {
		return nil, fmt.Errorf("%w: nothing to update", domain.ErrInvalidArgument)
	}

	if displayName != "" {
		if err := s.users.UpdateDisplayName(ctx, nil, userID, displayName); err != nil {
			return nil, fmt.Errorf("update display name: %w", err)
		}
	}
	if newPassword != "" {
		if err := validatePassword(newPassword); err != nil {
			return nil, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		if err := s.users.UpdatePasswordHash(ctx, nil, userID, string(hash)); err != nil {
			return nil, fmt.Errorf("update password: %w", err)
		}
	}
	return s.users.GetByID(ctx, nil, userID)
}

func (s *authService) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	u, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		return err
	}

	// Storage first: once the documents are gone, a crash here leaves
	// vectors that the next refresh of an empty folder would reconcile.
	if err := s.store.Delete(ctx, u.RootFolder()); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete user storage: %w", err)
	}
	if err := s.indexer.PurgeNamespace(ctx, u.Namespace()); err != nil {
		return fmt.Errorf("purge user namespace: %w", err)
	}
	if err := s.users.Delete(ctx, nil, userID); err != nil {
		return fmt.Errorf("delete user row: %w", err)
	}

	s.log.Info("User deleted", "user_id", userID, "email", u.Email)
	return nil
}

func (s *authService) SendPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	u, err := s.users.GetByEmail(ctx, nil, email)
	if errors.Is(err, domain.ErrNotFound) {
		// Do not reveal which emails exist.
		s.log.Info("Password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if s.mail == nil {
		return fmt.Errorf("mail client not configured")
	}

	token, err := s.signToken(u, tokenPurposeReset, s.cfg.ResetTTL)
	if err != nil {
		return err
	}

	link := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/reset-password?token=" + token
	_, err = s.mail.Send(ctx, sendgrid.SendEmailRequest{
		To:      []sendgrid.EmailAddress{{Email: u.Email, Name: u.DisplayName}},
		Subject: "Reset your password",
		Text:    "Follow this link to choose a new password: " + link,
	})
	if err != nil {
		return fmt.Errorf("send reset email: %w", err)
	}
	return nil
}

func (s *authService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	id, err := s.parseToken(resetToken, tokenPurposeReset)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, nil, id, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	s.log.Info("Password reset completed", "user_id", id)
	return nil
}

type googleUserinfo struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (s *authService) GoogleSignIn(ctx context.Context, code string) (*domain.User, string, error) {
	if s.oauthCfg == nil {
		return nil, "", fmt.Errorf("google sign-in not configured")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, "", fmt.Errorf("%w: empty authorization code", domain.ErrInvalidArgument)
	}

	tok, err := s.oauthCfg.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("exchange code: %w", err)
	}

	info, err := s.fetchGoogleUserinfo(ctx, tok)
	if err != nil {
		return nil, "", err
	}
	email := normalizeEmail(info.Email)
	if err := validateEmail(email); err != nil {
		return nil, "", fmt.Errorf("google userinfo: %w", err)
	}

	// Federated accounts map onto local users by email.
	u, err := s.users.GetByEmail(ctx, nil, email)
	if errors.Is(err, domain.ErrNotFound) {
		u, err = s.createFederatedUser(ctx, email, info.Name)
	}
	if err != nil {
		return nil, "", err
	}

	token, err := s.signToken(u, tokenPurposeSession, s.cfg.SessionTTL)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

func (s *authService) createFederatedUser(ctx context.Context, email, name string) (*domain.User, error) {
	// Federated users never type this password; it only blocks empty-hash
	// logins.
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(raw)), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  strings.TrimSpace(name),
		PasswordHash: string(hash),
	}
	if _, err := s.users.Create(ctx, nil, u); err != nil {
		return nil, fmt.Errorf("create federated user: %w", err)
	}
	if err := s.store.PutFolder(ctx, u.RootFolder()); err != nil {
		s.log.Warn("Failed to create root folder for new user", "user_id", u.ID, "error", err)
	}

	s.log.Info("Federated user created", "user_id", u.ID, "email", u.Email)
	return u, nil
}

func (s *authService) fetchGoogleUserinfo(ctx context.Context, tok *oauth2.Token) (*googleUserinfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.userinfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	resp, err := s.oauthHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo http %d", resp.StatusCode)
	}

	var info googleUserinfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return &info, nil
}
