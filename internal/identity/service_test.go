package identity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgAuth "github.com/swapdesk/swapdesk-backend/pkg/auth"
	"github.com/swapdesk/swapdesk-backend/pkg/config"
	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
	pkgerrors "github.com/swapdesk/swapdesk-backend/pkg/errors"
	"github.com/swapdesk/swapdesk-backend/pkg/security"
)

type stubUserRepo struct {
	byEmail map[string]*models.User
	byID    map[uuid.UUID]*models.User
	created []*models.User
}

func newStubUserRepo(users ...*models.User) *stubUserRepo {
	repo := &stubUserRepo{
		byEmail: make(map[string]*models.User),
		byID:    make(map[uuid.UUID]*models.User),
	}
	for _, u := range users {
		repo.byEmail[u.Email] = u
		repo.byID[u.ID] = u
	}
	return repo
}

func (r *stubUserRepo) Create(_ context.Context, dto CreateUserDTO) (*models.User, error) {
	user := dto.ToModel()
	user.ID = uuid.New()
	r.byEmail[user.Email] = user
	r.byID[user.ID] = user
	r.created = append(r.created, user)
	return user, nil
}

func (r *stubUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if u, ok := r.byEmail[email]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubUserRepo) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := r.byID[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubUserRepo) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	if u, ok := r.byID[id]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

type stubSessionManager struct {
	generated []string
}

func (s *stubSessionManager) Generate(_ context.Context, accessID string) (string, error) {
	s.generated = append(s.generated, accessID)
	return "refresh-" + accessID, nil
}

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "secret",
		Issuer:            "swapdesk",
		ExpirationMinutes: 30,
	}
}

func testPasswordConfig() config.PasswordConfig {
	return config.PasswordConfig{
		ArgonMemoryKB:    8192,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	}
}

func mustHashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := security.HashPassword(password, testPasswordConfig())
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return hash
}

func buildTestService(t *testing.T, users ...*models.User) (Service, *stubUserRepo) {
	t.Helper()
	repo := newStubUserRepo(users...)
	svc, err := NewService(ServiceParams{
		UserRepo:       repo,
		SessionManager: &stubSessionManager{},
		JWTConfig:      testJWTConfig(),
		PasswordConfig: testPasswordConfig(),
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc, repo
}

func TestServiceLoginIssuesRoleClaim(t *testing.T) {
	password := "buyer-secret"
	user := &models.User{
		ID:           uuid.New(),
		Email:        "jane@example.com",
		PasswordHash: mustHashPassword(t, password),
		LegalName:    "Jane Doe",
		Role:         enums.UserRoleBuyer,
		IsActive:     true,
	}
	svc, _ := buildTestService(t, user)

	resp, err := svc.Login(context.Background(), LoginRequest{
		Email:    "Jane@Example.com",
		Password: password,
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	claims, err := pkgAuth.ParseAccessToken(testJWTConfig(), resp.AccessToken)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.Role != enums.UserRoleBuyer {
		t.Fatalf("expected buyer role claim, got %s", claims.Role)
	}
	if resp.RefreshToken == "" {
		t.Fatalf("expected refresh token to be set")
	}
	if resp.User == nil || resp.User.LegalName != "Jane Doe" {
		t.Fatalf("unexpected user payload %+v", resp.User)
	}
}

func TestServiceLoginRejectsWrongPassword(t *testing.T) {
	user := &models.User{
		ID:           uuid.New(),
		Email:        "jane@example.com",
		PasswordHash: mustHashPassword(t, "right-password"),
		LegalName:    "Jane Doe",
		Role:         enums.UserRoleBuyer,
		IsActive:     true,
	}
	svc, _ := buildTestService(t, user)

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    user.Email,
		Password: "wrong-password",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}

func TestServiceLoginRejectsInactiveUser(t *testing.T) {
	password := "secret-pass"
	user := &models.User{
		ID:           uuid.New(),
		Email:        "gone@example.com",
		PasswordHash: mustHashPassword(t, password),
		LegalName:    "Gone User",
		Role:         enums.UserRoleSeller,
		IsActive:     false,
	}
	svc, _ := buildTestService(t, user)

	_, err := svc.Login(context.Background(), LoginRequest{Email: user.Email, Password: password})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}

func TestServiceRegisterCreatesBuyer(t *testing.T) {
	svc, repo := buildTestService(t)

	dto, err := svc.Register(context.Background(), RegisterRequest{
		Email:     "New@Example.com",
		Password:  "long-enough-pass",
		LegalName: "New Buyer",
		Role:      "buyer",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if dto.Email != "new@example.com" {
		t.Fatalf("expected lowercased email, got %q", dto.Email)
	}
	if len(repo.created) != 1 || repo.created[0].Role != enums.UserRoleBuyer {
		t.Fatalf("unexpected created users %+v", repo.created)
	}
}

func TestServiceRegisterRejectsPrivilegedRole(t *testing.T) {
	svc, _ := buildTestService(t)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:     "admin@example.com",
		Password:  "long-enough-pass",
		LegalName: "Admin Wannabe",
		Role:      "super_admin",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestServiceRegisterRejectsDuplicateEmail(t *testing.T) {
	existing := &models.User{
		ID:        uuid.New(),
		Email:     "dup@example.com",
		LegalName: "Existing",
		Role:      enums.UserRoleBuyer,
		IsActive:  true,
	}
	svc, _ := buildTestService(t, existing)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:     "dup@example.com",
		Password:  "long-enough-pass",
		LegalName: "Dupe",
		Role:      "buyer",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestVerifyCredentials(t *testing.T) {
	password := "reveal-gate"
	user := &models.User{
		ID:           uuid.New(),
		Email:        "buyer@example.com",
		PasswordHash: mustHashPassword(t, password),
		LegalName:    "Buyer",
		Role:         enums.UserRoleBuyer,
		IsActive:     true,
	}
	svc, _ := buildTestService(t, user)

	if err := svc.VerifyCredentials(context.Background(), user.ID, password); err != nil {
		t.Fatalf("expected password to verify: %v", err)
	}

	err := svc.VerifyCredentials(context.Background(), user.ID, "nope")
	if !pkgerrors.IsCode(err, pkgerrors.CodeAuthenticationFailed) {
		t.Fatalf("expected authentication failed, got %v", err)
	}

	err = svc.VerifyCredentials(context.Background(), uuid.New(), password)
	if !pkgerrors.IsCode(err, pkgerrors.CodeAuthenticationFailed) {
		t.Fatalf("expected authentication failed for unknown user, got %v", err)
	}
}
