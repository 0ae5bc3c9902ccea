package vault

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/swapdesk/swapdesk-backend/internal/listings"
	"github.com/swapdesk/swapdesk-backend/pkg/config"
	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	pkgerrors "github.com/swapdesk/swapdesk-backend/pkg/errors"
)

func setupVaultDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:vault_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.CredentialRecord{}))
	return db
}

func testVaultConfig() config.VaultConfig {
	// Minimal Argon2 parameters keep the test fast; production values come
	// from the environment.
	return config.VaultConfig{
		MasterKey:        "test-master-key",
		KeyID:            "v1",
		ArgonMemoryKB:    8,
		ArgonTime:        1,
		ArgonParallelism: 1,
	}
}

func newTestVault(t *testing.T, db *gorm.DB, cfg config.VaultConfig) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(db),
		Config: cfg,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	return svc
}

func TestSealOpen_Roundtrip(t *testing.T) {
	db := setupVaultDB(t)
	svc := newTestVault(t, db, testVaultConfig())
	ctx := context.Background()
	listingID := uuid.New()

	recovery := "recover@example.com"
	twofa := "JBSWY3DPEHPK3PXP"
	record, err := svc.Seal(ctx, db, listingID, listings.CredentialInput{
		Username:      "acct-user",
		Password:      "acct-pass",
		RecoveryEmail: &recovery,
		TwoFASecret:   &twofa,
	})
	require.NoError(t, err)
	require.Equal(t, "v1", record.KeyID)
	require.NotEmpty(t, record.KDFSalt)
	require.NotEqual(t, "acct-user", record.UsernameCiphertext)
	require.True(t, record.HasRecoveryEmail())
	require.True(t, record.HasTwoFASecret())

	creds, err := svc.Open(ctx, listingID)
	require.NoError(t, err)
	require.Equal(t, "acct-user", creds.Username)
	require.Equal(t, "acct-pass", creds.Password)
	require.NotNil(t, creds.RecoveryEmail)
	require.Equal(t, recovery, *creds.RecoveryEmail)
	require.NotNil(t, creds.TwoFASecret)
	require.Equal(t, twofa, *creds.TwoFASecret)
}

func TestSeal_OptionalFieldsOmitted(t *testing.T) {
	db := setupVaultDB(t)
	svc := newTestVault(t, db, testVaultConfig())
	listingID := uuid.New()

	record, err := svc.Seal(context.Background(), db, listingID, listings.CredentialInput{
		Username: "acct-user",
		Password: "acct-pass",
	})
	require.NoError(t, err)
	require.Nil(t, record.RecoveryCiphertext)
	require.Nil(t, record.TwoFACiphertext)

	creds, err := svc.Open(context.Background(), listingID)
	require.NoError(t, err)
	require.Nil(t, creds.RecoveryEmail)
	require.Nil(t, creds.TwoFASecret)
}

func TestSeal_DistinctNoncesPerField(t *testing.T) {
	db := setupVaultDB(t)
	svc := newTestVault(t, db, testVaultConfig())

	record, err := svc.Seal(context.Background(), db, uuid.New(), listings.CredentialInput{
		Username: "same-value",
		Password: "same-value",
	})
	require.NoError(t, err)
	// Identical plaintexts must not produce identical ciphertexts.
	require.NotEqual(t, record.UsernameCiphertext, record.PasswordCiphertext)
}

func TestOpen_WrongMasterKeyDenied(t *testing.T) {
	db := setupVaultDB(t)
	listingID := uuid.New()

	sealer := newTestVault(t, db, testVaultConfig())
	_, err := sealer.Seal(context.Background(), db, listingID, listings.CredentialInput{
		Username: "acct-user",
		Password: "acct-pass",
	})
	require.NoError(t, err)

	cfg := testVaultConfig()
	cfg.MasterKey = "rotated-away"
	opener := newTestVault(t, db, cfg)

	_, err = opener.Open(context.Background(), listingID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDecryptionDenied))
}

func TestOpen_TamperedCiphertextDenied(t *testing.T) {
	db := setupVaultDB(t)
	svc := newTestVault(t, db, testVaultConfig())
	listingID := uuid.New()

	_, err := svc.Seal(context.Background(), db, listingID, listings.CredentialInput{
		Username: "acct-user",
		Password: "acct-pass",
	})
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.CredentialRecord{}).
		Where("listing_id = ?", listingID).
		Update("password_ciphertext", "bm90LXJlYWwtY2lwaGVydGV4dA==").Error)

	_, err = svc.Open(context.Background(), listingID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDecryptionDenied))
}

func TestOpen_CiphertextBoundToListing(t *testing.T) {
	db := setupVaultDB(t)
	svc := newTestVault(t, db, testVaultConfig())
	ctx := context.Background()

	first := uuid.New()
	second := uuid.New()
	firstRecord, err := svc.Seal(ctx, db, first, listings.CredentialInput{Username: "u1", Password: "p1"})
	require.NoError(t, err)
	_, err = svc.Seal(ctx, db, second, listings.CredentialInput{Username: "u2", Password: "p2"})
	require.NoError(t, err)

	// Splicing one listing's ciphertext into another's record must fail
	// authentication even though the salt and key line up.
	require.NoError(t, db.Model(&models.CredentialRecord{}).
		Where("listing_id = ?", second).
		Updates(map[string]any{
			"username_ciphertext": firstRecord.UsernameCiphertext,
			"password_ciphertext": firstRecord.PasswordCiphertext,
			"kdf_salt":            firstRecord.KDFSalt,
		}).Error)

	_, err = svc.Open(ctx, second)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDecryptionDenied))
}

func TestOpen_MissingRecord(t *testing.T) {
	db := setupVaultDB(t)
	svc := newTestVault(t, db, testVaultConfig())

	_, err := svc.Open(context.Background(), uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestNewService_Validation(t *testing.T) {
	db := setupVaultDB(t)

	_, err := NewService(ServiceParams{Repo: nil, Config: testVaultConfig(), Logger: zerolog.Nop()})
	require.Error(t, err)

	cfg := testVaultConfig()
	cfg.MasterKey = ""
	_, err = NewService(ServiceParams{Repo: NewRepository(db), Config: cfg, Logger: zerolog.Nop()})
	require.Error(t, err)
}
