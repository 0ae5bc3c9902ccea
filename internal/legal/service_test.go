package legal

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	pkgerrors "github.com/swapdesk/swapdesk-backend/pkg/errors"
)

func setupLegalDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:legal_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.LegalAcknowledgment{}))
	return db
}

func TestAcknowledgeAndHasAccepted(t *testing.T) {
	db := setupLegalDB(t)
	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)
	ctx := context.Background()
	userID := uuid.New()

	accepted, err := svc.HasAccepted(ctx, userID, DocumentEscrowTerms, CurrentTermsVersion)
	require.NoError(t, err)
	require.False(t, accepted)

	require.NoError(t, svc.Acknowledge(ctx, userID, DocumentEscrowTerms, CurrentTermsVersion))

	accepted, err = svc.HasAccepted(ctx, userID, DocumentEscrowTerms, CurrentTermsVersion)
	require.NoError(t, err)
	require.True(t, accepted)

	// Accepting one version says nothing about another.
	accepted, err = svc.HasAccepted(ctx, userID, DocumentEscrowTerms, "2024-01-01")
	require.NoError(t, err)
	require.False(t, accepted)
}

func TestAcknowledge_DuplicateIsNoOp(t *testing.T) {
	db := setupLegalDB(t)
	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, svc.Acknowledge(ctx, userID, DocumentTermsOfSale, CurrentTermsVersion))
	require.NoError(t, svc.Acknowledge(ctx, userID, DocumentTermsOfSale, CurrentTermsVersion))

	var count int64
	require.NoError(t, db.Model(&models.LegalAcknowledgment{}).
		Where("user_id = ?", userID).
		Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestAcknowledge_ValidatesInput(t *testing.T) {
	db := setupLegalDB(t)
	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)

	err = svc.Acknowledge(context.Background(), uuid.New(), "", CurrentTermsVersion)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
