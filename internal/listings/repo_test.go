package listings

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
)

func setupListingDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:listings_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Listing{}, &models.CredentialRecord{}))
	return db
}

func seedListing(t *testing.T, db *gorm.DB, state enums.ListingState) *models.Listing {
	t.Helper()

	seller := &models.User{
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "hash",
		LegalName:    "Sam Seller",
		Role:         enums.UserRoleSeller,
		IsActive:     true,
	}
	require.NoError(t, db.Create(seller).Error)

	listing := &models.Listing{
		SellerID:   seller.ID,
		Platform:   "upwork",
		Title:      "Top rated account",
		PriceCents: 5000,
		Currency:   enums.CurrencyUSD,
		State:      state,
	}
	require.NoError(t, db.Create(listing).Error)
	return listing
}

func TestReserve_OnlyOneWinner(t *testing.T) {
	db := setupListingDB(t)
	repo := NewRepository(db)
	listing := seedListing(t, db, enums.ListingStateApproved)

	const contenders = 8
	var wg sync.WaitGroup
	wins := make(chan bool, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := repo.Reserve(context.Background(), listing.ID)
			require.NoError(t, err)
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	var winners int
	for won := range wins {
		if won {
			winners++
		}
	}
	require.Equal(t, 1, winners)

	var stored models.Listing
	require.NoError(t, db.First(&stored, "id = ?", listing.ID).Error)
	require.Equal(t, enums.ListingStateReserved, stored.State)
}

func TestReserve_RejectsUnapprovedStates(t *testing.T) {
	db := setupListingDB(t)
	repo := NewRepository(db)

	for _, state := range []enums.ListingState{
		enums.ListingStateDraft,
		enums.ListingStatePendingReview,
		enums.ListingStateReserved,
		enums.ListingStateSold,
	} {
		listing := seedListing(t, db, state)
		won, err := repo.Reserve(context.Background(), listing.ID)
		require.NoError(t, err)
		require.False(t, won, "state %s should not be reservable", state)
	}
}

func TestReleaseAndMarkSold(t *testing.T) {
	db := setupListingDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	listing := seedListing(t, db, enums.ListingStateReserved)

	released, err := repo.Release(ctx, listing.ID)
	require.NoError(t, err)
	require.True(t, released)

	// Back on the market; selling it now requires a fresh reservation.
	sold, err := repo.MarkSold(ctx, listing.ID)
	require.NoError(t, err)
	require.False(t, sold)

	won, err := repo.Reserve(ctx, listing.ID)
	require.NoError(t, err)
	require.True(t, won)

	sold, err = repo.MarkSold(ctx, listing.ID)
	require.NoError(t, err)
	require.True(t, sold)

	var stored models.Listing
	require.NoError(t, db.First(&stored, "id = ?", listing.ID).Error)
	require.Equal(t, enums.ListingStateSold, stored.State)
}

func TestFindByID_PreloadsCredential(t *testing.T) {
	db := setupListingDB(t)
	repo := NewRepository(db)
	listing := seedListing(t, db, enums.ListingStateApproved)

	record := &models.CredentialRecord{
		ListingID:          listing.ID,
		UsernameCiphertext: "dXNlcg==",
		PasswordCiphertext: "cGFzcw==",
		KDFSalt:            "c2FsdA==",
		KeyID:              "v1",
	}
	require.NoError(t, db.Create(record).Error)

	found, err := repo.FindByID(context.Background(), listing.ID)
	require.NoError(t, err)
	require.NotNil(t, found.Credential)
	require.Equal(t, "v1", found.Credential.KeyID)
}
