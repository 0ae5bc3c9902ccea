package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/swapdesk/swapdesk-backend/internal/contracts"
	"github.com/swapdesk/swapdesk-backend/internal/legal"
	"github.com/swapdesk/swapdesk-backend/internal/listings"
	"github.com/swapdesk/swapdesk-backend/internal/reveal"
	"github.com/swapdesk/swapdesk-backend/internal/vault"
	"github.com/swapdesk/swapdesk-backend/pkg/config"
	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
	pkgerrors "github.com/swapdesk/swapdesk-backend/pkg/errors"
	"github.com/swapdesk/swapdesk-backend/pkg/outbox"
	"github.com/swapdesk/swapdesk-backend/pkg/paystack"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r *gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type stubVault struct {
	creds *vault.Credentials
	err   error
}

func (v *stubVault) Open(_ context.Context, _ uuid.UUID) (*vault.Credentials, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.creds, nil
}

type stubVerifier struct {
	passwords map[uuid.UUID]string
}

func (v *stubVerifier) VerifyCredentials(_ context.Context, userID uuid.UUID, password string) error {
	if v.passwords[userID] != password {
		return pkgerrors.New(pkgerrors.CodeAuthenticationFailed, "password verification failed")
	}
	return nil
}

type stubCheckout struct {
	calls []paystack.InitializeTransactionParams
	err   error
}

func (c *stubCheckout) InitializeTransaction(_ context.Context, params paystack.InitializeTransactionParams) (*paystack.InitializedTransaction, error) {
	c.calls = append(c.calls, params)
	if c.err != nil {
		return nil, c.err
	}
	return &paystack.InitializedTransaction{
		AuthorizationURL: "https://checkout.paystack.test/" + params.Reference,
		AccessCode:       "access-code",
		Reference:        params.Reference,
	}, nil
}

type escrowEnv struct {
	db       *gorm.DB
	svc      Service
	repo     *Repository
	legals   legal.Service
	checkout *stubCheckout
	buyer    *models.User
	seller   *models.User
	listing  *models.Listing
}

func setupEscrowEnv(t *testing.T) *escrowEnv {
	t.Helper()

	dsn := "file:escrow_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Listing{},
		&models.CredentialRecord{},
		&models.Transaction{},
		&models.Contract{},
		&models.RevealEvent{},
		&models.AuditEntry{},
		&models.LegalAcknowledgment{},
		&models.OutboxEvent{},
	))

	buyer := &models.User{
		Email:        "jane@example.com",
		PasswordHash: "hash",
		LegalName:    "Jane Doe",
		Role:         enums.UserRoleBuyer,
		IsActive:     true,
	}
	seller := &models.User{
		Email:        "sam@example.com",
		PasswordHash: "hash",
		LegalName:    "Sam Seller",
		Role:         enums.UserRoleSeller,
		IsActive:     true,
	}
	require.NoError(t, db.Create(buyer).Error)
	require.NoError(t, db.Create(seller).Error)

	listing := &models.Listing{
		SellerID:   seller.ID,
		Platform:   "upwork",
		Title:      "Top rated plus account",
		PriceCents: 5000,
		Currency:   enums.CurrencyUSD,
		State:      enums.ListingStateApproved,
	}
	require.NoError(t, db.Create(listing).Error)

	legals, err := legal.NewService(legal.NewRepository(db))
	require.NoError(t, err)

	revealMgr, err := reveal.NewManager(reveal.ManagerParams{
		Repo:   reveal.NewRepository(db),
		TTL:    10 * time.Minute,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	signer, err := contracts.NewSigner(contracts.NewRepository(db))
	require.NoError(t, err)

	converter, err := paystack.NewConverter("1500")
	require.NoError(t, err)
	checkout := &stubCheckout{}

	repo := NewRepository(db)
	svc, err := NewService(ServiceParams{
		Repo:         repo,
		ListingsRepo: listings.NewRepository(db),
		AuditRepo:    NewAuditRepository(db),
		Tx:           &gormTxRunner{db: db},
		Vault: &stubVault{creds: &vault.Credentials{
			Username: "acct-user",
			Password: "acct-pass",
		}},
		Identity: &stubVerifier{passwords: map[uuid.UUID]string{buyer.ID: "hunter2!"}},
		Users:    newUserLoader(db),
		Legal:    legals,
		Reveals:  revealMgr,
		Signer:   signer,
		Events:   outbox.NewService(outbox.NewRepository(db), nil),
		Checkout: checkout,
		Amounts:  converter,
		Config: config.EscrowConfig{
			RevealTTL:            10 * time.Minute,
			CommissionPercent:    10,
			DisputeReasonMinimum: 10,
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	return &escrowEnv{
		db:       db,
		svc:      svc,
		repo:     repo,
		legals:   legals,
		checkout: checkout,
		buyer:    buyer,
		seller:   seller,
		listing:  listing,
	}
}

type userLoaderRepo struct {
	db *gorm.DB
}

func newUserLoader(db *gorm.DB) *userLoaderRepo {
	return &userLoaderRepo{db: db}
}

func (r *userLoaderRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (e *escrowEnv) acceptTerms(t *testing.T) {
	t.Helper()
	require.NoError(t, e.legals.Acknowledge(context.Background(), e.buyer.ID, legal.DocumentEscrowTerms, legal.CurrentTermsVersion))
}

func (e *escrowEnv) initiate(t *testing.T) *TransactionDTO {
	t.Helper()
	e.acceptTerms(t)
	dto, err := e.svc.Initiate(context.Background(), e.buyer.ID, e.listing.ID)
	require.NoError(t, err)
	return dto
}

func (e *escrowEnv) toFundsHeld(t *testing.T) *TransactionDTO {
	t.Helper()
	dto := e.initiate(t)
	dto, err := e.svc.ConfirmPayment(context.Background(), dto.ID, *dto.PaymentReference)
	require.NoError(t, err)
	return dto
}

func (e *escrowEnv) toContractSigned(t *testing.T) *TransactionDTO {
	t.Helper()
	dto := e.toFundsHeld(t)
	dto, err := e.svc.SignContract(context.Background(), dto.ID, e.buyer.ID, "Jane Doe")
	require.NoError(t, err)
	return dto
}

func (e *escrowEnv) toRevealed(t *testing.T) *TransactionDTO {
	t.Helper()
	dto := e.toContractSigned(t)
	_, err := e.svc.Reveal(context.Background(), dto.ID, e.buyer.ID, "hunter2!")
	require.NoError(t, err)
	updated, err := e.svc.Get(context.Background(), dto.ID)
	require.NoError(t, err)
	return updated
}

func (e *escrowEnv) outboxCount(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", eventType).
		Count(&count).Error)
	return count
}

func TestEscrow_HappyPath(t *testing.T) {
	env := setupEscrowEnv(t)
	ctx := context.Background()

	dto := env.initiate(t)
	require.Equal(t, enums.TransactionStatePending, dto.State)
	require.Equal(t, 5000, dto.AmountCents)
	require.NotNil(t, dto.PaymentReference)
	require.Equal(t, "confirm_payment", dto.NextStep)

	var reservedListing models.Listing
	require.NoError(t, env.db.First(&reservedListing, "id = ?", env.listing.ID).Error)
	require.Equal(t, enums.ListingStateReserved, reservedListing.State)

	dto, err := env.svc.ConfirmPayment(ctx, dto.ID, *dto.PaymentReference)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStateFundsHeld, dto.State)
	require.NotNil(t, dto.FundsHeldAt)

	dto, err = env.svc.SignContract(ctx, dto.ID, env.buyer.ID, "  jane DOE ")
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStateContractSigned, dto.State)

	result, err := env.svc.Reveal(ctx, dto.ID, env.buyer.ID, "hunter2!")
	require.NoError(t, err)
	require.Equal(t, "acct-user", result.Username)
	require.Equal(t, "acct-pass", result.Password)
	require.True(t, result.ExpiresAt.After(time.Now()))

	dto, err = env.svc.Get(ctx, dto.ID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStateCredentialsReleased, dto.State)
	require.NotNil(t, dto.Reveal)
	require.False(t, dto.Reveal.Consumed)
	require.Positive(t, dto.Reveal.TimeRemainingSeconds)

	var revealAudit int64
	require.NoError(t, env.db.Model(&models.AuditEntry{}).
		Where("transaction_id = ? AND action = ?", dto.ID, enums.AuditActionCredentialsRevealed).
		Count(&revealAudit).Error)
	require.EqualValues(t, 1, revealAudit)

	dto, err = env.svc.ConfirmAccess(ctx, dto.ID, env.buyer.ID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStateCompleted, dto.State)
	require.NotNil(t, dto.CommissionCents)
	require.Equal(t, 500, *dto.CommissionCents)
	require.NotNil(t, dto.PayoutCents)
	require.Equal(t, 4500, *dto.PayoutCents)
	require.False(t, dto.CanProceed)
	require.True(t, dto.Reveal.Consumed)

	var soldListing models.Listing
	require.NoError(t, env.db.First(&soldListing, "id = ?", env.listing.ID).Error)
	require.Equal(t, enums.ListingStateSold, soldListing.State)

	for _, eventType := range []enums.OutboxEventType{
		enums.EventPurchaseInitiated,
		enums.EventListingReserved,
		enums.EventFundsHeld,
		enums.EventContractSigned,
		enums.EventCredentialsRevealed,
		enums.EventAccessConfirmed,
		enums.EventTransactionCompleted,
	} {
		require.EqualValues(t, 1, env.outboxCount(t, eventType), "event %s", eventType)
	}
}

func TestInitiate_RequiresAcceptedTerms(t *testing.T) {
	env := setupEscrowEnv(t)

	_, err := env.svc.Initiate(context.Background(), env.buyer.ID, env.listing.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestInitiate_SecondBuyerLosesListing(t *testing.T) {
	env := setupEscrowEnv(t)
	ctx := context.Background()

	rival := &models.User{
		Email:        "rival@example.com",
		PasswordHash: "hash",
		LegalName:    "Riva L. Buyer",
		Role:         enums.UserRoleBuyer,
		IsActive:     true,
	}
	require.NoError(t, env.db.Create(rival).Error)
	require.NoError(t, env.legals.Acknowledge(ctx, rival.ID, legal.DocumentEscrowTerms, legal.CurrentTermsVersion))

	env.initiate(t)

	_, err := env.svc.Initiate(ctx, rival.ID, env.listing.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeListingUnavailable))

	// Exactly one transaction exists for the listing.
	var count int64
	require.NoError(t, env.db.Model(&models.Transaction{}).
		Where("listing_id = ?", env.listing.ID).
		Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestInitiate_SellerCannotBuyOwnListing(t *testing.T) {
	env := setupEscrowEnv(t)
	ctx := context.Background()
	require.NoError(t, env.legals.Acknowledge(ctx, env.seller.ID, legal.DocumentEscrowTerms, legal.CurrentTermsVersion))

	_, err := env.svc.Initiate(ctx, env.seller.ID, env.listing.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestInitiate_OpensHostedCheckout(t *testing.T) {
	env := setupEscrowEnv(t)

	dto := env.initiate(t)

	require.Len(t, env.checkout.calls, 1)
	call := env.checkout.calls[0]
	require.Equal(t, env.buyer.Email, call.Email)
	require.Equal(t, *dto.PaymentReference, call.Reference)
	// 5000 USD cents at 1500 NGN/USD.
	require.EqualValues(t, 7_500_000, call.AmountKobo)
	require.Equal(t, "https://checkout.paystack.test/"+call.Reference, dto.CheckoutURL)
}

func TestInitiate_GatewayOutageLeavesPurchasePending(t *testing.T) {
	env := setupEscrowEnv(t)
	env.checkout.err = pkgerrors.New(pkgerrors.CodeInternal, "gateway unreachable")

	dto := env.initiate(t)
	require.Empty(t, dto.CheckoutURL)
	require.Equal(t, enums.TransactionStatePending, dto.State)

	// Payment confirmation still works against the stored reference.
	confirmed, err := env.svc.ConfirmPayment(context.Background(), dto.ID, *dto.PaymentReference)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStateFundsHeld, confirmed.State)
}

func TestConfirmPayment_ReferenceMismatch(t *testing.T) {
	env := setupEscrowEnv(t)

	dto := env.initiate(t)
	_, err := env.svc.ConfirmPayment(context.Background(), dto.ID, "not-the-reference")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	current, err := env.svc.Get(context.Background(), dto.ID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatePending, current.State)
}

func TestConfirmPayment_Idempotent(t *testing.T) {
	env := setupEscrowEnv(t)
	ctx := context.Background()

	dto := env.initiate(t)
	reference := *dto.PaymentReference

	first, err := env.svc.ConfirmPayment(ctx, dto.ID, reference)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStateFundsHeld, first.State)

	second, err := env.svc.ConfirmPayment(ctx, dto.ID, reference)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStateFundsHeld, second.State)
	require.Equal(t, first.FundsHeldAt.Unix(), second.FundsHeldAt.Unix())

	require.EqualValues(t, 1, env.outboxCount(t, enums.EventFundsHeld))
}

func TestConfirmPayment_IdempotentWhileDisputed(t *testing.T) {
	env := setupEscrowEnv(t)
	ctx := context.Background()

	dto := env.toFundsHeld(t)
	require.NoError(t, env.db.Model(&models.Transaction{}).
		Where("id = ?", dto.ID).
		Update("state", enums.TransactionStateDisputed).Error)

	// The gateway retrying an already-applied confirmation must stay a
	// no-op even after a dispute froze the transaction.
	current, err := env.svc.ConfirmPayment(ctx, dto.ID, *dto.PaymentReference)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStateDisputed, current.State)

	require.EqualValues(t, 1, env.outboxCount(t, enums.EventFundsHeld))
}

func TestSignContract_Guards(t *testing.T) {
	env := setupEscrowEnv(t)
	ctx := context.Background()

	pending := env.initiate(t)
	_, err := env.svc.SignContract(ctx, pending.ID, env.buyer.ID, "Jane Doe")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidStateTransition))

	dto, err := env.svc.ConfirmPayment(ctx, pending.ID, *pending.PaymentReference)
	require.NoError(t, err)

	_, err = env.svc.SignContract(ctx, dto.ID, env.seller.ID, "Sam Seller")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = env.svc.SignContract(ctx, dto.ID, env.buyer.ID, "Janet Doe")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNameMismatch))

	current, err := env.svc.Get(ctx, dto.ID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStateFundsHeld, current.State)

	_, err = env.svc.SignContract(ctx, dto.ID, env.buyer.ID, "Jane Doe")
	require.NoError(t, err)

	_, err = env.svc.SignContract(ctx, dto.ID, env.buyer.ID, "Jane Doe")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAlreadySigned))
}

func TestReveal_Guards(t *testing.T) {
	env := setupEscrowEnv(t)
	ctx := context.Background()

	dto := env.toFundsHeld(t)

	// Not yet contract_signed.
	_, err := env.svc.Reveal(ctx, dto.ID, env.buyer.ID, "hunter2!")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDecryptionDenied))

	dto, err = env.svc.SignContract(ctx, dto.ID, env.buyer.ID, "Jane Doe")
	require.NoError(t, err)

	_, err = env.svc.Reveal(ctx, dto.ID, env.seller.ID, "hunter2!")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = env.svc.Reveal(ctx, dto.ID, env.buyer.ID, "wrong-password")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAuthenticationFailed))

	current, err := env.svc.Get(ctx, dto.ID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStateContractSigned, current.State)
}

func TestReveal_SecondRevealRejected(t *testing.T) {
	env := setupEscrowEnv(t)
	ctx := context.Background()

	dto := env.toContractSigned(t)

	result, err := env.svc.Reveal(ctx, dto.ID, env.buyer.ID, "hunter2!")
	require.NoError(t, err)
	require.NotEmpty(t, result.Password)

	_, err = env.svc.Reveal(ctx, dto.ID, env.buyer.ID, "hunter2!")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAlreadyRevealed))
	require.True(t, pkgerrors.IsPermanent(err))

	// The answer stays the same after the window lapses.
	require.NoError(t, env.db.Model(&models.RevealEvent{}).
		Where("transaction_id = ?", dto.ID).
		Update("expires_at", time.Now().Add(-time.Hour)).Error)

	_, err = env.svc.Reveal(ctx, dto.ID, env.buyer.ID, "hunter2!")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAlreadyRevealed))
}

func TestReveal_FinalizedTransaction(t *testing.T) {
	env := setupEscrowEnv(t)
	ctx := context.Background()

	dto := env.toContractSigned(t)
	require.NoError(t, env.db.Model(&models.Transaction{}).
		Where("id = ?", dto.ID).
		Update("state", enums.TransactionStateRefunded).Error)

	_, err := env.svc.Reveal(ctx, dto.ID, env.buyer.ID, "hunter2!")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTransactionFinalized))
}

func TestConfirmAccess_Guards(t *testing.T) {
	env := setupEscrowEnv(t)
	ctx := context.Background()

	dto := env.toContractSigned(t)
	_, err := env.svc.ConfirmAccess(ctx, dto.ID, env.buyer.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidStateTransition))

	dto = env.toRevealedFrom(t, dto)

	_, err = env.svc.ConfirmAccess(ctx, dto.ID, env.seller.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	done, err := env.svc.ConfirmAccess(ctx, dto.ID, env.buyer.ID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStateCompleted, done.State)

	_, err = env.svc.ConfirmAccess(ctx, dto.ID, env.buyer.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTransactionFinalized))
}

func (e *escrowEnv) toRevealedFrom(t *testing.T, dto *TransactionDTO) *TransactionDTO {
	t.Helper()
	_, err := e.svc.Reveal(context.Background(), dto.ID, e.buyer.ID, "hunter2!")
	require.NoError(t, err)
	updated, err := e.svc.Get(context.Background(), dto.ID)
	require.NoError(t, err)
	return updated
}

func TestListByBuyer(t *testing.T) {
	env := setupEscrowEnv(t)

	dto := env.toFundsHeld(t)

	rows, err := env.svc.ListByBuyer(context.Background(), env.buyer.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, dto.ID, rows[0].ID)

	none, err := env.svc.ListByBuyer(context.Background(), env.seller.ID)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestList_FilterByState(t *testing.T) {
	env := setupEscrowEnv(t)

	env.toFundsHeld(t)

	held := enums.TransactionStateFundsHeld
	rows, err := env.svc.List(context.Background(), &held, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	completed := enums.TransactionStateCompleted
	rows, err = env.svc.List(context.Background(), &completed, 10)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestCanTransitionTable(t *testing.T) {
	cases := []struct {
		from, to enums.TransactionState
		ok       bool
	}{
		{enums.TransactionStatePending, enums.TransactionStateFundsHeld, true},
		{enums.TransactionStatePending, enums.TransactionStateRefunded, true},
		{enums.TransactionStatePending, enums.TransactionStateContractSigned, false},
		{enums.TransactionStateFundsHeld, enums.TransactionStateContractSigned, true},
		{enums.TransactionStateFundsHeld, enums.TransactionStateDisputed, true},
		{enums.TransactionStateContractSigned, enums.TransactionStateCredentialsReleased, true},
		{enums.TransactionStateCredentialsReleased, enums.TransactionStateCompleted, true},
		{enums.TransactionStateDisputed, enums.TransactionStateRefunded, true},
		{enums.TransactionStateDisputed, enums.TransactionStateCompleted, true},
		{enums.TransactionStateCompleted, enums.TransactionStateDisputed, false},
		{enums.TransactionStateRefunded, enums.TransactionStateFundsHeld, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
