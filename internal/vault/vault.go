package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/argon2"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/internal/listings"
	"github.com/swapdesk/swapdesk-backend/pkg/config"
	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	pkgerrors "github.com/swapdesk/swapdesk-backend/pkg/errors"
)

const (
	keyLen  = 32
	saltLen = 16
)

// Credentials is the decrypted login material returned by a reveal. It is
// never persisted; callers must not log it.
type Credentials struct {
	Username      string  `json:"username"`
	Password      string  `json:"password"`
	RecoveryEmail *string `json:"recovery_email,omitempty"`
	TwoFASecret   *string `json:"twofa_secret,omitempty"`
}

// Service seals credentials at listing submission and opens them exactly
// where the reveal flow demands. Each record gets its own Argon2id-derived
// key; each field its own nonce, prefixed to the ciphertext.
type Service struct {
	repo    *Repository
	cfg     config.VaultConfig
	logger  zerolog.Logger
	randSrc io.Reader
}

// ServiceParams bundles the dependencies for the vault service.
type ServiceParams struct {
	Repo   *Repository
	Config config.VaultConfig
	Logger zerolog.Logger
}

// NewService constructs the vault service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("credential repository is required")
	}
	if params.Config.MasterKey == "" {
		return nil, fmt.Errorf("vault master key is required")
	}
	if params.Config.KeyID == "" {
		return nil, fmt.Errorf("vault key id is required")
	}
	return &Service{
		repo:    params.Repo,
		cfg:     params.Config,
		logger:  params.Logger.With().Str("component", "vault").Logger(),
		randSrc: rand.Reader,
	}, nil
}

// Seal encrypts the submitted credentials and stores the record inside the
// caller's transaction. It satisfies the listings credential sealer.
func (s *Service) Seal(ctx context.Context, tx *gorm.DB, listingID uuid.UUID, input listings.CredentialInput) (*models.CredentialRecord, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(s.randSrc, salt); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate kdf salt")
	}
	gcm, err := s.aead(salt)
	if err != nil {
		return nil, err
	}
	aad := []byte(listingID.String())

	record := &models.CredentialRecord{
		ListingID: listingID,
		KDFSalt:   base64.StdEncoding.EncodeToString(salt),
		KeyID:     s.cfg.KeyID,
	}
	if record.UsernameCiphertext, err = s.seal(gcm, aad, input.Username); err != nil {
		return nil, err
	}
	if record.PasswordCiphertext, err = s.seal(gcm, aad, input.Password); err != nil {
		return nil, err
	}
	if input.RecoveryEmail != nil && *input.RecoveryEmail != "" {
		sealed, err := s.seal(gcm, aad, *input.RecoveryEmail)
		if err != nil {
			return nil, err
		}
		record.RecoveryCiphertext = &sealed
	}
	if input.TwoFASecret != nil && *input.TwoFASecret != "" {
		sealed, err := s.seal(gcm, aad, *input.TwoFASecret)
		if err != nil {
			return nil, err
		}
		record.TwoFACiphertext = &sealed
	}

	if err := s.repo.WithTx(tx).Create(ctx, record); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store credential record")
	}
	s.logger.Info().
		Str("listing_id", listingID.String()).
		Str("key_id", record.KeyID).
		Msg("credentials sealed")
	return record, nil
}

// Open decrypts the credential record for a listing. Any failure to decode
// or authenticate the stored material is reported as a decryption denial,
// never as partial plaintext.
func (s *Service) Open(ctx context.Context, listingID uuid.UUID) (*Credentials, error) {
	record, err := s.repo.FindByListingID(ctx, listingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "credential record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load credential record")
	}
	return s.open(record)
}

func (s *Service) open(record *models.CredentialRecord) (*Credentials, error) {
	salt, err := base64.StdEncoding.DecodeString(record.KDFSalt)
	if err != nil {
		return nil, s.denied(record.ListingID, err)
	}
	gcm, err := s.aead(salt)
	if err != nil {
		return nil, err
	}
	aad := []byte(record.ListingID.String())

	creds := &Credentials{}
	if creds.Username, err = s.unseal(gcm, aad, record.UsernameCiphertext); err != nil {
		return nil, s.denied(record.ListingID, err)
	}
	if creds.Password, err = s.unseal(gcm, aad, record.PasswordCiphertext); err != nil {
		return nil, s.denied(record.ListingID, err)
	}
	if record.RecoveryCiphertext != nil {
		plain, err := s.unseal(gcm, aad, *record.RecoveryCiphertext)
		if err != nil {
			return nil, s.denied(record.ListingID, err)
		}
		creds.RecoveryEmail = &plain
	}
	if record.TwoFACiphertext != nil {
		plain, err := s.unseal(gcm, aad, *record.TwoFACiphertext)
		if err != nil {
			return nil, s.denied(record.ListingID, err)
		}
		creds.TwoFASecret = &plain
	}
	return creds, nil
}

func (s *Service) aead(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(
		[]byte(s.cfg.MasterKey),
		salt,
		uint32(s.cfg.ArgonTime),
		uint32(s.cfg.ArgonMemoryKB),
		uint8(s.cfg.ArgonParallelism),
		keyLen,
	)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "init cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "init gcm")
	}
	return gcm, nil
}

func (s *Service) seal(gcm cipher.AEAD, aad []byte, plaintext string) (string, error) {
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(s.randSrc, nonce); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate nonce")
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), aad)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Service) unseal(gcm cipher.AEAD, aad []byte, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, body := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, body, aad)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (s *Service) denied(listingID uuid.UUID, err error) error {
	s.logger.Error().
		Err(err).
		Str("listing_id", listingID.String()).
		Msg("credential decryption denied")
	return pkgerrors.Wrap(pkgerrors.CodeDecryptionDenied, err, "credential decryption denied")
}
