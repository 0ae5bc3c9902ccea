package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CredentialRecord holds the encrypted login material for a listing. Each
// field is sealed independently with AES-256-GCM and its own nonce (prefixed
// to the ciphertext); the per-record key is derived from the vault master key
// and KDFSalt, never stored. Rows are immutable after creation.
type CredentialRecord struct {
	ID                 uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ListingID          uuid.UUID `gorm:"column:listing_id;type:uuid;not null;uniqueIndex"`
	UsernameCiphertext string    `gorm:"column:username_ciphertext;type:text;not null"`
	PasswordCiphertext string    `gorm:"column:password_ciphertext;type:text;not null"`
	RecoveryCiphertext *string   `gorm:"column:recovery_ciphertext;type:text"`
	TwoFACiphertext    *string   `gorm:"column:twofa_ciphertext;type:text"`
	KDFSalt            string    `gorm:"column:kdf_salt;not null"`
	KeyID              string    `gorm:"column:key_id;not null"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
}

// HasRecoveryEmail reports whether a recovery email was sealed into the record.
func (c CredentialRecord) HasRecoveryEmail() bool {
	return c.RecoveryCiphertext != nil && *c.RecoveryCiphertext != ""
}

// HasTwoFASecret reports whether a 2FA secret was sealed into the record.
func (c CredentialRecord) HasTwoFASecret() bool {
	return c.TwoFACiphertext != nil && *c.TwoFACiphertext != ""
}

// BeforeCreate assigns the primary key when the caller did not.
func (m *CredentialRecord) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
