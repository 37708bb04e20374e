package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/agromart/agromart-backend/pkg/enums"
)

// CardToken is a gateway-issued card reference owned by one buyer. The token
// itself is stored encrypted and never serialized.
type CardToken struct {
	ID               uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BuyerID          uuid.UUID        `gorm:"column:buyer_id;type:uuid;not null" json:"buyer_id"`
	TokenCiphertext  []byte           `gorm:"column:token_ciphertext;type:bytea;not null" json:"-"`
	TokenFingerprint string           `gorm:"column:token_fingerprint;not null" json:"-"`
	MaskedNumber     string           `gorm:"column:masked_number;not null" json:"masked_number"`
	HolderName       string           `gorm:"column:holder_name;not null" json:"holder_name"`
	Method           enums.CardMethod `gorm:"column:method;type:text;not null" json:"method"`
	ExpiryMonth      int              `gorm:"column:expiry_month;not null" json:"expiry_month"`
	ExpiryYear       int              `gorm:"column:expiry_year;not null" json:"expiry_year"`
	DisplayName      *string          `gorm:"column:display_name" json:"display_name,omitempty"`
	CreatedAt        time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
