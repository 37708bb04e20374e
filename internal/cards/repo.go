package cards

import (
	"context"
	"errors"
	"time"

	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrCardNotFound is returned when the card does not exist for the buyer.
var ErrCardNotFound = errors.New("card not found")

// Repository persists card tokens. Every lookup is scoped to the owning buyer.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, card *models.CardToken) error
	FindByID(ctx context.Context, buyerID, cardID uuid.UUID) (*models.CardToken, error)
	FindByFingerprint(ctx context.Context, buyerID uuid.UUID, fingerprint string) (*models.CardToken, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.CardToken, error)
	Update(ctx context.Context, buyerID, cardID uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, buyerID, cardID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a card token repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, card *models.CardToken) error {
	return r.db.WithContext(ctx).Create(card).Error
}

func (r *repository) FindByID(ctx context.Context, buyerID, cardID uuid.UUID) (*models.CardToken, error) {
	var card models.CardToken
	err := r.db.WithContext(ctx).
		Where("id = ? AND buyer_id = ?", cardID, buyerID).
		First(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// FindByFingerprint returns nil without error when the buyer has no card with
// that token.
func (r *repository) FindByFingerprint(ctx context.Context, buyerID uuid.UUID, fingerprint string) (*models.CardToken, error) {
	var card models.CardToken
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? AND token_fingerprint = ?", buyerID, fingerprint).
		First(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func (r *repository) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.CardToken, error) {
	var cards []models.CardToken
	if err := r.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC, id ASC").
		Find(&cards).Error; err != nil {
		return nil, err
	}
	return cards, nil
}

func (r *repository) Update(ctx context.Context, buyerID, cardID uuid.UUID, updates map[string]any) error {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["updated_at"] = time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&models.CardToken{}).
		Where("id = ? AND buyer_id = ?", cardID, buyerID).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCardNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, buyerID, cardID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND buyer_id = ?", cardID, buyerID).
		Delete(&models.CardToken{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCardNotFound
	}
	return nil
}
