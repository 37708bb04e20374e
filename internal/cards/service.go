package cards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agromart/agromart-backend/pkg/db"
	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/agromart/agromart-backend/pkg/enums"
	pkgerrors "github.com/agromart/agromart-backend/pkg/errors"
	"github.com/agromart/agromart-backend/pkg/logger"
	"github.com/agromart/agromart-backend/pkg/outbox"
	"github.com/agromart/agromart-backend/pkg/outbox/payloads"
	"github.com/agromart/agromart-backend/pkg/payhere"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// maxUnmaskedDigits bounds how many digits a masked number may expose.
const maxUnmaskedDigits = 10

// Service is the card vault: tokenized card references per buyer.
type Service interface {
	Save(ctx context.Context, buyerID uuid.UUID, payload TokenPayload) (*models.CardToken, error)
	List(ctx context.Context, buyerID uuid.UUID) ([]models.CardToken, error)
	Get(ctx context.Context, buyerID, cardID uuid.UUID) (*models.CardToken, error)
	Update(ctx context.Context, buyerID, cardID uuid.UUID, input UpdateInput) (*models.CardToken, error)
	Delete(ctx context.Context, buyerID, cardID uuid.UUID) error
	Token(ctx context.Context, buyerID, cardID uuid.UUID) (string, error)
}

type tokenCipher interface {
	Encrypt(plaintext, aad []byte) ([]byte, error)
	Decrypt(ciphertext, aad []byte) ([]byte, error)
	Fingerprint(plaintext []byte) (string, error)
}

type tokenRevoker interface {
	RevokeToken(ctx context.Context, token string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams groups dependencies for the card vault.
type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Cipher  tokenCipher
	Revoker tokenRevoker
	Outbox  outboxPublisher
	Logger  *logger.Logger
	Now     func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	cipher  tokenCipher
	revoker tokenRevoker
	outbox  outboxPublisher
	logg    *logger.Logger
	now     func() time.Time
}

// NewService constructs the card vault.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "card repository required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Cipher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "token cipher required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		cipher:  params.Cipher,
		revoker: params.Revoker,
		outbox:  params.Outbox,
		logg:    params.Logger,
		now:     now,
	}, nil
}

// Save stores a preapproved card for the buyer. Saving the same gateway token
// twice refreshes the metadata of the existing row instead of duplicating it.
func (s *service) Save(ctx context.Context, buyerID uuid.UUID, payload TokenPayload) (*models.CardToken, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	token := strings.TrimSpace(payload.Token)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "card token is required")
	}
	masked := strings.TrimSpace(payload.MaskedNumber)
	if err := validateMaskedNumber(masked); err != nil {
		return nil, err
	}
	method, err := enums.ParseCardMethod(payload.Method)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported card method")
	}
	if err := validateExpiry(payload.ExpiryMonth, payload.ExpiryYear); err != nil {
		return nil, err
	}

	fingerprint, err := s.cipher.Fingerprint([]byte(token))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fingerprint card token")
	}
	ciphertext, err := s.cipher.Encrypt([]byte(token), ownerAAD(buyerID))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encrypt card token")
	}

	var saved *models.CardToken
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindByFingerprint(ctx, buyerID, fingerprint)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := repo.Update(ctx, buyerID, existing.ID, map[string]any{
				"masked_number": masked,
				"holder_name":   strings.TrimSpace(payload.HolderName),
				"method":        method,
				"expiry_month":  payload.ExpiryMonth,
				"expiry_year":   payload.ExpiryYear,
			}); err != nil {
				return err
			}
			saved, err = repo.FindByID(ctx, buyerID, existing.ID)
			return err
		}

		now := s.now()
		card := &models.CardToken{
			ID:               uuid.New(),
			BuyerID:          buyerID,
			TokenCiphertext:  ciphertext,
			TokenFingerprint: fingerprint,
			MaskedNumber:     masked,
			HolderName:       strings.TrimSpace(payload.HolderName),
			Method:           method,
			ExpiryMonth:      payload.ExpiryMonth,
			ExpiryYear:       payload.ExpiryYear,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := repo.Create(ctx, card); err != nil {
			return err
		}
		saved = card
		return s.emit(ctx, tx, enums.EventCardSaved, card)
	})
	if err != nil {
		return nil, mapError(err, "save card")
	}
	return saved, nil
}

func (s *service) List(ctx context.Context, buyerID uuid.UUID) ([]models.CardToken, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	cards, err := s.repo.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list cards")
	}
	return cards, nil
}

func (s *service) Get(ctx context.Context, buyerID, cardID uuid.UUID) (*models.CardToken, error) {
	if err := validateIDs(buyerID, cardID); err != nil {
		return nil, err
	}
	card, err := s.repo.FindByID(ctx, buyerID, cardID)
	if err != nil {
		return nil, mapError(err, "load card")
	}
	return card, nil
}

// Update never touches the token; only display name and expiry change.
func (s *service) Update(ctx context.Context, buyerID, cardID uuid.UUID, input UpdateInput) (*models.CardToken, error) {
	if err := validateIDs(buyerID, cardID); err != nil {
		return nil, err
	}
	if input.DisplayName == nil && input.ExpiryMonth == nil && input.ExpiryYear == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing to update")
	}

	var updated *models.CardToken
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		card, err := repo.FindByID(ctx, buyerID, cardID)
		if err != nil {
			return err
		}

		updates := map[string]any{}
		if input.DisplayName != nil {
			name := strings.TrimSpace(*input.DisplayName)
			if len(name) > 64 {
				return pkgerrors.New(pkgerrors.CodeValidation, "display name must be at most 64 characters")
			}
			if name == "" {
				updates["display_name"] = nil
			} else {
				updates["display_name"] = name
			}
		}
		month, year := card.ExpiryMonth, card.ExpiryYear
		if input.ExpiryMonth != nil {
			month = *input.ExpiryMonth
			updates["expiry_month"] = month
		}
		if input.ExpiryYear != nil {
			year = *input.ExpiryYear
			updates["expiry_year"] = year
		}
		if err := validateExpiry(month, year); err != nil {
			return err
		}

		if err := repo.Update(ctx, buyerID, cardID, updates); err != nil {
			return err
		}
		updated, err = repo.FindByID(ctx, buyerID, cardID)
		return err
	})
	if err != nil {
		return nil, mapError(err, "update card")
	}
	return updated, nil
}

// Delete removes the card and then asks the gateway to revoke the token.
// Revocation failures are logged; the card is already gone locally.
func (s *service) Delete(ctx context.Context, buyerID, cardID uuid.UUID) error {
	if err := validateIDs(buyerID, cardID); err != nil {
		return err
	}

	var token string
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		card, err := repo.FindByID(ctx, buyerID, cardID)
		if err != nil {
			return err
		}
		if plaintext, decErr := s.cipher.Decrypt(card.TokenCiphertext, ownerAAD(buyerID)); decErr == nil {
			token = string(plaintext)
		}
		if err := repo.Delete(ctx, buyerID, cardID); err != nil {
			return err
		}
		return s.emit(ctx, tx, enums.EventCardDeleted, card)
	})
	if err != nil {
		return mapError(err, "delete card")
	}

	s.revoke(ctx, cardID, token)
	return nil
}

// Token decrypts the gateway token for an off-session charge.
func (s *service) Token(ctx context.Context, buyerID, cardID uuid.UUID) (string, error) {
	card, err := s.Get(ctx, buyerID, cardID)
	if err != nil {
		return "", err
	}
	plaintext, err := s.cipher.Decrypt(card.TokenCiphertext, ownerAAD(buyerID))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decrypt card token")
	}
	return string(plaintext), nil
}

func (s *service) revoke(ctx context.Context, cardID uuid.UUID, token string) {
	if s.revoker == nil || token == "" {
		return
	}
	err := s.revoker.RevokeToken(ctx, token)
	if err == nil || s.logg == nil {
		return
	}
	logCtx := s.logg.WithField(ctx, "card_id", cardID.String())
	if errors.Is(err, payhere.ErrTokenRevocationUnsupported) {
		s.logg.Info(logCtx, "gateway token revocation not supported; card removed locally")
		return
	}
	s.logg.Warn(logCtx, fmt.Sprintf("gateway token revocation failed: %v", err))
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, card *models.CardToken) error {
	buyerID := card.BuyerID
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateCardToken,
		AggregateID:   card.ID,
		OrderingKey:   buyerID.String(),
		Actor:         &outbox.ActorRef{UserID: &buyerID, Role: enums.ActorRoleBuyer},
		Data: payloads.CardEvent{
			CardID:       card.ID,
			BuyerID:      card.BuyerID,
			Method:       card.Method,
			MaskedNumber: card.MaskedNumber,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue card event")
	}
	return nil
}

func ownerAAD(buyerID uuid.UUID) []byte {
	return []byte(buyerID.String())
}

func validateIDs(buyerID, cardID uuid.UUID) error {
	if buyerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	if cardID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "card id is required")
	}
	return nil
}

// validateMaskedNumber rejects anything that could be a full PAN.
func validateMaskedNumber(masked string) error {
	if masked == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "masked card number is required")
	}
	digits := 0
	for _, r := range masked {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits > maxUnmaskedDigits || !strings.ContainsAny(masked, "*xX") {
		return pkgerrors.New(pkgerrors.CodeValidation, "card number must be masked")
	}
	return nil
}

func validateExpiry(month, year int) error {
	if month < 1 || month > 12 {
		return pkgerrors.New(pkgerrors.CodeValidation, "expiry month must be between 1 and 12")
	}
	if year < 2000 || year > 2100 {
		return pkgerrors.New(pkgerrors.CodeValidation, "expiry year is out of range")
	}
	return nil
}

func mapError(err error, action string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	if errors.Is(err, ErrCardNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "card not found")
	}
	if db.IsUniqueViolation(err, "") {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "card already saved")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}
