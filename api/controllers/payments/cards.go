package payments

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/agromart/agromart-backend/api/middleware"
	"github.com/agromart/agromart-backend/api/responses"
	"github.com/agromart/agromart-backend/api/validators"
	"github.com/agromart/agromart-backend/internal/cards"
	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/agromart/agromart-backend/pkg/logger"
)

type CardService interface {
	List(ctx context.Context, buyerID uuid.UUID) ([]models.CardToken, error)
	Get(ctx context.Context, buyerID, cardID uuid.UUID) (*models.CardToken, error)
	Update(ctx context.Context, buyerID, cardID uuid.UUID, input cards.UpdateInput) (*models.CardToken, error)
	Delete(ctx context.Context, buyerID, cardID uuid.UUID) error
}

func ListCards(svc CardService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := middleware.Actor(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		list, err := svc.List(ctx, actor.UserID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func GetCard(svc CardService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, cardID, err := cardRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		card, err := svc.Get(ctx, actor, cardID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, card)
	}
}

// UpdateCard edits card metadata; the gateway token never changes.
func UpdateCard(svc CardService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, cardID, err := cardRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var req cards.UpdateInput
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		card, err := svc.Update(ctx, actor, cardID, req)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, card)
	}
}

func DeleteCard(svc CardService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, cardID, err := cardRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := svc.Delete(ctx, actor, cardID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"deleted": true, "card_id": cardID})
	}
}

func cardRequest(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	actor, err := middleware.Actor(r.Context())
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	cardID, err := validators.ParseUUIDParam(r, "cardID")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return actor.UserID, cardID, nil
}
