package webhooks

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/agromart/agromart-backend/api/responses"
	payherewebhook "github.com/agromart/agromart-backend/internal/webhooks/payhere"
	"github.com/agromart/agromart-backend/pkg/logger"
	"github.com/agromart/agromart-backend/pkg/payhere"
)

const maxNotifyBody = 64 << 10

type PayHereNotifyService interface {
	HandleNotification(ctx context.Context, n payhere.Notification) (*payherewebhook.Outcome, error)
}

// PayHereNotify receives gateway notify callbacks. It always answers 200 so
// PayHere stops redelivering; rejected callbacks are logged and counted by the
// service, and the body says whether the event was accepted.
func PayHereNotify(svc PayHereNotifyService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		n, err := readNotification(r)
		if err != nil {
			if logg != nil {
				logg.Warn(ctx, "payhere notify body unreadable: "+err.Error())
			}
			responses.WriteSuccess(w, map[string]any{"received": true, "accepted": false})
			return
		}

		outcome, err := svc.HandleNotification(ctx, n)
		if err != nil && logg != nil {
			logg.Debug(ctx, "payhere notify rejected: "+err.Error())
		}
		accepted := outcome != nil && outcome.Accepted()
		status := ""
		if outcome != nil {
			status = outcome.Status
		}
		responses.WriteSuccess(w, map[string]any{"received": true, "accepted": accepted, "outcome": status})
	}
}

func readNotification(r *http.Request) (payhere.Notification, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotifyBody))
	if err != nil {
		return payhere.Notification{}, err
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" || strings.HasPrefix(strings.TrimSpace(string(body)), "{") {
		return payhere.NotificationFromJSON(body)
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return payhere.Notification{}, err
	}
	return payhere.NotificationFromForm(values), nil
}
