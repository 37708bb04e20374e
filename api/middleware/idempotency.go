package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agromart/agromart-backend/api/responses"
	pkgerrors "github.com/agromart/agromart-backend/pkg/errors"
	"github.com/agromart/agromart-backend/pkg/logger"
	pkgredis "github.com/agromart/agromart-backend/pkg/redis"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"

	// OrderReplayWindow covers order creation and cancellation.
	OrderReplayWindow = 24 * time.Hour
	// MoneyReplayWindow covers charges and refunds.
	MoneyReplayWindow = 7 * 24 * time.Hour

	// claimTTL bounds how long a crashed request can hold a key.
	claimTTL = 2 * time.Minute
)

// ReplayStore persists claimed keys and captured responses.
type ReplayStore interface {
	pkgredis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// replayEntry is the JSON stored under a key. An entry with Pending set
// marks a request that is still executing.
type replayEntry struct {
	Fingerprint string `json:"fp"`
	Pending     bool   `json:"pending,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotent guards a single mutating route. The first request with a given
// Idempotency-Key claims it, runs the handler and stores the response for
// window; repeats replay that response. Server errors release the key so
// the caller can retry.
func Idempotent(store ReplayStore, logg *logger.Logger, operation string, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if clientKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, IdempotencyHeader+" header required"))
				return
			}
			if len(clientKey) > 255 {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, IdempotencyHeader+" header too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fp := fingerprint(r.Method, r.URL.Path, body)
			key := store.IdempotencyKey(replayScope(ctx, operation), clientKey)

			claim, _ := json.Marshal(replayEntry{Fingerprint: fp, Pending: true})
			claimed, err := store.SetNX(ctx, key, string(claim), claimTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replayOrReject(ctx, store, logg, w, key, fp)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			defer func() {
				// a panicking handler must not leave the key claimed
				if rec := recover(); rec != nil {
					_ = store.Del(context.WithoutCancel(ctx), key)
					panic(rec)
				}
			}()
			next.ServeHTTP(capture, r)
			persistResponse(ctx, store, logg, key, fp, window, capture)
		})
	}
}

func replayOrReject(ctx context.Context, store ReplayStore, logg *logger.Logger, w http.ResponseWriter, key, fp string) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// released between our SetNX and Get; the caller retries cleanly
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this idempotency key is being retried, try again"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}

	var entry replayEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}
	switch {
	case entry.Fingerprint != fp:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request"))
	case entry.Pending:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this idempotency key is still in progress"))
	default:
		if entry.ContentType != "" {
			w.Header().Set("Content-Type", entry.ContentType)
		}
		w.Header().Set(ReplayedHeader, "true")
		w.WriteHeader(entry.Status)
		_, _ = w.Write(entry.Body)
	}
}

func persistResponse(ctx context.Context, store ReplayStore, logg *logger.Logger, key, fp string, window time.Duration, capture *responseCapture) {
	// the response is already on the wire; a cancelled client must not skip the write
	ctx = context.WithoutCancel(ctx)

	status := capture.statusCode()
	if status >= http.StatusInternalServerError {
		if err := store.Del(ctx, key); err != nil && logg != nil {
			logg.Error(ctx, "release idempotency key", err)
		}
		return
	}

	payload, err := json.Marshal(replayEntry{
		Fingerprint: fp,
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        capture.body.Bytes(),
	})
	if err == nil {
		err = store.Set(ctx, key, string(payload), window)
	}
	if err != nil && logg != nil {
		logg.Error(logg.WithField(ctx, "status", status), "store idempotent response", err)
	}
}

// replayScope keeps keys private to the caller and the operation.
func replayScope(ctx context.Context, operation string) string {
	caller := UserIDFromContext(ctx)
	if caller == "" {
		caller = "anon"
	}
	return operation + ":" + caller
}

func fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
