package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/agromart/agromart-backend/pkg/errors"
	"github.com/agromart/agromart-backend/pkg/logger"
)

// RequestIDHeader is set on the response by the request id middleware.
const RequestIDHeader = "X-Request-Id"

// opaque codes never show their message to callers.
var opaque = map[pkgerrors.Code]bool{
	pkgerrors.CodeInternal:          true,
	pkgerrors.CodeDependency:        true,
	pkgerrors.CodeSignatureMismatch: true,
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Data: data})
}

// WriteError renders err as an error envelope. Errors that carry no code
// become CodeInternal and their text stays in the logs.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	code := typed.Code()
	meta := pkgerrors.MetadataFor(code)

	problem := Problem{
		Code:      string(code),
		Message:   meta.PublicMessage,
		RequestID: w.Header().Get(RequestIDHeader),
	}
	if msg := typed.Message(); msg != "" && !opaque[code] {
		problem.Message = msg
	}
	if meta.DetailsAllowed {
		problem.Details = typed.Details()
	}
	if meta.Retryable && meta.HTTPStatus == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	if logg != nil {
		logFailure(ctx, logg, err, typed, meta.HTTPStatus)
	}
	writeJSON(w, meta.HTTPStatus, ErrorBody{Error: problem})
}

func logFailure(ctx context.Context, logg *logger.Logger, err error, typed *pkgerrors.Error, status int) {
	dump := pkgerrors.Dump(err)
	fields := dump.Fields()
	fields["http_status"] = status
	if details, ok := typed.Details().(map[string]any); ok {
		if orderID, ok := details["order_id"]; ok {
			fields[logger.FieldOrderID] = orderID
		}
	}
	ctx = logg.WithFields(ctx, fields)

	if status >= http.StatusInternalServerError {
		logg.Error(ctx, "request failed", err)
		return
	}
	logg.Warn(ctx, "request rejected: "+dump.TopMessage)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	// the status line is already out; an encode failure cannot be reported
	_ = json.NewEncoder(w).Encode(payload)
}
