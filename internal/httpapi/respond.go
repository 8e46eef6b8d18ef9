package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"hatchup.org/internal/audit"
	"hatchup.org/internal/auth"
	"hatchup.org/internal/document"
	"hatchup.org/internal/otp"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// RequestIDFromContext returns the id assigned by the RequestID middleware.
func RequestIDFromContext(ctx context.Context) string {
	return audit.RequestIDFromContext(ctx)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleServiceError maps domain errors onto status codes. Messages of
// unexpected errors never reach the client.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, inputMessage(err))
	case errors.Is(err, otp.ErrInvalidPurpose):
		writeError(w, r, http.StatusBadRequest, "purpose must be login or register")
	case errors.Is(err, otp.ErrAccountExists):
		writeError(w, r, http.StatusBadRequest, "an account with this email already exists")
	case errors.Is(err, otp.ErrInvalidCode):
		writeError(w, r, http.StatusBadRequest, "invalid or expired code")
	case errors.Is(err, otp.ErrInvalidVerification):
		writeError(w, r, http.StatusBadRequest, "invalid or expired verification token")
	case errors.Is(err, otp.ErrPurposeMismatch):
		writeError(w, r, http.StatusBadRequest, "verification was not issued for login")
	case errors.Is(err, otp.ErrEmailMismatch):
		writeError(w, r, http.StatusBadRequest, "email does not match the verified email")
	case errors.Is(err, otp.ErrAccountNotFound):
		writeError(w, r, http.StatusNotFound, "no account with this email")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "authentication failed")
	case errors.Is(err, document.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "already exists")
	case errors.Is(err, otp.ErrDelivery):
		writeError(w, r, http.StatusBadGateway, "could not send verification code")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func inputMessage(err error) string {
	msg := err.Error()
	const marker = "invalid input: "
	if i := strings.Index(msg, marker); i >= 0 {
		return msg[i+len(marker):]
	}
	return "invalid input"
}
