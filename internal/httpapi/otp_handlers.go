package httpapi

import (
	"net/http"

	"hatchup.org/internal/otp"
)

type otpRequest struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

type otpVerifyRequest struct {
	Email   string `json:"email"`
	Code    string `json:"code"`
	Purpose string `json:"purpose"`
}

type otpVerifyResponse struct {
	VerificationToken string `json:"verification_token"`
}

type otpExchangeRequest struct {
	VerificationToken string `json:"verification_token"`
	Email             string `json:"email"`
}

func (a *API) handleOTPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	purpose, err := otp.ParsePurpose(req.Purpose)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if err := a.otp.Request(r.Context(), req.Email, purpose); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"detail": "verification code sent",
	})
}

func (a *API) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req otpVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	purpose, err := otp.ParsePurpose(req.Purpose)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	token, err := a.otp.Verify(r.Context(), req.Email, req.Code, purpose)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, otpVerifyResponse{VerificationToken: token})
}

func (a *API) handleOTPExchange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req otpExchangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, err := a.otp.Exchange(r.Context(), req.VerificationToken, req.Email)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.audit(r, "auth.otp.exchange", nil)
	writeJSON(w, http.StatusOK, pair)
}
