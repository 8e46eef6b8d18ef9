package otp

import "errors"

var (
	ErrInvalidPurpose = errors.New("otp: invalid purpose")
	// ErrAccountNotFound rejects a login code request for an unknown email.
	ErrAccountNotFound = errors.New("otp: no account for this email")
	// ErrAccountExists rejects a register code request for a taken email.
	ErrAccountExists = errors.New("otp: account already exists")
	ErrInvalidCode   = errors.New("otp: invalid or expired code")
	// ErrInvalidVerification covers unknown, expired and already used
	// verification tokens.
	ErrInvalidVerification = errors.New("otp: invalid or expired verification token")
	ErrPurposeMismatch     = errors.New("otp: verification was issued for another purpose")
	ErrEmailMismatch       = errors.New("otp: verification was issued for another email")
	ErrDelivery            = errors.New("otp: code delivery failed")
)
