package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the account does not exist so that
// login latency does not reveal which emails are registered.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("hatchup-dummy-password"), bcrypt.DefaultCost)

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash. Accounts
// created through OTP registration have no password and never match.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrUnauthorized
	}
	return nil
}
