// Package otp implements passwordless login by email: request a code, verify
// it for a short-lived verification token, exchange the token for a session.
// Codes and tokens live in the shared cache and are each usable once.
package otp

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"hatchup.org/internal/auth"
	"hatchup.org/internal/cache"
	"hatchup.org/internal/mail"
	"hatchup.org/internal/obs"
)

// Purpose says what a code may be used for.
type Purpose string

const (
	PurposeLogin    Purpose = "login"
	PurposeRegister Purpose = "register"
)

// ParsePurpose accepts the purpose names case-insensitively.
func ParsePurpose(s string) (Purpose, error) {
	switch p := Purpose(strings.ToLower(strings.TrimSpace(s))); p {
	case PurposeLogin, PurposeRegister:
		return p, nil
	default:
		return "", ErrInvalidPurpose
	}
}

const (
	codeDigits   = 6
	tokenBytes   = 32
	defaultCode  = 10 * time.Minute
	defaultToken = 5 * time.Minute
	defaultTries = 5

	codeKeyPrefix         = "otp:"
	verificationKeyPrefix = "otp_verification:"
	attemptsKeyPrefix     = "otp_attempts:"
)

var tracer = otel.Tracer("hatchup.org/internal/otp")

// Minter turns a resolved user into a session.
type Minter interface {
	IssueFor(ctx context.Context, user auth.User) (auth.TokenPair, error)
}

type verification struct {
	Email   string  `json:"email"`
	Purpose Purpose `json:"purpose"`
}

// Service runs the request → verify → exchange protocol.
type Service struct {
	cache   cache.Cache
	users   auth.UserStore
	sender  mail.Sender
	minter  Minter
	codeTTL time.Duration
	tokTTL  time.Duration
	hide    bool
	tries   int64
	random  io.Reader
	logger  *zap.Logger
}

// Option configures Service.
type Option func(*Service)

// WithCodeTTL sets how long a mailed code stays valid.
func WithCodeTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.codeTTL = ttl
		}
	}
}

// WithVerificationTTL sets how long a verification token stays valid.
func WithVerificationTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokTTL = ttl
		}
	}
}

// WithMaxAttempts sets how many wrong guesses a code survives. The failing
// guess that reaches the limit destroys the code.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.tries = int64(n)
		}
	}
}

// WithHiddenAccounts makes login requests for unknown emails look successful
// without sending anything, so the endpoint cannot be used to probe for
// accounts.
func WithHiddenAccounts(hide bool) Option {
	return func(s *Service) { s.hide = hide }
}

// WithRandom replaces the entropy source. Tests only.
func WithRandom(r io.Reader) Option {
	return func(s *Service) {
		if r != nil {
			s.random = r
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(c cache.Cache, users auth.UserStore, sender mail.Sender, minter Minter, opts ...Option) *Service {
	s := &Service{
		cache:   c,
		users:   users,
		sender:  sender,
		minter:  minter,
		codeTTL: defaultCode,
		tokTTL:  defaultToken,
		tries:   defaultTries,
		random:  rand.Reader,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request mails a fresh code for purpose to email, replacing any earlier
// code for the same pair.
func (s *Service) Request(ctx context.Context, email string, purpose Purpose) (err error) {
	ctx, span := tracer.Start(ctx, "otp.Request", trace.WithAttributes(attribute.String("otp.purpose", string(purpose))))
	defer func() { finish(span, "request", err) }()

	email = auth.NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", auth.ErrInvalidInput)
	}
	if purpose, err = ParsePurpose(string(purpose)); err != nil {
		return err
	}

	exists, err := s.accountExists(ctx, email)
	if err != nil {
		return err
	}
	switch {
	case purpose == PurposeLogin && !exists && s.hide:
		s.logger.Info("otp requested for unknown account", zap.String("purpose", string(purpose)))
		return nil
	case purpose == PurposeLogin && !exists:
		return ErrAccountNotFound
	case purpose == PurposeRegister && exists:
		return ErrAccountExists
	}

	code, err := s.newCode()
	if err != nil {
		return err
	}
	if err := s.cache.Set(ctx, codeKey(purpose, email), code, s.codeTTL); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	if err := s.cache.Delete(ctx, attemptsKey(purpose, email)); err != nil {
		return fmt.Errorf("reset otp attempts: %w", err)
	}
	if err := s.sender.SendOTP(ctx, email, code, string(purpose)); err != nil {
		s.logger.Error("otp delivery failed", zap.String("purpose", string(purpose)), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

// Verify consumes a matching code and returns a verification token. A wrong
// code leaves the stored one in place until the attempt limit is reached,
// after which the code is gone and a new one must be requested.
func (s *Service) Verify(ctx context.Context, email, code string, purpose Purpose) (token string, err error) {
	ctx, span := tracer.Start(ctx, "otp.Verify", trace.WithAttributes(attribute.String("otp.purpose", string(purpose))))
	defer func() { finish(span, "verify", err) }()

	email = auth.NormalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", auth.ErrInvalidInput)
	}
	if purpose, err = ParsePurpose(string(purpose)); err != nil {
		return "", err
	}
	if !validCode(code) {
		return "", ErrInvalidCode
	}

	ok, err := s.cache.CompareAndDelete(ctx, codeKey(purpose, email), code)
	if err != nil {
		return "", fmt.Errorf("check otp: %w", err)
	}
	if !ok {
		return "", s.failedAttempt(ctx, purpose, email)
	}
	if err := s.cache.Delete(ctx, attemptsKey(purpose, email)); err != nil {
		s.logger.Warn("otp attempts not reset", zap.String("purpose", string(purpose)), zap.Error(err))
	}

	token, err = s.newToken()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(verification{Email: email, Purpose: purpose})
	if err != nil {
		return "", fmt.Errorf("encode verification: %w", err)
	}
	if err := s.cache.Set(ctx, verificationKey(token), string(payload), s.tokTTL); err != nil {
		return "", fmt.Errorf("store verification: %w", err)
	}
	return token, nil
}

// Exchange consumes a login verification token and returns a session for
// its account. The token is spent even when a later check fails. email is
// optional; when given it must match the verified one.
func (s *Service) Exchange(ctx context.Context, token, email string) (pair auth.TokenPair, err error) {
	ctx, span := tracer.Start(ctx, "otp.Exchange")
	defer func() { finish(span, "exchange", err) }()

	token = strings.TrimSpace(token)
	if token == "" {
		return auth.TokenPair{}, ErrInvalidVerification
	}
	raw, err := s.cache.Take(ctx, verificationKey(token))
	if errors.Is(err, cache.ErrMiss) {
		return auth.TokenPair{}, ErrInvalidVerification
	}
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("load verification: %w", err)
	}

	var v verification
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		s.logger.Warn("corrupt verification record", zap.Error(err))
		return auth.TokenPair{}, ErrInvalidVerification
	}
	if v.Purpose != PurposeLogin {
		return auth.TokenPair{}, ErrPurposeMismatch
	}
	if email = auth.NormalizeEmail(email); email != "" && email != v.Email {
		return auth.TokenPair{}, ErrEmailMismatch
	}

	user, err := s.users.UserByEmail(ctx, v.Email)
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("load account: %w", err)
	}
	if !user.Active {
		return auth.TokenPair{}, auth.ErrUnauthorized
	}
	return s.minter.IssueFor(ctx, user)
}

// failedAttempt counts a wrong guess and burns the code once the limit is
// hit. It always reports ErrInvalidCode unless the cache fails.
func (s *Service) failedAttempt(ctx context.Context, purpose Purpose, email string) error {
	n, err := s.cache.Incr(ctx, attemptsKey(purpose, email), s.codeTTL)
	if err != nil {
		return fmt.Errorf("count otp attempts: %w", err)
	}
	if n < s.tries {
		return ErrInvalidCode
	}
	if err := s.cache.Delete(ctx, codeKey(purpose, email)); err != nil {
		return fmt.Errorf("revoke otp: %w", err)
	}
	if err := s.cache.Delete(ctx, attemptsKey(purpose, email)); err != nil {
		return fmt.Errorf("reset otp attempts: %w", err)
	}
	s.logger.Warn("otp revoked after too many attempts", zap.String("purpose", string(purpose)))
	return ErrInvalidCode
}

func (s *Service) accountExists(ctx context.Context, email string) (bool, error) {
	_, err := s.users.UserByEmail(ctx, email)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, auth.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("look up account: %w", err)
	}
}

func (s *Service) newCode() (string, error) {
	n, err := rand.Int(s.random, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func (s *Service) newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", fmt.Errorf("generate verification token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func validCode(code string) bool {
	if len(code) != codeDigits {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func codeKey(purpose Purpose, email string) string {
	return codeKeyPrefix + string(purpose) + ":" + email
}

func attemptsKey(purpose Purpose, email string) string {
	return attemptsKeyPrefix + string(purpose) + ":" + email
}

func verificationKey(token string) string {
	return verificationKeyPrefix + token
}

func finish(span trace.Span, stage string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = outcomeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	obs.RecordOTP(stage, outcome)
	span.End()
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrInvalidVerification):
		return "invalid"
	case errors.Is(err, ErrPurposeMismatch), errors.Is(err, ErrEmailMismatch):
		return "mismatch"
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrAccountExists), errors.Is(err, auth.ErrNotFound):
		return "account"
	case errors.Is(err, ErrInvalidPurpose), errors.Is(err, auth.ErrInvalidInput):
		return "rejected"
	case errors.Is(err, ErrDelivery):
		return "delivery"
	default:
		return "error"
	}
}
