// Package mail delivers one-time codes. Senders are synchronous; wrap one in
// Async to move delivery off the request path.
package mail

import (
	"context"
	"fmt"
	"strings"
)

// Sender delivers a one-time code for purpose to email.
type Sender interface {
	SendOTP(ctx context.Context, email, code, purpose string) error
}

// Message is a composed plain-text mail.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Purpose string `json:"purpose"`
}

// ComposeOTP renders the verification mail for purpose.
func ComposeOTP(email, code, purpose string) Message {
	return Message{
		To:      email,
		Subject: fmt.Sprintf("Your %s verification code", purposeLabel(purpose)),
		Body: fmt.Sprintf("Your verification code is: %s\n\n"+
			"This code expires in 10 minutes. If you did not request it, ignore this message.\n", code),
		Purpose: purpose,
	}
}

func purposeLabel(purpose string) string {
	switch strings.ToLower(strings.TrimSpace(purpose)) {
	case "login":
		return "login"
	case "register":
		return "registration"
	default:
		return "account"
	}
}
