// Package mail composes the transactional emails the auth service sends.
// Delivery is behind Sender; the default implementation only logs.
package mail

import (
	"context"
	"fmt"
	"log/slog"
)

type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "mail queued",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Body),
	)
	return nil
}

func VerificationEmail(from, to, link string) Message {
	return Message{
		From:    from,
		To:      to,
		Subject: "Verify your WeVersity email",
		Body:    fmt.Sprintf("Confirm your email address by opening this link:\n\n%s\n", link),
	}
}

func OTPEmail(from, to, code string, validMinutes int) Message {
	return Message{
		From:    from,
		To:      to,
		Subject: "Your WeVersity password reset code",
		Body:    fmt.Sprintf("Your code is %s. It expires in %d minutes.\n", code, validMinutes),
	}
}

func WelcomeEmail(from, to, fullName, role string) Message {
	return Message{
		From:    from,
		To:      to,
		Subject: "Welcome to WeVersity",
		Body:    fmt.Sprintf("Hi %s, your %s account is ready.\n", fullName, role),
	}
}
