package mail

import (
	"fmt"
	"log"
	"net/smtp"

	"github.com/snippetstream/snippetstream/app/models"
	"github.com/snippetstream/snippetstream/internal/pkg/env"
)

// SendMail sends one email via SMTP using environment configuration.
func SendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	err := smtp.SendMail(addr, auth, sender, []string{to}, msg)
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	} else {
		log.Printf("Email sent to %s via %s", to, addr)
	}
	return err
}

// ExpiryReminderMailer implements the notifier hook of the
// subscription sweep.
type ExpiryReminderMailer struct{}

func (ExpiryReminderMailer) SendExpiryReminder(user *models.User, sub *models.Subscription) error {
	if user == nil || user.Email == "" || sub == nil || sub.CurrentPeriodEnd == nil {
		return nil
	}

	endDate := sub.CurrentPeriodEnd.Format("January 2, 2006")
	subject := "Your SnippetStream subscription is about to renew"
	body := fmt.Sprintf(
		"<p>Hi %s,</p>"+
			"<p>Your %s plan (%s billing) runs until <strong>%s</strong>. "+
			"If your payment method is up to date there is nothing to do.</p>"+
			"<p>— The SnippetStream team</p>",
		user.Name, sub.PlanType, sub.BillingCycle, endDate,
	)
	return SendMail(user.Email, subject, body)
}

// SendActivationMail sends the account activation link after local
// registration.
func SendActivationMail(user *models.User) error {
	if user == nil || user.Email == "" || user.ActivationToken == "" {
		return nil
	}

	base := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:3000")
	link := fmt.Sprintf("%s/activate?token=%s", base, user.ActivationToken)
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Confirm your SnippetStream account: <a href=%q>%s</a></p>",
		user.Name, link, link,
	)
	return SendMail(user.Email, "Activate your SnippetStream account", body)
}
