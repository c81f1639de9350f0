package notify

import (
	"context"
	"log"
	"strings"
	"time"

	"marchemo/queue-service/internal/models"
	"marchemo/queue-service/internal/store"
)

const (
	// DefaultTemplate is the message sent when no override is configured.
	DefaultTemplate = "C'est votre tour au Marché MO ! Veuillez vous présenter au comptoir."

	// DefaultCountryPrefix replaces a leading zero in local numbers.
	DefaultCountryPrefix = "+33"
)

// Notifier sends the "your turn" SMS after a call-next and records every
// attempt in the audit log. Provider failures are logged and audited but
// never surfaced to the caller: the call already happened.
type Notifier struct {
	audit         store.AuditLog
	provider      Provider
	template      string
	countryPrefix string
	timeout       time.Duration
}

type Config struct {
	Provider      string
	Template      string
	CountryPrefix string
	Timeout       time.Duration
}

func New(audit store.AuditLog, cfg Config) *Notifier {
	template := cfg.Template
	if template == "" {
		template = DefaultTemplate
	}
	prefix := cfg.CountryPrefix
	if prefix == "" {
		prefix = DefaultCountryPrefix
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		audit:         audit,
		provider:      newProvider(cfg.Provider),
		template:      template,
		countryPrefix: prefix,
		timeout:       timeout,
	}
}

func (n *Notifier) ClientCalled(ctx context.Context, client models.Client) {
	message := renderTemplate(n.template, client.TicketNumber)
	to := NormalizePhone(client.Phone, n.countryPrefix)

	sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
	providerID, err := n.provider.Send(sendCtx, message, to)
	cancel()

	entry := store.SMSLog{
		ClientID:   client.ID,
		Phone:      to,
		Message:    message,
		ProviderID: providerID,
		Status:     "sent",
		SentAt:     time.Now().UTC(),
	}
	if err != nil {
		entry.Status = "failed"
		entry.Error = err.Error()
		log.Printf("sms send error ticket=%s: %v", client.TicketNumber, err)
	}

	// The audit write uses the request context, not the send context,
	// so a provider timeout does not lose the failure record.
	if auditErr := n.audit.LogSMS(ctx, entry); auditErr != nil {
		log.Printf("sms audit error ticket=%s: %v", client.TicketNumber, auditErr)
	}
}

func renderTemplate(template, ticketNumber string) string {
	return strings.ReplaceAll(template, "{ticket_number}", ticketNumber)
}

// NormalizePhone converts a local number with a leading zero to
// international form. Numbers already in international form pass through.
func NormalizePhone(phone, prefix string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "0") {
		return prefix + phone[1:]
	}
	return phone
}
