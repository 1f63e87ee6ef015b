// Package smtp delivers the store's transactional emails over plain SMTP.
package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/campusclub/api/internal/services"
)

// Config carries the SMTP relay settings. Username and Password are
// optional for relays that accept unauthenticated mail on a private network.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Dispatcher implements services.NotificationDispatcher by rendering HTML
// emails and handing them to an SMTP relay. Sends are synchronous; callers
// treat failures as best-effort.
type Dispatcher struct {
	cfg    Config
	logger *zap.Logger
	send   func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewDispatcher validates the relay settings and returns a ready dispatcher.
func NewDispatcher(cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp dispatcher: host is required")
	}
	if cfg.Port <= 0 {
		return nil, errors.New("smtp dispatcher: port is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp dispatcher: from address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:    cfg,
		logger: logger,
		send:   smtp.SendMail,
	}, nil
}

var _ services.NotificationDispatcher = (*Dispatcher)(nil)

type emailSection struct {
	Title string
	Items []services.NotificationItem
}

type emailData struct {
	RecipientName string
	Intro         string
	Sections      []emailSection
	ShowTotal     bool
	TotalCost     int64
	Pickup        *services.PickupEventSummary
	Outro         string
}

var orderEmailTemplate = template.Must(template.New("order").Parse(`<html>
<body style="font-family: sans-serif; color: #222;">
<p>Hi {{.RecipientName}},</p>
<p>{{.Intro}}</p>
{{range .Sections}}
{{if .Title}}<h3>{{.Title}}</h3>{{end}}
<table cellpadding="6" cellspacing="0" border="0">
{{range .Items}}
<tr>
<td>{{.Name}}{{if .VariantValue}} ({{.VariantType}}: {{.VariantValue}}){{end}}</td>
<td>x{{.Quantity}}</td>
<td>{{.Total}} credits</td>
</tr>
{{end}}
</table>
{{end}}
{{if .ShowTotal}}<p><strong>Total: {{.TotalCost}} credits</strong></p>{{end}}
{{if .Pickup}}<p>Pickup: <strong>{{.Pickup.Title}}</strong><br>
From {{.Pickup.StartsAt}}<br>
Until {{.Pickup.EndsAt}}</p>{{end}}
{{if .Outro}}<p>{{.Outro}}</p>{{end}}
</body>
</html>`))

func (d *Dispatcher) SendOrderConfirmation(ctx context.Context, n services.OrderNotification) error {
	return d.deliver(n.RecipientEmail, "Your merch order is confirmed", emailData{
		RecipientName: n.RecipientName,
		Intro:         "Thanks for your order! We've set the following items aside for you.",
		Sections:      []emailSection{{Items: n.Items}},
		ShowTotal:     true,
		TotalCost:     n.TotalCost,
		Pickup:        n.Pickup,
		Outro:         "See you at the pickup event.",
	})
}

func (d *Dispatcher) SendOrderCancellation(ctx context.Context, n services.OrderNotification) error {
	return d.deliver(n.RecipientEmail, "Your merch order was cancelled", emailData{
		RecipientName: n.RecipientName,
		Intro:         "Your order was cancelled and the credits for the items below are back in your account.",
		Sections:      []emailSection{{Items: n.Items}},
	})
}

func (d *Dispatcher) SendOrderFulfillment(ctx context.Context, n services.OrderNotification) error {
	return d.deliver(n.RecipientEmail, "Your merch order has been picked up", emailData{
		RecipientName: n.RecipientName,
		Intro:         "Your order is complete. Enjoy your merch!",
		Sections:      []emailSection{{Items: n.Items}},
	})
}

func (d *Dispatcher) SendPartialOrderFulfillment(ctx context.Context, n services.PartialFulfillmentNotification) error {
	return d.deliver(n.RecipientEmail, "Part of your merch order has been picked up", emailData{
		RecipientName: n.RecipientName,
		Intro:         "You picked up part of your order today. The rest is still waiting for you.",
		Sections: []emailSection{
			{Title: "Picked up", Items: n.Fulfilled},
			{Title: "Still waiting for you", Items: n.Remaining},
		},
		Outro: "Reschedule a pickup from the store page to collect the remaining items.",
	})
}

func (d *Dispatcher) SendOrderPickupMissed(ctx context.Context, n services.OrderNotification) error {
	return d.deliver(n.RecipientEmail, "You missed your merch pickup", emailData{
		RecipientName: n.RecipientName,
		Intro:         "We didn't see you at your scheduled pickup. Your items are safe with us.",
		Sections:      []emailSection{{Items: n.Items}},
		Pickup:        n.Pickup,
		Outro:         "Reschedule a new pickup from the store page, or cancel the order for a refund.",
	})
}

func (d *Dispatcher) SendOrderPickupCancelled(ctx context.Context, n services.OrderNotification) error {
	return d.deliver(n.RecipientEmail, "Your pickup event was cancelled", emailData{
		RecipientName: n.RecipientName,
		Intro:         "The pickup event for your order was called off. Nothing else about your order changed.",
		Sections:      []emailSection{{Items: n.Items}},
		Pickup:        n.Pickup,
		Outro:         "Pick a new pickup event from the store page whenever you're ready.",
	})
}

func (d *Dispatcher) SendOrderPickupUpdated(ctx context.Context, n services.OrderNotification) error {
	return d.deliver(n.RecipientEmail, "Your pickup event has changed", emailData{
		RecipientName: n.RecipientName,
		Intro:         "The details of your pickup event changed. Here is the latest schedule.",
		Sections:      []emailSection{{Items: n.Items}},
		Pickup:        n.Pickup,
	})
}

func (d *Dispatcher) SendAutomatedOrderCancellation(ctx context.Context, n services.OrderNotification) error {
	return d.deliver(n.RecipientEmail, "Your pending merch order was cancelled", emailData{
		RecipientName: n.RecipientName,
		Intro:         "The store cancelled all outstanding orders and refunded your credits for the items below.",
		Sections:      []emailSection{{Items: n.Items}},
	})
}

func (d *Dispatcher) deliver(to, subject string, data emailData) error {
	var body bytes.Buffer
	if err := orderEmailTemplate.Execute(&body, data); err != nil {
		return fmt.Errorf("smtp dispatcher: render email: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", d.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.Write(body.Bytes())

	addr := fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port)
	var auth smtp.Auth
	if d.cfg.Username != "" {
		auth = smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)
	}

	d.logger.Debug("smtp: sending email",
		zap.String("to", to),
		zap.String("subject", subject))

	if err := d.send(addr, auth, d.cfg.From, []string{to}, msg.Bytes()); err != nil {
		return fmt.Errorf("smtp dispatcher: send mail: %w", err)
	}
	return nil
}
