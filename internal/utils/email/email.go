package email

import (
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
	"github.com/utilpilot/utilization-service/internal/config"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// AlertCard describes one account that tripped the alert threshold.
type AlertCard struct {
	Name        string
	Mask        string
	Utilization int
	Band        string
	Paydown     float64
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
	}
}

// SendUtilizationAlert notifies a user that one or more of their credit
// cards has crossed into a high-utilization band.
func (s *Sender) SendUtilizationAlert(to, username string, cards []AlertCard) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	if len(cards) == 1 {
		e.Subject = "High Credit Utilization Alert"
	} else {
		e.Subject = fmt.Sprintf("High Credit Utilization Alert (%d cards)", len(cards))
	}

	body := fmt.Sprintf("Dear %s,\n\n", username)
	body += "The following credit cards are running high utilization, which can hurt your credit score:\n\n"
	for _, card := range cards {
		name := card.Name
		if card.Mask != "" {
			name = fmt.Sprintf("%s (...%s)", card.Name, card.Mask)
		}
		body += fmt.Sprintf(
			"  - %s: %d%% utilized (%s). Paying down %.0f would bring it to your target.\n",
			name, card.Utilization, card.Band, card.Paydown,
		)
	}
	body += "\nBest regards,\nUtilization Pilot"
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send alert to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}
