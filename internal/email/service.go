package email

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/sony/gobreaker"
)

// Service handles email sending via SMTP. Sends go through a circuit
// breaker so a dead SMTP host fails fast instead of stalling the notifier.
type Service struct {
	host    string
	port    string
	from    string
	breaker *gobreaker.CircuitBreaker
}

// NewService creates a new email service
func NewService(host, port, from string) *Service {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "smtp",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Service{
		host:    host,
		port:    port,
		from:    from,
		breaker: breaker,
	}
}

// SendOrderConfirmation sends an order confirmation email
func (s *Service) SendOrderConfirmation(to, orderID string, total int64, items []OrderItem) error {
	subject := fmt.Sprintf("【注文確認】ご注文ありがとうございます（注文番号: %s）", shortID(orderID))
	return s.send(to, subject, BuildOrderConfirmationBody(orderID, total, items))
}

// SendOrderStatusUpdate sends a fulfillment status change notice
func (s *Service) SendOrderStatusUpdate(to, orderID, status string) error {
	subject := fmt.Sprintf("【配送状況】ご注文の状況が更新されました（注文番号: %s）", shortID(orderID))
	return s.send(to, subject, BuildStatusUpdateBody(orderID, status))
}

// SendWarrantyIssued sends a warranty registration notice
func (s *Service) SendWarrantyIssued(to, serial string, expiresAt time.Time) error {
	subject := fmt.Sprintf("【保証登録】製品保証が登録されました（保証番号: %s）", serial)
	return s.send(to, subject, BuildWarrantyIssuedBody(serial, expiresAt))
}

// SendClaimUpdate sends a claim status change notice to the claim owner
func (s *Service) SendClaimUpdate(to, claimID, status, notes string) error {
	subject := fmt.Sprintf("【保証申請】申請状況が更新されました（申請番号: %s）", shortID(claimID))
	return s.send(to, subject, BuildClaimUpdateBody(claimID, status, notes))
}

// SendExpiryReminder warns that warranty coverage is about to lapse
func (s *Service) SendExpiryReminder(to, serial string, expiresAt time.Time) error {
	subject := fmt.Sprintf("【保証期限】保証期限が近づいています（保証番号: %s）", serial)
	return s.send(to, subject, BuildExpiryReminderBody(serial, expiresAt))
}

func (s *Service) send(to, subject, body string) error {
	_, err := s.breaker.Execute(func() (any, error) {
		msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
			s.from, to, subject, body)
		addr := fmt.Sprintf("%s:%s", s.host, s.port)
		return nil, smtp.SendMail(addr, nil, s.from, []string{to}, []byte(msg))
	})
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
