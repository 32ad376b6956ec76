package notify

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/rs/zerolog"

	"github.com/mitesh006/CareXpert-backend/internal/booking"
)

const sendTimeout = 10 * time.Second

// Service sends appointment status emails. Dispatch is fire and
// forget: a failed or slow email must never delay or fail the booking
// that triggered it.
type Service struct {
	sender EmailSender
	logger zerolog.Logger
}

func NewService(sender EmailSender, logger zerolog.Logger) *Service {
	return &Service{
		sender: sender,
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

func (s *Service) AppointmentStatusChanged(to, patientName, doctorName string, status booking.AppointmentStatus, date, clock string) {
	if s.sender == nil {
		return
	}

	subject := fmt.Sprintf("Your appointment is %s", status)
	body := statusEmailBody(patientName, doctorName, status, date, clock)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if err := s.sender.Send(ctx, to, patientName, subject, body); err != nil {
			s.logger.Warn().Err(err).Str("to", to).Str("status", string(status)).Msg("status email failed")
			return
		}
		s.logger.Debug().Str("to", to).Str("status", string(status)).Msg("status email sent")
	}()
}

func statusEmailBody(patientName, doctorName string, status booking.AppointmentStatus, date, clock string) string {
	return fmt.Sprintf(
		`<h3>Hello %s,</h3>
<p>Your appointment with %s on %s at %s has been <strong>%s</strong>.</p>`,
		html.EscapeString(patientName),
		html.EscapeString(doctorName),
		html.EscapeString(date),
		html.EscapeString(clock),
		status,
	)
}
