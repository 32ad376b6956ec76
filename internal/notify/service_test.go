package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitesh006/CareXpert-backend/internal/booking"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
	done chan struct{}
}

func (r *recordingSender) Send(ctx context.Context, to, toName, subject, html string) error {
	r.mu.Lock()
	r.sent = append(r.sent, subject+" -> "+to)
	r.mu.Unlock()
	if r.done != nil {
		close(r.done)
	}
	return r.err
}

func TestAppointmentStatusChangedSendsAsync(t *testing.T) {
	sender := &recordingSender{done: make(chan struct{})}
	svc := NewService(sender, zerolog.Nop())

	svc.AppointmentStatusChanged("ravi@example.com", "Ravi", "Asha Rao", booking.StatusConfirmed, "2026-09-01", "09:00")

	select {
	case <-sender.done:
	case <-time.After(time.Second):
		t.Fatal("email was never dispatched")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Your appointment is CONFIRMED -> ravi@example.com", sender.sent[0])
}

func TestAppointmentStatusChangedSwallowsSendErrors(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down"), done: make(chan struct{})}
	svc := NewService(sender, zerolog.Nop())

	// Must not panic or propagate anything.
	svc.AppointmentStatusChanged("ravi@example.com", "Ravi", "Asha Rao", booking.StatusCancelled, "2026-09-01", "09:00")

	select {
	case <-sender.done:
	case <-time.After(time.Second):
		t.Fatal("email was never attempted")
	}
}

func TestNilSenderIsNoop(t *testing.T) {
	svc := NewService(nil, zerolog.Nop())
	svc.AppointmentStatusChanged("ravi@example.com", "Ravi", "Asha Rao", booking.StatusPending, "2026-09-01", "09:00")
}

func TestStatusEmailBodyEscapesNames(t *testing.T) {
	body := statusEmailBody("<script>", "Asha", booking.StatusPending, "2026-09-01", "09:00")
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")
}
