package consultations

import (
	"fmt"
	"time"

	"github.com/quytrungg/wrdoc-backend/pkg/models"
)

// ActionError reports an illegal status transition. It is translated into a
// non-field validation error at the handler boundary, never a 500.
type ActionError struct {
	Message string
}

func (e *ActionError) Error() string { return e.Message }

// changeStatus applies a transition if the current status is among the
// allowed sources. The consultation is left untouched on failure.
func changeStatus(
	c *models.Consultation,
	next models.ConsultationStatus,
	allowed ...models.ConsultationStatus,
) error {
	if c.Status == next {
		return &ActionError{Message: fmt.Sprintf("Consultation already %s", next)}
	}
	ok := false
	for _, s := range allowed {
		if c.Status == s {
			ok = true
			break
		}
	}
	if !ok {
		return &ActionError{
			Message: fmt.Sprintf("Can't change status to %s from %s", next, c.Status),
		}
	}
	c.Status = next
	return nil
}

// Accept moves a requested consultation to accepted.
func Accept(c *models.Consultation) error {
	return changeStatus(c, models.ConsultationAccepted, models.ConsultationRequested)
}

// Decline moves a requested consultation to declined.
func Decline(c *models.Consultation) error {
	return changeStatus(c, models.ConsultationDeclined, models.ConsultationRequested)
}

// Start moves an accepted consultation to in_progress.
func Start(c *models.Consultation) error {
	return changeStatus(c, models.ConsultationInProgress, models.ConsultationAccepted)
}

// Complete moves an in-progress consultation to completed and stamps
// completed_at. The stamp is set once and never cleared: completed is
// terminal.
func Complete(c *models.Consultation) error {
	if err := changeStatus(c, models.ConsultationCompleted, models.ConsultationInProgress); err != nil {
		return err
	}
	now := time.Now()
	c.CompletedAt = &now
	return nil
}

// Cancel moves any pre-terminal consultation to cancelled.
func Cancel(c *models.Consultation) error {
	return changeStatus(
		c,
		models.ConsultationCancelled,
		models.ConsultationRequested,
		models.ConsultationAccepted,
		models.ConsultationInProgress,
	)
}

// transitions maps a target status to the operation producing it. Every
// non-initial status has exactly one producing operation.
var transitions = map[models.ConsultationStatus]func(*models.Consultation) error{
	models.ConsultationAccepted:   Accept,
	models.ConsultationDeclined:   Decline,
	models.ConsultationInProgress: Start,
	models.ConsultationCompleted:  Complete,
	models.ConsultationCancelled:  Cancel,
}

// TransitionTo returns the operation that produces the target status.
func TransitionTo(status models.ConsultationStatus) (func(*models.Consultation) error, bool) {
	fn, ok := transitions[status]
	return fn, ok
}
