package utils

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quytrungg/wrdoc-backend/pkg/models"
)

// CreateDefaultRates bulk-creates one rate row per catalog template for a
// clinician who registered without explicit prices: rate unset, offers
// allowed. Caller is responsible for only invoking this when the user has no
// rate rows yet.
func CreateDefaultRates(db *gorm.DB, userID uuid.UUID) error {
	var templates []models.ConsultationTemplate
	if err := db.Find(&templates).Error; err != nil {
		return err
	}
	if len(templates) == 0 {
		return nil
	}
	rates := make([]models.ConsultationRate, 0, len(templates))
	for _, tpl := range templates {
		rates = append(rates, models.ConsultationRate{
			TemplateID:   tpl.ID,
			UserID:       userID,
			AllowOffered: true,
		})
	}
	return db.Create(&rates).Error
}

// LogStatusChange inserts an audit record into consultation_status_histories.
// Errors are ignored on purpose (best-effort logging).
func LogStatusChange(
	ctx context.Context,
	db *gorm.DB,
	consultationID, actorID uuid.UUID,
	oldS, newS models.ConsultationStatus,
) {
	_ = db.WithContext(ctx).Create(&models.ConsultationStatusHistory{
		ConsultationID: consultationID,
		ActorID:        actorID,
		OldStatus:      oldS,
		NewStatus:      newS,
	}).Error
}
