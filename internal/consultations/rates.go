package consultations

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/quytrungg/wrdoc-backend/pkg/models"
)

// Rate resolution failures surface as 400 validation errors.
var (
	ErrRateNotFound  = errors.New("Consultation rate not found")
	ErrCantOfferCost = errors.New("Can't offer price for this consultation")
)

// ResolveRate validates a proposed cost against the recipient's rate for the
// matching (session type, duration) template. A missing template or a
// recipient without a rate row both count as "rate not found". When the rate
// doesn't allow offers, the proposed cost must equal the fixed rate exactly.
func ResolveRate(
	db *gorm.DB,
	toUser uuid.UUID,
	sessionType models.SessionType,
	duration int,
	proposedCost decimal.Decimal,
) (*models.ConsultationRate, error) {
	var rate models.ConsultationRate
	err := db.
		Joins("JOIN consultation_templates ON consultation_templates.id = consultation_rates.template_id").
		Where("consultation_rates.user_id = ?", toUser).
		Where("consultation_templates.session_type = ?", sessionType).
		Where("consultation_templates.duration = ?", duration).
		Preload("Template").
		First(&rate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRateNotFound
		}
		return nil, err
	}
	if !rate.AllowOffered && (rate.Rate == nil || !proposedCost.Equal(*rate.Rate)) {
		return nil, ErrCantOfferCost
	}
	return &rate, nil
}

// EnsureDefaultTemplates seeds the catalog on first boot: consultation and
// mentorship sessions at 20 and 40 minutes with the default platform fee.
func EnsureDefaultTemplates(db *gorm.DB) error {
	var cnt int64
	if err := db.Model(&models.ConsultationTemplate{}).Count(&cnt).Error; err != nil {
		return err
	}
	if cnt > 0 {
		return nil
	}
	defaults := []models.ConsultationTemplate{
		{SessionType: models.SessionConsultation, Duration: 20, Fee: models.DefaultPlatformFee},
		{SessionType: models.SessionConsultation, Duration: 40, Fee: models.DefaultPlatformFee},
		{SessionType: models.SessionMentorship, Duration: 20, Fee: models.DefaultPlatformFee},
		{SessionType: models.SessionMentorship, Duration: 40, Fee: models.DefaultPlatformFee},
	}
	return db.Create(&defaults).Error
}
