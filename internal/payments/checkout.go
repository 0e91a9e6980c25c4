package payments

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/quytrungg/wrdoc-backend/pkg/models"
)

var cents = decimal.NewFromInt(100)

// toCents converts a currency amount to integer minor units using banker's
// rounding.
func toCents(amount decimal.Decimal) int64 {
	return amount.Mul(cents).RoundBank(0).IntPart()
}

// Manager owns connected-account resolution and checkout-session reuse.
type Manager struct {
	provider Provider
}

func NewManager(provider Provider) *Manager { return &Manager{provider: provider} }

// ConnectedAccount returns the user's Stripe account, creating one through
// the provider on first need and persisting the mapping.
func (m *Manager) ConnectedAccount(db *gorm.DB, user *models.User) (*stripe.Account, error) {
	var row models.StripeAccount
	err := db.Where("user_id = ?", user.ID).First(&row).Error
	switch {
	case err == nil:
		return m.provider.GetAccount(row.StripeID)
	case errors.Is(err, gorm.ErrRecordNotFound):
		account, err := m.provider.CreateAccount(user.Email)
		if err != nil {
			return nil, err
		}
		row = models.StripeAccount{UserID: user.ID, StripeID: account.ID}
		if err := db.Create(&row).Error; err != nil {
			return nil, err
		}
		return account, nil
	default:
		return nil, err
	}
}

// AccountLink generates an onboarding link for the user's connected account.
func (m *Manager) AccountLink(db *gorm.DB, user *models.User) (*stripe.AccountLink, error) {
	account, err := m.ConnectedAccount(db, user)
	if err != nil {
		return nil, err
	}
	return m.provider.CreateAccountLink(account.ID)
}

// CheckoutSession returns the live session for the newest non-expired cached
// row, or creates a new provider session and caches it. Run inside the
// caller's transaction while the consultation row is locked so two requests
// can't both create a session.
func (m *Manager) CheckoutSession(tx *gorm.DB, cons *models.Consultation) (*stripe.CheckoutSession, error) {
	var row models.StripeCheckoutSession
	err := tx.Where("consultation_id = ? AND expires_at > ?", cons.ID, time.Now()).
		Order("created_at DESC").
		First(&row).Error
	if err == nil {
		// Read-through: the provider remains the source of truth for
		// session contents.
		return m.provider.GetCheckoutSession(row.StripeID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	account, err := m.ConnectedAccount(tx, &cons.FromUser)
	if err != nil {
		return nil, err
	}

	session, err := m.provider.CreateCheckoutSession(
		account.ID,
		string(cons.SessionType),
		toCents(cons.Cost),
		toCents(cons.Fee.Mul(cons.Cost)),
	)
	if err != nil {
		return nil, err
	}

	row = models.StripeCheckoutSession{
		ConsultationID: cons.ID,
		StripeID:       session.ID,
		ExpiresAt:      time.Unix(session.ExpiresAt, 0),
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, err
	}
	return session, nil
}
