package consultations

import (
	"fmt"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v82"

	"github.com/quytrungg/wrdoc-backend/internal/payments"
	"github.com/quytrungg/wrdoc-backend/pkg/models"
)

// stubProvider satisfies payments.Provider with canned responses.
type stubProvider struct {
	sessions int
}

func (s *stubProvider) CreateAccount(email string) (*stripe.Account, error) {
	return &stripe.Account{ID: "acct_stub"}, nil
}

func (s *stubProvider) GetAccount(id string) (*stripe.Account, error) {
	return &stripe.Account{ID: id}, nil
}

func (s *stubProvider) CreateAccountLink(accountID string) (*stripe.AccountLink, error) {
	return &stripe.AccountLink{URL: "https://connect.example/" + accountID}, nil
}

func (s *stubProvider) CreateCheckoutSession(accountID, productName string, amountCents, feeCents int64) (*stripe.CheckoutSession, error) {
	s.sessions++
	return &stripe.CheckoutSession{
		ID:           fmt.Sprintf("cs_%d", s.sessions),
		ClientSecret: fmt.Sprintf("cs_%d_secret", s.sessions),
		ExpiresAt:    time.Now().Add(24 * time.Hour).Unix(),
	}, nil
}

func (s *stubProvider) GetCheckoutSession(id string) (*stripe.CheckoutSession, error) {
	return &stripe.CheckoutSession{ID: id, ClientSecret: id + "_secret"}, nil
}

func Test_Checkout_RecipientOnly(t *testing.T) {
	db := openTestDB(t)
	student := seedUser(t, db, models.RoleStudent)
	clinician := seedUser(t, db, models.RoleClinician)
	consID := seedConsultation(t, db, student, clinician, models.ConsultationCompleted)

	stranger := seedUser(t, db, models.RoleStudent)

	h := NewHandler(db, payments.NewManager(&stubProvider{}), nil)

	// The requester pays; they cannot start checkout themselves.
	app := newTestApp(h, student, string(models.RoleStudent))
	code, _ := doJSON(t, app, "POST", "/api/consultations/"+consID.String()+"/checkout", nil)
	if code != fiber.StatusForbidden {
		t.Fatalf("requester checkout: status = %d, want 403", code)
	}

	// Non-participants can't learn the consultation exists.
	app = newTestApp(h, stranger, string(models.RoleStudent))
	code, _ = doJSON(t, app, "POST", "/api/consultations/"+consID.String()+"/checkout", nil)
	if code != fiber.StatusNotFound {
		t.Fatalf("stranger checkout: status = %d, want 404", code)
	}
}

func Test_Checkout_ReturnsClientSecretAndReuses(t *testing.T) {
	db := openTestDB(t)
	student := seedUser(t, db, models.RoleStudent)
	clinician := seedUser(t, db, models.RoleClinician)
	consID := seedConsultation(t, db, student, clinician, models.ConsultationCompleted)

	stub := &stubProvider{}
	h := NewHandler(db, payments.NewManager(stub), nil)
	app := newTestApp(h, clinician, string(models.RoleClinician))

	code, out := doJSON(t, app, "POST", "/api/consultations/"+consID.String()+"/checkout", nil)
	if code != fiber.StatusOK {
		t.Fatalf("status = %d: %v", code, out)
	}
	secret, _ := out["client_secret"].(string)
	if secret == "" {
		t.Fatal("missing client_secret")
	}

	// A second call within the session's lifetime reuses the cached session.
	code, out = doJSON(t, app, "POST", "/api/consultations/"+consID.String()+"/checkout", nil)
	if code != fiber.StatusOK {
		t.Fatalf("second call status = %d", code)
	}
	if stub.sessions != 1 {
		t.Fatalf("provider sessions = %d, want 1", stub.sessions)
	}
	if out["client_secret"] != secret {
		t.Fatalf("client secret changed across calls")
	}

	// The connected account is the requester's, created lazily.
	var acct models.StripeAccount
	if err := db.Where("user_id = ?", student).First(&acct).Error; err != nil {
		t.Fatalf("requester connected account missing: %v", err)
	}
}
