package users

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/quytrungg/wrdoc-backend/internal/payments"
	"github.com/quytrungg/wrdoc-backend/pkg/models"
)

/* ============================================================================
   Helpers
   ============================================================================ */

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	_ = godotenv.Load()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Fatal("TEST_DATABASE_URL is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.Contact{},
		&models.ConsultationTemplate{}, &models.ConsultationRate{},
		&models.Consultation{}, &models.StripeAccount{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	stripe_accounts,
	consultations,
	consultation_rates,
	consultation_templates,
	contacts,
	users
RESTART IDENTITY CASCADE`
		if err := db.Exec(sql).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})

	return db
}

func injectAuth(userID uuid.UUID, role string) fiber.Handler {
	id := userID.String()
	return func(c *fiber.Ctx) error {
		c.Locals("userID", id)
		c.Locals("role", role)
		return c.Next()
	}
}

func newTestApp(h *Handler, userID uuid.UUID, role string) *fiber.App {
	app := fiber.New()
	app.Use(injectAuth(userID, role))

	app.Get("/api/users", h.List)
	app.Get("/api/users/:id", h.Get)
	app.Get("/api/profile", h.GetProfile)
	app.Put("/api/profile", h.UpdateProfile)
	app.Get("/api/profile/dashboard", h.Dashboard)
	app.Post("/api/profile/connected-account", h.CreateConnectedAccount)
	app.Get("/api/profile/connected-account", h.GetConnectedAccount)
	app.Get("/api/contacts", h.ListContacts)
	app.Post("/api/contacts", h.AddContact)
	app.Delete("/api/contacts/:id", h.RemoveContact)

	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func seedUser(t *testing.T, db *gorm.DB, role models.Role, username string) uuid.UUID {
	t.Helper()
	u := models.User{
		Email:     username + "@x.com",
		Username:  username,
		Role:      role,
		FirstName: "Pat",
		LastName:  "Doe",
	}
	if err := db.Create(&u).Error; err != nil {
		t.Fatal(err)
	}
	return u.ID
}

// stubProvider satisfies payments.Provider for connected-account endpoints.
type stubProvider struct{}

func (stubProvider) CreateAccount(email string) (*stripe.Account, error) {
	return &stripe.Account{ID: "acct_stub"}, nil
}

func (stubProvider) GetAccount(id string) (*stripe.Account, error) {
	return &stripe.Account{ID: id, DetailsSubmitted: true, ChargesEnabled: false}, nil
}

func (stubProvider) CreateAccountLink(accountID string) (*stripe.AccountLink, error) {
	return &stripe.AccountLink{URL: "https://connect.example/" + accountID}, nil
}

func (stubProvider) CreateCheckoutSession(accountID, productName string, amountCents, feeCents int64) (*stripe.CheckoutSession, error) {
	return &stripe.CheckoutSession{ID: "cs_stub", ExpiresAt: time.Now().Add(time.Hour).Unix()}, nil
}

func (stubProvider) GetCheckoutSession(id string) (*stripe.CheckoutSession, error) {
	return &stripe.CheckoutSession{ID: id}, nil
}

/* ============================================================================
   Tests — directory
   ============================================================================ */

func Test_List_ExcludesCallerAndSearches(t *testing.T) {
	db := openTestDB(t)
	caller := seedUser(t, db, models.RoleStudent, "caller")
	seedUser(t, db, models.RoleClinician, "cardio_doc")
	seedUser(t, db, models.RoleClinician, "derm_doc")

	h := NewHandler(db, nil)
	app := newTestApp(h, caller, string(models.RoleStudent))

	code, out := doJSON(t, app, "GET", "/api/users", nil)
	if code != fiber.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if total := out["total"].(float64); total != 2 {
		t.Fatalf("total = %v, want 2 (caller excluded)", total)
	}

	_, out = doJSON(t, app, "GET", "/api/users?search=cardio", nil)
	if total := out["total"].(float64); total != 1 {
		t.Fatalf("search total = %v, want 1", total)
	}
}

func Test_Get_AnnotatesContactState(t *testing.T) {
	db := openTestDB(t)
	caller := seedUser(t, db, models.RoleStudent, "caller")
	doc := seedUser(t, db, models.RoleClinician, "doc")
	if err := db.Create(&models.Contact{OwnerID: caller, ContactID: doc}).Error; err != nil {
		t.Fatal(err)
	}

	h := NewHandler(db, nil)
	app := newTestApp(h, caller, string(models.RoleStudent))

	code, out := doJSON(t, app, "GET", "/api/users/"+doc.String(), nil)
	if code != fiber.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if out["has_contact"] != true {
		t.Fatalf("has_contact = %v, want true", out["has_contact"])
	}
}

/* ============================================================================
   Tests — profile and rates
   ============================================================================ */

func Test_UpdateProfile_RepricesOwnRates(t *testing.T) {
	db := openTestDB(t)
	doc := seedUser(t, db, models.RoleClinician, "doc")
	tpl := models.ConsultationTemplate{
		SessionType: models.SessionConsultation, Duration: 20, Fee: models.DefaultPlatformFee,
	}
	if err := db.Create(&tpl).Error; err != nil {
		t.Fatal(err)
	}
	rate := models.ConsultationRate{TemplateID: tpl.ID, UserID: doc, AllowOffered: true}
	if err := db.Create(&rate).Error; err != nil {
		t.Fatal(err)
	}

	h := NewHandler(db, nil)
	app := newTestApp(h, doc, string(models.RoleClinician))

	code, out := doJSON(t, app, "PUT", "/api/profile", fiber.Map{
		"first_name": "Pat",
		"last_name":  "Doe",
		"npi_number": "1234567890",
		"rates": []fiber.Map{
			{"id": rate.ID.String(), "rate": "80", "allow_offered": false},
		},
	})
	if code != fiber.StatusOK {
		t.Fatalf("status = %d: %v", code, out)
	}

	var updated models.ConsultationRate
	if err := db.First(&updated, "id = ?", rate.ID).Error; err != nil {
		t.Fatal(err)
	}
	if updated.Rate == nil || !updated.Rate.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("rate = %v, want 80", updated.Rate)
	}
	if updated.AllowOffered {
		t.Fatal("allow_offered should be false")
	}

	// Clearing the price forces the row back to accepting offers.
	code, out = doJSON(t, app, "PUT", "/api/profile", fiber.Map{
		"first_name": "Pat",
		"last_name":  "Doe",
		"npi_number": "1234567890",
		"rates": []fiber.Map{
			{"id": rate.ID.String(), "allow_offered": false},
		},
	})
	if code != fiber.StatusOK {
		t.Fatalf("status = %d: %v", code, out)
	}
	if err := db.First(&updated, "id = ?", rate.ID).Error; err != nil {
		t.Fatal(err)
	}
	if updated.Rate != nil || !updated.AllowOffered {
		t.Fatalf("unpriced rate should allow offers: %+v", updated)
	}
}

func Test_UpdateProfile_RejectsForeignRate(t *testing.T) {
	db := openTestDB(t)
	doc := seedUser(t, db, models.RoleClinician, "doc")
	other := seedUser(t, db, models.RoleClinician, "other")
	tpl := models.ConsultationTemplate{
		SessionType: models.SessionConsultation, Duration: 20, Fee: models.DefaultPlatformFee,
	}
	if err := db.Create(&tpl).Error; err != nil {
		t.Fatal(err)
	}
	foreign := models.ConsultationRate{TemplateID: tpl.ID, UserID: other, AllowOffered: true}
	if err := db.Create(&foreign).Error; err != nil {
		t.Fatal(err)
	}

	h := NewHandler(db, nil)
	app := newTestApp(h, doc, string(models.RoleClinician))

	code, out := doJSON(t, app, "PUT", "/api/profile", fiber.Map{
		"first_name": "Pat",
		"last_name":  "Doe",
		"npi_number": "1234567890",
		"rates": []fiber.Map{
			{"id": foreign.ID.String(), "rate": "80", "allow_offered": false},
		},
	})
	if code != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %v", code, out)
	}
	errs := out["errors"].(map[string]any)
	if _, ok := errs["rates"]; !ok {
		t.Fatalf("missing rates error: %v", errs)
	}
}

/* ============================================================================
   Tests — dashboard
   ============================================================================ */

func Test_Dashboard_CountsAndEarnings(t *testing.T) {
	db := openTestDB(t)
	doc := seedUser(t, db, models.RoleClinician, "doc")
	student := seedUser(t, db, models.RoleStudent, "stud")

	mk := func(from, to uuid.UUID, cost int64) {
		cons := models.Consultation{
			FromUserID: from, ToUserID: to,
			Status: models.ConsultationCompleted, SessionType: models.SessionConsultation,
			Duration: 20, Cost: decimal.NewFromInt(cost), Fee: decimal.NewFromFloat(0.05),
		}
		if err := db.Create(&cons).Error; err != nil {
			t.Fatal(err)
		}
	}
	mk(student, doc, 100)
	mk(student, doc, 50)
	mk(doc, student, 70) // doc requested this one

	h := NewHandler(db, nil)
	app := newTestApp(h, doc, string(models.RoleClinician))

	code, out := doJSON(t, app, "GET", "/api/profile/dashboard", nil)
	if code != fiber.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if out["consultation_count"] != float64(2) {
		t.Fatalf("consultation_count = %v, want 2", out["consultation_count"])
	}
	if out["request_count"] != float64(1) {
		t.Fatalf("request_count = %v, want 1", out["request_count"])
	}
	earnings, _ := decimal.NewFromString(out["earnings"].(string))
	if !earnings.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("earnings = %s, want 150", earnings)
	}
}

/* ============================================================================
   Tests — connected account
   ============================================================================ */

func Test_ConnectedAccount_LinkAndStatus(t *testing.T) {
	db := openTestDB(t)
	doc := seedUser(t, db, models.RoleClinician, "doc")

	h := NewHandler(db, payments.NewManager(stubProvider{}))
	app := newTestApp(h, doc, string(models.RoleClinician))

	code, out := doJSON(t, app, "POST", "/api/profile/connected-account", nil)
	if code != fiber.StatusOK {
		t.Fatalf("status = %d: %v", code, out)
	}
	if out["url"] != "https://connect.example/acct_stub" {
		t.Fatalf("url = %v", out["url"])
	}

	code, out = doJSON(t, app, "GET", "/api/profile/connected-account", nil)
	if code != fiber.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if out["details_submitted"] != true || out["charges_enabled"] != false {
		t.Fatalf("unexpected status payload: %v", out)
	}
}

/* ============================================================================
   Tests — contacts
   ============================================================================ */

func Test_Contacts_AddListRemove(t *testing.T) {
	db := openTestDB(t)
	caller := seedUser(t, db, models.RoleStudent, "caller")
	doc := seedUser(t, db, models.RoleClinician, "doc")

	h := NewHandler(db, nil)
	app := newTestApp(h, caller, string(models.RoleStudent))

	code, _ := doJSON(t, app, "POST", "/api/contacts", fiber.Map{"contact_id": doc.String()})
	if code != fiber.StatusCreated {
		t.Fatalf("add status = %d, want 201", code)
	}

	// Same pair twice is rejected.
	code, out := doJSON(t, app, "POST", "/api/contacts", fiber.Map{"contact_id": doc.String()})
	if code != fiber.StatusBadRequest {
		t.Fatalf("duplicate add status = %d, want 400: %v", code, out)
	}

	// Self-contact is rejected.
	code, _ = doJSON(t, app, "POST", "/api/contacts", fiber.Map{"contact_id": caller.String()})
	if code != fiber.StatusBadRequest {
		t.Fatalf("self add status = %d, want 400", code)
	}

	code, out = doJSON(t, app, "GET", "/api/contacts", nil)
	if code != fiber.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if total := out["total"].(float64); total != 1 {
		t.Fatalf("total = %v, want 1", total)
	}

	code, _ = doJSON(t, app, "DELETE", "/api/contacts/"+doc.String(), nil)
	if code != fiber.StatusNoContent {
		t.Fatalf("remove status = %d, want 204", code)
	}
	code, _ = doJSON(t, app, "DELETE", "/api/contacts/"+doc.String(), nil)
	if code != fiber.StatusNotFound {
		t.Fatalf("second remove status = %d, want 404", code)
	}
}
