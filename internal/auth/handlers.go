package auth

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/quytrungg/wrdoc-backend/pkg/models"
	"github.com/quytrungg/wrdoc-backend/pkg/utils"
	"github.com/quytrungg/wrdoc-backend/pkg/validation"
)

/* ================================ DTOs ================================= */

// Per-template price supplied at registration.
type RateInput struct {
	TemplateID   string           `json:"template" validate:"required,uuid4"`
	Rate         *decimal.Decimal `json:"rate"`
	AllowOffered bool             `json:"allow_offered"`
}

// Request body for /signup
type SignupRequest struct {
	Role     string `json:"role" validate:"required,oneof=student clinician"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6,max=72"`

	FirstName     string   `json:"first_name" validate:"required,max=30"`
	LastName      string   `json:"last_name" validate:"required,max=30"`
	Entity        string   `json:"entity" validate:"max=255"`
	Pronoun       string   `json:"pronoun" validate:"max=30"`
	Credentials   string   `json:"credentials" validate:"max=255"`
	ClinicianType string   `json:"clinician_type" validate:"max=50"`
	Specialty     []string `json:"specialty" validate:"max=3"`
	SpecialtyArea string   `json:"specialty_area" validate:"max=255"`
	Description   string   `json:"description" validate:"max=1024"`

	NPINumber      string `json:"npi_number" validate:"omitempty,tendigits"`
	GraduationDate string `json:"graduation_date" validate:"omitempty,datetime=2006-01-02"`

	PracticeState string `json:"primary_region_practice_state" validate:"max=20"`
	PracticeZip   string `json:"primary_region_practice_zip" validate:"omitempty,uszip"`
	AddressState  string `json:"address_state" validate:"max=20"`
	AddressZip    string `json:"address_zip" validate:"omitempty,uszip"`
	Address       string `json:"address" validate:"max=255"`
	PhoneNumber   string `json:"phone_number" validate:"omitempty,tendigits"`
	FaxNumber     string `json:"fax_number" validate:"omitempty,tendigits"`

	// Optional explicit prices; when omitted a clinician gets default
	// offer-only rates for every template.
	Rates []RateInput `json:"rates" validate:"omitempty,len=4,dive"`
}

// Request body for /login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
}

// Standard auth response
type AuthResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

/* ============================== Handler ================================= */

type Handler struct{ db *gorm.DB }

func NewHandler(db *gorm.DB) *Handler { return &Handler{db: db} }

/* =============================== Signup ================================= */

// @Summary      Sign up
// @Description  Register a new user (student or clinician)
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body  SignupRequest  true  "Signup payload"
// @Success      201      {object}  AuthResponse
// @Failure      400      {object}  models.ValidationErrorResponse
// @Failure      409      {object}  models.ErrorResponse  "email or username already exists"
// @Router       /signup [post]
func (h *Handler) Signup(c *fiber.Ctx) error {
	var in SignupRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}

	// Normalize email
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	errs, err := validation.Validate(in)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	if errs == nil {
		errs = map[string][]string{}
	}
	if models.Role(in.Role) == models.RoleClinician && in.NPINumber == "" {
		errs["npi_number"] = append(errs["npi_number"], "Clinician must provide NPI number")
	}
	rates, rateErrs := h.parseRates(in.Rates)
	for field, msgs := range rateErrs {
		errs[field] = append(errs[field], msgs...)
	}
	if len(errs) > 0 {
		return validation.Respond(c, errs)
	}

	// Hash password
	hash, _ := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)

	u := models.User{
		Email:         in.Email,
		PasswordHash:  string(hash),
		Role:          models.Role(in.Role),
		Username:      strings.TrimSpace(in.Username),
		FirstName:     strings.TrimSpace(in.FirstName),
		LastName:      strings.TrimSpace(in.LastName),
		Entity:        strings.TrimSpace(in.Entity),
		Pronoun:       in.Pronoun,
		Credentials:   in.Credentials,
		ClinicianType: in.ClinicianType,
		Specialty:     in.Specialty,
		SpecialtyArea: in.SpecialtyArea,
		Description:   in.Description,
		NPINumber:     in.NPINumber,
		PracticeState: in.PracticeState,
		PracticeZip:   in.PracticeZip,
		AddressState:  in.AddressState,
		AddressZip:    in.AddressZip,
		Address:       in.Address,
		PhoneNumber:   in.PhoneNumber,
		FaxNumber:     in.FaxNumber,
	}
	if in.GraduationDate != "" {
		t, _ := time.Parse("2006-01-02", in.GraduationDate)
		u.GraduationDate = &t
	}

	txErr := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&u).Error; err != nil {
			return err
		}
		if len(rates) > 0 {
			for i := range rates {
				rates[i].UserID = u.ID
			}
			return tx.Create(&rates).Error
		}
		if u.Role == models.RoleClinician {
			return utils.CreateDefaultRates(tx, u.ID)
		}
		return nil
	})
	if txErr != nil {
		return fiber.NewError(fiber.StatusConflict, "email or username already exists")
	}

	token, _ := IssueToken(u.ID.String(), string(u.Role))
	return c.Status(fiber.StatusCreated).JSON(AuthResponse{Token: token, Role: string(u.Role)})
}

// parseRates validates registration rates against the template catalog.
func (h *Handler) parseRates(in []RateInput) ([]models.ConsultationRate, map[string][]string) {
	if len(in) == 0 {
		return nil, nil
	}
	errs := map[string][]string{}
	seen := map[uuid.UUID]bool{}
	rates := make([]models.ConsultationRate, 0, len(in))
	for _, r := range in {
		tplID, err := uuid.Parse(r.TemplateID)
		if err != nil {
			errs["rates"] = append(errs["rates"], "Invalid template id")
			continue
		}
		if seen[tplID] {
			errs["rates"] = append(errs["rates"], "Can't create rates with duplicate templates")
			continue
		}
		seen[tplID] = true

		var cnt int64
		if err := h.db.Model(&models.ConsultationTemplate{}).
			Where("id = ?", tplID).Count(&cnt).Error; err != nil || cnt == 0 {
			errs["rates"] = append(errs["rates"], "Template does not exist")
			continue
		}
		if r.Rate != nil && !r.Rate.IsPositive() {
			errs["rates"] = append(errs["rates"], "Rate must be greater than 0")
			continue
		}
		if r.Rate == nil && !r.AllowOffered {
			errs["rates"] = append(errs["rates"], "Must allow offered if rate is not provided yet")
			continue
		}
		rates = append(rates, models.ConsultationRate{
			TemplateID:   tplID,
			Rate:         r.Rate,
			AllowOffered: r.AllowOffered,
		})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return rates, nil
}

/* ================================ Login ================================= */

// @Summary      Login
// @Description  Authenticate and receive a JWT
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body  LoginRequest  true  "Login payload"
// @Success      200      {object}  AuthResponse
// @Failure      400      {object}  models.ValidationErrorResponse
// @Failure      401      {object}  models.ErrorResponse
// @Router       /login [post]
func (h *Handler) Login(c *fiber.Ctx) error {
	var in LoginRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}

	// Normalize email
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var u models.User
	if err := h.db.Where("email = ?", in.Email).First(&u).Error; err != nil {
		return fiber.ErrUnauthorized
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)) != nil {
		return fiber.ErrUnauthorized
	}

	token, _ := IssueToken(u.ID.String(), string(u.Role))
	return c.JSON(AuthResponse{Token: token, Role: string(u.Role)})
}

/* ================================= Me =================================== */

// @Summary      Get current user profile
// @Description  Return full profile of the authenticated user
// @Tags         auth
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  models.User
// @Failure      401  {object}  models.ErrorResponse
// @Router       /me [get]
func (h *Handler) Me(c *fiber.Ctx) error {
	userID := c.Locals("userID")
	if userID == nil {
		return fiber.ErrUnauthorized
	}

	var u models.User
	if err := h.db.First(&u, "id = ?", userID).Error; err != nil {
		return fiber.ErrUnauthorized
	}
	return c.JSON(u)
}
