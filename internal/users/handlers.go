package users

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/quytrungg/wrdoc-backend/internal/auth"
	"github.com/quytrungg/wrdoc-backend/internal/payments"
	"github.com/quytrungg/wrdoc-backend/pkg/models"
	"github.com/quytrungg/wrdoc-backend/pkg/validation"
)

/* ================================ DTOs ================================= */

type UserItem struct {
	models.User
	HasContact    bool  `json:"has_contact"`
	TotalContacts int64 `json:"total_contacts"`
}

// Request body for PUT /profile
type UpdateProfileRequest struct {
	FirstName     string   `json:"first_name" validate:"required,max=30"`
	LastName      string   `json:"last_name" validate:"required,max=30"`
	Entity        string   `json:"entity" validate:"max=255"`
	Pronoun       string   `json:"pronoun" validate:"max=30"`
	Credentials   string   `json:"credentials" validate:"max=255"`
	ClinicianType string   `json:"clinician_type" validate:"max=50"`
	Specialty     []string `json:"specialty" validate:"max=3"`
	SpecialtyArea string   `json:"specialty_area" validate:"max=255"`
	Description   string   `json:"description" validate:"max=1024"`
	Avatar        string   `json:"avatar" validate:"max=512"`

	NPINumber      string `json:"npi_number" validate:"omitempty,tendigits"`
	GraduationDate string `json:"graduation_date" validate:"omitempty,datetime=2006-01-02"`

	PracticeState string `json:"primary_region_practice_state" validate:"max=20"`
	PracticeZip   string `json:"primary_region_practice_zip" validate:"omitempty,uszip"`
	AddressState  string `json:"address_state" validate:"max=20"`
	AddressZip    string `json:"address_zip" validate:"omitempty,uszip"`
	Address       string `json:"address" validate:"max=255"`
	PhoneNumber   string `json:"phone_number" validate:"omitempty,tendigits"`
	FaxNumber     string `json:"fax_number" validate:"omitempty,tendigits"`

	AllowNotifications bool `json:"allow_notifications"`

	// Existing rate rows may be repriced; rows are never created or deleted
	// through the profile.
	Rates []RateUpdate `json:"rates" validate:"omitempty,len=4,dive"`
}

type RateUpdate struct {
	ID           string           `json:"id" validate:"required,uuid4"`
	Rate         *decimal.Decimal `json:"rate"`
	AllowOffered bool             `json:"allow_offered"`
}

// Request body for POST /contacts
type AddContactRequest struct {
	ContactID string `json:"contact_id" validate:"required,uuid4"`
}

/* ============================== Handler ================================= */

type Handler struct {
	db       *gorm.DB
	payments *payments.Manager
}

func NewHandler(db *gorm.DB, pm *payments.Manager) *Handler {
	return &Handler{db: db, payments: pm}
}

func parsePage(c *fiber.Ctx) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	size, _ = strconv.Atoi(c.Query("pageSize", "10"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 50 {
		size = 10
	}
	return
}

// annotate attaches has_contact/total_contacts to a page of users with two
// grouped queries instead of per-row lookups.
func (h *Handler) annotate(callerID string, users []models.User) ([]UserItem, error) {
	ids := make([]uuid.UUID, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}

	contactMap := map[uuid.UUID]bool{}
	totals := map[uuid.UUID]int64{}
	if len(ids) > 0 {
		var contactIDs []uuid.UUID
		if err := h.db.Model(&models.Contact{}).
			Where("owner_id = ? AND contact_id IN ?", callerID, ids).
			Pluck("contact_id", &contactIDs).Error; err != nil {
			return nil, err
		}
		for _, id := range contactIDs {
			contactMap[id] = true
		}

		var rows []struct {
			OwnerID uuid.UUID
			Total   int64
		}
		if err := h.db.Model(&models.Contact{}).
			Select("owner_id, COUNT(*) AS total").
			Where("owner_id IN ?", ids).
			Group("owner_id").
			Scan(&rows).Error; err != nil {
			return nil, err
		}
		for _, r := range rows {
			totals[r.OwnerID] = r.Total
		}
	}

	items := make([]UserItem, 0, len(users))
	for _, u := range users {
		items = append(items, UserItem{
			User:          u,
			HasContact:    contactMap[u.ID],
			TotalContacts: totals[u.ID],
		})
	}
	return items, nil
}

/* ============================ Users directory =========================== */

// @Summary      List users
// @Description  Search the directory (excludes the caller)
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Param        page            query int    false "page"
// @Param        pageSize        query int    false "pageSize"
// @Param        search          query string false "name/username/entity/specialty search"
// @Param        clinician_type  query string false "exact clinician type"
// @Param        specialty       query string false "specialty contains"
// @Success      200  {object}  map[string]any
// @Router       /users [get]
func (h *Handler) List(c *fiber.Ctx) error {
	callerID := auth.MustUserID(c)
	page, size := parsePage(c)

	q := h.db.Model(&models.User{}).Where("id <> ?", callerID)

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		like := "%" + search + "%"
		q = q.Where(
			h.db.Where("username ILIKE ?", like).
				Or("first_name ILIKE ?", like).
				Or("last_name ILIKE ?", like).
				Or("entity ILIKE ?", like).
				Or("specialty_area ILIKE ?", like).
				Or("specialty::text ILIKE ?", like),
		)
	}
	if ct := strings.TrimSpace(c.Query("clinician_type")); ct != "" {
		q = q.Where("clinician_type = ?", ct)
	}
	if sp := strings.TrimSpace(c.Query("specialty")); sp != "" {
		q = q.Where("specialty::text ILIKE ?", "%"+sp+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var rows []models.User
	if err := q.Order("username ASC").
		Offset((page - 1) * size).Limit(size).
		Find(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	items, err := h.annotate(callerID, rows)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": items,
	})
}

// @Summary      User detail
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "user id (uuid)"
// @Success      200  {object}  UserItem
// @Failure      404  {object}  models.ErrorResponse
// @Router       /users/{id} [get]
func (h *Handler) Get(c *fiber.Ctx) error {
	callerID := auth.MustUserID(c)

	var u models.User
	if err := h.db.First(&u, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	items, err := h.annotate(callerID, []models.User{u})
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(items[0])
}

/* =============================== Profile ================================ */

// @Summary      Get own profile
// @Tags         profile
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  models.User
// @Router       /profile [get]
func (h *Handler) GetProfile(c *fiber.Ctx) error {
	var u models.User
	if err := h.db.Preload("Rates").First(&u, "id = ?", auth.MustUserID(c)).Error; err != nil {
		return fiber.ErrUnauthorized
	}
	return c.JSON(u)
}

// @Summary      Update own profile
// @Tags         profile
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  UpdateProfileRequest  true  "Profile payload"
// @Success      200  {object}  models.User
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /profile [put]
func (h *Handler) UpdateProfile(c *fiber.Ctx) error {
	userID, _ := uuid.Parse(auth.MustUserID(c))

	var in UpdateProfileRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}

	errs, err := validation.Validate(in)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	if errs == nil {
		errs = map[string][]string{}
	}

	var u models.User
	if err := h.db.First(&u, "id = ?", userID).Error; err != nil {
		return fiber.ErrUnauthorized
	}
	if u.Role == models.RoleClinician && in.NPINumber == "" {
		errs["npi_number"] = append(errs["npi_number"], "Clinician must provide NPI number")
	}

	rateRows, rateErrs := h.resolveRateUpdates(userID, in.Rates)
	for field, msgs := range rateErrs {
		errs[field] = append(errs[field], msgs...)
	}
	if len(errs) > 0 {
		return validation.Respond(c, errs)
	}

	u.FirstName = strings.TrimSpace(in.FirstName)
	u.LastName = strings.TrimSpace(in.LastName)
	u.Entity = strings.TrimSpace(in.Entity)
	u.Pronoun = in.Pronoun
	u.Credentials = in.Credentials
	u.ClinicianType = in.ClinicianType
	u.Specialty = in.Specialty
	u.SpecialtyArea = in.SpecialtyArea
	u.Description = in.Description
	u.Avatar = in.Avatar
	u.NPINumber = in.NPINumber
	u.PracticeState = in.PracticeState
	u.PracticeZip = in.PracticeZip
	u.AddressState = in.AddressState
	u.AddressZip = in.AddressZip
	u.Address = in.Address
	u.PhoneNumber = in.PhoneNumber
	u.FaxNumber = in.FaxNumber
	u.AllowNotifications = in.AllowNotifications
	if in.GraduationDate != "" {
		t, _ := time.Parse("2006-01-02", in.GraduationDate)
		u.GraduationDate = &t
	}

	txErr := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&u).Error; err != nil {
			return err
		}
		for _, r := range rateRows {
			if err := tx.Model(&models.ConsultationRate{}).
				Where("id = ?", r.ID).
				Updates(map[string]any{
					"rate":          r.Rate,
					"allow_offered": r.AllowOffered,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		return fiber.ErrInternalServerError
	}

	if err := h.db.Preload("Rates").First(&u, "id = ?", userID).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(u)
}

// resolveRateUpdates checks repricing input against the caller's own rate
// rows.
func (h *Handler) resolveRateUpdates(userID uuid.UUID, in []RateUpdate) ([]models.ConsultationRate, map[string][]string) {
	if len(in) == 0 {
		return nil, nil
	}
	errs := map[string][]string{}
	rows := make([]models.ConsultationRate, 0, len(in))
	for _, r := range in {
		rateID, err := uuid.Parse(r.ID)
		if err != nil {
			errs["rates"] = append(errs["rates"], "Invalid rate id")
			continue
		}
		var cnt int64
		if err := h.db.Model(&models.ConsultationRate{}).
			Where("id = ? AND user_id = ?", rateID, userID).
			Count(&cnt).Error; err != nil || cnt == 0 {
			errs["rates"] = append(errs["rates"], "Rate does not exist")
			continue
		}
		if r.Rate != nil && !r.Rate.IsPositive() {
			errs["rates"] = append(errs["rates"], "Rate must be greater than 0")
			continue
		}
		// A row without a price must keep accepting offers.
		allowOffered := r.AllowOffered
		if r.Rate == nil {
			allowOffered = true
		}
		rows = append(rows, models.ConsultationRate{
			ID:           rateID,
			Rate:         r.Rate,
			AllowOffered: allowOffered,
		})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return rows, nil
}

/* ============================== Dashboard =============================== */

// @Summary      Dashboard stats
// @Description  Received/requested consultation counts and total earnings
// @Tags         profile
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  map[string]any
// @Router       /profile/dashboard [get]
func (h *Handler) Dashboard(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)

	var received, requested int64
	if err := h.db.Model(&models.Consultation{}).
		Where("to_user_id = ?", userID).Count(&received).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if err := h.db.Model(&models.Consultation{}).
		Where("from_user_id = ?", userID).Count(&requested).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var earnings decimal.Decimal
	if err := h.db.Model(&models.Consultation{}).
		Where("to_user_id = ?", userID).
		Select("COALESCE(SUM(cost), 0)").
		Scan(&earnings).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.JSON(fiber.Map{
		"consultation_count": received,
		"request_count":      requested,
		"earnings":           earnings,
	})
}

/* ========================== Connected account =========================== */

// @Summary      Create connected account link
// @Description  Returns the payment-provider onboarding URL for the caller
// @Tags         profile
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  map[string]string  "url"
// @Router       /profile/connected-account [post]
func (h *Handler) CreateConnectedAccount(c *fiber.Ctx) error {
	var u models.User
	if err := h.db.First(&u, "id = ?", auth.MustUserID(c)).Error; err != nil {
		return fiber.ErrUnauthorized
	}

	link, err := h.payments.AccountLink(h.db, &u)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"url": link.URL})
}

// @Summary      Connected account status
// @Tags         profile
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  map[string]bool  "details_submitted, charges_enabled"
// @Router       /profile/connected-account [get]
func (h *Handler) GetConnectedAccount(c *fiber.Ctx) error {
	var u models.User
	if err := h.db.First(&u, "id = ?", auth.MustUserID(c)).Error; err != nil {
		return fiber.ErrUnauthorized
	}

	account, err := h.payments.ConnectedAccount(h.db, &u)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{
		"details_submitted": account.DetailsSubmitted,
		"charges_enabled":   account.ChargesEnabled,
	})
}

/* =============================== Contacts =============================== */

// @Summary      List contacts
// @Tags         contacts
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int false "page"
// @Param        pageSize  query int false "pageSize"
// @Success      200  {object}  map[string]any
// @Router       /contacts [get]
func (h *Handler) ListContacts(c *fiber.Ctx) error {
	callerID := auth.MustUserID(c)
	page, size := parsePage(c)

	q := h.db.Model(&models.User{}).
		Joins("JOIN contacts ON contacts.contact_id = users.id").
		Where("contacts.owner_id = ?", callerID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var rows []models.User
	if err := q.Order("users.username ASC").
		Offset((page - 1) * size).Limit(size).
		Find(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	items, err := h.annotate(callerID, rows)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": items,
	})
}

// @Summary      Add a contact
// @Tags         contacts
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  AddContactRequest  true  "Contact payload"
// @Success      201  {object}  models.Contact
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /contacts [post]
func (h *Handler) AddContact(c *fiber.Ctx) error {
	callerID, _ := uuid.Parse(auth.MustUserID(c))

	var in AddContactRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	contactID, _ := uuid.Parse(in.ContactID)
	if contactID == callerID {
		return validation.Respond(c, map[string][]string{
			"contact_id": {"Can't add yourself as a contact"},
		})
	}
	var cnt int64
	if err := h.db.Model(&models.User{}).Where("id = ?", contactID).Count(&cnt).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if cnt == 0 {
		return validation.Respond(c, map[string][]string{
			"contact_id": {"User does not exist"},
		})
	}

	contact := models.Contact{OwnerID: callerID, ContactID: contactID}
	if err := h.db.Create(&contact).Error; err != nil {
		// Unique (owner, contact) pair
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "duplicate key") {
			return validation.Respond(c, map[string][]string{
				"contact_id": {"Contact already exists"},
			})
		}
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(contact)
}

// @Summary      Remove a contact
// @Tags         contacts
// @Security     BearerAuth
// @Param        id  path  string  true  "contact user id (uuid)"
// @Success      204  "removed"
// @Failure      404  {object}  models.ErrorResponse
// @Router       /contacts/{id} [delete]
func (h *Handler) RemoveContact(c *fiber.Ctx) error {
	callerID := auth.MustUserID(c)

	res := h.db.Where("owner_id = ? AND contact_id = ?", callerID, c.Params("id")).
		Delete(&models.Contact{})
	if res.Error != nil {
		return fiber.ErrInternalServerError
	}
	if res.RowsAffected == 0 {
		return fiber.ErrNotFound
	}
	return c.SendStatus(fiber.StatusNoContent)
}
