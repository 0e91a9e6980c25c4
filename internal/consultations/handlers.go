package consultations

import (
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quytrungg/wrdoc-backend/internal/auth"
	"github.com/quytrungg/wrdoc-backend/internal/payments"
	"github.com/quytrungg/wrdoc-backend/internal/storage"
	"github.com/quytrungg/wrdoc-backend/pkg/models"
	"github.com/quytrungg/wrdoc-backend/pkg/utils"
	"github.com/quytrungg/wrdoc-backend/pkg/validation"
)

/* ================================ DTOs ================================= */

type AttachmentInput struct {
	Name string `json:"name" validate:"max=50"`
	File string `json:"file" validate:"omitempty,max=1000"`
}

type CreateConsultationRequest struct {
	ToUser      string            `json:"to_user" validate:"required,uuid4"`
	SessionType string            `json:"session_type" validate:"required,oneof=consultation mentorship"`
	Duration    int               `json:"duration" validate:"required,gt=0"`
	Cost        decimal.Decimal   `json:"cost"`
	Fee         decimal.Decimal   `json:"fee"`
	Description string            `json:"description" validate:"max=1000"`
	Note        string            `json:"note" validate:"max=1000"`
	Attachments []AttachmentInput `json:"attachments" validate:"omitempty,dive"`
}

// Update body: nil means "not provided". Field edits are only allowed while
// the consultation is still requested; note stays editable throughout.
type UpdateConsultationRequest struct {
	Status      *string            `json:"status"`
	Description *string            `json:"description"`
	Note        *string            `json:"note"`
	Duration    *int               `json:"duration"`
	Cost        *decimal.Decimal   `json:"cost"`
	Fee         *decimal.Decimal   `json:"fee"`
	Attachments *[]AttachmentInput `json:"attachments"`
}

type ConsultationResponse struct {
	ID          uuid.UUID                       `json:"id"`
	FromUser    models.User                     `json:"from_user"`
	ToUser      models.User                     `json:"to_user"`
	Status      models.ConsultationStatus       `json:"status"`
	Created     string                          `json:"created"`
	SessionType models.SessionType              `json:"session_type"`
	Attachments []models.ConsultationAttachment `json:"attachments"`
	Description string                          `json:"description"`
	Note        string                          `json:"note"`
	Duration    int                             `json:"duration"`
	Cost        decimal.Decimal                 `json:"cost"`
	Fee         decimal.Decimal                 `json:"fee"`
	TotalCost   decimal.Decimal                 `json:"total_cost"`
	CompletedAt *time.Time                      `json:"completed_at"`
}

func newConsultationResponse(c *models.Consultation) ConsultationResponse {
	attachments := c.Attachments
	if attachments == nil {
		attachments = []models.ConsultationAttachment{}
	}
	return ConsultationResponse{
		ID:          c.ID,
		FromUser:    c.FromUser,
		ToUser:      c.ToUser,
		Status:      c.Status,
		Created:     c.CreatedAt.Format("2006-01-02 15:04"),
		SessionType: c.SessionType,
		Attachments: attachments,
		Description: c.Description,
		Note:        c.Note,
		Duration:    c.Duration,
		Cost:        c.Cost,
		Fee:         c.Fee,
		TotalCost:   c.TotalCost(),
		CompletedAt: c.CompletedAt,
	}
}

/* ============================== Handler ================================= */

type Handler struct {
	db       *gorm.DB
	payments *payments.Manager
	sb       *storage.Supabase
}

func NewHandler(db *gorm.DB, pm *payments.Manager, sb *storage.Supabase) *Handler {
	return &Handler{db: db, payments: pm, sb: sb}
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

/* =============================== Create ================================= */

// @Summary      Request a consultation
// @Description  Create a consultation request; cost is validated against the recipient's rate
// @Tags         consultations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateConsultationRequest  true  "Consultation payload"
// @Success      201  {object}  ConsultationResponse
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /consultations [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	fromID, _ := uuid.Parse(auth.MustUserID(c))

	var in CreateConsultationRequest
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
	if !in.Cost.IsPositive() {
		errs["cost"] = append(errs["cost"], "Cost should be greater than 0")
	}
	if in.Fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs["fee"] = append(errs["fee"], "Fee rate should be less than 1")
	}

	toID, parseErr := uuid.Parse(in.ToUser)
	if parseErr == nil {
		if toID == fromID {
			errs["to_user"] = append(errs["to_user"], "Can't send consultation to this user")
		} else {
			var cnt int64
			if err := h.db.Model(&models.User{}).Where("id = ?", toID).Count(&cnt).Error; err != nil {
				return fiber.ErrInternalServerError
			}
			if cnt == 0 {
				errs["to_user"] = append(errs["to_user"], "User does not exist")
			}
		}
	}
	if len(errs) > 0 {
		return validation.Respond(c, errs)
	}

	// Rate resolution runs once, at creation; cost is immutable once the
	// consultation leaves requested.
	if _, err := ResolveRate(h.db, toID, models.SessionType(in.SessionType), in.Duration, in.Cost); err != nil {
		if errors.Is(err, ErrRateNotFound) || errors.Is(err, ErrCantOfferCost) {
			return validation.RespondNonField(c, err.Error())
		}
		return fiber.ErrInternalServerError
	}

	cons := models.Consultation{
		FromUserID:  fromID,
		ToUserID:    toID,
		Status:      models.ConsultationRequested,
		SessionType: models.SessionType(in.SessionType),
		Description: in.Description,
		Note:        in.Note,
		Duration:    in.Duration,
		Cost:        in.Cost,
		Fee:         in.Fee,
	}
	txErr := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&cons).Error; err != nil {
			return err
		}
		return h.replaceAttachments(tx, &cons, in.Attachments)
	})
	if txErr != nil {
		return fiber.ErrInternalServerError
	}

	if err := h.db.
		Preload("FromUser").Preload("ToUser").Preload("Attachments").
		First(&cons, "id = ?", cons.ID).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(newConsultationResponse(&cons))
}

// replaceAttachments swaps the consultation's attachment set. Old storage
// objects are removed best-effort; the rows are the source of truth.
func (h *Handler) replaceAttachments(tx *gorm.DB, cons *models.Consultation, in []AttachmentInput) error {
	var old []models.ConsultationAttachment
	if err := tx.Where("consultation_id = ?", cons.ID).Find(&old).Error; err != nil {
		return err
	}
	if len(old) > 0 {
		if err := tx.Where("consultation_id = ?", cons.ID).
			Delete(&models.ConsultationAttachment{}).Error; err != nil {
			return err
		}
		keys := make([]string, 0, len(old))
		for _, a := range old {
			keys = append(keys, a.File)
		}
		_ = h.sb.BulkDelete(keys)
	}
	for _, a := range in {
		rec := models.ConsultationAttachment{
			ConsultationID: cons.ID,
			Name:           a.Name,
			File:           h.sb.KeyFromURL(a.File),
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
	}
	return nil
}

/* ============================ List / Retrieve =========================== */

// @Summary      List consultations
// @Description  Consultations where the caller is requester or recipient
// @Tags         consultations
// @Security     BearerAuth
// @Produce      json
// @Param        page            query int    false "page"
// @Param        pageSize        query int    false "pageSize"
// @Param        status          query string false "status filter"
// @Param        requested_from  query bool   false "caller is requester"
// @Param        requested_to    query bool   false "caller is recipient"
// @Success      200  {object}  map[string]any
// @Failure      401  {object}  models.ErrorResponse
// @Router       /consultations [get]
func (h *Handler) List(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	page, size := parsePage(c)

	q := h.db.Model(&models.Consultation{}).
		Where("from_user_id = ? OR to_user_id = ?", userID, userID)

	if status := c.Query("status"); status != "" {
		if _, ok := TransitionTo(models.ConsultationStatus(status)); !ok &&
			models.ConsultationStatus(status) != models.ConsultationRequested {
			return fiber.NewError(fiber.StatusBadRequest, "invalid status filter")
		}
		q = q.Where("status = ?", status)
	}
	if c.QueryBool("requested_from") {
		q = q.Where("from_user_id = ?", userID)
	}
	if c.QueryBool("requested_to") {
		q = q.Where("to_user_id = ?", userID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var rows []models.Consultation
	if err := q.
		Preload("FromUser").Preload("ToUser").Preload("Attachments").
		Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	items := make([]ConsultationResponse, 0, len(rows))
	for i := range rows {
		items = append(items, newConsultationResponse(&rows[i]))
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": items,
	})
}

// @Summary      Consultation detail
// @Tags         consultations
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "consultation id (uuid)"
// @Success      200  {object}  ConsultationResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /consultations/{id} [get]
func (h *Handler) Get(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)

	var cons models.Consultation
	err := h.db.
		Where("id = ? AND (from_user_id = ? OR to_user_id = ?)", c.Params("id"), userID, userID).
		Preload("FromUser").Preload("ToUser").Preload("Attachments").
		First(&cons).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	return c.JSON(newConsultationResponse(&cons))
}

/* =============================== Update ================================= */

// @Summary      Update a consultation
// @Description  Trigger a status transition and/or edit fields (fields only while requested)
// @Tags         consultations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string                      true  "consultation id (uuid)"
// @Param        payload  body  UpdateConsultationRequest   true  "Update payload"
// @Success      200  {object}  ConsultationResponse
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /consultations/{id} [put]
func (h *Handler) Update(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	actorID, _ := uuid.Parse(userID)

	var in UpdateConsultationRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}

	var targetStatus models.ConsultationStatus
	if in.Status != nil {
		targetStatus = models.ConsultationStatus(*in.Status)
		if _, ok := TransitionTo(targetStatus); !ok {
			return validation.Respond(c, map[string][]string{
				"status": {"Value is not allowed"},
			})
		}
	}

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	// Lock the row so concurrent transitions and checkout creation serialize.
	var cons models.Consultation
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND (from_user_id = ? OR to_user_id = ?)", c.Params("id"), userID, userID).
		First(&cons).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	prevStatus := cons.Status

	// Object-level permissions are evaluated against the intended new
	// status, before the state machine runs.
	if in.Status != nil {
		switch targetStatus {
		case models.ConsultationAccepted, models.ConsultationDeclined:
			if cons.ToUserID != actorID {
				tx.Rollback()
				return fiber.ErrForbidden
			}
		case models.ConsultationCancelled:
			if prevStatus == models.ConsultationRequested && cons.FromUserID != actorID {
				tx.Rollback()
				return fiber.ErrForbidden
			}
		}
	}

	if errs := h.validateUpdate(&cons, &in); len(errs) > 0 {
		tx.Rollback()
		return validation.Respond(c, errs)
	}

	if in.Status != nil {
		transition, _ := TransitionTo(targetStatus)
		if err := transition(&cons); err != nil {
			tx.Rollback()
			var actionErr *ActionError
			if errors.As(err, &actionErr) {
				return validation.RespondNonField(c, actionErr.Message)
			}
			return fiber.ErrInternalServerError
		}
	}

	// Apply edits gated on the pre-transition status; note is always editable.
	if in.Note != nil {
		cons.Note = *in.Note
	}
	if prevStatus == models.ConsultationRequested {
		if in.Description != nil {
			cons.Description = *in.Description
		}
		if in.Duration != nil {
			cons.Duration = *in.Duration
		}
		if in.Cost != nil {
			cons.Cost = *in.Cost
		}
		if in.Fee != nil {
			cons.Fee = *in.Fee
		}
		if in.Attachments != nil {
			if err := h.replaceAttachments(tx, &cons, *in.Attachments); err != nil {
				tx.Rollback()
				return fiber.ErrInternalServerError
			}
		}
	}

	if err := tx.Save(&cons).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}

	if cons.Status != prevStatus {
		utils.LogStatusChange(c.Context(), h.db, cons.ID, actorID, prevStatus, cons.Status)
	}

	if err := h.db.
		Preload("FromUser").Preload("ToUser").Preload("Attachments").
		First(&cons, "id = ?", cons.ID).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(newConsultationResponse(&cons))
}

// validateUpdate collects one error per offending field instead of failing
// fast, so the client sees everything wrong with the request at once.
func (h *Handler) validateUpdate(cons *models.Consultation, in *UpdateConsultationRequest) map[string][]string {
	errs := map[string][]string{}

	if in.Duration != nil && *in.Duration <= 0 {
		errs["duration"] = append(errs["duration"], "Duration should be greater than 0")
	}
	if in.Cost != nil && !in.Cost.IsPositive() {
		errs["cost"] = append(errs["cost"], "Cost should be greater than 0")
	}
	if in.Fee != nil && in.Fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs["fee"] = append(errs["fee"], "Fee rate should be less than 1")
	}

	if cons.Status == models.ConsultationRequested {
		return errs
	}
	if in.Duration != nil && *in.Duration != cons.Duration {
		errs["duration"] = append(errs["duration"], "Cannot edit duration after accept/decline")
	}
	if in.Cost != nil && !in.Cost.Equal(cons.Cost) {
		errs["cost"] = append(errs["cost"], "Cannot edit cost after accept/decline")
	}
	if in.Fee != nil && !in.Fee.Equal(cons.Fee) {
		errs["fee"] = append(errs["fee"], "Cannot edit fee after accept/decline")
	}
	if in.Description != nil && *in.Description != cons.Description {
		errs["description"] = append(errs["description"], "Cannot edit description after accept/decline")
	}
	if in.Attachments != nil {
		errs["attachments"] = append(errs["attachments"], "Cannot edit attachments after accept/decline")
	}
	return errs
}

/* ============================== Checkout ================================ */

// @Summary      Start checkout
// @Description  Recipient starts (or resumes) the payment checkout session
// @Tags         consultations
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "consultation id (uuid)"
// @Success      200  {object}  map[string]string  "client_secret"
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /consultations/{id}/checkout [post]
func (h *Handler) Checkout(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	// Lock prevents two concurrent requests from both observing "no live
	// session" and creating duplicate provider sessions. The lookup is
	// participant-scoped so strangers see 404, not 403.
	var cons models.Consultation
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND (from_user_id = ? OR to_user_id = ?)", c.Params("id"), userID, userID).
		First(&cons).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if cons.ToUserID.String() != userID {
		tx.Rollback()
		return fiber.ErrForbidden
	}
	if err := tx.First(&cons.FromUser, "id = ?", cons.FromUserID).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	session, err := h.payments.CheckoutSession(tx, &cons)
	if err != nil {
		tx.Rollback()
		return fiber.NewError(fiber.StatusInternalServerError, "payment provider error")
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.JSON(fiber.Map{"client_secret": session.ClientSecret})
}

/* ========================= Templates and Rates ========================== */

// @Summary      List price templates
// @Tags         consultations
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  map[string]any
// @Router       /consultations/templates [get]
func (h *Handler) ListTemplates(c *fiber.Ctx) error {
	var templates []models.ConsultationTemplate
	if err := h.db.Order("session_type, duration").Find(&templates).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"results": templates})
}

type rateItem struct {
	ID           uuid.UUID          `json:"id"`
	Template     uuid.UUID          `json:"template"`
	SessionType  models.SessionType `json:"session_type"`
	Duration     int                `json:"duration"`
	Rate         *decimal.Decimal   `json:"rate"`
	Fee          decimal.Decimal    `json:"fee"`
	AllowOffered bool               `json:"allow_offered"`
}

// @Summary      List a user's rates
// @Tags         consultations
// @Security     BearerAuth
// @Produce      json
// @Param        userID  path  string  true  "user id (uuid)"
// @Success      200  {object}  map[string]any
// @Router       /consultations/rates/{userID} [get]
func (h *Handler) ListRates(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid user id")
	}

	var rates []models.ConsultationRate
	if err := h.db.Preload("Template").
		Where("user_id = ?", userID).
		Find(&rates).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	results := make([]rateItem, 0, len(rates))
	for _, r := range rates {
		results = append(results, rateItem{
			ID:           r.ID,
			Template:     r.TemplateID,
			SessionType:  r.Template.SessionType,
			Duration:     r.Template.Duration,
			Rate:         r.Rate,
			Fee:          r.Template.Fee,
			AllowOffered: r.AllowOffered,
		})
	}
	return c.JSON(fiber.Map{"results": results})
}

/* ============================= Attachments ============================== */

// @Summary      Get signed URL
// @Description  Requester or recipient obtains a short-lived signed URL for an attachment
// @Tags         attachments
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "attachment id (uuid)"
// @Success      200  {object}  map[string]any  "url, expires_in, now"
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /attachments/{id}/signed-url [get]
func (h *Handler) SignedAttachmentURL(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)

	var att models.ConsultationAttachment
	if err := h.db.First(&att, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	var cnt int64
	if err := h.db.Model(&models.Consultation{}).
		Where("id = ? AND (from_user_id = ? OR to_user_id = ?)", att.ConsultationID, userID, userID).
		Count(&cnt).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if cnt == 0 {
		return fiber.ErrForbidden
	}

	url, err := h.sb.SignedURL(att.File, 60) // seconds
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"url": url, "expires_in": 60, "now": time.Now().UTC()})
}
