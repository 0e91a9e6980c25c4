package videos

import (
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/quytrungg/wrdoc-backend/pkg/validation"
)

// Request body for POST /videos/auth
type AuthRequest struct {
	TPC          string `json:"tpc" validate:"required,max=200"`
	RoleType     string `json:"role_type" validate:"required,oneof=0 1"`
	SessionKey   string `json:"session_key" validate:"max=36"`
	UserIdentity string `json:"user_identity" validate:"max=35"`
}

type Handler struct {
	appKey    string
	secretKey string
}

func NewHandler() *Handler {
	return &Handler{
		appKey:    os.Getenv("ZOOM_VIDEO_APP_KEY"),
		secretKey: os.Getenv("ZOOM_VIDEO_SECRET_KEY"),
	}
}

// @Summary      Video session signature
// @Description  Issues a signed token for joining a video session
// @Tags         videos
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  AuthRequest  true  "Session payload"
// @Success      200  {object}  map[string]string  "signature"
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /videos/auth [post]
func (h *Handler) Auth(c *fiber.Ctx) error {
	var in AuthRequest
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
	// Hosts open the session, so they must name its key up front.
	if in.RoleType == "1" && in.SessionKey == "" {
		errs["session_key"] = append(errs["session_key"], "This field is required")
	}
	if len(errs) > 0 {
		return validation.Respond(c, errs)
	}

	roleType, _ := strconv.Atoi(in.RoleType)
	iat := time.Now().Unix()
	claims := jwt.MapClaims{
		"app_key":   h.appKey,
		"version":   1,
		"iat":       iat,
		"exp":       iat + 86400,
		"tpc":       in.TPC,
		"role_type": roleType,
	}
	if in.SessionKey != "" {
		claims["session_key"] = in.SessionKey
	}
	if in.UserIdentity != "" {
		claims["user_identity"] = in.UserIdentity
	}

	signature, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte(h.secretKey))
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"signature": signature})
}
