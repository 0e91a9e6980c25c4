package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

/* =============================== Enums ================================== */

// Role defines the type of user in the system.
type Role string

const (
	RoleStudent   Role = "student"
	RoleClinician Role = "clinician"
)

// ConsultationStatus defines lifecycle states for a consultation.
type ConsultationStatus string

const (
	ConsultationRequested  ConsultationStatus = "requested"
	ConsultationAccepted   ConsultationStatus = "accepted"
	ConsultationDeclined   ConsultationStatus = "declined"
	ConsultationInProgress ConsultationStatus = "in_progress"
	ConsultationCompleted  ConsultationStatus = "completed"
	ConsultationCancelled  ConsultationStatus = "cancelled"
)

// SessionType defines the kinds of sessions a consultation can book.
type SessionType string

const (
	SessionConsultation SessionType = "consultation"
	SessionMentorship   SessionType = "mentorship"
)

// DefaultPlatformFee is the platform cut applied to catalog templates.
var DefaultPlatformFee = decimal.NewFromFloat(0.05)

/* =============================== Entities =============================== */

// User represents a student or clinician.
type User struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Email         string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash  string    `gorm:"not null" json:"-"`
	Role          Role      `gorm:"type:varchar(20);not null" json:"role"`
	Username      string    `gorm:"uniqueIndex;not null" json:"username"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Entity        string    `json:"entity"`
	Pronoun       string    `json:"pronoun"`
	Credentials   string    `json:"credentials"`
	ClinicianType string    `gorm:"type:varchar(50)" json:"clinician_type"`
	Specialty     []string  `gorm:"serializer:json" json:"specialty"`
	SpecialtyArea string    `json:"specialty_area"`
	Description   string    `gorm:"type:text" json:"description"`
	Avatar        string    `gorm:"type:varchar(512)" json:"avatar"`

	NPINumber      string     `gorm:"type:varchar(10)" json:"npi_number"`
	GraduationDate *time.Time `json:"graduation_date"`

	PracticeState string `gorm:"type:varchar(20)" json:"primary_region_practice_state"`
	PracticeZip   string `gorm:"type:varchar(10)" json:"primary_region_practice_zip"`
	AddressState  string `gorm:"type:varchar(20)" json:"address_state"`
	AddressZip    string `gorm:"type:varchar(10)" json:"address_zip"`
	Address       string `json:"address"`
	PhoneNumber   string `gorm:"type:varchar(10)" json:"phone_number"`
	FaxNumber     string `gorm:"type:varchar(10)" json:"fax_number"`

	AllowNotifications bool      `json:"allow_notifications"`
	CreatedAt          time.Time `json:"created_at"`

	// Relations
	Rates []ConsultationRate `gorm:"foreignKey:UserID" json:"rates,omitempty"`
}

// Contact links a user to another user in their contact list.
type Contact struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OwnerID   uuid.UUID `gorm:"type:uuid;not null;index:idx_owner_contact,unique" json:"owner_id"`
	ContactID uuid.UUID `gorm:"type:uuid;not null;index:idx_owner_contact,unique" json:"contact_id"`
	CreatedAt time.Time `json:"created_at"`

	Contact User `gorm:"foreignKey:ContactID;references:ID" json:"-"`
}

// Consultation represents a timed session request between two users.
//
// Status moves only through the transition functions in
// internal/consultations; completed_at is set once, on completion.
type Consultation struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	FromUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"-"`
	ToUserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"-"`

	Status      ConsultationStatus `gorm:"type:varchar(20);default:'requested'" json:"status"`
	SessionType SessionType        `gorm:"type:varchar(20);not null" json:"session_type"`
	Description string             `gorm:"type:text" json:"description"`
	Note        string             `gorm:"type:text" json:"note"`
	Duration    int                `gorm:"not null" json:"duration"`
	Cost        decimal.Decimal    `gorm:"type:numeric(12,2);not null" json:"cost"`
	Fee         decimal.Decimal    `gorm:"type:numeric(10,2);not null" json:"fee"`
	CompletedAt *time.Time         `json:"completed_at"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`

	// Relations
	FromUser    User                     `gorm:"foreignKey:FromUserID;references:ID" json:"from_user"`
	ToUser      User                     `gorm:"foreignKey:ToUserID;references:ID" json:"to_user"`
	Attachments []ConsultationAttachment `gorm:"constraint:OnDelete:CASCADE" json:"attachments"`
}

// TotalCost returns cost plus the platform cut (cost * fee).
func (c *Consultation) TotalCost() decimal.Decimal {
	return c.Cost.Add(c.Cost.Mul(c.Fee))
}

// ConsultationAttachment represents a file attached to a consultation.
// File holds the storage object key resolved from the upload URL.
type ConsultationAttachment struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ConsultationID uuid.UUID `gorm:"type:uuid;not null;index" json:"consultation_id"`
	Name           string    `gorm:"type:varchar(50)" json:"name"`
	File           string    `gorm:"type:varchar(1000)" json:"file"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConsultationTemplate is an admin-curated catalog entry of
// (session type, duration) with the default platform fee.
type ConsultationTemplate struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SessionType SessionType     `gorm:"type:varchar(20);not null" json:"session_type"`
	Duration    int             `gorm:"not null" json:"duration"`
	Fee         decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"fee"`
	CreatedAt   time.Time       `json:"-"`
}

// ConsultationRate is a clinician's price for a template. Rate may be unset,
// in which case offered pricing must be allowed.
type ConsultationRate struct {
	ID           uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TemplateID   uuid.UUID        `gorm:"type:uuid;not null;index:idx_template_user,unique" json:"template"`
	UserID       uuid.UUID        `gorm:"type:uuid;not null;index:idx_template_user,unique" json:"-"`
	Rate         *decimal.Decimal `gorm:"type:numeric(12,2)" json:"rate"`
	AllowOffered bool             `gorm:"default:true" json:"allow_offered"`
	CreatedAt    time.Time        `json:"-"`

	Template ConsultationTemplate `gorm:"foreignKey:TemplateID;references:ID" json:"-"`
}

// ConsultationStatusHistory is an audit log entry for status transitions.
type ConsultationStatusHistory struct {
	ID             uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ConsultationID uuid.UUID          `gorm:"type:uuid;not null;index" json:"consultation_id"`
	ActorID        uuid.UUID          `gorm:"type:uuid;not null;index" json:"actor_id"`
	OldStatus      ConsultationStatus `gorm:"type:varchar(20)" json:"old_status"`
	NewStatus      ConsultationStatus `gorm:"type:varchar(20)" json:"new_status"`
	CreatedAt      time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

// StripeAccount stores the connected payment account for a user.
type StripeAccount struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	StripeID  string    `gorm:"type:varchar(255);not null" json:"stripe_id"`
	CreatedAt time.Time `json:"created_at"`
}

// StripeCheckoutSession caches a provider checkout session for a
// consultation. The active session is the newest non-expired row.
type StripeCheckoutSession struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ConsultationID uuid.UUID `gorm:"type:uuid;not null;index" json:"consultation_id"`
	StripeID       string    `gorm:"type:varchar(255);not null" json:"stripe_id"`
	ExpiresAt      time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`

	Consultation Consultation `gorm:"foreignKey:ConsultationID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}
