// @title           WrDoc API
// @version         1.0
// @description     Backend for a clinical consultation marketplace: students request consultations from clinicians, clinicians accept and run sessions, and payments settle through embedded checkout.
// @BasePath        /api
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
// @description     Format: Bearer <token>
package main

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/quytrungg/wrdoc-backend/pkg/database"
	"github.com/quytrungg/wrdoc-backend/pkg/models"

	"github.com/quytrungg/wrdoc-backend/internal/auth"
	"github.com/quytrungg/wrdoc-backend/internal/consultations"
	"github.com/quytrungg/wrdoc-backend/internal/payments"
	"github.com/quytrungg/wrdoc-backend/internal/storage"
	"github.com/quytrungg/wrdoc-backend/internal/users"
	"github.com/quytrungg/wrdoc-backend/internal/videos"
)

func main() {
	_ = godotenv.Load()

	db := database.Init()
	if err := db.AutoMigrate(
		&models.User{}, &models.Contact{},
		&models.ConsultationTemplate{}, &models.ConsultationRate{},
		&models.Consultation{}, &models.ConsultationAttachment{},
		&models.ConsultationStatusHistory{},
		&models.StripeAccount{}, &models.StripeCheckoutSession{},
	); err != nil {
		log.Fatal("migration failed:", err)
	}
	if err := consultations.EnsureDefaultTemplates(db); err != nil {
		log.Fatal("template seed failed:", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: auth.ErrorHandler,
	})
	app.Use(recover.New())
	app.Use(logger.New())

	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	api := app.Group("/api")

	// Auth
	authH := auth.NewHandler(db)
	api.Post("/signup", authH.Signup)
	api.Post("/login", authH.Login)
	api.Get("/me", auth.RequireAuth(), authH.Me)

	// Payments
	pm := payments.NewManager(payments.NewStripeProvider(
		os.Getenv("STRIPE_SECRET_KEY"), os.Getenv("FRONTEND_URL"),
	))

	// Storage helper
	sb := storage.NewSupabase() // uses SUPABASE_URL / SUPABASE_SERVICE_KEY / SUPABASE_BUCKET

	// Users, profile & contacts
	userH := users.NewHandler(db, pm)
	api.Get("/users", auth.RequireAuth(), userH.List)
	api.Get("/users/:id", auth.RequireAuth(), userH.Get)
	api.Get("/profile", auth.RequireAuth(), userH.GetProfile)
	api.Put("/profile", auth.RequireAuth(), userH.UpdateProfile)
	api.Get("/profile/dashboard", auth.RequireAuth(), userH.Dashboard)
	api.Post("/profile/connected-account", auth.RequireAuth(), userH.CreateConnectedAccount)
	api.Get("/profile/connected-account", auth.RequireAuth(), userH.GetConnectedAccount)
	api.Get("/contacts", auth.RequireAuth(), userH.ListContacts)
	api.Post("/contacts", auth.RequireAuth(), userH.AddContact)
	api.Delete("/contacts/:id", auth.RequireAuth(), userH.RemoveContact)

	// Consultations
	consH := consultations.NewHandler(db, pm, sb)
	api.Get("/consultations/templates", auth.RequireAuth(), consH.ListTemplates)
	api.Get("/consultations/rates/:userID", auth.RequireAuth(), consH.ListRates)
	api.Post("/consultations", auth.RequireAuth(), consH.Create)
	api.Get("/consultations", auth.RequireAuth(), consH.List)
	api.Get("/consultations/:id", auth.RequireAuth(), consH.Get)
	api.Put("/consultations/:id", auth.RequireAuth(), consH.Update)
	api.Post("/consultations/:id/checkout", auth.RequireAuth(), consH.Checkout)
	api.Get("/attachments/:id/signed-url", auth.RequireAuth(), consH.SignedAttachmentURL)

	// Video sessions
	videoH := videos.NewHandler()
	api.Post("/videos/auth", auth.RequireAuth(), videoH.Auth)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	log.Println("Server running on :" + port)
	log.Fatal(app.Listen(":" + port))
}
