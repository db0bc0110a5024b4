package routes

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/handlers"
	"github.com/BradenHooton/trustgate/internal/middleware"
)

// Handlers groups every HTTP handler the router mounts
type Handlers struct {
	Auth         *handlers.AuthHandler
	Device       *handlers.DeviceHandler
	Verification *handlers.VerificationHandler
	MFA          *handlers.MFAHandler
	Account      *handlers.AccountHandler
	Export       *handlers.ExportHandler
	Health       *handlers.HealthHandler
}

// Security groups what protected routes need to authenticate a caller
type Security struct {
	TokenManager *auth.TokenManager
	Revocations  auth.TokenRevocationChecker
	FailClosed   bool
	Sessions     middleware.SessionLoader
	Factors      middleware.FactorChecker
	RateLimiter  *middleware.RateLimiter
	Logger       *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, h Handlers, sec Security) {
	rl := sec.RateLimiter

	router.Get("/health", h.Health.Health)

	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		r.Use(rl.AuthStrict())
		r.Post("/auth/signup", h.Auth.SignUp)
		r.Post("/auth/login", h.Auth.Login)
		r.Post("/auth/post-auth", h.Auth.PostAuth)
		r.Post("/auth/refresh", h.Auth.Refresh)
		r.Post("/auth/otp/request", h.Auth.RequestLoginCode)
		r.Post("/auth/recover/request", h.Auth.RequestRecovery)
		r.Post("/auth/recover/complete", h.Auth.CompleteRecovery)
	})

	// Protected routes - a live device session is required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddlewareWithRevocation(sec.TokenManager, sec.Revocations, auth.RevocationConfig{FailClosed: sec.FailClosed}))
		r.Use(middleware.TagRequestIdentity)
		r.Use(middleware.RequireDeviceSession(sec.Sessions, sec.Logger))

		r.With(rl.Basic()).Post("/auth/logout", h.Auth.Logout)

		// Reachable before the device is verified
		r.Group(func(r chi.Router) {
			r.Use(rl.AuthStrict())
			r.Post("/auth/device/verify", h.Device.VerifyDevice)
			r.Post("/auth/device/resend", h.Device.ResendCode)
		})

		// Login second step, reachable at aal1
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireVerifiedDevice)
			r.Use(rl.AuthStrict())
			r.With(rl.SMSPerIP(), rl.SMSPerUser()).Post("/auth/mfa/challenge", h.MFA.Challenge)
			r.Post("/auth/mfa/verify", h.MFA.VerifyChallenge)
		})

		// Account - verified device and completed 2FA
		r.Route("/account", func(r chi.Router) {
			r.Use(middleware.RequireVerifiedDevice)
			r.Use(middleware.RequireAAL(sec.Factors, sec.Logger))

			r.With(rl.SMSPerIP(), rl.SMSPerUser()).Post("/verification/challenge", h.Verification.Challenge)
			r.With(rl.AuthStrict()).Post("/verification/verify", h.Verification.Verify)
			r.With(rl.Basic()).Post("/avatar", h.Account.UploadAvatar)

			r.Group(func(r chi.Router) {
				r.Use(rl.DataExport())
				r.Post("/export", h.Export.Request)
			})

			r.Group(func(r chi.Router) {
				r.Use(rl.General())

				r.Get("/me", h.Account.Me)
				r.Get("/verification", h.Verification.Status)
				r.Get("/export/{id}", h.Export.Get)

				// Gated by the step-up check inside each handler
				r.Post("/change-password", h.Account.ChangePassword)
				r.Post("/change-email", h.Account.ChangeEmail)
				r.Post("/change-email/confirm", h.Account.ConfirmEmailChange)
				r.Post("/delete", h.Account.Delete)
				r.Get("/social", h.Account.ListIdentities)
				r.Post("/social/disconnect", h.Account.DisconnectIdentity)
				r.Get("/events", h.Account.Events)

				r.Get("/2fa", h.MFA.ListFactors)
				r.Post("/2fa/enroll", h.MFA.Enroll)
				r.Post("/2fa/verify", h.MFA.VerifyEnrollment)
				r.Post("/2fa/disable", h.MFA.Disable)
				r.Post("/2fa/backup-codes", h.MFA.RegenerateBackupCodes)

				r.Get("/sessions", h.Device.ListSessions)
				r.Delete("/sessions/{id}", h.Device.RevokeSession)
			})
		})
	})
}
