package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"marketplace-security/internal/audit"
	"marketplace-security/internal/lockout"
	"marketplace-security/internal/metrics"
	"marketplace-security/internal/middleware"
	"marketplace-security/internal/ratelimit"
	"marketplace-security/internal/sanitize"
	"marketplace-security/internal/service"
	"marketplace-security/internal/util"
	"marketplace-security/internal/validation"
)

const maxAuthBodyBytes = 64 << 10

// AuthHandler serves registration and login behind the registration and
// login limiters, with identity lockout on login.
type AuthHandler struct {
	responder
	auth     *service.AuthService
	lockouts *lockout.Manager
	limiters *ratelimit.Limiters
	emitter  audit.Emitter
	now      func() time.Time
}

func NewAuthHandler(
	auth *service.AuthService,
	lockouts *lockout.Manager,
	limiters *ratelimit.Limiters,
	emitter audit.Emitter,
	logger *zap.Logger,
) *AuthHandler {
	if emitter == nil {
		emitter = audit.Discard
	}
	return &AuthHandler{
		responder: responder{logger: logger},
		auth:      auth,
		lockouts:  lockouts,
		limiters:  limiters,
		emitter:   emitter,
		now:       time.Now,
	}
}

func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.With(middleware.RateLimit(h.limiters.Registration, middleware.WithEmitter(h.emitter))).
			Post("/register", h.Register)
		r.With(middleware.RateLimit(h.limiters.Login, middleware.WithEmitter(h.emitter))).
			Post("/login", h.Login)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxAuthBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// Register handles account creation.
// Responses: 201 created, 400 invalid input or weak password, 409 taken email.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()
	clientID := middleware.ClientIdentifier(r.Header)

	var req service.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if sanitize.ContainsSuspicious(req.Name) {
		h.emitter.Emit(audit.NewEvent(audit.EventSuspiciousInput, "", r.URL.Path, clientID).With("field", "name"))
	}

	req.Normalize()
	if verr := validation.ValidateStruct(&req); verr != nil {
		for _, f := range verr.Fields {
			metrics.InputRejected.WithLabelValues(f.Field).Inc()
		}
		h.respondWithJSON(w, http.StatusBadRequest,
			errorResponse("Validation failed", "Request validation failed", verr.Messages()...))
		return
	}

	user, err := h.auth.Register(ctx, &req)
	if err != nil {
		var weak *service.WeakPasswordError
		if errors.As(err, &weak) {
			metrics.InputRejected.WithLabelValues("password").Inc()
			h.respondWithJSON(w, http.StatusBadRequest,
				errorResponse("Weak password", "Password does not meet requirements", weak.Errors...))
			return
		}
		h.respondWithError(w, getStatusCode(err), err, "Failed to register user")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(user.Public(), "User registered successfully"))
	h.logger.Info("User registered via HTTP",
		util.String("user_id", user.UserID),
		util.Duration("duration", time.Since(startTime)),
	)
}

// Login checks the lockout first, then credentials. A failure counts toward
// the lockout; success clears it and the caller's login window.
// Responses: 200, 400, 401 with remainingAttempts, 423 while locked.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := middleware.ClientIdentifier(r.Header)

	var req service.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	identity := lockout.LoginIdentity(sanitize.Email(req.Email), clientID)

	if status := h.lockouts.IsLocked(ctx, identity); status.Locked {
		h.writeLocked(w, status)
		return
	}

	if verr := validation.ValidateStruct(&req); verr != nil {
		h.respondWithJSON(w, http.StatusBadRequest,
			errorResponse("Validation failed", "Request validation failed", verr.Messages()...))
		return
	}

	user, err := h.auth.Login(ctx, req.Email, req.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		status := h.lockouts.RecordFailedAttempt(ctx, identity)
		h.emitter.Emit(audit.NewEvent(audit.EventLoginFailed, identity, r.URL.Path, clientID).
			With("remaining_attempts", fmt.Sprint(status.RemainingAttempts)))

		if status.Locked {
			h.writeLocked(w, status)
			return
		}

		remaining := status.RemainingAttempts
		resp := errorResponse("Invalid credentials", "Invalid email or password")
		resp.RemainingAttempts = &remaining
		h.respondWithJSON(w, http.StatusUnauthorized, resp)
		return
	}
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Login failed")
		return
	}

	h.lockouts.RecordSuccess(ctx, identity)
	h.limiters.Login.Reset(ctx, clientID, r.URL.Path)
	h.emitter.Emit(audit.NewEvent(audit.EventLoginSucceeded, identity, r.URL.Path, clientID))

	h.respondWithJSON(w, http.StatusOK, successResponse(user.Public(), "Login successful"))
}

func (h *AuthHandler) writeLocked(w http.ResponseWriter, status lockout.Status) {
	now := h.now()
	minutes := status.MinutesRemaining(now)
	middleware.WriteRetryable(w, http.StatusLocked, middleware.ErrorBody{
		Error:      "Account locked",
		Message:    fmt.Sprintf("Too many failed login attempts. Account locked for %d more minutes.", minutes),
		RetryAfter: status.RetryAfter(now),
	})
}
