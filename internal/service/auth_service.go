package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketplace-security/internal/models"
	"marketplace-security/internal/sanitize"
	"marketplace-security/internal/util"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// WeakPasswordError carries every broken password rule. It matches
// ErrInvalidInput under errors.Is.
type WeakPasswordError struct {
	Errors []string
}

func (e *WeakPasswordError) Error() string {
	return "weak password: " + strings.Join(e.Errors, "; ")
}

func (e *WeakPasswordError) Unwrap() error {
	return ErrInvalidInput
}

type PasswordHasher interface {
	HashPassword(password string) (string, error)
	VerifyPassword(password, encoded string) (bool, error)
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Phone    string `json:"phone" validate:"omitempty,in_phone"`
	Role     string `json:"role" validate:"required,oneof=buyer seller supplier"`
}

// Normalize applies the field sanitizers in place so that format checks see
// the stored form, e.g. a padded mixed-case email.
func (r *RegisterRequest) Normalize() {
	r.Email = sanitize.Email(r.Email)
	r.Name = sanitize.String(r.Name)
	r.Phone = sanitize.Phone(r.Phone)
	r.Role = strings.TrimSpace(r.Role)
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,max=255"`
	Password string `json:"password" validate:"required"`
}

// AuthService registers users and checks credentials. Throttling and lockout
// are the HTTP layer's job; this only answers "are these credentials right".
type AuthService struct {
	users  UserStore
	hasher PasswordHasher
	logger *zap.Logger
	now    func() time.Time

	// compared against when the email is unknown, so both paths cost one hash
	dummyHash string
}

func NewAuthService(users UserStore, hasher PasswordHasher, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AuthService{
		users:  users,
		hasher: hasher,
		logger: logger,
		now:    time.Now,
	}
	if h, err := hasher.HashPassword(uuid.NewString()); err == nil {
		s.dummyHash = h
	}
	return s
}

// Register sanitizes the request, enforces password strength and stores a
// new user with a hashed password.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*models.User, error) {
	email := sanitize.Email(req.Email)
	if !sanitize.IsValidEmail(email) {
		return nil, ErrInvalidInput
	}

	name := sanitize.String(req.Name)
	if name == "" {
		return nil, ErrInvalidInput
	}

	var phone string
	if req.Phone != "" {
		if !sanitize.IsValidPhone(req.Phone) {
			return nil, ErrInvalidInput
		}
		phone = sanitize.Phone(req.Phone)
	}

	if res := sanitize.ValidatePasswordStrength(req.Password); !res.Valid {
		return nil, &WeakPasswordError{Errors: res.Errors}
	}

	hash, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		UserID:       uuid.NewString(),
		Email:        email,
		Phone:        phone,
		Name:         name,
		Role:         models.Role(req.Role),
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("User registered",
		util.String("user_id", user.UserID),
		util.String("role", string(user.Role)))

	return user, nil
}

// Login returns the user when email and password match, otherwise
// ErrInvalidCredentials regardless of which part was wrong.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, error) {
	email = sanitize.Email(email)

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		if s.dummyHash != "" {
			_, _ = s.hasher.VerifyPassword(password, s.dummyHash)
		}
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := s.hasher.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.logger.Error("Stored password hash unreadable",
			util.String("user_id", user.UserID),
			util.ErrorField(err))
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.UserID, now); err != nil {
		s.logger.Warn("Failed to record last login",
			util.String("user_id", user.UserID),
			util.ErrorField(err))
	}
	user.LastLogin = &now

	return user, nil
}
