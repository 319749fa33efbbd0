// Package authpw is the development identity provider: email/password
// accounts stored on profiles, answered with the same bearer tokens the
// hosted provider issues.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"eurobansync/api/internal/apperr"
	"eurobansync/api/internal/auth"
	"eurobansync/api/internal/store"
)

var ErrInvalidCredentials = errors.New("invalid login credentials")

type ProfileStore interface {
	CreateProfile(ctx context.Context, p store.Profile) (store.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (store.Profile, error)
}

type Service struct {
	store    ProfileStore
	secret   []byte
	ttl      time.Duration
	validate *validator.Validate
}

func NewService(store ProfileStore, secret string, ttl time.Duration) *Service {
	return &Service{
		store:    store,
		secret:   []byte(secret),
		ttl:      ttl,
		validate: validator.New(),
	}
}

// Field order matches the order messages are reported in.
type SignUpRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"min=6"`
	FullName        string `json:"fullName" validate:"min=2"`
	ConfirmPassword string `json:"confirmPassword" validate:"eqfield=Password"`
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"min=6"`
}

type Session struct {
	Token     string
	ExpiresAt time.Time
	Profile   store.Profile
}

var fieldMessages = map[string]string{
	"Email":           "Correo electrónico inválido",
	"Password":        "La contraseña debe tener al menos 6 caracteres",
	"FullName":        "El nombre debe tener al menos 2 caracteres",
	"ConfirmPassword": "Las contraseñas no coinciden",
}

func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (Session, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	if err := s.check(req); err != nil {
		return Session{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	profile, err := s.store.CreateProfile(ctx, store.Profile{
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: string(hash),
	})
	if err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			return Session{}, apperr.Conflict("EMAIL_TAKEN", "Este correo ya está registrado")
		}
		return Session{}, err
	}
	return s.issue(profile)
}

func (s *Service) SignIn(ctx context.Context, req SignInRequest) (Session, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := s.check(req); err != nil {
		return Session{}, err
	}

	profile, err := s.store.GetProfileByEmail(ctx, req.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if profile.PasswordHash == "" {
		return Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(req.Password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return s.issue(profile)
}

func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		field := fieldErrs[0].Field()
		msg, ok := fieldMessages[field]
		if !ok {
			msg = "Datos inválidos"
		}
		return apperr.Validation(msg).WithDetails(map[string]any{"field": field})
	}
	return apperr.Validation(err.Error())
}

func (s *Service) issue(profile store.Profile) (Session, error) {
	expiresAt := time.Now().Add(s.ttl)
	token, err := auth.IssueToken(s.secret, auth.Claims{
		Email:        profile.Email,
		UserMetadata: auth.UserMetadata{FullName: profile.FullName},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   profile.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}, s.ttl)
	if err != nil {
		return Session{}, err
	}
	profile.PasswordHash = ""
	return Session{Token: token, ExpiresAt: expiresAt, Profile: profile}, nil
}
