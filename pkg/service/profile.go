package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/apperr"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/auth"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/models"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/repository"
	"go.uber.org/zap"
)

const minPasswordLength = 4

type ProfileUpdate struct {
	Name    *string `json:"name"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
	Avatar  *string `json:"avatar"`
}

type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Avatar   string `json:"avatar"`
}

type LoginResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type Profiles struct {
	users  repository.UserRepository
	issuer *auth.Issuer
	logger *zap.Logger
}

func NewProfiles(users repository.UserRepository, issuer *auth.Issuer, logger *zap.Logger) *Profiles {
	return &Profiles{users: users, issuer: issuer, logger: logger.Named("profiles")}
}

// Login checks the password and issues a token carrying the user's role.
// Unknown emails and wrong passwords are indistinguishable to the client.
func (p *Profiles) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, apperr.ErrInvalidInput.Withf("email and password are required")
	}

	user, err := p.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, storeErr(err, apperr.ErrInvalidCredentials)
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, apperr.ErrInvalidCredentials
	}

	token, err := p.issuer.Issue(user.ID, auth.ParseRole(user.Role))
	if err != nil {
		return nil, apperr.ErrInternal.Wrap(err)
	}

	p.logger.Info("User logged in", zap.String("user_id", user.ID))
	return &LoginResult{Token: token, User: user}, nil
}

// Register creates a customer account. Administrators are promoted in the
// database directly.
func (p *Profiles) Register(ctx context.Context, in Registration) (*models.User, error) {
	name := strings.TrimSpace(in.Name)
	if utf8.RuneCountInString(name) < 2 {
		return nil, apperr.ErrInvalidInput.Withf("name must have at least 2 characters")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, apperr.ErrInvalidInput.Withf("invalid email")
	}
	if len(in.Password) < minPasswordLength {
		return nil, apperr.ErrInvalidInput.Withf("password must have at least %d characters", minPasswordLength)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.ErrInternal.Wrap(err)
	}

	user := &models.User{
		Name:         name,
		Email:        in.Email,
		PasswordHash: hash,
		Avatar:       strings.TrimSpace(in.Avatar),
		Role:         auth.RoleCustomer.String(),
		Phone:        strings.TrimSpace(in.Phone),
		Address:      strings.TrimSpace(in.Address),
	}
	if err := p.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.ErrInvalidInput.Withf("email already registered")
		}
		return nil, storeErr(err, nil)
	}

	p.logger.Info("User registered", zap.String("user_id", user.ID))
	return user, nil
}

func (p *Profiles) Get(ctx context.Context, caller auth.Caller) (*models.User, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	user, err := p.users.Get(ctx, caller.ID)
	if err != nil {
		return nil, storeErr(err, apperr.ErrNotFound.Withf("user not found"))
	}
	return user, nil
}

func (p *Profiles) Update(ctx context.Context, caller auth.Caller, in ProfileUpdate) (*models.User, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if in.Name != nil && utf8.RuneCountInString(strings.TrimSpace(*in.Name)) < 2 {
		return nil, apperr.ErrInvalidInput.Withf("name must have at least 2 characters")
	}

	user, err := p.users.Update(ctx, caller.ID, repository.UserUpdate{
		Name:    trimmed(in.Name),
		Phone:   trimmed(in.Phone),
		Address: trimmed(in.Address),
		Avatar:  trimmed(in.Avatar),
	})
	if err != nil {
		return nil, storeErr(err, apperr.ErrNotFound.Withf("user not found"))
	}
	return user, nil
}
