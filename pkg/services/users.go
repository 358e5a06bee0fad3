package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"underneath-backend/pkg/apperrors"
	"underneath-backend/pkg/database"
	"underneath-backend/pkg/models"
	"underneath-backend/pkg/utils"
	"underneath-backend/pkg/validation"
)

// UserService handles registration, login and token refresh.
type UserService struct {
	db         database.DatabaseInterface
	jwt        *utils.JWTService
	bcryptCost int
}

func NewUserService(db database.DatabaseInterface, jwt *utils.JWTService) *UserService {
	return &UserService{db: db, jwt: jwt, bcryptCost: bcrypt.DefaultCost}
}

func loadUser(ctx context.Context, db database.DatabaseInterface, id string) (*models.User, error) {
	user, err := db.GetUserByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrUserNotFound, "failed to load user")
	}
	return user, nil
}

// Register creates an account. Every violated rule is reported at once.
func (s *UserService) Register(ctx context.Context, req models.UserRegisterRequest) (*models.UserLoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	displayName := strings.TrimSpace(req.DisplayName)

	var violations []string
	if !validation.IsValidEmail(email) {
		violations = append(violations, "Invalid email address")
	}
	violations = append(violations, validation.ValidatePassword(req.Password).Errors...)
	violations = append(violations, validation.ValidateDisplayName(displayName).Errors...)
	role, ok := models.ParseRole(req.Role)
	if !ok {
		violations = append(violations, "Role must be one of DOM, SUB, OBSERVER, ADMIN")
	}
	if len(violations) > 0 {
		return nil, apperrors.Validation("Invalid registration", violations)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:       email,
		Password:    string(hash),
		DisplayName: displayName,
		Role:        role,
	}
	if err := s.db.CreateUser(ctx, user); err != nil {
		if errors.Is(err, database.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	zerolog.Ctx(ctx).Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("user registered")
	return s.issue(user)
}

// Login checks credentials and issues a token pair.
func (s *UserService) Login(ctx context.Context, req models.UserLoginRequest) (*models.UserLoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, apperrors.Validation("Invalid login", []string{"Email and password are required"})
	}

	user, err := s.db.GetUserByEmail(ctx, email)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		zerolog.Ctx(ctx).Debug().Str("user_id", user.ID).Msg("password mismatch")
		return nil, ErrInvalidCredentials
	}
	return s.issue(user)
}

func (s *UserService) issue(user *models.User) (*models.UserLoginResponse, error) {
	access, refresh, expiresIn, err := s.jwt.GenerateTokenPair(user)
	if err != nil {
		return nil, err
	}
	return &models.UserLoginResponse{
		User:         *user,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    expiresIn,
	}, nil
}

// Refresh exchanges a refresh token for a new access token. The user must
// still exist.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*models.UserLoginResponse, error) {
	claims, err := s.jwt.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnauthorized, "Invalid refresh token", err)
	}
	user, err := s.db.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.New(apperrors.CodeUnauthorized, "Invalid refresh token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	access, expiresIn, err := s.jwt.GenerateAccessToken(user)
	if err != nil {
		return nil, err
	}
	return &models.UserLoginResponse{User: *user, AccessToken: access, ExpiresIn: expiresIn}, nil
}

// Me returns the caller's account.
func (s *UserService) Me(ctx context.Context, userID string) (*models.User, error) {
	return loadUser(ctx, s.db, userID)
}
