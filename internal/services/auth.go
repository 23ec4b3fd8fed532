package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/yuv-man/asd-server/internal/logger"
	"github.com/yuv-man/asd-server/internal/middleware"
	"github.com/yuv-man/asd-server/internal/models"
	"github.com/yuv-man/asd-server/internal/repository"
)

// UserService owns profiles: registration, sign-in and per-area settings.
type UserService struct {
	users UserStore
	jwt   *middleware.JWTAuth
	log   *logger.Logger
}

func NewUserService(users UserStore, jwt *middleware.JWTAuth, log *logger.Logger) *UserService {
	if log == nil {
		log = logger.Nop()
	}
	return &UserService{users: users, jwt: jwt, log: log}
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func (s *UserService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	// Validate all fields at once
	fieldErrors := make(map[string]string)

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if strings.TrimSpace(req.Name) == "" {
		fieldErrors["name"] = "Name is required"
	}
	if !emailRegex.MatchString(req.Email) {
		fieldErrors["email"] = "Invalid email format"
	}
	if err := validatePassword(req.Password); err != nil {
		fieldErrors["password"] = err.Error()
	}
	if req.Age != nil && (*req.Age < 1 || *req.Age > 120) {
		fieldErrors["age"] = "Age must be between 1 and 120"
	}
	role := req.Role
	if role == "" {
		role = "student"
	}
	if role != "student" && role != "supervisor" {
		fieldErrors["role"] = "Role must be student or supervisor"
	}

	if len(fieldErrors) > 0 {
		return nil, &ValidationError{Fields: fieldErrors}
	}

	// Check uniqueness
	_, err := s.users.GetUserByEmail(ctx, req.Email)
	if err == nil {
		return nil, &ConflictError{Message: "Email already in use"}
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, &StorageError{Op: "get user", Err: err}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), 12)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	language := req.Language
	if language == "" {
		language = "en"
	}

	user := &models.User{
		ID:             uuid.New(),
		Name:           strings.TrimSpace(req.Name),
		Age:            req.Age,
		Email:          req.Email,
		PasswordHash:   string(hash),
		Role:           role,
		Language:       language,
		NumOfExercises: models.DefaultSessionSize,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, &ConflictError{Message: "Email already in use"}
		}
		return nil, &StorageError{Op: "create user", Err: err}
	}

	s.log.Info("user registered", "user_id", user.ID, "role", user.Role)
	return user, nil
}

func (s *UserService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthTokens, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &UnauthorizedError{Message: "Invalid email or password"}
		}
		return nil, &StorageError{Op: "get user", Err: err}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, &UnauthorizedError{Message: "Invalid email or password"}
	}

	if err := s.users.TouchLastLogin(ctx, user.ID); err != nil {
		s.log.Warn("failed to record last login", "user_id", user.ID, "error", err)
	}

	token, err := s.jwt.GenerateAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	return &models.AuthTokens{
		AccessToken: token,
		ExpiresIn:   int(middleware.AccessTokenTTL.Seconds()),
	}, nil
}

// Profile returns the user with every area's progress attached.
func (s *UserService) Profile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "User not found"}
	}
	if err != nil {
		return nil, &StorageError{Op: "get user", Err: err}
	}

	areas, err := s.users.ListAreaProgress(ctx, userID)
	if err != nil {
		return nil, &StorageError{Op: "list area progress", Err: err}
	}
	user.AreasProgress = completeAreas(userID, areas)
	return user, nil
}

func (s *UserService) UpdateArea(ctx context.Context, userID uuid.UUID, rawArea string, req models.UpdateAreaRequest) (*models.AreaProgress, error) {
	area, ok := models.ParseArea(rawArea)
	if !ok {
		return nil, &ValidationError{Fields: map[string]string{"area": "Unknown area"}}
	}
	if req.Enabled == nil && req.DifficultyLevel == nil {
		return nil, &ValidationError{Fields: map[string]string{"body": "Nothing to update"}}
	}
	if req.DifficultyLevel != nil && *req.DifficultyLevel < 1 {
		return nil, &ValidationError{Fields: map[string]string{"difficulty_level": "difficulty_level must be a positive integer"}}
	}

	p, err := s.users.UpdateAreaSettings(ctx, userID, area, req)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "User not found"}
	}
	if err != nil {
		return nil, &StorageError{Op: "update area settings", Err: err}
	}
	return p, nil
}

// completeAreas fills in the zero state for areas without a stored row yet.
func completeAreas(userID uuid.UUID, stored []models.AreaProgress) []models.AreaProgress {
	byArea := make(map[models.Area]models.AreaProgress, len(stored))
	for _, p := range stored {
		byArea[p.Area] = p
	}
	out := make([]models.AreaProgress, 0, len(models.AllAreas))
	for _, a := range models.AllAreas {
		if p, ok := byArea[a]; ok {
			out = append(out, p)
			continue
		}
		out = append(out, *models.NewAreaProgress(userID, a))
	}
	return out
}

func validatePassword(pw string) error {
	if len(pw) < 8 {
		return fmt.Errorf("Password must be at least 8 characters")
	}
	hasNumber := false
	for _, ch := range pw {
		if unicode.IsDigit(ch) {
			hasNumber = true
			break
		}
	}
	if !hasNumber {
		return fmt.Errorf("Password must contain at least one number")
	}
	return nil
}
