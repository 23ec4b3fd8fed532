package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuv-man/asd-server/internal/middleware"
	"github.com/yuv-man/asd-server/internal/models"
)

func newUserService() (*UserService, *memUsers, *middleware.JWTAuth) {
	users := newMemUsers()
	jwt := middleware.NewJWTAuth("test-secret")
	return NewUserService(users, jwt, nil), users, jwt
}

func validRegistration() models.RegisterRequest {
	return models.RegisterRequest{
		Name:     " Noa ",
		Email:    " Noa@Example.com ",
		Password: "secret123",
	}
}

func TestRegisterDefaults(t *testing.T) {
	svc, _, _ := newUserService()

	u, err := svc.Register(context.Background(), validRegistration())
	require.NoError(t, err)
	assert.Equal(t, "Noa", u.Name)
	assert.Equal(t, "noa@example.com", u.Email)
	assert.Equal(t, "student", u.Role)
	assert.Equal(t, "en", u.Language)
	assert.Equal(t, models.DefaultSessionSize, u.NumOfExercises)
	assert.NotEqual(t, "secret123", u.PasswordHash)
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newUserService()

	req := models.RegisterRequest{
		Email:    "not-an-email",
		Password: "short",
		Role:     "admin",
		Age:      ptr(0),
	}
	_, err := svc.Register(context.Background(), req)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	for _, field := range []string{"name", "email", "password", "role", "age"} {
		assert.Contains(t, ve.Fields, field)
	}

	req = validRegistration()
	req.Password = "longbutnodigits"
	_, err = svc.Register(context.Background(), req)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Password must contain at least one number", ve.Fields["password"])
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := newUserService()
	_, err := svc.Register(context.Background(), validRegistration())
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), validRegistration())
	var ce *ConflictError
	assert.ErrorAs(t, err, &ce)
}

func TestLogin(t *testing.T) {
	svc, users, jwt := newUserService()
	reg := validRegistration()
	reg.Role = "supervisor"
	u, err := svc.Register(context.Background(), reg)
	require.NoError(t, err)

	tokens, err := svc.Login(context.Background(), models.LoginRequest{Email: "NOA@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, int(middleware.AccessTokenTTL.Seconds()), tokens.ExpiresIn)

	id, role, err := jwt.ParseToken(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)
	assert.Equal(t, "supervisor", role)
	assert.Equal(t, 1, users.logins)

	var ue *UnauthorizedError
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "noa@example.com", Password: "wrong123"})
	assert.ErrorAs(t, err, &ue)
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "ghost@example.com", Password: "secret123"})
	assert.ErrorAs(t, err, &ue)
}

func TestProfileCompletesAreas(t *testing.T) {
	svc, _, _ := newUserService()
	u, err := svc.Register(context.Background(), validRegistration())
	require.NoError(t, err)

	_, err = svc.UpdateArea(context.Background(), u.ID, "speech", models.UpdateAreaRequest{DifficultyLevel: ptr(3)})
	require.NoError(t, err)

	profile, err := svc.Profile(context.Background(), u.ID)
	require.NoError(t, err)
	require.Len(t, profile.AreasProgress, len(models.AllAreas))
	for i, p := range profile.AreasProgress {
		assert.Equal(t, models.AllAreas[i], p.Area)
		if p.Area == models.AreaSpeechTherapy {
			assert.Equal(t, 3, p.DifficultyLevel)
		} else {
			assert.Equal(t, 1, p.DifficultyLevel)
			assert.True(t, p.Enabled)
		}
	}
}

func TestUpdateAreaValidation(t *testing.T) {
	svc, _, _ := newUserService()
	u, err := svc.Register(context.Background(), validRegistration())
	require.NoError(t, err)

	var ve *ValidationError
	_, err = svc.UpdateArea(context.Background(), u.ID, "music", models.UpdateAreaRequest{Enabled: ptr(false)})
	assert.ErrorAs(t, err, &ve)
	_, err = svc.UpdateArea(context.Background(), u.ID, "cognitive", models.UpdateAreaRequest{})
	assert.ErrorAs(t, err, &ve)
	_, err = svc.UpdateArea(context.Background(), u.ID, "cognitive", models.UpdateAreaRequest{DifficultyLevel: ptr(0)})
	assert.ErrorAs(t, err, &ve)

	var nf *NotFoundError
	_, err = svc.Profile(context.Background(), uuid.New())
	assert.ErrorAs(t, err, &nf)
}
