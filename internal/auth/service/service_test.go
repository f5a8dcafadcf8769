package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/atrium/internal/auth/domain"
	"github.com/smallbiznis/atrium/internal/auth/repository"
	"github.com/smallbiznis/atrium/internal/clock"
	"github.com/smallbiznis/atrium/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestService(t *testing.T) authdomain.Service {
	t.Helper()

	dbConn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, dbConn.AutoMigrate(&authdomain.User{}, &authdomain.Session{}))

	repo, sessionRepo := repository.New(dbConn)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return New(zaptest.NewLogger(t), repo, sessionRepo, node, clock.SystemClock{})
}

// staleLookupRepo makes FindByEmail miss so user creation has to take the
// unique index path, the same way two concurrent signups race past the
// existence check.
type staleLookupRepo struct {
	authdomain.Repository
}

func (r *staleLookupRepo) FindByEmail(ctx context.Context, email string) (*authdomain.User, error) {
	return nil, authdomain.ErrUserNotFound
}

func TestCreateUserConcurrentDuplicateEmail(t *testing.T) {
	dbConn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, dbConn.AutoMigrate(&authdomain.User{}, &authdomain.Session{}))

	repo, sessionRepo := repository.New(dbConn)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	require.NoError(t, repo.Create(context.Background(), &authdomain.User{
		ID:    node.Generate(),
		Email: "alice@example.com",
	}))

	svc := New(zaptest.NewLogger(t), &staleLookupRepo{Repository: repo}, sessionRepo, node, clock.SystemClock{})

	_, err = svc.CreateUser(context.Background(), authdomain.CreateUserRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	assert.ErrorIs(t, err, authdomain.ErrUserExists)
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateUser(context.Background(), authdomain.CreateUserRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	require.NoError(t, err)

	_, err = svc.CreateUser(context.Background(), authdomain.CreateUserRequest{
		Email:    "Alice@Example.com",
		Password: "another-password",
	})
	assert.ErrorIs(t, err, authdomain.ErrUserExists)
}

func TestCreateUserShortPassword(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateUser(context.Background(), authdomain.CreateUserRequest{
		Email:    "bob@example.com",
		Password: "short",
	})
	assert.ErrorIs(t, err, authdomain.ErrPasswordTooShort)
}

func TestLoginWrongPassword(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateUser(context.Background(), authdomain.CreateUserRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), authdomain.LoginRequest{
		Email:    "alice@example.com",
		Password: "wrong-password",
	})
	assert.ErrorIs(t, err, authdomain.ErrInvalidCredentials)
}

func TestLoginAndAuthenticate(t *testing.T) {
	svc := newTestService(t)

	user, err := svc.CreateUser(context.Background(), authdomain.CreateUserRequest{
		Email:       "alice@example.com",
		Password:    "correct-password",
		DisplayName: "Alice",
	})
	require.NoError(t, err)

	result, err := svc.Login(context.Background(), authdomain.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.RawToken)
	require.NotEmpty(t, result.CSRFToken)

	session, err := svc.Authenticate(context.Background(), result.RawToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, session.UserID)
	assert.Equal(t, result.CSRFToken, session.CSRFToken)
}

func TestLogoutRevokesSession(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateUser(context.Background(), authdomain.CreateUserRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	require.NoError(t, err)

	result, err := svc.Login(context.Background(), authdomain.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), result.RawToken))

	_, err = svc.Authenticate(context.Background(), result.RawToken)
	assert.ErrorIs(t, err, authdomain.ErrSessionRevoked)
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	svc := newTestService(t)

	user, err := svc.CreateUser(context.Background(), authdomain.CreateUserRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	require.NoError(t, err)

	err = svc.ChangePassword(context.Background(), user.ID, "wrong-password", "next-password")
	assert.ErrorIs(t, err, authdomain.ErrInvalidCredentials)
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	svc := newTestService(t)

	user, err := svc.CreateUser(context.Background(), authdomain.CreateUserRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	require.NoError(t, err)

	result, err := svc.Login(context.Background(), authdomain.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	require.NoError(t, err)

	require.NoError(t, svc.ChangePassword(context.Background(), user.ID, "correct-password", "rotated-password"))

	_, err = svc.Authenticate(context.Background(), result.RawToken)
	assert.ErrorIs(t, err, authdomain.ErrSessionRevoked)

	_, err = svc.Login(context.Background(), authdomain.LoginRequest{
		Email:    "alice@example.com",
		Password: "rotated-password",
	})
	assert.NoError(t, err)
}
