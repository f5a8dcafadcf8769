package signup

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/atrium/internal/auth/domain"
	authrepository "github.com/smallbiznis/atrium/internal/auth/repository"
	authservice "github.com/smallbiznis/atrium/internal/auth/service"
	"github.com/smallbiznis/atrium/internal/clock"
	"github.com/smallbiznis/atrium/internal/config"
	orgdomain "github.com/smallbiznis/atrium/internal/organization/domain"
	orgrepository "github.com/smallbiznis/atrium/internal/organization/repository"
	orgservice "github.com/smallbiznis/atrium/internal/organization/service"
	"github.com/smallbiznis/atrium/internal/providers/email"
	"github.com/smallbiznis/atrium/internal/providers/payment"
	"github.com/smallbiznis/atrium/internal/signup/domain"
	dbpkg "github.com/smallbiznis/atrium/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newSignupEnv(t *testing.T, cfg config.Config) (domain.Service, *gorm.DB) {
	t.Helper()

	dbConn, err := dbpkg.NewTest()
	require.NoError(t, err)
	require.NoError(t, dbConn.AutoMigrate(
		&authdomain.User{},
		&authdomain.Session{},
		&orgdomain.Organization{},
		&orgdomain.OrganizationMember{},
		&orgdomain.OrganizationInvite{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	authRepo, sessionRepo := authrepository.New(dbConn)
	authsvc := authservice.New(zaptest.NewLogger(t), authRepo, sessionRepo, node, clock.SystemClock{})

	plans := config.NewStaticPlanCatalogHolder(config.DefaultPlanCatalog())
	orgsvc := orgservice.NewService(
		dbConn,
		zaptest.NewLogger(t),
		orgrepository.NewRepository(dbConn),
		node,
		clock.SystemClock{},
		&email.NoOpProvider{},
		payment.NewNoOp(zaptest.NewLogger(t)),
		nil,
		plans,
		config.Config{BaseURL: "http://localhost:8080"},
	)

	svc := NewService(cfg, zaptest.NewLogger(t), authsvc, orgsvc, NewNoopProvisioner(), nil)
	return svc, dbConn
}

func TestSignupCreatesUserOrgAndSession(t *testing.T) {
	svc, dbConn := newSignupEnv(t, config.Config{SignupEnabled: true})

	result, err := svc.Signup(context.Background(), domain.Request{
		Email:    "Alice@Example.com",
		Password: "secret-password",
		OrgName:  "Acme Rockets",
	})
	require.NoError(t, err)

	assert.NotZero(t, result.UserID)
	assert.Equal(t, "acme-rockets", result.OrgSlug)
	assert.NotEmpty(t, result.RawToken)
	assert.NotEmpty(t, result.CSRFToken)

	var user authdomain.User
	require.NoError(t, dbConn.First(&user, "id = ?", result.UserID).Error)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, "alice", user.DisplayName)

	var member orgdomain.OrganizationMember
	require.NoError(t, dbConn.First(&member, "user_id = ?", result.UserID).Error)
	assert.Equal(t, orgdomain.RoleOwner, member.Role)
}

func TestSignupWithoutOrgName(t *testing.T) {
	svc, dbConn := newSignupEnv(t, config.Config{SignupEnabled: true})

	result, err := svc.Signup(context.Background(), domain.Request{
		Email:    "bob@example.com",
		Password: "secret-password",
	})
	require.NoError(t, err)
	assert.Empty(t, result.OrgID)

	var count int64
	require.NoError(t, dbConn.Model(&orgdomain.Organization{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSignupDisabled(t *testing.T) {
	svc, _ := newSignupEnv(t, config.Config{SignupEnabled: false})

	_, err := svc.Signup(context.Background(), domain.Request{
		Email:    "alice@example.com",
		Password: "secret-password",
	})
	assert.ErrorIs(t, err, authdomain.ErrSignupDisabled)
}

func TestSignupRejectsInvalidRequest(t *testing.T) {
	svc, _ := newSignupEnv(t, config.Config{SignupEnabled: true})

	_, err := svc.Signup(context.Background(), domain.Request{Email: "not-an-email", Password: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = svc.Signup(context.Background(), domain.Request{Email: "alice@example.com"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestSignupDuplicateEmail(t *testing.T) {
	svc, _ := newSignupEnv(t, config.Config{SignupEnabled: true})

	_, err := svc.Signup(context.Background(), domain.Request{
		Email:    "alice@example.com",
		Password: "secret-password",
	})
	require.NoError(t, err)

	_, err = svc.Signup(context.Background(), domain.Request{
		Email:    "alice@example.com",
		Password: "another-password",
	})
	assert.ErrorIs(t, err, authdomain.ErrUserExists)
}

func TestSignupFailsWhenOrgNameTooShort(t *testing.T) {
	svc, _ := newSignupEnv(t, config.Config{SignupEnabled: true})

	_, err := svc.Signup(context.Background(), domain.Request{
		Email:    "alice@example.com",
		Password: "secret-password",
		OrgName:  "A",
	})
	assert.ErrorIs(t, err, orgdomain.ErrInvalidName)
}
