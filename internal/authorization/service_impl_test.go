package authorization

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/atrium/internal/organization/domain"
	dbpkg "github.com/smallbiznis/atrium/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type testEnv struct {
	svc  Service
	db   *gorm.DB
	node *snowflake.Node
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := dbpkg.NewTest()
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&orgdomain.OrganizationMember{}))

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return &testEnv{
		svc:  NewService(db, zaptest.NewLogger(t), enforcer),
		db:   db,
		node: node,
	}
}

func (e *testEnv) addMember(t *testing.T, orgID, userID snowflake.ID, role string) {
	t.Helper()
	require.NoError(t, e.db.Create(&orgdomain.OrganizationMember{
		ID:     e.node.Generate(),
		OrgID:  orgID,
		UserID: userID,
		Role:   role,
	}).Error)
}

func TestAuthorizeOwnerCanDeleteOrganization(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()
	userID := env.node.Generate()
	env.addMember(t, orgID, userID, orgdomain.RoleOwner)

	err := env.svc.Authorize(context.Background(), "user:"+userID.String(), orgID.String(), ObjectOrganization, ActionOrganizationDelete)
	assert.NoError(t, err)
}

func TestAuthorizeMemberCannotDeleteOrganization(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()
	userID := env.node.Generate()
	env.addMember(t, orgID, userID, orgdomain.RoleMember)

	err := env.svc.Authorize(context.Background(), "user:"+userID.String(), orgID.String(), ObjectOrganization, ActionOrganizationDelete)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorizeAdminCannotChangeRoles(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()
	userID := env.node.Generate()
	env.addMember(t, orgID, userID, orgdomain.RoleAdmin)

	err := env.svc.Authorize(context.Background(), "user:"+userID.String(), orgID.String(), ObjectMember, ActionMemberUpdateRole)
	assert.ErrorIs(t, err, ErrForbidden)

	err = env.svc.Authorize(context.Background(), "user:"+userID.String(), orgID.String(), ObjectInvite, ActionInviteCreate)
	assert.NoError(t, err)
}

func TestAuthorizeNonMemberForbidden(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()
	userID := env.node.Generate()

	err := env.svc.Authorize(context.Background(), "user:"+userID.String(), orgID.String(), ObjectOrganization, ActionOrganizationView)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorizeRoleChangeReflectedImmediately(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()
	userID := env.node.Generate()
	env.addMember(t, orgID, userID, orgdomain.RoleMember)

	actor := "user:" + userID.String()
	err := env.svc.Authorize(context.Background(), actor, orgID.String(), ObjectInvite, ActionInviteCreate)
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, env.db.Model(&orgdomain.OrganizationMember{}).
		Where("organization_id = ? AND user_id = ?", orgID, userID).
		Update("role", orgdomain.RoleAdmin).Error)

	err = env.svc.Authorize(context.Background(), actor, orgID.String(), ObjectInvite, ActionInviteCreate)
	assert.NoError(t, err)
}

func TestAuthorizeInvalidActor(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()

	err := env.svc.Authorize(context.Background(), "api_key:123", orgID.String(), ObjectOrganization, ActionOrganizationView)
	assert.ErrorIs(t, err, ErrInvalidActor)

	err = env.svc.Authorize(context.Background(), "", orgID.String(), ObjectOrganization, ActionOrganizationView)
	assert.ErrorIs(t, err, ErrInvalidActor)
}
