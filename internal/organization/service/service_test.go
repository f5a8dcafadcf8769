package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/atrium/internal/auth/domain"
	"github.com/smallbiznis/atrium/internal/clock"
	"github.com/smallbiznis/atrium/internal/config"
	"github.com/smallbiznis/atrium/internal/organization/domain"
	"github.com/smallbiznis/atrium/internal/organization/repository"
	"github.com/smallbiznis/atrium/internal/providers/email"
	"github.com/smallbiznis/atrium/internal/providers/payment"
	"github.com/smallbiznis/atrium/pkg/db"
	"github.com/smallbiznis/atrium/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type testEnv struct {
	svc   domain.Service
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dbConn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, dbConn.AutoMigrate(
		&authdomain.User{},
		&domain.Organization{},
		&domain.OrganizationMember{},
		&domain.OrganizationInvite{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Now())
	repo := repository.NewRepository(dbConn)
	plans := config.NewStaticPlanCatalogHolder(config.DefaultPlanCatalog())
	svc := NewService(
		dbConn,
		zaptest.NewLogger(t),
		repo,
		node,
		clk,
		&email.NoOpProvider{},
		payment.NewNoOp(zaptest.NewLogger(t)),
		nil,
		plans,
		config.Config{BaseURL: "http://localhost:8080"},
	)

	return &testEnv{svc: svc, db: dbConn, node: node, clock: clk}
}

func (e *testEnv) createUser(t *testing.T, emailAddr string) snowflake.ID {
	t.Helper()
	id := e.node.Generate()
	require.NoError(t, e.db.Create(&authdomain.User{
		ID:          id,
		Email:       emailAddr,
		DisplayName: emailAddr,
	}).Error)
	return id
}

func TestCreateOrganizationAddsOwner(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com")

	resp, err := env.svc.Create(context.Background(), owner, domain.CreateOrganizationRequest{
		Name:        "Acme Rockets",
		Description: "  launch vehicles  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "acme-rockets", resp.Slug)
	assert.Equal(t, "launch vehicles", resp.Description)
	assert.Equal(t, "free", resp.PlanCode)

	role, err := env.svc.MemberRole(context.Background(), mustParseID(t, resp.ID), owner)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, role)
}

func TestCreateOrganizationEmptyName(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com")

	_, err := env.svc.Create(context.Background(), owner, domain.CreateOrganizationRequest{Name: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestUpdateOrganizationDescription(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com")

	resp, err := env.svc.Create(context.Background(), owner, domain.CreateOrganizationRequest{
		Name:        "Acme",
		Description: "rockets",
	})
	require.NoError(t, err)

	desc := "  builds rockets  "
	updated, err := env.svc.Update(context.Background(), owner, resp.ID, domain.UpdateOrganizationRequest{
		Name:        "Acme",
		Description: &desc,
	})
	require.NoError(t, err)
	assert.Equal(t, "builds rockets", updated.Description)

	// Omitting the field keeps the stored value.
	updated, err = env.svc.Update(context.Background(), owner, resp.ID, domain.UpdateOrganizationRequest{Name: "Acme Corp"})
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", updated.Name)
	assert.Equal(t, "builds rockets", updated.Description)
}

func TestDeleteOrganizationRequiresPrivilegedRole(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com")
	member := env.createUser(t, "member@example.com")

	resp, err := env.svc.Create(context.Background(), owner, domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)

	addMember(t, env, resp.ID, member, domain.RoleMember)

	err = env.svc.Delete(context.Background(), member, resp.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	require.NoError(t, env.svc.Delete(context.Background(), owner, resp.ID))

	orgs, err := env.svc.ListOrganizationsByUser(context.Background(), owner)
	require.NoError(t, err)
	assert.Empty(t, orgs)
}

func TestDeleteOrganizationCascades(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com")
	member := env.createUser(t, "member@example.com")

	resp, err := env.svc.Create(context.Background(), owner, domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)
	addMember(t, env, resp.ID, member, domain.RoleMember)

	_, err = env.svc.InviteMembers(context.Background(), owner, resp.ID, []domain.InviteRequest{
		{Email: "new@example.com", Role: domain.RoleMember},
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.Delete(context.Background(), owner, resp.ID))

	var members, invites, orgs int64
	require.NoError(t, env.db.Model(&domain.OrganizationMember{}).Count(&members).Error)
	require.NoError(t, env.db.Model(&domain.OrganizationInvite{}).Count(&invites).Error)
	require.NoError(t, env.db.Model(&domain.Organization{}).Count(&orgs).Error)
	assert.Zero(t, members)
	assert.Zero(t, invites)
	assert.Zero(t, orgs)
}

// brokenDeleteRepo fails the final organization delete so the surrounding
// transaction has already removed members and invites when the error hits.
type brokenDeleteRepo struct {
	domain.Repository
}

func (r *brokenDeleteRepo) WithTx(tx *gorm.DB) domain.Repository {
	return &brokenDeleteRepo{Repository: r.Repository.WithTx(tx)}
}

func (r *brokenDeleteRepo) DeleteOrganization(ctx context.Context, id snowflake.ID) error {
	return errors.New("organization delete failed")
}

func TestDeleteOrganizationRollsBackOnFailure(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com")

	resp, err := env.svc.Create(context.Background(), owner, domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)

	_, err = env.svc.InviteMembers(context.Background(), owner, resp.ID, []domain.InviteRequest{
		{Email: "new@example.com", Role: domain.RoleMember},
	})
	require.NoError(t, err)

	broken := NewService(
		env.db,
		zaptest.NewLogger(t),
		&brokenDeleteRepo{Repository: repository.NewRepository(env.db)},
		env.node,
		env.clock,
		&email.NoOpProvider{},
		payment.NewNoOp(zaptest.NewLogger(t)),
		nil,
		config.NewStaticPlanCatalogHolder(config.DefaultPlanCatalog()),
		config.Config{BaseURL: "http://localhost:8080"},
	)

	err = broken.Delete(context.Background(), owner, resp.ID)
	require.Error(t, err)

	var members, invites, orgs int64
	require.NoError(t, env.db.Model(&domain.OrganizationMember{}).Count(&members).Error)
	require.NoError(t, env.db.Model(&domain.OrganizationInvite{}).Count(&invites).Error)
	require.NoError(t, env.db.Model(&domain.Organization{}).Count(&orgs).Error)
	assert.Equal(t, int64(1), members)
	assert.Equal(t, int64(1), invites)
	assert.Equal(t, int64(1), orgs)
}

func TestListMembersPaginates(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com")

	resp, err := env.svc.Create(context.Background(), owner, domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		user := env.createUser(t, fmt.Sprintf("member%d@example.com", i))
		env.clock.Advance(time.Second)
		addMember(t, env, resp.ID, user, domain.RoleMember)
	}

	first, info, err := env.svc.ListMembers(context.Background(), owner, resp.ID, pagination.Pagination{PageSize: 3})
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.True(t, info.HasMore)
	require.NotEmpty(t, info.NextPageToken)

	second, info, err := env.svc.ListMembers(context.Background(), owner, resp.ID, pagination.Pagination{
		PageSize:  3,
		PageToken: info.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.False(t, info.HasMore)

	seen := map[string]bool{}
	for _, member := range append(first, second...) {
		seen[member.ID] = true
	}
	assert.Len(t, seen, 5)
}

func TestListMembersRejectsBadPageToken(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com")

	resp, err := env.svc.Create(context.Background(), owner, domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)

	_, _, err = env.svc.ListMembers(context.Background(), owner, resp.ID, pagination.Pagination{PageToken: "%%not-a-token%%"})
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
}

func TestDemoteSoleOwnerRejected(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com")

	resp, err := env.svc.Create(context.Background(), owner, domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)

	ownerMember := findMember(t, env, resp.ID, owner)

	err = env.svc.UpdateMemberRole(context.Background(), owner, resp.ID, ownerMember.ID.String(), domain.RoleMember)
	assert.ErrorIs(t, err, domain.ErrSoleOwner)
}

func TestDemoteOwnerAllowedWithSecondOwner(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com")
	second := env.createUser(t, "second@example.com")

	resp, err := env.svc.Create(context.Background(), owner, domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)
	addMember(t, env, resp.ID, second, domain.RoleOwner)

	ownerMember := findMember(t, env, resp.ID, owner)
	require.NoError(t, env.svc.UpdateMemberRole(context.Background(), owner, resp.ID, ownerMember.ID.String(), domain.RoleAdmin))

	role, err := env.svc.MemberRole(context.Background(), mustParseID(t, resp.ID), owner)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, role)
}

func TestRemoveSoleOwnerRejected(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com")

	resp, err := env.svc.Create(context.Background(), owner, domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)

	ownerMember := findMember(t, env, resp.ID, owner)
	err = env.svc.RemoveMember(context.Background(), owner, resp.ID, ownerMember.ID.String())
	assert.ErrorIs(t, err, domain.ErrSoleOwner)
}

func TestAdminCannotRemoveOwner(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com")
	admin := env.createUser(t, "admin@example.com")

	resp, err := env.svc.Create(context.Background(), owner, domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)
	addMember(t, env, resp.ID, admin, domain.RoleAdmin)

	ownerMember := findMember(t, env, resp.ID, owner)
	err = env.svc.RemoveMember(context.Background(), admin, resp.ID, ownerMember.ID.String())
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestMemberCanLeave(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com")
	member := env.createUser(t, "member@example.com")

	resp, err := env.svc.Create(context.Background(), owner, domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)
	addMember(t, env, resp.ID, member, domain.RoleMember)

	selfMember := findMember(t, env, resp.ID, member)
	require.NoError(t, env.svc.RemoveMember(context.Background(), member, resp.ID, selfMember.ID.String()))

	_, err = env.svc.MemberRole(context.Background(), mustParseID(t, resp.ID), member)
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestInviteAndAccept(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com")
	invitee := env.createUser(t, "new@example.com")

	resp, err := env.svc.Create(context.Background(), owner, domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)

	invites, err := env.svc.InviteMembers(context.Background(), owner, resp.ID, []domain.InviteRequest{
		{Email: "new@example.com", Role: domain.RoleMember},
	})
	require.NoError(t, err)
	require.Len(t, invites, 1)
	assert.Equal(t, domain.InviteStatusPending, invites[0].Status)

	var stored domain.OrganizationInvite
	require.NoError(t, env.db.First(&stored, "email = ?", "new@example.com").Error)

	org, err := env.svc.AcceptInvite(context.Background(), invitee, "new@example.com", stored.Code)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, org.ID)

	role, err := env.svc.MemberRole(context.Background(), mustParseID(t, resp.ID), invitee)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMember, role)
}

func TestAcceptInviteWrongEmail(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com")
	stranger := env.createUser(t, "other@example.com")

	resp, err := env.svc.Create(context.Background(), owner, domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)

	_, err = env.svc.InviteMembers(context.Background(), owner, resp.ID, []domain.InviteRequest{
		{Email: "new@example.com"},
	})
	require.NoError(t, err)

	var stored domain.OrganizationInvite
	require.NoError(t, env.db.First(&stored, "email = ?", "new@example.com").Error)

	_, err = env.svc.AcceptInvite(context.Background(), stranger, "other@example.com", stored.Code)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAcceptExpiredInvite(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com")
	invitee := env.createUser(t, "new@example.com")

	resp, err := env.svc.Create(context.Background(), owner, domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)

	_, err = env.svc.InviteMembers(context.Background(), owner, resp.ID, []domain.InviteRequest{
		{Email: "new@example.com"},
	})
	require.NoError(t, err)

	env.clock.Advance(8 * 24 * time.Hour)

	var stored domain.OrganizationInvite
	require.NoError(t, env.db.First(&stored, "email = ?", "new@example.com").Error)

	_, err = env.svc.AcceptInvite(context.Background(), invitee, "new@example.com", stored.Code)
	assert.ErrorIs(t, err, domain.ErrInviteExpired)
}

func TestInviteOwnerRoleRejected(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com")

	resp, err := env.svc.Create(context.Background(), owner, domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)

	_, err = env.svc.InviteMembers(context.Background(), owner, resp.ID, []domain.InviteRequest{
		{Email: "new@example.com", Role: domain.RoleOwner},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRole)
}

func addMember(t *testing.T, env *testEnv, orgID string, userID snowflake.ID, role string) {
	t.Helper()
	now := env.clock.Now()
	require.NoError(t, env.db.Create(&domain.OrganizationMember{
		ID:        env.node.Generate(),
		OrgID:     mustParseID(t, orgID),
		UserID:    userID,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error)
}

func findMember(t *testing.T, env *testEnv, orgID string, userID snowflake.ID) domain.OrganizationMember {
	t.Helper()
	var member domain.OrganizationMember
	require.NoError(t, env.db.First(&member, "organization_id = ? AND user_id = ?", mustParseID(t, orgID), userID).Error)
	return member
}

func mustParseID(t *testing.T, raw string) snowflake.ID {
	t.Helper()
	id, err := snowflake.ParseString(raw)
	require.NoError(t, err)
	return id
}
