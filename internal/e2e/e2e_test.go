// Package e2e boots the full application against a real postgres database
// and drives it through the public API with pkg/client. Enable with E2E=1
// and the usual DATABASE_* environment variables.
package e2e

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/atrium/internal/clock"
	"github.com/smallbiznis/atrium/internal/config"
	"github.com/smallbiznis/atrium/internal/migration"
	"github.com/smallbiznis/atrium/internal/observability"
	"github.com/smallbiznis/atrium/internal/server"
	"github.com/smallbiznis/atrium/pkg/client"
	"github.com/smallbiznis/atrium/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type testEnv struct {
	app     *fx.App
	db      *gorm.DB
	baseURL string
	httpSrv *httptest.Server
}

var env *testEnv

func TestMain(m *testing.M) {
	if os.Getenv("E2E") != "1" {
		os.Exit(m.Run())
	}

	gin.SetMode(gin.TestMode)
	setDefaultEnv()

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func requireEnv(t *testing.T) {
	t.Helper()
	if env == nil {
		t.Skip("set E2E=1 and point DATABASE_* at a disposable postgres")
	}
}

func startEnv() (*testEnv, error) {
	e := &testEnv{}

	var engine *gin.Engine
	e.app = fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(func() (*snowflake.Node, error) { return snowflake.NewNode(1) }),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
		fx.Populate(&engine, &e.db),
	)
	if err := e.app.Start(context.Background()); err != nil {
		return nil, err
	}

	e.httpSrv = httptest.NewServer(engine)
	e.baseURL = e.httpSrv.URL
	return e, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
}

func setDefaultEnv() {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("HTTP_ADDR", "127.0.0.1:0")
	setEnvIfEmpty("AUTH_COOKIE_SECURE", "false")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("RATE_LIMIT_ENABLED", "false")
	setEnvIfEmpty("BOOTSTRAP_DEFAULT_ORG_AND_USER", "true")
	setEnvIfEmpty("BOOTSTRAP_ADMIN_EMAIL", "admin@atrium.local")
	setEnvIfEmpty("BOOTSTRAP_ADMIN_PASSWORD", "admin-password")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func resetDatabase(t *testing.T, dbConn *gorm.DB) {
	t.Helper()
	for _, table := range []string{
		"organization_invites",
		"organization_members",
		"onboarding_progress",
		"sessions",
		"organizations",
		"users",
	} {
		if err := dbConn.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("clear %s: %v", table, err)
		}
	}
}

func newClient(t *testing.T) *client.Client {
	t.Helper()
	c, err := client.New(env.baseURL)
	if err != nil {
		t.Fatalf("build client: %v", err)
	}
	return c
}

func signupUser(t *testing.T, c *client.Client, email, orgName string) *client.SignupResponse {
	t.Helper()
	resp, err := c.Signup(context.Background(), client.SignupRequest{
		Email:    email,
		Password: "secret-password",
		OrgName:  orgName,
	})
	if err != nil {
		t.Fatalf("signup %s: %v", email, err)
	}
	return resp
}

func TestE2E_HealthCheck(t *testing.T) {
	requireEnv(t)

	if err := newClient(t).Health(context.Background()); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
}

func TestE2E_SignupCreatesOrgAndSession(t *testing.T) {
	requireEnv(t)
	resetDatabase(t, env.db)

	c := newClient(t)
	resp := signupUser(t, c, "alice@example.com", "Acme Rockets")

	if resp.OrgSlug != "acme-rockets" {
		t.Fatalf("expected slug acme-rockets, got %q", resp.OrgSlug)
	}
	if c.CSRFToken() == "" {
		t.Fatal("expected csrf token after signup")
	}

	sess, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("me failed: %v", err)
	}
	if sess.Metadata["email"] != "alice@example.com" {
		t.Fatalf("unexpected session metadata: %+v", sess.Metadata)
	}

	orgs, err := c.ListUserOrgs(context.Background())
	if err != nil {
		t.Fatalf("list orgs failed: %v", err)
	}
	if len(orgs) != 1 || orgs[0].Role != "OWNER" {
		t.Fatalf("expected one OWNER org, got %+v", orgs)
	}

	progress, err := c.GetOnboarding(context.Background())
	if err != nil {
		t.Fatalf("get onboarding failed: %v", err)
	}
	if progress.Done {
		t.Fatal("expected onboarding to start incomplete")
	}
}

func TestE2E_InviteFlow(t *testing.T) {
	requireEnv(t)
	resetDatabase(t, env.db)

	owner := newClient(t)
	signup := signupUser(t, owner, "alice@example.com", "Acme")

	invites, err := owner.InviteMembers(context.Background(), signup.OrgID, []client.InviteRequest{
		{Email: "bob@example.com", Role: "MEMBER"},
	})
	if err != nil {
		t.Fatalf("invite failed: %v", err)
	}
	if len(invites) != 1 || invites[0].Status != "PENDING" {
		t.Fatalf("unexpected invites: %+v", invites)
	}

	// The code normally travels by email; read it straight from the table.
	var code string
	if err := env.db.Raw(
		`SELECT code FROM organization_invites WHERE email = ?`, "bob@example.com",
	).Scan(&code).Error; err != nil || code == "" {
		t.Fatalf("read invite code: %v", err)
	}

	member := newClient(t)
	signupUser(t, member, "bob@example.com", "")

	org, err := member.AcceptInvite(context.Background(), code)
	if err != nil {
		t.Fatalf("accept invite failed: %v", err)
	}
	if org.ID != signup.OrgID {
		t.Fatalf("expected org %s, got %s", signup.OrgID, org.ID)
	}

	members, err := owner.ListMembers(context.Background(), signup.OrgID)
	if err != nil {
		t.Fatalf("list members failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
}

func TestE2E_SoleOwnerConflictThenDelete(t *testing.T) {
	requireEnv(t)
	resetDatabase(t, env.db)

	c := newClient(t)
	signup := signupUser(t, c, "alice@example.com", "Acme")

	err := c.DeleteAccount(context.Background())
	orgs, ok := client.IsSoleOwnerConflict(err)
	if !ok {
		t.Fatalf("expected sole owner conflict, got %v", err)
	}
	if len(orgs) != 1 || orgs[0].ID != signup.OrgID {
		t.Fatalf("unexpected conflict orgs: %+v", orgs)
	}

	if err := c.DeleteOrganization(context.Background(), signup.OrgID); err != nil {
		t.Fatalf("delete org failed: %v", err)
	}
	if err := c.DeleteAccount(context.Background()); err != nil {
		t.Fatalf("delete account failed: %v", err)
	}

	var count int64
	if err := env.db.Raw(`SELECT COUNT(*) FROM users WHERE email = ?`, "alice@example.com").Scan(&count).Error; err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 0 {
		t.Fatal("expected user row to be gone")
	}
}
