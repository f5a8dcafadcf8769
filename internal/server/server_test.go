package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/atrium/internal/account/domain"
	authdomain "github.com/smallbiznis/atrium/internal/auth/domain"
	"github.com/smallbiznis/atrium/internal/auth/session"
	"github.com/smallbiznis/atrium/internal/authorization"
	"github.com/smallbiznis/atrium/internal/config"
	orgdomain "github.com/smallbiznis/atrium/internal/organization/domain"
	"github.com/smallbiznis/atrium/internal/ratelimit"
	signupdomain "github.com/smallbiznis/atrium/internal/signup/domain"
	"github.com/smallbiznis/atrium/pkg/db/pagination"
)

type fakeSignupService struct {
	called bool
	err    error
	result *signupdomain.Result
}

func (f *fakeSignupService) Signup(ctx context.Context, req signupdomain.Request) (*signupdomain.Result, error) {
	f.called = true
	_ = ctx
	_ = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeAuthService struct {
	loginCalls int
	loginErr   error
	user       *authdomain.User
}

func (f *fakeAuthService) CreateUser(ctx context.Context, req authdomain.CreateUserRequest) (*authdomain.User, error) {
	_ = ctx
	return &authdomain.User{ID: snowflake.ID(200), Email: req.Email}, nil
}

func (f *fakeAuthService) Login(ctx context.Context, req authdomain.LoginRequest) (*authdomain.LoginResult, error) {
	f.loginCalls++
	_ = ctx
	_ = req
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &authdomain.LoginResult{
		Session: &authdomain.SessionView{
			Metadata: map[string]any{"user_id": "200"},
		},
		RawToken:  "session-token",
		CSRFToken: "csrf-token",
		ExpiresAt: time.Now().Add(time.Hour),
		SessionID: snowflake.ID(300),
	}, nil
}

func (f *fakeAuthService) Logout(ctx context.Context, rawToken string) error {
	_ = ctx
	_ = rawToken
	return nil
}

func (f *fakeAuthService) Authenticate(ctx context.Context, rawToken string) (*authdomain.Session, error) {
	_ = ctx
	_ = rawToken
	return nil, authdomain.ErrInvalidSession
}

func (f *fakeAuthService) UpdateSessionActiveOrg(ctx context.Context, sessionID snowflake.ID, activeOrgID *int64) error {
	_ = ctx
	_ = sessionID
	_ = activeOrgID
	return nil
}

func (f *fakeAuthService) ChangePassword(ctx context.Context, userID snowflake.ID, currentPassword, newPassword string) error {
	_ = ctx
	_ = userID
	_ = currentPassword
	_ = newPassword
	return nil
}

func (f *fakeAuthService) GetUser(ctx context.Context, userID snowflake.ID) (*authdomain.User, error) {
	_ = ctx
	_ = userID
	if f.user != nil {
		return f.user, nil
	}
	return nil, authdomain.ErrUserNotFound
}

type fakeOrgService struct {
	org            *orgdomain.OrganizationResponse
	createOrgCalls int
	lastOrgName    string
	lastUserID     snowflake.ID
	deleteErr      error
	memberRole     string
	memberRoleErr  error
}

func newFakeOrgService() *fakeOrgService {
	return &fakeOrgService{
		org: &orgdomain.OrganizationResponse{
			ID:       snowflake.ID(100).String(),
			Name:     "Acme",
			Slug:     "acme",
			PlanCode: "free",
		},
	}
}

func (f *fakeOrgService) Create(ctx context.Context, userID snowflake.ID, req orgdomain.CreateOrganizationRequest) (*orgdomain.OrganizationResponse, error) {
	f.createOrgCalls++
	f.lastUserID = userID
	f.lastOrgName = req.Name
	_ = ctx
	if len(req.Name) < 2 {
		return nil, orgdomain.ErrInvalidName
	}
	f.org.Name = req.Name
	return f.org, nil
}

func (f *fakeOrgService) GetByID(ctx context.Context, userID snowflake.ID, id string) (*orgdomain.OrganizationResponse, error) {
	_ = ctx
	_ = userID
	_ = id
	return f.org, nil
}

func (f *fakeOrgService) Update(ctx context.Context, userID snowflake.ID, id string, req orgdomain.UpdateOrganizationRequest) (*orgdomain.OrganizationResponse, error) {
	_ = ctx
	_ = userID
	_ = id
	_ = req
	return f.org, nil
}

func (f *fakeOrgService) Delete(ctx context.Context, userID snowflake.ID, id string) error {
	_ = ctx
	_ = userID
	_ = id
	return f.deleteErr
}

func (f *fakeOrgService) ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]orgdomain.OrganizationListResponseItem, error) {
	_ = ctx
	_ = userID
	return nil, nil
}

func (f *fakeOrgService) MemberRole(ctx context.Context, orgID, userID snowflake.ID) (string, error) {
	_ = ctx
	_ = orgID
	_ = userID
	if f.memberRoleErr != nil {
		return "", f.memberRoleErr
	}
	return f.memberRole, nil
}

func (f *fakeOrgService) ListMembers(ctx context.Context, userID snowflake.ID, orgID string, page pagination.Pagination) ([]orgdomain.MemberResponseItem, *pagination.PageInfo, error) {
	_ = ctx
	_ = userID
	_ = orgID
	_ = page
	return nil, &pagination.PageInfo{}, nil
}

func (f *fakeOrgService) UpdateMemberRole(ctx context.Context, userID snowflake.ID, orgID, memberID string, role string) error {
	_ = ctx
	_ = userID
	_ = orgID
	_ = memberID
	_ = role
	return nil
}

func (f *fakeOrgService) RemoveMember(ctx context.Context, userID snowflake.ID, orgID, memberID string) error {
	_ = ctx
	_ = userID
	_ = orgID
	_ = memberID
	return nil
}

func (f *fakeOrgService) InviteMembers(ctx context.Context, userID snowflake.ID, orgID string, invites []orgdomain.InviteRequest) ([]orgdomain.InviteResponseItem, error) {
	_ = ctx
	_ = userID
	_ = orgID
	_ = invites
	return nil, nil
}

func (f *fakeOrgService) ListInvites(ctx context.Context, userID snowflake.ID, orgID string, page pagination.Pagination) ([]orgdomain.InviteResponseItem, *pagination.PageInfo, error) {
	_ = ctx
	_ = userID
	_ = orgID
	_ = page
	return nil, &pagination.PageInfo{}, nil
}

func (f *fakeOrgService) RevokeInvite(ctx context.Context, userID snowflake.ID, orgID, inviteID string) error {
	_ = ctx
	_ = userID
	_ = orgID
	_ = inviteID
	return nil
}

func (f *fakeOrgService) AcceptInvite(ctx context.Context, userID snowflake.ID, email, code string) (*orgdomain.OrganizationResponse, error) {
	_ = ctx
	_ = userID
	_ = email
	_ = code
	return f.org, nil
}

type fakeAuthzService struct {
	err        error
	lastActor  string
	lastOrgID  string
	lastObject string
	lastAction string
}

func (f *fakeAuthzService) Authorize(ctx context.Context, actor, orgID, object, action string) error {
	_ = ctx
	f.lastActor = actor
	f.lastOrgID = orgID
	f.lastObject = object
	f.lastAction = action
	return f.err
}

type fakeAccountService struct {
	deleteErr error
}

func (f *fakeAccountService) GetProfile(ctx context.Context, userID snowflake.ID) (*accountdomain.ProfileResponse, error) {
	_ = ctx
	_ = userID
	return &accountdomain.ProfileResponse{ID: userID.String()}, nil
}

func (f *fakeAccountService) UpdateProfile(ctx context.Context, userID snowflake.ID, req accountdomain.UpdateProfileRequest) (*accountdomain.ProfileResponse, error) {
	_ = ctx
	_ = req
	return &accountdomain.ProfileResponse{ID: userID.String()}, nil
}

func (f *fakeAccountService) DeleteAccount(ctx context.Context, userID snowflake.ID) error {
	_ = ctx
	_ = userID
	return f.deleteErr
}

func withUser(userID snowflake.ID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(contextUserIDKey, userID.String())
		c.Next()
	}
}

func TestSignupHandlerSetsSessionCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)

	signupSvc := &fakeSignupService{
		result: &signupdomain.Result{
			UserID:    snowflake.ID(200),
			OrgID:     "100",
			OrgSlug:   "acme",
			RawToken:  "raw-token",
			CSRFToken: "csrf-token",
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	srv := &Server{
		cfg:       config.Config{SignupEnabled: true},
		signupsvc: signupSvc,
		sessions:  session.NewManager(config.Config{}),
	}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.POST("/auth/signup", srv.Signup)

	req := httptest.NewRequest(http.MethodPost, "/auth/signup", bytes.NewBufferString(`{"org_name":"Acme","email":"alice@example.com","password":"secret-pw"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if !signupSvc.called {
		t.Fatal("expected signup service to be called")
	}

	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["org_slug"] != "acme" {
		t.Fatalf("expected org_slug acme, got %v", body["org_slug"])
	}

	cookies := resp.Result().Cookies()
	found := false
	for _, cookie := range cookies {
		if cookie.Name == session.DefaultCookieName && cookie.Value == "raw-token" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s cookie to be set", session.DefaultCookieName)
	}
}

func TestSignupHandlerInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv := &Server{signupsvc: &fakeSignupService{}}
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.POST("/auth/signup", srv.Signup)

	req := httptest.NewRequest(http.MethodPost, "/auth/signup", bytes.NewBufferString(`not-json`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestLoginHandlerRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)

	authSvc := &fakeAuthService{}
	limiter := ratelimit.NewLoginLimiter(ratelimit.NewMemoryBucket(), nil, ratelimit.LoginLimiterConfig{
		IPRate:     0.01,
		IPBurst:    1,
		EmailRate:  0.01,
		EmailBurst: 1,
	})
	srv := &Server{
		authsvc:      authSvc,
		sessions:     session.NewManager(config.Config{}),
		loginLimiter: limiter,
	}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.POST("/auth/login", srv.Login)

	payload := `{"email":"alice@example.com","password":"secret-pw"}`
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)

		if i == 0 && resp.Code != http.StatusOK {
			t.Fatalf("expected first login to pass, got %d: %s", resp.Code, resp.Body.String())
		}
		if i == 1 && resp.Code != http.StatusTooManyRequests {
			t.Fatalf("expected second login to be rate limited, got %d", resp.Code)
		}
	}

	if authSvc.loginCalls != 1 {
		t.Fatalf("expected 1 login call, got %d", authSvc.loginCalls)
	}
}

func TestCreateOrganizationHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	orgSvc := newFakeOrgService()
	srv := &Server{organizationSvc: orgSvc}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.POST("/api/orgs", withUser(snowflake.ID(42)), srv.CreateOrganization)

	req := httptest.NewRequest(http.MethodPost, "/api/orgs", bytes.NewBufferString(`{"name":"  Acme Rockets  "}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if orgSvc.lastOrgName != "Acme Rockets" {
		t.Fatalf("expected trimmed name, got %q", orgSvc.lastOrgName)
	}
	if orgSvc.lastUserID != snowflake.ID(42) {
		t.Fatalf("expected user 42, got %v", orgSvc.lastUserID)
	}
}

func TestCreateOrganizationHandlerShortName(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv := &Server{organizationSvc: newFakeOrgService()}
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.POST("/api/orgs", withUser(snowflake.ID(42)), srv.CreateOrganization)

	req := httptest.NewRequest(http.MethodPost, "/api/orgs", bytes.NewBufferString(`{"name":"A"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "invalid_name") {
		t.Fatalf("expected invalid_name code, got %s", resp.Body.String())
	}
}

func TestDeleteAccountSoleOwnerConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)

	accountSvc := &fakeAccountService{
		deleteErr: &accountdomain.SoleOwnerConflictError{
			Organizations: []accountdomain.ConflictOrg{
				{ID: "100", Name: "Acme", Slug: "acme"},
				{ID: "101", Name: "Beta", Slug: "beta"},
			},
		},
	}
	srv := &Server{
		accountSvc: accountSvc,
		sessions:   session.NewManager(config.Config{}),
	}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.DELETE("/auth/account", withUser(snowflake.ID(42)), srv.DeleteAccount)

	req := httptest.NewRequest(http.MethodDelete, "/auth/account", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", resp.Code, resp.Body.String())
	}

	var body errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Error.Type != "sole_owner_conflict" {
		t.Fatalf("expected sole_owner_conflict, got %q", body.Error.Type)
	}
	if len(body.Error.Organizations) != 2 {
		t.Fatalf("expected 2 conflict orgs, got %d", len(body.Error.Organizations))
	}
}

func TestRequireRoleForbiddenForNonMember(t *testing.T) {
	gin.SetMode(gin.TestMode)

	orgSvc := newFakeOrgService()
	orgSvc.memberRoleErr = orgdomain.ErrMemberNotFound
	srv := &Server{organizationSvc: orgSvc}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.DELETE("/api/orgs/:id", withUser(snowflake.ID(42)), srv.RequireRole(orgdomain.RoleOwner, orgdomain.RoleAdmin), srv.DeleteOrganization)

	req := httptest.NewRequest(http.MethodDelete, "/api/orgs/100", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestRequireRoleAllowsAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	orgSvc := newFakeOrgService()
	orgSvc.memberRole = orgdomain.RoleAdmin
	srv := &Server{organizationSvc: orgSvc}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.DELETE("/api/orgs/:id", withUser(snowflake.ID(42)), srv.RequireRole(orgdomain.RoleOwner, orgdomain.RoleAdmin), srv.DeleteOrganization)

	req := httptest.NewRequest(http.MethodDelete, "/api/orgs/100", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestRequirePermissionDeniedByPolicy(t *testing.T) {
	gin.SetMode(gin.TestMode)

	authz := &fakeAuthzService{err: authorization.ErrForbidden}
	srv := &Server{organizationSvc: newFakeOrgService(), authzSvc: authz}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.POST("/api/orgs/:id/invites",
		withUser(snowflake.ID(42)),
		srv.RequirePermission(authorization.ObjectInvite, authorization.ActionInviteCreate),
		srv.InviteOrganizationMembers,
	)

	req := httptest.NewRequest(http.MethodPost, "/api/orgs/100/invites", bytes.NewBufferString(`{"invites":[{"email":"bob@example.com","role":"MEMBER"}]}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
	if authz.lastActor != "user:42" || authz.lastOrgID != "100" {
		t.Fatalf("unexpected authorize call: actor=%q org=%q", authz.lastActor, authz.lastOrgID)
	}
	if authz.lastObject != authorization.ObjectInvite || authz.lastAction != authorization.ActionInviteCreate {
		t.Fatalf("unexpected authorize call: object=%q action=%q", authz.lastObject, authz.lastAction)
	}
}

func TestMapErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"forbidden", orgdomain.ErrForbidden, http.StatusForbidden},
		{"org not found", orgdomain.ErrOrganizationNotFound, http.StatusNotFound},
		{"user exists", authdomain.ErrUserExists, http.StatusConflict},
		{"invalid credentials", authdomain.ErrInvalidCredentials, http.StatusUnauthorized},
		{"rate limited", ErrTooManyRequests, http.StatusTooManyRequests},
		{"invite expired", orgdomain.ErrInviteExpired, http.StatusBadRequest},
		{"bad page token", orgdomain.ErrInvalidPageToken, http.StatusBadRequest},
		{"sole owner sentinel", orgdomain.ErrSoleOwner, http.StatusBadRequest},
		{"unknown", context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		status, _ := mapError(tc.err)
		if status != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, status)
		}
	}
}
