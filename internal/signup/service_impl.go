package signup

import (
	"context"
	"strings"

	authdomain "github.com/smallbiznis/atrium/internal/auth/domain"
	"github.com/smallbiznis/atrium/internal/config"
	obsmetrics "github.com/smallbiznis/atrium/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/atrium/internal/organization/domain"
	"github.com/smallbiznis/atrium/internal/signup/domain"
	"go.uber.org/zap"
)

type service struct {
	cfg         config.Config
	log         *zap.Logger
	authsvc     authdomain.Service
	orgsvc      orgdomain.Service
	provisioner domain.Provisioner
	metrics     *obsmetrics.Metrics
}

func NewService(
	cfg config.Config,
	log *zap.Logger,
	authsvc authdomain.Service,
	orgsvc orgdomain.Service,
	provisioner domain.Provisioner,
	metrics *obsmetrics.Metrics,
) domain.Service {
	return &service{
		cfg:         cfg,
		log:         log.Named("signup.service"),
		authsvc:     authsvc,
		orgsvc:      orgsvc,
		provisioner: provisioner,
		metrics:     metrics,
	}
}

func (s *service) Signup(ctx context.Context, req domain.Request) (*domain.Result, error) {
	if !s.cfg.SignupEnabled {
		return nil, authdomain.ErrSignupDisabled
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") || strings.TrimSpace(req.Password) == "" {
		return nil, domain.ErrInvalidRequest
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = email[:strings.Index(email, "@")]
	}

	user, err := s.authsvc.CreateUser(ctx, authdomain.CreateUserRequest{
		Email:       email,
		Password:    req.Password,
		DisplayName: displayName,
	})
	if err != nil {
		return nil, err
	}

	result := &domain.Result{UserID: user.ID}

	if orgName := strings.TrimSpace(req.OrgName); orgName != "" {
		org, err := s.orgsvc.Create(ctx, user.ID, orgdomain.CreateOrganizationRequest{Name: orgName})
		if err != nil {
			return nil, err
		}
		result.OrgID = org.ID
		result.OrgSlug = org.Slug
	}

	// Post-signup side effects never fail the signup itself.
	if err := s.provisioner.Provision(ctx, user.ID, email, displayName); err != nil {
		s.log.Warn("signup provisioning failed",
			zap.String("user_id", user.ID.String()),
			zap.Error(err),
		)
	}

	session, err := s.authsvc.Login(ctx, authdomain.LoginRequest{
		Email:     email,
		Password:  req.Password,
		UserAgent: req.UserAgent,
		IPAddress: req.IPAddress,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSignup(ctx)

	result.RawToken = session.RawToken
	result.CSRFToken = session.CSRFToken
	result.ExpiresAt = session.ExpiresAt
	return result, nil
}
