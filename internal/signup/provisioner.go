package signup

import (
	"context"

	"github.com/bwmarrin/snowflake"
	onboardingdomain "github.com/smallbiznis/atrium/internal/onboarding/domain"
	"github.com/smallbiznis/atrium/internal/providers/email"
	"github.com/smallbiznis/atrium/internal/signup/domain"
	"go.uber.org/zap"
)

const welcomeTemplate = "welcome"

type noopProvisioner struct{}

func NewNoopProvisioner() domain.Provisioner {
	return &noopProvisioner{}
}

func (p *noopProvisioner) Provision(ctx context.Context, userID snowflake.ID, email, displayName string) error {
	_ = ctx
	_ = userID
	_ = email
	_ = displayName
	return nil
}

// WelcomeProvisioner seeds the onboarding record and sends the welcome
// email for a freshly created user.
type WelcomeProvisioner struct {
	log        *zap.Logger
	emailer    email.Provider
	onboarding onboardingdomain.Service
}

func NewWelcomeProvisioner(log *zap.Logger, emailer email.Provider, onboarding onboardingdomain.Service) domain.Provisioner {
	return &WelcomeProvisioner{
		log:        log.Named("signup.provisioner"),
		emailer:    emailer,
		onboarding: onboarding,
	}
}

func (p *WelcomeProvisioner) Provision(ctx context.Context, userID snowflake.ID, to, displayName string) error {
	// Get creates the initial record on first read.
	if _, err := p.onboarding.Get(ctx, userID); err != nil {
		return err
	}

	if err := p.emailer.SendTemplate(ctx, []string{to}, welcomeTemplate, map[string]any{
		"display_name": displayName,
	}); err != nil {
		p.log.Warn("welcome email failed", zap.String("to", to), zap.Error(err))
	}
	return nil
}
