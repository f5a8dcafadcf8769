package signup

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/clock"
	onboardingdomain "github.com/smallbiznis/atrium/internal/onboarding/domain"
	onboardingservice "github.com/smallbiznis/atrium/internal/onboarding/service"
	dbpkg "github.com/smallbiznis/atrium/pkg/db"
	"go.uber.org/zap/zaptest"
)

type capturingEmailer struct {
	to       string
	template string
	data     map[string]any
}

func (c *capturingEmailer) Send(ctx context.Context, to []string, subject, body string) error {
	_ = ctx
	_ = subject
	_ = body
	if len(to) > 0 {
		c.to = to[0]
	}
	return nil
}

func (c *capturingEmailer) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error {
	_ = ctx
	if len(to) > 0 {
		c.to = to[0]
	}
	c.template = templateName
	c.data = data
	return nil
}

func TestWelcomeProvisionerSeedsOnboardingAndSendsEmail(t *testing.T) {
	db, err := dbpkg.NewTest()
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	if err := db.AutoMigrate(&onboardingdomain.Progress{}); err != nil {
		t.Fatalf("failed to migrate onboarding progress: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create id generator: %v", err)
	}

	onboarding := onboardingservice.NewService(db, zaptest.NewLogger(t), clock.SystemClock{})
	emailer := &capturingEmailer{}
	provisioner := NewWelcomeProvisioner(zaptest.NewLogger(t), emailer, onboarding)

	userID := node.Generate()
	if err := provisioner.Provision(context.Background(), userID, "alice@example.com", "Alice"); err != nil {
		t.Fatalf("provision failed: %v", err)
	}

	var progress onboardingdomain.Progress
	if err := db.First(&progress, "user_id = ?", userID).Error; err != nil {
		t.Fatalf("expected onboarding record, got %v", err)
	}
	if progress.CurrentStep != onboardingdomain.StepProfile {
		t.Fatalf("expected current step %q, got %q", onboardingdomain.StepProfile, progress.CurrentStep)
	}

	if emailer.to != "alice@example.com" {
		t.Fatalf("expected welcome email to alice@example.com, got %q", emailer.to)
	}
	if emailer.template != welcomeTemplate {
		t.Fatalf("expected template %q, got %q", welcomeTemplate, emailer.template)
	}
	if emailer.data["display_name"] != "Alice" {
		t.Fatalf("expected display_name Alice, got %v", emailer.data["display_name"])
	}
}

func TestNoopProvisionerDoesNothing(t *testing.T) {
	provisioner := NewNoopProvisioner()
	if err := provisioner.Provision(context.Background(), 1, "alice@example.com", "Alice"); err != nil {
		t.Fatalf("expected noop provisioner to return nil, got %v", err)
	}
}
