package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/atrium/internal/account"
	accountdomain "github.com/smallbiznis/atrium/internal/account/domain"
	"github.com/smallbiznis/atrium/internal/auth"
	authdomain "github.com/smallbiznis/atrium/internal/auth/domain"
	"github.com/smallbiznis/atrium/internal/auth/session"
	"github.com/smallbiznis/atrium/internal/authorization"
	"github.com/smallbiznis/atrium/internal/config"
	"github.com/smallbiznis/atrium/internal/observability"
	obsmiddleware "github.com/smallbiznis/atrium/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/atrium/internal/observability/metrics"
	obstracing "github.com/smallbiznis/atrium/internal/observability/tracing"
	"github.com/smallbiznis/atrium/internal/onboarding"
	onboardingdomain "github.com/smallbiznis/atrium/internal/onboarding/domain"
	"github.com/smallbiznis/atrium/internal/organization"
	organizationdomain "github.com/smallbiznis/atrium/internal/organization/domain"
	"github.com/smallbiznis/atrium/internal/providers/email"
	"github.com/smallbiznis/atrium/internal/providers/payment"
	"github.com/smallbiznis/atrium/internal/ratelimit"
	"github.com/smallbiznis/atrium/internal/signup"
	signupdomain "github.com/smallbiznis/atrium/internal/signup/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	auth.Module,
	session.Module,
	account.Module,
	email.Module,
	payment.Module,
	onboarding.Module,
	organization.Module,
	ratelimit.Module,
	signup.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	authsvc         authdomain.Service
	sessions        *session.Manager
	genID           *snowflake.Node
	authzSvc        authorization.Service
	accountSvc      accountdomain.Service
	organizationSvc organizationdomain.Service
	onboardingSvc   onboardingdomain.Service
	signupsvc       signupdomain.Service
	plans           *config.PlanCatalogHolder
	loginLimiter    *ratelimit.LoginLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	Authsvc         authdomain.Service
	Sessions        *session.Manager
	GenID           *snowflake.Node
	AuthzSvc        authorization.Service
	AccountSvc      accountdomain.Service
	OrganizationSvc organizationdomain.Service
	OnboardingSvc   onboardingdomain.Service
	Signupsvc       signupdomain.Service
	Plans           *config.PlanCatalogHolder
	LoginLimiter    *ratelimit.LoginLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics     `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		authsvc:         p.Authsvc,
		sessions:        p.Sessions,
		genID:           p.GenID,
		authzSvc:        p.AuthzSvc,
		accountSvc:      p.AccountSvc,
		organizationSvc: p.OrganizationSvc,
		onboardingSvc:   p.OnboardingSvc,
		signupsvc:       p.Signupsvc,
		plans:           p.Plans,
		loginLimiter:    p.LoginLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/signup", s.Signup)
	auth.POST("/login", s.Login)
	auth.POST("/logout", s.AuthRequired(), s.CSRFRequired(), s.Logout)
	auth.GET("/me", s.Me)
	auth.GET("/csrf", s.AuthRequired(), s.CSRFToken)
	auth.POST("/change-password", s.AuthRequired(), s.CSRFRequired(), s.ChangePassword)
	auth.PUT("/profile", s.AuthRequired(), s.CSRFRequired(), s.UpdateProfile)
	auth.GET("/profile", s.AuthRequired(), s.GetProfile)
	auth.DELETE("/account", s.AuthRequired(), s.CSRFRequired(), s.DeleteAccount)

	user := auth.Group("/user", s.AuthRequired())
	{
		user.GET("/orgs", s.ListUserOrgs)
		user.POST("/using/:orgId", s.CSRFRequired(), s.UseOrg)
	}
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.GET("/plans", s.ListPlans)

	onboarding := api.Group("/onboarding", s.AuthRequired())
	{
		onboarding.GET("", s.GetOnboarding)
		onboarding.PUT("", s.CSRFRequired(), s.CompleteOnboardingStep)
	}

	api.POST("/invites/:code/accept", s.AuthRequired(), s.CSRFRequired(), s.AcceptInvite)

	orgs := api.Group("/orgs", s.AuthRequired())
	{
		orgs.POST("", s.CSRFRequired(), s.CreateOrganization)
		orgs.GET("", s.ListOrganizations)

		org := orgs.Group("/:id")
		{
			org.GET("", s.GetOrganization)
			org.PATCH("", s.CSRFRequired(), s.RequireRole(organizationdomain.RoleOwner, organizationdomain.RoleAdmin), s.UpdateOrganization)
			org.DELETE("", s.CSRFRequired(), s.RequireRole(organizationdomain.RoleOwner, organizationdomain.RoleAdmin), s.DeleteOrganization)

			org.GET("/members", s.ListOrganizationMembers)
			org.PATCH("/members/:memberId", s.CSRFRequired(), s.RequirePermission(authorization.ObjectMember, authorization.ActionMemberUpdateRole), s.UpdateOrganizationMemberRole)
			org.DELETE("/members/:memberId", s.CSRFRequired(), s.RemoveOrganizationMember)

			org.GET("/invites", s.RequirePermission(authorization.ObjectInvite, authorization.ActionInviteView), s.ListOrganizationInvites)
			org.POST("/invites", s.CSRFRequired(), s.RequirePermission(authorization.ObjectInvite, authorization.ActionInviteCreate), s.InviteOrganizationMembers)
			org.DELETE("/invites/:inviteId", s.CSRFRequired(), s.RequirePermission(authorization.ObjectInvite, authorization.ActionInviteRevoke), s.RevokeOrganizationInvite)
		}
	}

	if s.cfg.Environment != "production" {
		api.POST("/test/cleanup", s.TestCleanup)
	}
}
