package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Plan describes a subscription tier offered to organizations. Payment
// processing itself is stubbed; the catalog only drives plan metadata.
type Plan struct {
	Code        string `mapstructure:"code" json:"code"`
	Name        string `mapstructure:"name" json:"name"`
	PriceCents  int64  `mapstructure:"priceCents" json:"price_cents"`
	Currency    string `mapstructure:"currency" json:"currency"`
	SeatLimit   int    `mapstructure:"seatLimit" json:"seat_limit"`
	Description string `mapstructure:"description" json:"description"`
}

type PlanCatalog struct {
	DefaultPlan string `mapstructure:"defaultPlan"`
	Plans       []Plan `mapstructure:"plans"`
}

func DefaultPlanCatalog() PlanCatalog {
	return PlanCatalog{
		DefaultPlan: "free",
		Plans: []Plan{
			{Code: "free", Name: "Free", PriceCents: 0, Currency: "USD", SeatLimit: 3, Description: "For trying things out"},
			{Code: "pro", Name: "Pro", PriceCents: 2900, Currency: "USD", SeatLimit: 25, Description: "For growing teams"},
			{Code: "scale", Name: "Scale", PriceCents: 9900, Currency: "USD", SeatLimit: 0, Description: "Unlimited seats"},
		},
	}
}

// PlanCatalogHolder exposes the current plan catalog and hot-reloads it when
// the backing YAML file changes.
type PlanCatalogHolder struct {
	current atomic.Value // holds PlanCatalog
}

func NewPlanCatalogHolder() (*PlanCatalogHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/atrium/config")
	v.AddConfigPath("/etc/atrium")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ATRIUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultPlanCatalog()
		v.SetDefault("catalog.defaultPlan", defaults.DefaultPlan)
		v.SetDefault("catalog.plans", defaults.Plans)
	}

	var catalog PlanCatalog
	if err := v.UnmarshalKey("catalog", &catalog); err != nil {
		return nil, err
	}
	if len(catalog.Plans) == 0 {
		catalog = DefaultPlanCatalog()
	}
	if err := validatePlanCatalog(catalog); err != nil {
		return nil, err
	}

	holder := &PlanCatalogHolder{}
	holder.current.Store(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlanCatalog
		if err := v.UnmarshalKey("catalog", &updated); err != nil {
			log.Printf("[plan-catalog] reload failed: %v", err)
			return
		}
		if err := validatePlanCatalog(updated); err != nil {
			log.Printf("[plan-catalog] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[plan-catalog] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPlanCatalogHolder wraps a fixed catalog, without file watching.
func NewStaticPlanCatalogHolder(catalog PlanCatalog) *PlanCatalogHolder {
	holder := &PlanCatalogHolder{}
	holder.current.Store(catalog)
	return holder
}

func (h *PlanCatalogHolder) Get() PlanCatalog {
	return h.current.Load().(PlanCatalog)
}

// Plan returns the plan with the given code, or false when unknown.
func (h *PlanCatalogHolder) Plan(code string) (Plan, bool) {
	catalog := h.Get()
	code = strings.ToLower(strings.TrimSpace(code))
	for _, plan := range catalog.Plans {
		if plan.Code == code {
			return plan, true
		}
	}
	return Plan{}, false
}

func validatePlanCatalog(catalog PlanCatalog) error {
	if len(catalog.Plans) == 0 {
		return errors.New("catalog.plans cannot be empty")
	}
	found := false
	for _, plan := range catalog.Plans {
		if strings.TrimSpace(plan.Code) == "" {
			return errors.New("catalog.plans entries require a code")
		}
		if plan.Code == catalog.DefaultPlan {
			found = true
		}
	}
	if !found {
		return errors.New("catalog.defaultPlan must reference a known plan")
	}
	return nil
}
