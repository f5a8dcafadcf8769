package migration

import (
	"io/fs"
	"strings"
	"sync"
	"testing"

	authdomain "github.com/smallbiznis/atrium/internal/auth/domain"
	onboardingdomain "github.com/smallbiznis/atrium/internal/onboarding/domain"
	orgdomain "github.com/smallbiznis/atrium/internal/organization/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

// Every column a gorm model writes must exist in the embedded schema,
// otherwise inserts fail with undefined_column on a migrate-provisioned
// database while sqlite AutoMigrate tests keep passing.
func TestMigrationsCoverModelColumns(t *testing.T) {
	var ddl strings.Builder
	err := fs.WalkDir(embeddedMigrations, "sql", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".up.sql") {
			return nil
		}
		data, err := fs.ReadFile(embeddedMigrations, path)
		if err != nil {
			return err
		}
		ddl.Write(data)
		return nil
	})
	require.NoError(t, err)
	lowered := strings.ToLower(ddl.String())

	models := []any{
		&authdomain.User{},
		&authdomain.Session{},
		&orgdomain.Organization{},
		&orgdomain.OrganizationMember{},
		&orgdomain.OrganizationInvite{},
		&onboardingdomain.Progress{},
	}

	cache := &sync.Map{}
	for _, model := range models {
		parsed, err := schema.Parse(model, cache, schema.NamingStrategy{})
		require.NoError(t, err)
		for _, field := range parsed.Fields {
			if field.DBName == "" {
				continue
			}
			require.Contains(t, lowered, field.DBName,
				"table %s column %s missing from migrations", parsed.Table, field.DBName)
		}
	}
}
