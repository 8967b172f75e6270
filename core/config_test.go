package core

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig(t *testing.T) {
	setenv := func(key, val string) {
		old, had := os.LookupEnv(key)
		_ = os.Setenv(key, val)
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(key, old)
			} else {
				_ = os.Unsetenv(key)
			}
		})
	}
	setenv("ENV", "qa")
	setenv("QA_BCRYPTCOST", "10")
	setenv("QA_SESSION_TTL", "2h")
	setenv("QA_PROVIDER_KIND", "gotrue")
	setenv("QA_PROVIDER_BASEURL", "https://auth.example.com/")

	conf := NewConfig()

	assert.Equal(t, "QA", conf.Env)
	assert.False(t, conf.Debug)
	assert.Equal(t, 10, conf.BcryptCost)
	assert.Equal(t, 2*time.Hour, conf.Session.TTL)
	assert.Equal(t, "gotrue", conf.Provider.Kind)
	assert.Equal(t, "https://auth.example.com", conf.Provider.BaseURL)
	assert.Equal(t, 7*24*time.Hour, conf.InvitationTTL)
	assert.Equal(t, 5*time.Second, conf.Provider.Timeout)
	assert.Equal(t, "localhost:5432", conf.Database.Address())
	assert.Equal(t, EnginePostgres, conf.Database.Engine)
	assert.NoError(t, conf.Check())
}

func TestNewConfig_devDefaults(t *testing.T) {
	old, had := os.LookupEnv("ENV")
	_ = os.Setenv("ENV", "dev")
	t.Cleanup(func() {
		if had {
			_ = os.Setenv("ENV", old)
		} else {
			_ = os.Unsetenv("ENV")
		}
	})

	conf := NewConfig()

	assert.Equal(t, EngineMemory, conf.Database.Engine)
	assert.Equal(t, ProviderMemory, conf.Provider.Kind)
	assert.NoError(t, conf.Check())
}

func TestConfig_Check(t *testing.T) {
	tests := []struct {
		name     string
		engine   string
		provider string
		baseURL  string
		testMode bool
		wantErr  bool
	}{
		{name: "memory everywhere", engine: EngineMemory, provider: ProviderMemory},
		{name: "memory provider on postgres", engine: EnginePostgres, provider: ProviderMemory, wantErr: true},
		{name: "memory provider on postgres in tests", engine: EnginePostgres, provider: ProviderMemory, testMode: true},
		{name: "gotrue on postgres", engine: EnginePostgres, provider: ProviderGoTrue, baseURL: "https://auth.example.com"},
		{name: "gotrue without url", engine: EnginePostgres, provider: ProviderGoTrue, wantErr: true},
		{name: "unknown provider", engine: EngineMemory, provider: "ldap", wantErr: true},
		{name: "unknown engine", engine: "mysql", provider: ProviderMemory, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := NewTestConfig()
			conf.TestMode = tt.testMode
			conf.Database.Engine = tt.engine
			conf.Provider.Kind = tt.provider
			conf.Provider.BaseURL = tt.baseURL

			err := conf.Check()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewTestConfig(t *testing.T) {
	conf := NewTestConfig()

	assert.True(t, conf.TestMode)
	assert.Equal(t, ProviderMemory, conf.Provider.Kind)
	assert.Equal(t, EngineMemory, conf.Database.Engine)
	assert.NoError(t, conf.Check())
	from := conf.DefaultFromEmail()
	assert.Equal(t, `"Masomo" <noreply@localhost>`, from.String())
}
