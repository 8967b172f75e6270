package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Storage engines and identity provider kinds.
const (
	EngineMemory   = "memory"
	EnginePostgres = "postgres"

	ProviderMemory = "memory"
	ProviderGoTrue = "gotrue"
)

type (
	ServerConfig struct {
		Host            string
		DebugHost       string
		ShutdownTimeout time.Duration
	}

	SessionConfig struct {
		Issuer string
		TTL    time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	ProviderConfig struct {
		Kind    string // memory | gotrue
		BaseURL string
		APIKey  string
		Timeout time.Duration
	}

	RateLimitConfig struct {
		Requests int
		Window   time.Duration
	}

	Config struct {
		Env                  string
		Build                string
		Debug                bool
		TestMode             bool
		AppName              string
		SecretKey            string
		FrontendBaseURL      string
		DefaultFromEmailAddr string
		PasswordResetTimeout time.Duration
		InvitationTTL        time.Duration
		BcryptCost           int
		RedisURL             string
		RollbarToken         string
		SendgridAPIKey       string

		Server    ServerConfig
		Session   SessionConfig
		Database  DatabaseConfig
		Provider  ProviderConfig
		RateLimit RateLimitConfig
	}
)

func (dc DatabaseConfig) Address() string {
	return net.JoinHostPort(dc.Host, dc.Port)
}

func (conf *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: conf.AppName, Address: conf.DefaultFromEmailAddr}
}

// NewConfig loads the application settings from the environment.
// ENV selects the environment (DEV, TEST, QA, PROD); every key is read from `<ENV>_<KEY>`
// and config/.env.<env> is loaded first when it exists.
func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}

	// DEV runs entirely in memory out of the box; persistent stores need a persistent provider
	engine, provider := EnginePostgres, ProviderGoTrue
	if env == "DEV" {
		engine = EngineMemory
	}
	if env == "DEV" || env == "TEST" {
		provider = ProviderMemory
	}

	v.SetDefault("build", "develop")
	v.SetDefault("debug", env == "DEV")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("appName", "Masomo")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("passwordResetTimeout", time.Hour)
	v.SetDefault("invitationTTL", 7*24*time.Hour)
	v.SetDefault("bcryptCost", 12)
	v.SetDefault("redisURL", "")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridAPIKey", "")

	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)

	v.SetDefault("session.issuer", "Masomo")
	v.SetDefault("session.ttl", 24*time.Hour)

	v.SetDefault("database.engine", engine)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "masomo")
	v.SetDefault("database.user", "masomo")
	v.SetDefault("database.password", "")
	v.SetDefault("database.adminUser", "")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", env == "DEV" || env == "TEST")

	v.SetDefault("provider.kind", provider)
	v.SetDefault("provider.baseURL", "")
	v.SetDefault("provider.apiKey", "")
	v.SetDefault("provider.timeout", 5*time.Second)

	v.SetDefault("rateLimit.requests", 10)
	v.SetDefault("rateLimit.window", time.Minute)

	// load .env if it exists (ignore if it does not)
	if wd, err := os.Getwd(); err == nil {
		dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
			}
		} else if !os.IsNotExist(err) {
			log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
		}
	}

	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Config{
		Env:                  env,
		Build:                v.GetString("build"),
		Debug:                v.GetBool("debug"),
		TestMode:             v.GetBool("testMode"),
		AppName:              v.GetString("appName"),
		SecretKey:            v.GetString("secretKey"),
		FrontendBaseURL:      strings.TrimSuffix(v.GetString("frontendBaseURL"), "/"),
		DefaultFromEmailAddr: v.GetString("defaultFromEmail"),
		PasswordResetTimeout: v.GetDuration("passwordResetTimeout"),
		InvitationTTL:        v.GetDuration("invitationTTL"),
		BcryptCost:           v.GetInt("bcryptCost"),
		RedisURL:             v.GetString("redisURL"),
		RollbarToken:         v.GetString("rollbarToken"),
		SendgridAPIKey:       v.GetString("sendgridAPIKey"),
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			DebugHost:       v.GetString("server.debugHost"),
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
		},
		Session: SessionConfig{
			Issuer: v.GetString("session.issuer"),
			TTL:    v.GetDuration("session.ttl"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Provider: ProviderConfig{
			Kind:    v.GetString("provider.kind"),
			BaseURL: strings.TrimSuffix(v.GetString("provider.baseURL"), "/"),
			APIKey:  v.GetString("provider.apiKey"),
			Timeout: v.GetDuration("provider.timeout"),
		},
		RateLimit: RateLimitConfig{
			Requests: v.GetInt("rateLimit.requests"),
			Window:   v.GetDuration("rateLimit.window"),
		},
	}
}

// NewTestConfig returns settings suitable for tests: cheap hashing, memory provider, no TLS.
func NewTestConfig() *Config {
	return &Config{
		Env:                  "TEST",
		Build:                "test",
		TestMode:             true,
		AppName:              "Masomo",
		SecretKey:            "secret",
		FrontendBaseURL:      "http://localhost:3000",
		DefaultFromEmailAddr: "noreply@localhost",
		PasswordResetTimeout: time.Hour,
		InvitationTTL:        7 * 24 * time.Hour,
		BcryptCost:           4,
		Server:               ServerConfig{ShutdownTimeout: time.Second},
		Session:              SessionConfig{Issuer: "Masomo", TTL: 24 * time.Hour},
		Database:             DatabaseConfig{Engine: EngineMemory},
		Provider:             ProviderConfig{Kind: ProviderMemory, Timeout: time.Second},
		RateLimit:            RateLimitConfig{Requests: 100, Window: time.Minute},
	}
}

// Check reports settings that cannot work together.
// The memory provider forgets every account on exit, so it may only back the memory engine (or tests).
func (conf *Config) Check() error {
	switch conf.Database.Engine {
	case EngineMemory, EnginePostgres:
	default:
		return errors.Errorf("unknown database engine %q", conf.Database.Engine)
	}

	switch conf.Provider.Kind {
	case ProviderMemory:
		if conf.Database.Engine != EngineMemory && !conf.TestMode {
			return errors.Errorf("provider.kind=%s cannot back database.engine=%s: accounts would be lost on restart",
				ProviderMemory, conf.Database.Engine)
		}
	case ProviderGoTrue:
		if conf.Provider.BaseURL == "" {
			return errors.New("provider.baseURL is required for the gotrue provider")
		}
	default:
		return errors.Errorf("unknown identity provider %q", conf.Provider.Kind)
	}
	return nil
}

func (conf *Config) String() string {
	return fmt.Sprintf("env=%s build=%s debug=%t provider=%s", conf.Env, conf.Build, conf.Debug, conf.Provider.Kind)
}
