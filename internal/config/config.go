package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	// PrivacyIDEA: el servidor MFA remoto contra el que se validan los factores.
	PrivacyIDEA struct {
		URL       string `yaml:"url"`
		SSLVerify *bool  `yaml:"ssl_verify"` // nil => true
		Realm     string `yaml:"realm"`

		ServiceAccount struct {
			Username string `yaml:"username"`
			Password string `yaml:"password"`
		} `yaml:"service_account"`

		// PollingIntervals pauta el polling del push desde la UI,
		// indexado por el contador de intentos. Strings time.ParseDuration.
		PollingIntervals []string `yaml:"polling_intervals"`
	} `yaml:"privacyidea"`

	Flow struct {
		ExcludedGroups     []string `yaml:"excluded_groups"`
		TriggerChallenge   bool     `yaml:"trigger_challenge"`
		EnrollToken        bool     `yaml:"enroll_token"`
		EnrollingTokenType string   `yaml:"enrolling_token_type"`
		LogEnabled         bool     `yaml:"log_enabled"`
	} `yaml:"flow"`

	Session struct {
		Kind  string `yaml:"kind"` // memory | redis
		TTL   string `yaml:"ttl"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"session"`

	Assertion struct {
		Secret string `yaml:"secret"`
		TTL    string `yaml:"ttl"`
	} `yaml:"assertion"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if len(c.PrivacyIDEA.PollingIntervals) == 0 {
		c.PrivacyIDEA.PollingIntervals = []string{"5s", "1s", "1s", "1s", "2s", "3s"}
	}
	if c.Flow.EnrollingTokenType == "" {
		c.Flow.EnrollingTokenType = "totp"
	}
	if c.Session.Kind == "" {
		c.Session.Kind = "memory"
	}
	if c.Session.TTL == "" {
		c.Session.TTL = "10m"
	}
	if c.Session.Redis.Prefix == "" {
		c.Session.Redis.Prefix = "authflow"
	}
	if c.Assertion.TTL == "" {
		c.Assertion.TTL = "60s"
	}

	// validate string durations
	for _, s := range c.PrivacyIDEA.PollingIntervals {
		if _, err := time.ParseDuration(s); err != nil {
			return nil, fmt.Errorf("config: bad polling interval %q: %w", s, err)
		}
	}
	if _, err := time.ParseDuration(c.Session.TTL); err != nil {
		return nil, fmt.Errorf("config: bad session ttl: %w", err)
	}
	if _, err := time.ParseDuration(c.Assertion.TTL); err != nil {
		return nil, fmt.Errorf("config: bad assertion ttl: %w", err)
	}

	// Overrides por env
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// Validate verifica la coherencia mínima de la configuración.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.PrivacyIDEA.URL) == "" {
		return fmt.Errorf("config: privacyidea.url is required")
	}
	if strings.TrimSpace(c.Assertion.Secret) == "" {
		return fmt.Errorf("config: assertion.secret is required")
	}
	if c.Session.Kind != "memory" && c.Session.Kind != "redis" {
		return fmt.Errorf("config: session.kind must be memory or redis, got %q", c.Session.Kind)
	}
	if c.Session.Kind == "redis" && strings.TrimSpace(c.Session.Redis.Addr) == "" {
		return fmt.Errorf("config: session.redis.addr is required when session.kind=redis")
	}
	return nil
}

// SSLVerifyEnabled resuelve el flag de verificación TLS (default true).
func (c *Config) SSLVerifyEnabled() bool {
	return c.PrivacyIDEA.SSLVerify == nil || *c.PrivacyIDEA.SSLVerify
}

// PollingSchedule retorna la pauta de polling ya parseada.
// Los strings se validan en Load, así que acá no puede fallar.
func (c *Config) PollingSchedule() []time.Duration {
	out := make([]time.Duration, 0, len(c.PrivacyIDEA.PollingIntervals))
	for _, s := range c.PrivacyIDEA.PollingIntervals {
		d, _ := time.ParseDuration(s)
		out = append(out, d)
	}
	return out
}

// SessionTTL retorna el TTL de las notas de sesión ya parseado.
func (c *Config) SessionTTL() time.Duration {
	d, _ := time.ParseDuration(c.Session.TTL)
	return d
}

// AssertionTTL retorna el TTL de la assertion de éxito ya parseado.
func (c *Config) AssertionTTL() time.Duration {
	d, _ := time.ParseDuration(c.Assertion.TTL)
	return d
}

func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("PI_SERVER_URL"); ok {
		c.PrivacyIDEA.URL = v
	}
	if v, ok := getEnvBool("PI_SSL_VERIFY"); ok {
		c.PrivacyIDEA.SSLVerify = &v
	}
	if v, ok := getEnvStr("PI_REALM"); ok {
		c.PrivacyIDEA.Realm = v
	}
	if v, ok := getEnvStr("PI_SERVICE_ACCOUNT"); ok {
		c.PrivacyIDEA.ServiceAccount.Username = v
	}
	if v, ok := getEnvStr("PI_SERVICE_PASS"); ok {
		c.PrivacyIDEA.ServiceAccount.Password = v
	}
	if v, ok := getEnvStr("FLOW_EXCLUDED_GROUPS"); ok {
		c.Flow.ExcludedGroups = splitCSV(v)
	}
	if v, ok := getEnvBool("FLOW_TRIGGER_CHALLENGE"); ok {
		c.Flow.TriggerChallenge = v
	}
	if v, ok := getEnvBool("FLOW_ENROLL_TOKEN"); ok {
		c.Flow.EnrollToken = v
	}
	if v, ok := getEnvStr("FLOW_ENROLLING_TOKEN_TYPE"); ok {
		c.Flow.EnrollingTokenType = v
	}
	if v, ok := getEnvBool("FLOW_LOG_ENABLED"); ok {
		c.Flow.LogEnabled = v
	}
	if v, ok := getEnvStr("SESSION_KIND"); ok {
		c.Session.Kind = v
	}
	if v, ok := getEnvStr("SESSION_REDIS_ADDR"); ok {
		c.Session.Redis.Addr = v
	}
	if v, ok := getEnvStr("SESSION_REDIS_PASSWORD"); ok {
		c.Session.Redis.Password = v
	}
	if v, ok := getEnvInt("SESSION_REDIS_DB"); ok {
		c.Session.Redis.DB = v
	}
	if v, ok := getEnvStr("ASSERTION_SECRET"); ok {
		c.Assertion.Secret = v
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
