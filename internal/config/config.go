// Package config loads service settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v3"

	"sitecover/internal/opt"
)

// Optimizer holds the defaults applied to runs that leave a knob unset.
type Optimizer struct {
	Backend      string        `yaml:"backend" json:"backend"`
	TimeLimit    time.Duration `yaml:"timeLimit" json:"-"`
	Gap          float64       `yaml:"gap" json:"gap"`
	Parsimonious bool          `yaml:"parsimonious" json:"parsimonious"`
	Parallel     int           `yaml:"parallel" json:"parallel"`
	NodeLimit    int           `yaml:"nodeLimit" json:"nodeLimit"`
	MaxBudget    int           `yaml:"maxBudget" json:"maxBudget"`
}

type Config struct {
	Port               string    `yaml:"port"`
	DatabaseURL        string    `yaml:"databaseUrl"`
	Migrate            bool      `yaml:"migrate"`
	RedisURL           string    `yaml:"redisUrl"`
	RateRPS            float64   `yaml:"rateRps"`
	RateBurst          int       `yaml:"rateBurst"`
	WebhookMaxAttempts int       `yaml:"webhookMaxAttempts"`
	Optimizer          Optimizer `yaml:"optimizer"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Port:               "8080",
		Migrate:            true,
		RateRPS:            5,
		RateBurst:          10,
		WebhookMaxAttempts: 10,
		Optimizer: Optimizer{
			Backend:      opt.BranchAndBoundName,
			TimeLimit:    60 * time.Second,
			Parsimonious: true,
			Parallel:     1,
			MaxBudget:    500,
		},
	}
}

// Load reads SITECOVER_CONFIG when set and then applies the environment.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("SITECOVER_CONFIG"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Annotate(err, "read config")
		}
		if cfg, err = Parse(b); err != nil {
			return cfg, errors.Annotatef(err, "parse %s", path)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML on top of Default.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(k string, dst *string) {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("SOLVER_BACKEND", &c.Optimizer.Backend)
	if getenv("DB_MIGRATE") == "false" {
		c.Migrate = false
	}

	var err error
	num := func(k string, parse func(string) error) {
		v := strings.TrimSpace(getenv(k))
		if v == "" || err != nil {
			return
		}
		if e := parse(v); e != nil {
			err = errors.NotValidf("%s=%q", k, v)
		}
	}
	num("RATE_RPS", func(v string) (e error) { c.RateRPS, e = strconv.ParseFloat(v, 64); return })
	num("RATE_BURST", func(v string) (e error) { c.RateBurst, e = strconv.Atoi(v); return })
	num("WEBHOOK_MAX_ATTEMPTS", func(v string) (e error) { c.WebhookMaxAttempts, e = strconv.Atoi(v); return })
	num("SOLVER_TIME_LIMIT", func(v string) (e error) { c.Optimizer.TimeLimit, e = time.ParseDuration(v); return })
	num("SOLVER_GAP", func(v string) (e error) { c.Optimizer.Gap, e = strconv.ParseFloat(v, 64); return })
	num("SOLVER_PARSIMONIOUS", func(v string) (e error) { c.Optimizer.Parsimonious, e = strconv.ParseBool(v); return })
	num("SOLVER_PARALLEL", func(v string) (e error) { c.Optimizer.Parallel, e = strconv.Atoi(v); return })
	num("SOLVER_NODE_LIMIT", func(v string) (e error) { c.Optimizer.NodeLimit, e = strconv.Atoi(v); return })
	return err
}

// Validate rejects settings no run could use. The backend name is checked
// against the solver registry so a typo fails at startup.
func (c Config) Validate() error {
	if c.Optimizer.Gap < 0 || c.Optimizer.Gap >= 1 {
		return errors.NotValidf("optimizer gap %v", c.Optimizer.Gap)
	}
	if c.Optimizer.TimeLimit < 0 {
		return errors.NotValidf("optimizer time limit %v", c.Optimizer.TimeLimit)
	}
	if c.Optimizer.NodeLimit < 0 {
		return errors.NotValidf("optimizer node limit %d", c.Optimizer.NodeLimit)
	}
	if c.WebhookMaxAttempts <= 0 {
		return errors.NotValidf("webhook max attempts %d", c.WebhookMaxAttempts)
	}
	if _, err := opt.Lookup(c.Optimizer.Backend); err != nil {
		return err
	}
	return nil
}

// ExactOptions converts the defaults into solver options.
func (o Optimizer) ExactOptions() opt.ExactOptions {
	return opt.ExactOptions{
		Parsimonious: o.Parsimonious,
		TimeLimit:    o.TimeLimit,
		Gap:          o.Gap,
		Backend:      o.Backend,
		Parallel:     o.Parallel,
		NodeLimit:    o.NodeLimit,
	}
}
