package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tally/internal/models"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	if port := os.Getenv("TALLY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if host := os.Getenv("TALLY_HOST"); host != "" {
		config.Server.Host = host
	}

	if timeout := os.Getenv("TALLY_READ_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.ReadTimeout = d
		}
	}

	if timeout := os.Getenv("TALLY_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.WriteTimeout = d
		}
	}

	// Ledger configuration
	if ledgerType := os.Getenv("TALLY_LEDGER_TYPE"); ledgerType != "" {
		config.Ledger.Type = ledgerType
	}

	if dsn := os.Getenv("TALLY_LEDGER_DSN"); dsn != "" {
		config.Ledger.DSN = dsn
	}

	if maxOpen := os.Getenv("TALLY_LEDGER_MAX_OPEN_CONNS"); maxOpen != "" {
		if conns, err := strconv.Atoi(maxOpen); err == nil {
			config.Ledger.MaxOpenConns = conns
		}
	}

	if timeout := os.Getenv("TALLY_LEDGER_TX_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Ledger.TxTimeout = d
		}
	}

	// Counter store configuration
	if addr := os.Getenv("TALLY_REDIS_ADDR"); addr != "" {
		config.CounterStore.Addr = addr
	}

	if password := os.Getenv("TALLY_REDIS_PASSWORD"); password != "" {
		config.CounterStore.Password = password
	}

	if db := os.Getenv("TALLY_REDIS_DB"); db != "" {
		if dbNum, err := strconv.Atoi(db); err == nil {
			config.CounterStore.DB = dbNum
		}
	}

	if timeout := os.Getenv("TALLY_REDIS_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.CounterStore.Timeout = d
		}
	}

	// Rate limit configuration
	loadRateLimitEnvironment(config)

	// Tags configuration
	if maxTags := os.Getenv("TALLY_TAGS_MAX_PER_OWNER"); maxTags != "" {
		if n, err := strconv.Atoi(maxTags); err == nil {
			config.Tags.MaxPerOwner = n
		}
	}

	// Reconcile configuration
	if interval := os.Getenv("TALLY_RECONCILE_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Reconcile.Interval = d
		}
	}

	if dir := os.Getenv("TALLY_RECONCILE_REPORT_DIR"); dir != "" {
		config.Reconcile.ReportDir = dir
	}

	if threshold := os.Getenv("TALLY_RECONCILE_DRIFT_THRESHOLD"); threshold != "" {
		if n, err := strconv.Atoi(threshold); err == nil {
			config.Reconcile.DriftThreshold = n
		}
	}

	// Logging configuration
	if level := os.Getenv("TALLY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if format := os.Getenv("TALLY_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	if output := os.Getenv("TALLY_LOG_OUTPUT"); output != "" {
		config.Logging.Output = output
	}

	if filePath := os.Getenv("TALLY_LOG_FILE_PATH"); filePath != "" {
		config.Logging.FilePath = filePath
	}

	// Metrics configuration
	if metrics := os.Getenv("TALLY_METRICS_ENABLED"); metrics != "" {
		config.Metrics.Enabled = strings.ToLower(metrics) == "true"
	}

	if path := os.Getenv("TALLY_METRICS_PATH"); path != "" {
		config.Metrics.Path = path
	}

	if port := os.Getenv("TALLY_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Metrics.Port = p
		}
	}
}

// loadRateLimitEnvironment applies the rate-limit environment overrides:
//
//	TALLY_RATE_LIMIT_ENABLED            - master switch
//	TALLY_RATE_LIMIT_WINDOW_MS          - window applied to every class
//	TALLY_RATE_LIMIT_<CLASS>_USER       - per-user limit for one class
//	TALLY_RATE_LIMIT_<CLASS>_IP         - per-IP limit for one class
//	TALLY_RATE_LIMIT_<CLASS>_ENABLED    - per-class switch
//
// where <CLASS> is the upper-snake form of the resource class, e.g.
// LIKE_TOGGLE for "like-toggle".
func loadRateLimitEnvironment(config *models.Config) {
	if enabled := os.Getenv("TALLY_RATE_LIMIT_ENABLED"); enabled != "" {
		config.RateLimit.Enabled = strings.ToLower(enabled) == "true"
	}

	if windowMs := os.Getenv("TALLY_RATE_LIMIT_WINDOW_MS"); windowMs != "" {
		if ms, err := strconv.Atoi(windowMs); err == nil && ms > 0 {
			window := time.Duration(ms) * time.Millisecond
			for class, policy := range config.RateLimit.Policies {
				policy.Window = window
				config.RateLimit.Policies[class] = policy
			}
		}
	}

	for class, policy := range config.RateLimit.Policies {
		prefix := "TALLY_RATE_LIMIT_" + models.EnvName(class)

		if v := os.Getenv(prefix + "_ENABLED"); v != "" {
			policy.Enabled = strings.ToLower(v) == "true"
		}
		if v := os.Getenv(prefix + "_USER"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				policy.PerUser = n
			}
		}
		if v := os.Getenv(prefix + "_IP"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				policy.PerIP = n
			}
		}
		if v := os.Getenv(prefix + "_WINDOW_MS"); v != "" {
			if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
				policy.Window = time.Duration(ms) * time.Millisecond
			}
		}

		config.RateLimit.Policies[class] = policy
	}
}
