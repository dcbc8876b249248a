package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Comfy struct {
		BaseURL             string        `mapstructure:"base_url"`
		Username            string        `mapstructure:"username"`
		Password            string        `mapstructure:"password"`
		Timeout             time.Duration `mapstructure:"timeout"`
		PollInterval        time.Duration `mapstructure:"poll_interval"`
		MaxWait             time.Duration `mapstructure:"max_wait"`
		DownloadConcurrency int           `mapstructure:"download_concurrency"`
	} `mapstructure:"comfy"`
	Workflows struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"workflows"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Server struct {
		Addr string `mapstructure:"addr"`
		TLS  struct {
			Enable    bool     `mapstructure:"enable"`
			CertFile  string   `mapstructure:"cert_file"`
			KeyFile   string   `mapstructure:"key_file"`
			Hostnames []string `mapstructure:"hostnames"`
		} `mapstructure:"tls"`
	} `mapstructure:"server"`
	Auth struct {
		Issuer   string `mapstructure:"issuer"`
		Audience string `mapstructure:"audience"`
	} `mapstructure:"auth"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`

	// ConfigFile is the file the values were read from, empty when none was found.
	ConfigFile string `mapstructure:"-"`
}

// LoadConfig loads the configuration from a file and the environment. An
// empty path searches for config.yaml in . and ./config; a missing file is
// not an error, a malformed one is. Environment variables use the COMFYRUN_
// prefix with dots replaced by underscores, e.g. COMFYRUN_COMFY_BASE_URL.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("comfyrun")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// the bare variable is what other tooling for the service already honours
	if err := v.BindEnv("comfy.base_url", "COMFYRUN_COMFY_BASE_URL", "COMFY_BASE_URL"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	config.ConfigFile = v.ConfigFileUsed()

	config.Comfy.BaseURL = normalizeBaseURL(config.Comfy.BaseURL)

	return &config, nil
}

// LoadEnvFile exports the variables of a .env file into the process
// environment without overriding ones already set. An empty path reads
// ./.env when it exists.
func LoadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	return godotenv.Load(path)
}

// HasDatabase reports whether a PostgreSQL run store is configured.
func (c *Config) HasDatabase() bool {
	return strings.TrimSpace(c.DB.Host) != ""
}

// DSN returns the pgx connection string, or "" without a database.
func (c *Config) DSN() string {
	if !c.HasDatabase() {
		return ""
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("comfy.base_url", "http://127.0.0.1:8188")
	v.SetDefault("comfy.username", "")
	v.SetDefault("comfy.password", "")
	v.SetDefault("comfy.timeout", 60*time.Second)
	v.SetDefault("comfy.poll_interval", 500*time.Millisecond)
	v.SetDefault("comfy.max_wait", 600*time.Second)
	v.SetDefault("comfy.download_concurrency", 4)
	v.SetDefault("workflows.dir", "workflows")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.tls.enable", false)
	v.SetDefault("server.tls.cert_file", "certs/server.crt")
	v.SetDefault("server.tls.key_file", "certs/server.key")
	v.SetDefault("server.tls.hostnames", []string{"localhost", "127.0.0.1"})
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("db.host", "")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "comfyrun")
	v.SetDefault("db.sslmode", "disable")
}

// normalizeBaseURL trims whitespace and trailing slashes so paths can be
// appended directly.
func normalizeBaseURL(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
