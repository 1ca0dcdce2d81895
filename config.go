package main

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all service-level configuration. The forwarding rules
// themselves live in the durable store and are owned by the companion
// application; this is only the process configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Store       StoreConfig       `mapstructure:"store"`
	SMTP        SMTPConfig        `mapstructure:"smtp"`
	Workers     WorkerConfig      `mapstructure:"workers"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Log         LogConfig         `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// StoreConfig holds durable store configuration. Driver is "sqlite" (Path is
// the database file) or "mysql" (connection fields below).
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// SMTPConfig bounds the outbound mail attempt.
type SMTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// WorkerConfig sizes the background processing pool.
type WorkerConfig struct {
	Count     int `mapstructure:"count"`
	QueueSize int `mapstructure:"queue_size"`
}

// MaintenanceConfig schedules the store janitor.
type MaintenanceConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set defaults
	setDefaults()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("store.driver", "sqlite")
	viper.SetDefault("store.path", "otplink.db")
	viper.SetDefault("store.host", "localhost")
	viper.SetDefault("store.port", 3306)

	viper.SetDefault("smtp.timeout", "15s")

	viper.SetDefault("workers.count", 4)
	viper.SetDefault("workers.queue_size", 64)

	viper.SetDefault("maintenance.interval", "10m")

	viper.SetDefault("log.level", "info")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Store
	viper.BindEnv("store.driver", "STORE_DRIVER")
	viper.BindEnv("store.path", "STORE_PATH")
	viper.BindEnv("store.host", "STORE_HOST")
	viper.BindEnv("store.port", "STORE_PORT")
	viper.BindEnv("store.user", "STORE_USER")
	viper.BindEnv("store.password", "STORE_PASSWORD")
	viper.BindEnv("store.dbname", "STORE_DBNAME")

	// SMTP
	viper.BindEnv("smtp.timeout", "SMTP_TIMEOUT")

	// Workers
	viper.BindEnv("workers.count", "WORKERS_COUNT")
	viper.BindEnv("workers.queue_size", "WORKERS_QUEUE_SIZE")

	// Maintenance
	viper.BindEnv("maintenance.interval", "MAINTENANCE_INTERVAL")

	// Log
	viper.BindEnv("log.level", "LOG_LEVEL")
}

// GetDSN returns the mysql connection string.
func (c *StoreConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required for the sqlite driver")
		}
	case "mysql":
		if c.Store.Host == "" || c.Store.User == "" || c.Store.DBName == "" {
			return fmt.Errorf("store host, user, and dbname are required for the mysql driver")
		}
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}

	if c.Workers.Count < 1 {
		return fmt.Errorf("worker count must be greater than 0")
	}

	if c.Maintenance.Interval <= 0 {
		return fmt.Errorf("maintenance interval must be greater than 0")
	}

	return nil
}
