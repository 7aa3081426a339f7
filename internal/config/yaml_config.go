// Package config provides YAML-based configuration management.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up next to the executable.
const DefaultFileName = "scanviewer.yaml"

// AppConfig represents the root configuration structure
type AppConfig struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// Processing configuration
	Processing ProcessingConfig `yaml:"processing"`

	// Viewer rendering configuration
	Viewer ViewerConfig `yaml:"viewer"`

	// Client (CLI) configuration
	Client ClientConfig `yaml:"client"`

	// Advanced options
	Advanced AdvancedConfig `yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `yaml:"port"`
	BindAddress  string `yaml:"bindAddress"`
	EnableCORS   bool   `yaml:"enableCors"`
	AllowOrigins string `yaml:"allowOrigins"`
	ReadTimeout  int    `yaml:"readTimeoutSeconds"`  // request headers only
	WriteTimeout int    `yaml:"writeTimeoutSeconds"` // 0 disables; scans and meshes can be large
	IdleTimeout  int    `yaml:"idleTimeoutSeconds"`
	BodyLimit    string `yaml:"bodyLimit"`
}

// StorageConfig contains file storage settings. Relative sub-directories
// are resolved against the data directory.
type StorageConfig struct {
	DataDirectory    string `yaml:"dataDirectory"`
	UploadsDirectory string `yaml:"uploadsDirectory"`
	OutputsDirectory string `yaml:"outputsDirectory"`
}

// ProcessingConfig contains conversion pipeline settings
type ProcessingConfig struct {
	// PipelineCommand runs an external converter; empty uses the built-in
	// bounds preview.
	PipelineCommand        string `yaml:"pipelineCommand"`
	JobTimeoutMinutes      int    `yaml:"jobTimeoutMinutes"`
	CleanupIntervalMinutes int    `yaml:"cleanupIntervalMinutes"`
	JobRetentionMinutes    int    `yaml:"jobRetentionMinutes"`
	ProgressStore          string `yaml:"progressStore"` // "memory" or "redis"
	RedisAddr              string `yaml:"redisAddr"`
	RedisPassword          string `yaml:"redisPassword"`
	RedisDB                int    `yaml:"redisDb"`
	ProgressTTLMinutes     int    `yaml:"progressTtlMinutes"`
}

// ViewerConfig contains server-side rendering settings
type ViewerConfig struct {
	FrameWidth    int `yaml:"frameWidth"`
	FrameHeight   int `yaml:"frameHeight"`
	FPS           int `yaml:"fps"`
	MeshCacheSize int `yaml:"meshCacheSize"`
	MaxMeshSizeMB int `yaml:"maxMeshSizeMb"`
}

// ClientConfig contains settings for talking to a backend
type ClientConfig struct {
	BackendURL     string `yaml:"backendUrl"`
	PollIntervalMS int    `yaml:"pollIntervalMs"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel                string `yaml:"logLevel"`
	EnableRequestLogging    bool   `yaml:"enableRequestLogging"`
	WebSocketMaxMessageSize int    `yaml:"webSocketMaxMessageSizeKb"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8000,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 0,
			IdleTimeout:  120,
			BodyLimit:    "2G",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "uploads",
			OutputsDirectory: "outputs",
		},
		Processing: ProcessingConfig{
			JobTimeoutMinutes:      30,
			CleanupIntervalMinutes: 5,
			JobRetentionMinutes:    60,
			ProgressStore:          "memory",
			RedisAddr:              "localhost:6379",
			ProgressTTLMinutes:     60,
		},
		Viewer: ViewerConfig{
			FrameWidth:    640,
			FrameHeight:   480,
			FPS:           30,
			MeshCacheSize: 8,
			MaxMeshSizeMB: 512,
		},
		Client: ClientConfig{
			BackendURL:     "http://localhost:8000",
			PollIntervalMS: 500,
		},
		Advanced: AdvancedConfig{
			LogLevel:                "info",
			EnableRequestLogging:    true,
			WebSocketMaxMessageSize: 64,
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file is
// created with the defaults. Keys absent from the file keep their default.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to a YAML file
func (c *AppConfig) Save(configPath string) error {
	var buf bytes.Buffer
	buf.WriteString("# Scan viewer configuration\n# This file is auto-generated on first run\n\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	enc.Close()

	if err := os.WriteFile(configPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// FromEnvironment returns the defaults with environment overrides applied,
// without reading or writing a config file.
func FromEnvironment() *AppConfig {
	c := DefaultConfig()
	c.applyEnvironmentOverrides()
	return c
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Processing.RedisAddr = addr
		c.Processing.ProgressStore = "redis"
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Processing.RedisPassword = pw
	}

	if cmd := os.Getenv("PIPELINE_COMMAND"); cmd != "" {
		c.Processing.PipelineCommand = cmd
	}

	if url := os.Getenv("BACKEND_URL"); url != "" {
		c.Client.BackendURL = url
	}

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		c.Advanced.LogLevel = lvl
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	if c.Storage.UploadsDirectory == "" {
		c.Storage.UploadsDirectory = "uploads"
	}
	if !filepath.IsAbs(c.Storage.UploadsDirectory) {
		c.Storage.UploadsDirectory = filepath.Join(c.Storage.DataDirectory, c.Storage.UploadsDirectory)
	}
	if c.Storage.OutputsDirectory == "" {
		c.Storage.OutputsDirectory = "outputs"
	}
	if !filepath.IsAbs(c.Storage.OutputsDirectory) {
		c.Storage.OutputsDirectory = filepath.Join(c.Storage.DataDirectory, c.Storage.OutputsDirectory)
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetUploadDir returns the absolute uploads directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetOutputDir returns the absolute mesh output directory path
func (c *AppConfig) GetOutputDir() string {
	return c.Storage.OutputsDirectory
}

// CORSOrigins returns the allowed origins, or nil when CORS is disabled.
func (c *AppConfig) CORSOrigins() []string {
	if !c.Server.EnableCORS {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(c.Server.AllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// PollInterval returns the client poll interval.
func (c *AppConfig) PollInterval() time.Duration {
	if c.Client.PollIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Client.PollIntervalMS) * time.Millisecond
}

// JobTimeout returns the pipeline timeout, zero meaning none.
func (c *AppConfig) JobTimeout() time.Duration {
	return time.Duration(c.Processing.JobTimeoutMinutes) * time.Minute
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
		c.Storage.OutputsDirectory,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
