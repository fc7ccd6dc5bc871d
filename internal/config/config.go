package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings
type Config struct {
	// Deployment mode
	Mode string `yaml:"mode"` // "enterprise", "team", "oss", "local"

	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// GitHub configuration
	GitHub GitHubConfig `yaml:"github"`

	// Cache configuration
	Cache CacheConfig `yaml:"cache"`

	// API configuration
	API APIConfig `yaml:"api"`

	// Risk calculation settings
	Risk RiskConfig `yaml:"risk"`

	// Sync settings
	Sync SyncConfig `yaml:"sync"`

	// Budget limits
	Budget BudgetConfig `yaml:"budget"`

	// PR review pipeline settings
	Review ReviewConfig `yaml:"review"`
}

// ReviewConfig holds every knob the review pipeline (diff analysis, Manager,
// Expert Runtime, Reporter, Chunked Intent Mode) recognizes, per spec §6.
type ReviewConfig struct {
	Gateway    ReviewGatewayConfig    `yaml:"gateway"`
	System     ReviewSystemConfig     `yaml:"system"`
	Manager    ReviewManagerConfig    `yaml:"manager"`
	Reporter   ReviewReporterConfig   `yaml:"reporter"`
	PathFilter ReviewPathFilterConfig `yaml:"path_filter"`
	Chunk      ReviewChunkConfig      `yaml:"chunk"`
}

type ReviewGatewayConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
}

type ReviewSystemConfig struct {
	TimeoutSeconds           int `yaml:"timeout_seconds"`
	MaxConcurrentLLMRequests int `yaml:"max_concurrent_llm_requests"`
	MaxExpertRounds          int `yaml:"max_expert_rounds"`
	MaxExpertToolCalls       int `yaml:"max_expert_tool_calls"`
}

type ReviewManagerConfig struct {
	AnchorWindow         int                `yaml:"anchor_window"`
	DropUnanchored       bool               `yaml:"drop_unanchored"`
	UnanchoredConfidence float64            `yaml:"unanchored_confidence"`
	MaxWorkItemsTotal    int                `yaml:"max_work_items_total"`
	MaxItemsPerFile      int                `yaml:"max_items_per_file"`
	MaxItemsPerRiskType  map[string]int     `yaml:"max_items_per_risk_type"`
	RiskTypeWeights      map[string]float64 `yaml:"risk_type_weights"`
	SeverityWeights      map[string]float64 `yaml:"severity_weights"`
	MergeLineWindow      int                `yaml:"merge_line_window"`
	MergeJaccard         float64            `yaml:"merge_jaccard"`
}

type ReviewReporterConfig struct {
	ConfidenceThreshold          float64            `yaml:"confidence_threshold"`
	ConfidenceThresholdByRiskType map[string]float64 `yaml:"confidence_threshold_by_risk_type"`
}

type ReviewPathFilterConfig struct {
	Enabled      bool     `yaml:"enabled"`
	IncludeGlobs []string `yaml:"include_globs"`
	ExcludeGlobs []string `yaml:"exclude_globs"`
}

type ReviewChunkConfig struct {
	MaxChunkChars           int     `yaml:"max_chunk_chars"`
	MaxFileDiffChars        int     `yaml:"max_file_diff_chars"`
	TopKRatio               float64 `yaml:"topk_ratio"`
	TopKMin                 int     `yaml:"topk_min"`
	TopKMax                 int     `yaml:"topk_max"`
	TopKDisableBelow        int     `yaml:"topk_disable_below"`
	BudgetRatio             float64 `yaml:"budget_ratio"`
	SoftMarginSeconds       float64 `yaml:"soft_margin_seconds"`
	SentinelSample          int     `yaml:"sentinel_sample"`
	FileCountThreshold      int     `yaml:"file_count_threshold"`
	TotalDiffCharsThreshold int     `yaml:"total_diff_chars_threshold"`
}

// DefaultReviewConfig matches every default spec §6 names.
func DefaultReviewConfig() ReviewConfig {
	return ReviewConfig{
		Gateway: ReviewGatewayConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
		},
		System: ReviewSystemConfig{
			TimeoutSeconds:           600,
			MaxConcurrentLLMRequests: 5,
			MaxExpertRounds:          20,
			MaxExpertToolCalls:       6,
		},
		Manager: ReviewManagerConfig{
			AnchorWindow:         5,
			DropUnanchored:       true,
			UnanchoredConfidence: 0.2,
			MaxWorkItemsTotal:    30,
			MaxItemsPerFile:      6,
			RiskTypeWeights: map[string]float64{
				"syntax_static_errors":          1.3,
				"concurrency_timing_correctness": 1.2,
				"authorization_data_exposure":    1.2,
			},
			SeverityWeights: map[string]float64{
				"error":   1.3,
				"warning": 1.0,
				"info":    0.7,
			},
			MergeLineWindow: 5,
			MergeJaccard:    0.75,
		},
		Reporter: ReviewReporterConfig{
			ConfidenceThreshold: 0.6,
		},
		PathFilter: ReviewPathFilterConfig{
			Enabled: true,
		},
		Chunk: ReviewChunkConfig{
			MaxChunkChars:           30000,
			MaxFileDiffChars:        24000,
			TopKRatio:               0.3,
			TopKMin:                 4,
			TopKMax:                 10,
			TopKDisableBelow:        4,
			BudgetRatio:             0.25,
			SoftMarginSeconds:       60,
			SentinelSample:          0,
			FileCountThreshold:      40,
			TotalDiffCharsThreshold: 120000,
		},
	}
}

type StorageConfig struct {
	Type        string `yaml:"type"` // "postgres", "sqlite"
	PostgresDSN string `yaml:"postgres_dsn"`
	LocalPath   string `yaml:"local_path"`
}

type GitHubConfig struct {
	Token     string `yaml:"token"`
	RateLimit int    `yaml:"rate_limit"` // Requests per second
}

type CacheConfig struct {
	Directory      string        `yaml:"directory"`
	TTL            time.Duration `yaml:"ttl"`
	MaxSize        int64         `yaml:"max_size"` // In bytes
	SharedCacheURL string        `yaml:"shared_cache_url"`
}

type APIConfig struct {
	OpenAIKey    string `yaml:"openai_key"`
	OpenAIModel  string `yaml:"openai_model"`
	UseKeychain  bool   `yaml:"use_keychain"`  // Prefer keychain over config file
	CustomLLMURL string `yaml:"custom_llm_url"`
	CustomLLMKey string `yaml:"custom_llm_key"`
	EmbeddingURL string `yaml:"embedding_url"`
	EmbeddingKey string `yaml:"embedding_key"`
}

type RiskConfig struct {
	DefaultLevel      int     `yaml:"default_level"` // 1, 2, or 3
	LowThreshold      float64 `yaml:"low_threshold"`
	MediumThreshold   float64 `yaml:"medium_threshold"`
	HighThreshold     float64 `yaml:"high_threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold"`
}

type SyncConfig struct {
	AutoSync        bool          `yaml:"auto_sync"`
	FreshThreshold  time.Duration `yaml:"fresh_threshold"`
	StaleThreshold  time.Duration `yaml:"stale_threshold"`
	WebhookEndpoint string        `yaml:"webhook_endpoint"`
}

type BudgetConfig struct {
	DailyLimit    float64 `yaml:"daily_limit"`
	MonthlyLimit  float64 `yaml:"monthly_limit"`
	PerCheckLimit float64 `yaml:"per_check_limit"`
	AlertAt       float64 `yaml:"alert_at"` // Percentage of limit
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Mode: "team",
		Storage: StorageConfig{
			Type:      "sqlite",
			LocalPath: filepath.Join(homeDir, ".coderisk", "local.db"),
		},
		GitHub: GitHubConfig{
			RateLimit: 10, // 10 requests per second
		},
		Cache: CacheConfig{
			Directory: filepath.Join(homeDir, ".coderisk", "cache"),
			TTL:       24 * time.Hour,
			MaxSize:   2 * 1024 * 1024 * 1024, // 2GB
		},
		API: APIConfig{
			OpenAIModel: "gpt-4o-mini",
		},
		Risk: RiskConfig{
			DefaultLevel:      1,
			LowThreshold:      0.25,
			MediumThreshold:   0.50,
			HighThreshold:     0.75,
			CriticalThreshold: 0.90,
		},
		Sync: SyncConfig{
			AutoSync:       true,
			FreshThreshold: 30 * time.Minute,
			StaleThreshold: 4 * time.Hour,
		},
		Budget: BudgetConfig{
			DailyLimit:    2.00,
			MonthlyLimit:  60.00,
			PerCheckLimit: 0.04,
			AlertAt:       0.80,
		},
		Review: DefaultReviewConfig(),
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	// Load .env files first (in order of precedence)
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults
	cfg := Default()
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("github", cfg.GitHub)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("risk", cfg.Risk)
	v.SetDefault("sync", cfg.Sync)
	v.SetDefault("budget", cfg.Budget)
	v.SetDefault("review", cfg.Review)

	// Load from environment variables
	v.SetEnvPrefix("CODERISK")
	v.AutomaticEnv()

	// Try to find config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.AddConfigPath(".coderisk")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".coderisk"))
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	// Unmarshal into struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	// Try to load .env files in order of precedence
	envFiles := []string{
		".env.local",   // Local overrides (highest precedence)
		".env",         // Main environment file
		".env.example", // Example file as fallback
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			if err := godotenv.Load(file); err == nil {
				// Successfully loaded, continue to next
				continue
			}
		}
	}

	// Also try loading from home directory
	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".coderisk", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) {
	// GitHub configuration
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	}
	if rateLimit := os.Getenv("GITHUB_RATE_LIMIT"); rateLimit != "" {
		if rate, err := strconv.Atoi(rateLimit); err == nil {
			cfg.GitHub.RateLimit = rate
		}
	}

	// API configuration - UPDATED FOR KEYCHAIN SUPPORT
	// Precedence: 1. Env var (highest) 2. Keychain 3. Config file (lowest)

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		// Environment variable has highest precedence (for CI/CD)
		cfg.API.OpenAIKey = key
	} else if cfg.API.OpenAIKey == "" {
		// Try keychain if no env var and no config file value
		// This allows config file to be used if explicitly set
		km := NewKeyringManager()
		if km.IsAvailable() {
			if keychainKey, err := km.GetAPIKey(); err == nil && keychainKey != "" {
				cfg.API.OpenAIKey = keychainKey
			}
		}
	}

	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		cfg.API.OpenAIModel = model
	}
	if url := os.Getenv("CUSTOM_LLM_URL"); url != "" {
		cfg.API.CustomLLMURL = url
	}
	if key := os.Getenv("CUSTOM_LLM_KEY"); key != "" {
		cfg.API.CustomLLMKey = key
	}
	if url := os.Getenv("CUSTOM_EMBEDDING_URL"); url != "" {
		cfg.API.EmbeddingURL = url
	}
	if key := os.Getenv("CUSTOM_EMBEDDING_KEY"); key != "" {
		cfg.API.EmbeddingKey = key
	}

	// Storage configuration
	if storageType := os.Getenv("STORAGE_TYPE"); storageType != "" {
		cfg.Storage.Type = storageType
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if path := os.Getenv("LOCAL_DB_PATH"); path != "" {
		cfg.Storage.LocalPath = expandPath(path)
	}

	// Cache configuration
	if dir := os.Getenv("CACHE_DIRECTORY"); dir != "" {
		cfg.Cache.Directory = expandPath(dir)
	}
	if url := os.Getenv("SHARED_CACHE_URL"); url != "" {
		cfg.Cache.SharedCacheURL = url
	}
	if size := os.Getenv("CACHE_MAX_SIZE"); size != "" {
		if sizeInt, err := strconv.ParseInt(size, 10, 64); err == nil {
			cfg.Cache.MaxSize = sizeInt
		}
	}

	// Budget configuration
	if daily := os.Getenv("BUDGET_DAILY_LIMIT"); daily != "" {
		if amount, err := strconv.ParseFloat(daily, 64); err == nil {
			cfg.Budget.DailyLimit = amount
		}
	}
	if monthly := os.Getenv("BUDGET_MONTHLY_LIMIT"); monthly != "" {
		if amount, err := strconv.ParseFloat(monthly, 64); err == nil {
			cfg.Budget.MonthlyLimit = amount
		}
	}
	if perCheck := os.Getenv("BUDGET_PER_CHECK_LIMIT"); perCheck != "" {
		if amount, err := strconv.ParseFloat(perCheck, 64); err == nil {
			cfg.Budget.PerCheckLimit = amount
		}
	}

	// Sync configuration
	if autoSync := os.Getenv("SYNC_AUTO_SYNC"); autoSync != "" {
		cfg.Sync.AutoSync = autoSync == "true"
	}
	if fresh := os.Getenv("SYNC_FRESH_THRESHOLD_MINUTES"); fresh != "" {
		if minutes, err := strconv.Atoi(fresh); err == nil {
			cfg.Sync.FreshThreshold = time.Duration(minutes) * time.Minute
		}
	}
	if stale := os.Getenv("SYNC_STALE_THRESHOLD_HOURS"); stale != "" {
		if hours, err := strconv.Atoi(stale); err == nil {
			cfg.Sync.StaleThreshold = time.Duration(hours) * time.Hour
		}
	}

	// Risk configuration
	if level := os.Getenv("RISK_DEFAULT_LEVEL"); level != "" {
		if levelInt, err := strconv.Atoi(level); err == nil {
			cfg.Risk.DefaultLevel = levelInt
		}
	}

	// Mode configuration
	if mode := os.Getenv("CODERISK_MODE"); mode != "" {
		cfg.Mode = mode
	}

	// Review pipeline configuration
	if provider := os.Getenv("REVIEW_LLM_PROVIDER"); provider != "" {
		cfg.Review.Gateway.Provider = provider
	}
	if model := os.Getenv("REVIEW_LLM_MODEL"); model != "" {
		cfg.Review.Gateway.Model = model
	}
	if key := os.Getenv("REVIEW_LLM_API_KEY"); key != "" {
		cfg.Review.Gateway.APIKey = key
	}
	if url := os.Getenv("REVIEW_LLM_BASE_URL"); url != "" {
		cfg.Review.Gateway.BaseURL = url
	}
	if temp := os.Getenv("REVIEW_LLM_TEMPERATURE"); temp != "" {
		if t, err := strconv.ParseFloat(temp, 64); err == nil {
			cfg.Review.Gateway.Temperature = t
		}
	}
	if timeout := os.Getenv("REVIEW_TIMEOUT_SECONDS"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil {
			cfg.Review.System.TimeoutSeconds = t
		}
	}
	if maxConc := os.Getenv("REVIEW_MAX_CONCURRENT_LLM_REQUESTS"); maxConc != "" {
		if n, err := strconv.Atoi(maxConc); err == nil {
			cfg.Review.System.MaxConcurrentLLMRequests = n
		}
	}
	if maxRounds := os.Getenv("REVIEW_MAX_EXPERT_ROUNDS"); maxRounds != "" {
		if n, err := strconv.Atoi(maxRounds); err == nil {
			cfg.Review.System.MaxExpertRounds = n
		}
	}
	if maxTools := os.Getenv("REVIEW_MAX_EXPERT_TOOL_CALLS"); maxTools != "" {
		if n, err := strconv.Atoi(maxTools); err == nil {
			cfg.Review.System.MaxExpertToolCalls = n
		}
	}
	if threshold := os.Getenv("REVIEW_REPORTER_CONFIDENCE_THRESHOLD"); threshold != "" {
		if t, err := strconv.ParseFloat(threshold, 64); err == nil {
			cfg.Review.Reporter.ConfidenceThreshold = t
		}
	}
	if enabled := os.Getenv("REVIEW_PATH_FILTER_ENABLED"); enabled != "" {
		cfg.Review.PathFilter.Enabled = enabled == "true"
	}
	if threshold := os.Getenv("REVIEW_CHUNK_FILE_COUNT_THRESHOLD"); threshold != "" {
		if n, err := strconv.Atoi(threshold); err == nil {
			cfg.Review.Chunk.FileCountThreshold = n
		}
	}
	if threshold := os.Getenv("REVIEW_CHUNK_TOTAL_DIFF_CHARS_THRESHOLD"); threshold != "" {
		if n, err := strconv.Atoi(threshold); err == nil {
			cfg.Review.Chunk.TotalDiffCharsThreshold = n
		}
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	// Convert struct to map for Viper
	v.Set("mode", c.Mode)
	v.Set("storage", c.Storage)
	v.Set("github", c.GitHub)
	v.Set("cache", c.Cache)
	v.Set("api", c.API)
	v.Set("risk", c.Risk)
	v.Set("sync", c.Sync)
	v.Set("budget", c.Budget)
	v.Set("review", c.Review)

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write config file
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
