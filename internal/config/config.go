package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"shelfmark/internal/models"
)

// Config holds all application configuration. Values are layered: built-in
// defaults, then the optional YAML file, then environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	LLM      LLMConfig      `yaml:"llm"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Scan     ScanConfig     `yaml:"scan"`
	History  HistoryConfig  `yaml:"history"`
}

// ServerConfig covers the HTTP surface.
type ServerConfig struct {
	Port   string `yaml:"port"`
	APIKey string `yaml:"api_key"` // shared key for webhook/scan endpoints
}

// StoreConfig points at the document store's REST API.
type StoreConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIToken string        `yaml:"api_token"`
	Timeout  time.Duration `yaml:"timeout"`
	PageSize int           `yaml:"page_size"`
	CacheTTL time.Duration `yaml:"cache_ttl"` // catalog cache lifetime
}

// LLMConfig covers the OpenAI-compatible completion endpoint and the token
// budget the pipeline allocates against.
type LLMConfig struct {
	BaseURL                string        `yaml:"base_url"`
	APIKey                 string        `yaml:"api_key"`
	Model                  string        `yaml:"model"`
	Temperature            float64       `yaml:"temperature"`
	MaxContextTokens       int           `yaml:"max_context_tokens"`
	ReservedResponseTokens int           `yaml:"reserved_response_tokens"`
	RequestsPerSecond      float64       `yaml:"requests_per_second"`
	Timeout                time.Duration `yaml:"timeout"`
	MaxAttempts            int           `yaml:"max_attempts"`
	RetryDelay             time.Duration `yaml:"retry_delay"`
}

// AnalysisConfig selects what the model is asked for and how document content
// reaches it.
type AnalysisConfig struct {
	ContentMode      string `yaml:"content_mode"`       // text, raw, both
	RawMode          string `yaml:"raw_mode"`           // file, image
	MinContentLength int    `yaml:"min_content_length"` // skip shorter documents in text mode, 0 disables

	ActivateTitle         bool `yaml:"activate_title"`
	ActivateTags          bool `yaml:"activate_tags"`
	ActivateCorrespondent bool `yaml:"activate_correspondent"`
	ActivateDocumentType  bool `yaml:"activate_document_type"`
	ActivateCreatedDate   bool `yaml:"activate_created_date"`
	ActivateLanguage      bool `yaml:"activate_language"`
	ActivateCustomFields  bool `yaml:"activate_custom_fields"`
	ActivateContent       bool `yaml:"activate_content"`

	RestrictTags           bool `yaml:"restrict_tags"`
	RestrictCorrespondents bool `yaml:"restrict_correspondents"`
	RestrictDocumentTypes  bool `yaml:"restrict_document_types"`
	RestrictCustomFields   bool `yaml:"restrict_custom_fields"`

	CustomFieldIDs []int `yaml:"custom_field_ids"` // limit filling to these definitions, empty means all

	ProcessedTag string   `yaml:"processed_tag"` // added after a successful run, "" disables
	RemoveTags   []string `yaml:"remove_tags"`   // stripped after a successful run (inbox tags)

	PromptFile     string `yaml:"prompt_file"`     // external system prompt, hot-reloaded
	PromptLanguage string `yaml:"prompt_language"` // answer-language hint, "" lets the model decide
}

// ScanConfig drives the periodic full-catalog sweep.
type ScanConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Cron        string   `yaml:"cron"`
	IncludeTags []string `yaml:"include_tags"` // only documents carrying one of these
	ExcludeTags []string `yaml:"exclude_tags"` // skip documents carrying one of these
}

// HistoryConfig locates the processing ledger.
type HistoryConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ConfigurationError collects every invalid or missing setting found during
// validation so the operator sees the full list at once.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "configuration invalid: " + strings.Join(e.Problems, "; ")
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty or the file does not exist), and environment variables,
// in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "3077",
		},
		Store: StoreConfig{
			Timeout:  30 * time.Second,
			PageSize: 100,
			CacheTTL: 10 * time.Minute,
		},
		LLM: LLMConfig{
			Temperature:            0.3,
			MaxContextTokens:       8192,
			ReservedResponseTokens: 1024,
			RequestsPerSecond:      2,
			Timeout:                120 * time.Second,
			MaxAttempts:            3,
			RetryDelay:             2 * time.Second,
		},
		Analysis: AnalysisConfig{
			ContentMode:           "text",
			RawMode:               "file",
			ActivateTitle:         true,
			ActivateTags:          true,
			ActivateCorrespondent: true,
			ActivateDocumentType:  true,
			ActivateCreatedDate:   true,
			ActivateLanguage:      true,
		},
		Scan: ScanConfig{
			Cron: "*/30 * * * *",
		},
		History: HistoryConfig{
			DataDir: "./data",
		},
	}
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.APIKey = getEnv("API_KEY", c.Server.APIKey)

	c.Store.BaseURL = getEnv("STORE_URL", c.Store.BaseURL)
	c.Store.APIToken = getEnv("STORE_TOKEN", c.Store.APIToken)
	c.Store.Timeout = getDurationEnv("STORE_TIMEOUT", c.Store.Timeout)
	c.Store.PageSize = getIntEnv("STORE_PAGE_SIZE", c.Store.PageSize)
	c.Store.CacheTTL = getDurationEnv("CACHE_TTL", c.Store.CacheTTL)

	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKey = getEnv("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.Temperature = getFloatEnv("LLM_TEMPERATURE", c.LLM.Temperature)
	c.LLM.MaxContextTokens = getIntEnv("MAX_CONTEXT_TOKENS", c.LLM.MaxContextTokens)
	c.LLM.ReservedResponseTokens = getIntEnv("RESERVED_RESPONSE_TOKENS", c.LLM.ReservedResponseTokens)
	c.LLM.RequestsPerSecond = getFloatEnv("LLM_REQUESTS_PER_SECOND", c.LLM.RequestsPerSecond)
	c.LLM.Timeout = getDurationEnv("LLM_TIMEOUT", c.LLM.Timeout)
	c.LLM.MaxAttempts = getIntEnv("LLM_MAX_ATTEMPTS", c.LLM.MaxAttempts)
	c.LLM.RetryDelay = getDurationEnv("LLM_RETRY_DELAY", c.LLM.RetryDelay)

	c.Analysis.ContentMode = getEnv("CONTENT_MODE", c.Analysis.ContentMode)
	c.Analysis.RawMode = getEnv("RAW_MODE", c.Analysis.RawMode)
	c.Analysis.MinContentLength = getIntEnv("MIN_CONTENT_LENGTH", c.Analysis.MinContentLength)
	c.Analysis.ActivateTitle = getBoolEnv("ACTIVATE_TITLE", c.Analysis.ActivateTitle)
	c.Analysis.ActivateTags = getBoolEnv("ACTIVATE_TAGS", c.Analysis.ActivateTags)
	c.Analysis.ActivateCorrespondent = getBoolEnv("ACTIVATE_CORRESPONDENT", c.Analysis.ActivateCorrespondent)
	c.Analysis.ActivateDocumentType = getBoolEnv("ACTIVATE_DOCUMENT_TYPE", c.Analysis.ActivateDocumentType)
	c.Analysis.ActivateCreatedDate = getBoolEnv("ACTIVATE_CREATED_DATE", c.Analysis.ActivateCreatedDate)
	c.Analysis.ActivateLanguage = getBoolEnv("ACTIVATE_LANGUAGE", c.Analysis.ActivateLanguage)
	c.Analysis.ActivateCustomFields = getBoolEnv("ACTIVATE_CUSTOM_FIELDS", c.Analysis.ActivateCustomFields)
	c.Analysis.ActivateContent = getBoolEnv("ACTIVATE_CONTENT", c.Analysis.ActivateContent)
	c.Analysis.RestrictTags = getBoolEnv("RESTRICT_TAGS", c.Analysis.RestrictTags)
	c.Analysis.RestrictCorrespondents = getBoolEnv("RESTRICT_CORRESPONDENTS", c.Analysis.RestrictCorrespondents)
	c.Analysis.RestrictDocumentTypes = getBoolEnv("RESTRICT_DOCUMENT_TYPES", c.Analysis.RestrictDocumentTypes)
	c.Analysis.RestrictCustomFields = getBoolEnv("RESTRICT_CUSTOM_FIELDS", c.Analysis.RestrictCustomFields)
	c.Analysis.CustomFieldIDs = getIntListEnv("CUSTOM_FIELD_IDS", c.Analysis.CustomFieldIDs)
	c.Analysis.ProcessedTag = getEnv("PROCESSED_TAG", c.Analysis.ProcessedTag)
	c.Analysis.RemoveTags = getListEnv("REMOVE_TAGS", c.Analysis.RemoveTags)
	c.Analysis.PromptFile = getEnv("PROMPT_FILE", c.Analysis.PromptFile)
	c.Analysis.PromptLanguage = getEnv("PROMPT_LANGUAGE", c.Analysis.PromptLanguage)

	c.Scan.Enabled = getBoolEnv("SCAN_ENABLED", c.Scan.Enabled)
	c.Scan.Cron = getEnv("SCAN_CRON", c.Scan.Cron)
	c.Scan.IncludeTags = getListEnv("SCAN_INCLUDE_TAGS", c.Scan.IncludeTags)
	c.Scan.ExcludeTags = getListEnv("SCAN_EXCLUDE_TAGS", c.Scan.ExcludeTags)

	c.History.DataDir = getEnv("DATA_DIR", c.History.DataDir)
}

// Validate checks the assembled configuration and reports every problem found
// in a single ConfigurationError.
func (c *Config) Validate() error {
	var problems []string

	if c.Store.BaseURL == "" {
		problems = append(problems, "STORE_URL is required")
	} else if u, err := url.Parse(c.Store.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		problems = append(problems, fmt.Sprintf("STORE_URL %q is not a valid http(s) URL", c.Store.BaseURL))
	}
	if c.Store.APIToken == "" {
		problems = append(problems, "STORE_TOKEN is required")
	}
	if c.Store.PageSize <= 0 {
		problems = append(problems, "store page size must be positive")
	}
	if c.Store.CacheTTL <= 0 {
		problems = append(problems, "catalog cache TTL must be positive")
	}

	if c.LLM.BaseURL == "" {
		problems = append(problems, "LLM_BASE_URL is required")
	}
	if c.LLM.Model == "" {
		problems = append(problems, "LLM_MODEL is required")
	}
	if c.LLM.MaxContextTokens <= 0 {
		problems = append(problems, "max context tokens must be positive")
	}
	if c.LLM.ReservedResponseTokens <= 0 {
		problems = append(problems, "reserved response tokens must be positive")
	} else if c.LLM.ReservedResponseTokens >= c.LLM.MaxContextTokens {
		problems = append(problems, fmt.Sprintf("reserved response tokens (%d) must be below the context window (%d)",
			c.LLM.ReservedResponseTokens, c.LLM.MaxContextTokens))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		problems = append(problems, fmt.Sprintf("temperature %.2f is outside [0, 2]", c.LLM.Temperature))
	}
	if c.LLM.RequestsPerSecond <= 0 {
		problems = append(problems, "LLM requests per second must be positive")
	}
	if c.LLM.MaxAttempts < 1 {
		problems = append(problems, "LLM max attempts must be at least 1")
	}

	switch c.Analysis.ContentMode {
	case "text", "raw", "both":
	default:
		problems = append(problems, fmt.Sprintf("content mode %q is not one of text, raw, both", c.Analysis.ContentMode))
	}
	switch c.Analysis.RawMode {
	case "file", "image":
	default:
		problems = append(problems, fmt.Sprintf("raw mode %q is not one of file, image", c.Analysis.RawMode))
	}

	if c.Scan.Enabled {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(c.Scan.Cron); err != nil {
			problems = append(problems, fmt.Sprintf("scan cron %q is invalid: %v", c.Scan.Cron, err))
		}
	}

	if c.History.DataDir == "" {
		problems = append(problems, "DATA_DIR is required")
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// Capabilities maps the activation flags onto the pipeline's capability set.
func (c *Config) Capabilities() models.Capabilities {
	return models.Capabilities{
		Title:         c.Analysis.ActivateTitle,
		Tags:          c.Analysis.ActivateTags,
		Correspondent: c.Analysis.ActivateCorrespondent,
		DocumentType:  c.Analysis.ActivateDocumentType,
		CreatedDate:   c.Analysis.ActivateCreatedDate,
		Language:      c.Analysis.ActivateLanguage,
		CustomFields:  c.Analysis.ActivateCustomFields,
		Content:       c.Analysis.ActivateContent,
	}
}

// Restrictions maps the restriction flags onto the resolver's policy.
func (c *Config) Restrictions() models.RestrictionPolicy {
	return models.RestrictionPolicy{
		Tags:           c.Analysis.RestrictTags,
		Correspondents: c.Analysis.RestrictCorrespondents,
		DocumentTypes:  c.Analysis.RestrictDocumentTypes,
		CustomFields:   c.Analysis.RestrictCustomFields,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getIntListEnv(key string, defaultValue []int) []int {
	parts := getListEnv(key, nil)
	if parts == nil {
		return defaultValue
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.Atoi(p); err == nil {
			out = append(out, n)
		}
	}
	return out
}
