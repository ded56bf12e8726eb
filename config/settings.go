// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings holds all application configuration.
type Settings struct {
	LLM      LLMConfig
	Dispatch DispatchConfig
	Data     DataConfig
	RAG      RAGConfig
	Report   ReportConfig
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string
	Model       string
	MaxTokens   uint32
	Temperature float64
}

// DispatchConfig holds dispatch router configuration.
type DispatchConfig struct {
	CallTimeout   time.Duration // per model call
	MaxRetries    int           // additional attempts after the first
	DebugDumpPath string        // normalized-argument dump, best effort
	ChartDir      string        // line chart artifact directory
}

// DataConfig holds dataset source configuration.
type DataConfig struct {
	GlobalBucket   string // shared dataset bucket (Global role)
	GlobalObject   string
	RegionalBucket string // regional dataset bucket (China/Korea roles)
	LocalCSV       string // when set, overrides bucket fetch entirely
	EnvelopeStart  string // earliest period with data, YYYY_Qn
	EnvelopeEnd    string // latest period with data, YYYY_Qn
}

// RAGConfig holds managed retrieval configuration.
type RAGConfig struct {
	GlobalCorpus      string
	ChinaCorpus       string
	KoreaCorpus       string
	GlobalTopK        int32
	RegionalTopK      int32
	DistanceThreshold float64
}

// ReportConfig holds report pipeline configuration.
type ReportConfig struct {
	OutputRoot string // timestamped run directories are created under this
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "gpt-4o", "OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-chat", "DEEPSEEK_API_KEY"},
	"gemini":    {"GEMINI_MODEL", "gemini-1.5-pro-002", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

// New creates settings for the specified provider, loading values from environment variables.
// Returns an error if the provider is unknown or environment variables contain invalid values.
func New(provider string) (Settings, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return Settings{}, err
	}

	maxTokens, err := getEnvUint32("LLM_MAX_TOKENS", 4096)
	if err != nil {
		return Settings{}, err
	}

	temperature, err := getEnvFloat64("LLM_TEMPERATURE", 0.5)
	if err != nil {
		return Settings{}, err
	}

	callTimeout, err := getEnvDuration("DISPATCH_CALL_TIMEOUT", 60*time.Second)
	if err != nil {
		return Settings{}, err
	}

	maxRetries, err := getEnvInt("DISPATCH_MAX_RETRIES", 1)
	if err != nil {
		return Settings{}, err
	}

	globalTopK, err := getEnvInt("RAG_GLOBAL_TOP_K", 20)
	if err != nil {
		return Settings{}, err
	}

	regionalTopK, err := getEnvInt("RAG_REGIONAL_TOP_K", 10)
	if err != nil {
		return Settings{}, err
	}

	distanceThreshold, err := getEnvFloat64("RAG_DISTANCE_THRESHOLD", 0.6)
	if err != nil {
		return Settings{}, err
	}

	// Get model from environment or use default
	model := os.Getenv(info.modelEnv)
	if model == "" {
		model = info.defaultModel
	}

	return Settings{
		LLM: LLMConfig{
			Provider:    provider,
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		},
		Dispatch: DispatchConfig{
			CallTimeout:   callTimeout,
			MaxRetries:    maxRetries,
			DebugDumpPath: getEnvString("DISPATCH_DEBUG_DUMP", "gemini_parsed_output.json"),
			ChartDir:      getEnvString("CHART_DIR", "Line_Chart"),
		},
		Data: DataConfig{
			GlobalBucket:   getEnvString("DATA_GLOBAL_BUCKET", "careerhack2025-bsid-resource-bucket"),
			GlobalObject:   getEnvString("DATA_GLOBAL_OBJECT", "FIN_Data.csv"),
			RegionalBucket: getEnvString("DATA_REGIONAL_BUCKET", "tsmccareerhack2025-bsid-grp6-bucket"),
			LocalCSV:       os.Getenv("DATA_LOCAL_CSV"),
			EnvelopeStart:  getEnvString("DATA_ENVELOPE_START", "2020_Q1"),
			EnvelopeEnd:    getEnvString("DATA_ENVELOPE_END", "2024_Q3"),
		},
		RAG: RAGConfig{
			GlobalCorpus:      os.Getenv("RAG_GLOBAL_CORPUS"),
			ChinaCorpus:       os.Getenv("RAG_CHINA_CORPUS"),
			KoreaCorpus:       os.Getenv("RAG_KOREA_CORPUS"),
			GlobalTopK:        int32(globalTopK),
			RegionalTopK:      int32(regionalTopK),
			DistanceThreshold: distanceThreshold,
		},
		Report: ReportConfig{
			OutputRoot: getEnvString("REPORT_OUTPUT_ROOT", "summarize_reports"),
		},
	}, nil
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(provider)
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	if val := os.Getenv(info.modelEnv); val != "" {
		return val, nil
	}
	return info.defaultModel, nil
}

// SupportedProviders returns the list of supported provider names.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	return result
}

// Environment variable helpers with proper error handling

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}
