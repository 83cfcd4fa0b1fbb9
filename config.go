package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Configuration constants
var (
	// OpenRouterAPIKey is the API key for OpenRouter
	OpenRouterAPIKey string

	// CouncilModels is the list of models to query in parallel
	CouncilModels = []string{
		"openai/gpt-5.1",
		"google/gemini-3-pro-preview",
		"anthropic/claude-sonnet-4.5",
		"x-ai/grok-4",
	}

	// ChairmanModel is the model used for final synthesis
	ChairmanModel = "google/gemini-3-pro-preview"

	// TitleModel is the fast model used for conversation titles
	TitleModel = "google/gemini-2.5-flash"

	// OpenRouterBaseURL is the OpenAI-compatible OpenRouter endpoint
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"

	// DataDir is the directory for conversation storage
	DataDir = "data/conversations"

	// Timeout constants
	ModelQueryTimeout = 120 * time.Second
	TitleGenTimeout   = 30 * time.Second
	FetchTimeout      = 20 * time.Second

	// CORS allowed origins (configurable via environment)
	// In development (empty/default), allows any localhost port
	// In production, set CORS_ALLOWED_ORIGINS environment variable
	CORSAllowedOrigins = []string{}

	// MaxRequestBodySize is the maximum allowed request body size (1MB)
	MaxRequestBodySize int64 = 1 << 20

	// ContentCacheTTL is how long fetched reference pages are reused
	ContentCacheTTL = 5 * time.Minute

	// MaxContextChars caps the reference text prepended to a query
	MaxContextChars = 20000

	// AllowPrivateFetch lets reference fetches reach loopback and private
	// networks. Off by default; set LLM_COUNCIL_ALLOW_PRIVATE_FETCH for local use.
	AllowPrivateFetch = false
)

// MaxCouncilSize is the number of distinct single-letter labels.
const MaxCouncilSize = 26

// ErrInvalidCouncil is returned when the council configuration cannot be labeled or run.
var ErrInvalidCouncil = errors.New("invalid council configuration")

// CouncilFile is the optional TOML council definition named by COUNCIL_CONFIG.
type CouncilFile struct {
	CouncilModels []string `toml:"council_models"`
	ChairmanModel string   `toml:"chairman_model"`
	TitleModel    string   `toml:"title_model"`
	ModelTimeout  string   `toml:"model_timeout"`
}

// LoadCouncilFile reads a TOML council definition from path.
func LoadCouncilFile(path string) (*CouncilFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read council file '%s': %w", path, err)
	}

	var cf CouncilFile
	if err := toml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse council TOML: %w", err)
	}

	return &cf, nil
}

// Apply overrides the package configuration with any values set in the file.
func (cf *CouncilFile) Apply() error {
	if len(cf.CouncilModels) > 0 {
		CouncilModels = append([]string(nil), cf.CouncilModels...)
	}
	if cf.ChairmanModel != "" {
		ChairmanModel = cf.ChairmanModel
	}
	if cf.TitleModel != "" {
		TitleModel = cf.TitleModel
	}
	if cf.ModelTimeout != "" {
		d, err := time.ParseDuration(cf.ModelTimeout)
		if err != nil {
			return fmt.Errorf("invalid model_timeout %q: %w", cf.ModelTimeout, err)
		}
		ModelQueryTimeout = d
	}
	return nil
}

// ValidateCouncil checks that the council can be anonymized with single letters
// and that a chairman is named.
func ValidateCouncil(models []string, chairman string) error {
	if len(models) == 0 {
		return fmt.Errorf("%w: at least one council model is required", ErrInvalidCouncil)
	}
	if len(models) > MaxCouncilSize {
		return fmt.Errorf("%w: %d council models exceeds the limit of %d", ErrInvalidCouncil, len(models), MaxCouncilSize)
	}
	seen := make(map[string]bool, len(models))
	for _, m := range models {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("%w: empty model identifier", ErrInvalidCouncil)
		}
		if seen[m] {
			return fmt.Errorf("%w: duplicate model %q", ErrInvalidCouncil, m)
		}
		seen[m] = true
	}
	if strings.TrimSpace(chairman) == "" {
		return fmt.Errorf("%w: chairman model is required", ErrInvalidCouncil)
	}
	return nil
}

// ParseOriginList splits a comma-separated list of origins, dropping blanks.
func ParseOriginList(value string) []string {
	origins := []string{}
	for _, origin := range strings.Split(value, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// LoadConfig loads configuration from .env, the environment and the optional
// council file. It returns an error instead of exiting so callers decide.
func LoadConfig() error {
	// Load .env file - try multiple locations
	envLocations := []string{
		".env",    // Current directory
		"../.env", // Parent directory
	}

	envLoaded := false
	for _, envPath := range envLocations {
		absPath, err := filepath.Abs(envPath)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			if err := godotenv.Load(absPath); err == nil {
				log.Printf("Loaded .env from: %s", absPath)
				envLoaded = true
				break
			}
		}
	}

	if !envLoaded {
		log.Printf("Warning: .env file not found in any expected location")
	}

	OpenRouterAPIKey = os.Getenv("OPENROUTER_API_KEY")
	if OpenRouterAPIKey == "" {
		return errors.New("OPENROUTER_API_KEY environment variable is required")
	}

	if baseURL := os.Getenv("OPENROUTER_BASE_URL"); baseURL != "" {
		OpenRouterBaseURL = strings.TrimRight(baseURL, "/")
	}

	if dir := os.Getenv("LLM_COUNCIL_DATA_DIR"); dir != "" {
		DataDir = dir
	}

	// Load CORS origins from environment if provided
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		CORSAllowedOrigins = ParseOriginList(corsOrigins)
	}

	if allow := os.Getenv("LLM_COUNCIL_ALLOW_PRIVATE_FETCH"); allow != "" {
		v, err := strconv.ParseBool(allow)
		if err != nil {
			return fmt.Errorf("invalid LLM_COUNCIL_ALLOW_PRIVATE_FETCH %q: %w", allow, err)
		}
		AllowPrivateFetch = v
	}

	if path := os.Getenv("COUNCIL_CONFIG"); path != "" {
		cf, err := LoadCouncilFile(path)
		if err != nil {
			return err
		}
		if err := cf.Apply(); err != nil {
			return err
		}
		log.Printf("Loaded council from: %s", path)
	}

	if err := ValidateCouncil(CouncilModels, ChairmanModel); err != nil {
		return err
	}

	log.Printf("Configuration loaded successfully (%d council models, chairman %s)", len(CouncilModels), ChairmanModel)
	return nil
}
