package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/gateway.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// GatewayConfig describes runtime options for the gateway process.
type GatewayConfig struct {
	Environment string
	ListenAddr  string
	LogFile     string
	LogLevel    string

	// Upstream completion service
	UpstreamBaseURL string
	UpstreamAPIKey  string
	UpstreamTimeout time.Duration

	// Model resolution
	DefaultModel     string
	ModelAliases     map[string]string
	ModelAliasesFile string

	// Prompt filtering: fenced blocks headed by a filename matching any of
	// these patterns are stripped before the prompt reaches the model.
	ExcludedFilePatterns     []string
	ExcludedFilePatternsFile string

	// Bridge audit ledger: backend is "sqlite", "postgres", or "" (disabled).
	LedgerBackend string
	LedgerPath    string
	LedgerDSN     string
}

// LoadGatewayConfig reads the current environment and loads the appropriate
// gateway config file, applying XCS_* env overrides.
func LoadGatewayConfig(root string) (GatewayConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return GatewayConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return GatewayConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := GatewayConfig{
		Environment:     s.Environment,
		ListenAddr:      firstNonEmpty(os.Getenv("XCS_LISTEN_ADDR"), merged["listen_addr"], "127.0.0.1:8239"),
		LogFile:         firstNonEmpty(os.Getenv("XCS_LOG_FILE"), merged["log_file"]),
		LogLevel:        firstNonEmpty(os.Getenv("XCS_LOG_LEVEL"), merged["log_level"], "info"),
		UpstreamBaseURL: firstNonEmpty(os.Getenv("XCS_UPSTREAM_BASE_URL"), merged["upstream_base_url"]),
		UpstreamAPIKey:  firstNonEmpty(os.Getenv("XCS_UPSTREAM_API_KEY"), merged["upstream_api_key"]),
		DefaultModel:    firstNonEmpty(os.Getenv("XCS_DEFAULT_MODEL"), merged["default_model"]),
		LedgerBackend:   strings.ToLower(firstNonEmpty(os.Getenv("XCS_LEDGER_BACKEND"), merged["ledger_backend"])),
		LedgerPath:      firstNonEmpty(os.Getenv("XCS_LEDGER_PATH"), merged["ledger_path"]),
		LedgerDSN:       firstNonEmpty(os.Getenv("XCS_LEDGER_DSN"), merged["ledger_dsn"]),
	}

	if v := firstNonEmpty(os.Getenv("XCS_UPSTREAM_TIMEOUT"), merged["upstream_timeout"]); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return GatewayConfig{}, fmt.Errorf("invalid upstream_timeout %q: %w", v, err)
		}
		cfg.UpstreamTimeout = dur
	}

	switch cfg.LedgerBackend {
	case "", "sqlite", "postgres":
	default:
		return GatewayConfig{}, fmt.Errorf("invalid ledger_backend %q", cfg.LedgerBackend)
	}

	cfg.ModelAliases = parsePairs(firstNonEmpty(os.Getenv("XCS_MODEL_ALIASES"), merged["model_aliases"]))
	cfg.ModelAliasesFile = firstNonEmpty(os.Getenv("XCS_MODEL_ALIASES_FILE"), merged["model_aliases_file"])
	if cfg.ModelAliasesFile != "" {
		fileAliases, err := loadAliasesFile(cfg.ModelAliasesFile)
		if err != nil {
			return GatewayConfig{}, err
		}
		if cfg.ModelAliases == nil {
			cfg.ModelAliases = map[string]string{}
		}
		for k, v := range fileAliases {
			cfg.ModelAliases[k] = v
		}
	}

	cfg.ExcludedFilePatterns = parseCSV(firstNonEmpty(os.Getenv("XCS_EXCLUDED_FILE_PATTERNS"), merged["excluded_file_patterns"]))
	cfg.ExcludedFilePatternsFile = firstNonEmpty(os.Getenv("XCS_EXCLUDED_FILE_PATTERNS_FILE"), merged["excluded_file_patterns_file"])

	return cfg, nil
}

// loadAliasesFile reads a YAML mapping of requested model -> served model.
func loadAliasesFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model aliases file %s: %w", path, err)
	}
	var aliases map[string]string
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return nil, fmt.Errorf("parse model aliases file %s: %w", path, err)
	}
	return aliases, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(input, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parsePairs reads comma-separated key=value pairs, e.g. "a=b,c=d".
func parsePairs(input string) map[string]string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	result := make(map[string]string)
	for _, entry := range strings.Split(input, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" || val == "" {
			continue
		}
		result[key] = val
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
