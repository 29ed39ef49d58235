package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type StorageConfig struct {
	// Driver is one of sqlite, json, mongo.
	Driver        string `json:"driver"`
	SQLitePath    string `json:"sqlite_path"`
	JSONPath      string `json:"json_path"`
	MongoURI      string `json:"mongo_uri"`
	MongoDatabase string `json:"mongo_database"`
	// LegacyJSONPath 指向旧版 bot 的 JSON 数据文件，启动时导入一次。
	// LegacyJSONPath points at the old bot's JSON data file, imported at startup.
	LegacyJSONPath string `json:"legacy_json_path"`
}

type SchedulerConfig struct {
	FallbackMS int `json:"fallback_ms"`
	FloorMS    int `json:"floor_ms"`
}

type ConversationConfig struct {
	// IdleTimeoutMS 之后未完成的多步对话被丢弃；0 表示不过期。
	// IdleTimeoutMS drops an unfinished multi-step flow; 0 disables expiry.
	IdleTimeoutMS   int `json:"idle_timeout_ms"`
	SweepIntervalMS int `json:"sweep_interval_ms"`
}

type TransportConfig struct {
	Kind          string `json:"kind"`
	ConsoleUserID string `json:"console_user_id"`
	HTTPAddr      string `json:"http_addr"`
}

type BreakerConfig struct {
	MaxRequests         int `json:"max_requests"`
	OpenMS              int `json:"open_ms"`
	ConsecutiveFailures int `json:"consecutive_failures"`
}

type DeliveryConfig struct {
	WebhookURL    string        `json:"webhook_url"`
	WebhookSecret string        `json:"webhook_secret"`
	TimeoutMS     int           `json:"timeout_ms"`
	Breaker       BreakerConfig `json:"breaker"`
}

type LogConfig struct {
	Path       string `json:"path"`
	Level      string `json:"level"`
	Stderr     bool   `json:"stderr"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

type Config struct {
	BaseDir      string             `json:"base_dir"`
	Locale       string             `json:"locale"`
	Storage      StorageConfig      `json:"storage"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	Conversation ConversationConfig `json:"conversation"`
	Transport    TransportConfig    `json:"transport"`
	Delivery     DeliveryConfig     `json:"delivery"`
	Log          LogConfig          `json:"log"`
}

type fileLogConfig struct {
	Path       string `json:"path"`
	Level      string `json:"level"`
	Stderr     *bool  `json:"stderr"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   *bool  `json:"compress"`
}

type fileConversationConfig struct {
	IdleTimeoutMS   *int `json:"idle_timeout_ms"`
	SweepIntervalMS int  `json:"sweep_interval_ms"`
}

type fileConfig struct {
	BaseDir      *string                 `json:"base_dir"`
	Locale       *string                 `json:"locale"`
	Storage      *StorageConfig          `json:"storage"`
	Scheduler    *SchedulerConfig        `json:"scheduler"`
	Conversation *fileConversationConfig `json:"conversation"`
	Transport    *TransportConfig        `json:"transport"`
	Delivery     *DeliveryConfig         `json:"delivery"`
	Log          *fileLogConfig          `json:"log"`
}

func Default() Config {
	return Config{
		BaseDir: DefaultBaseDir,
		Storage: StorageConfig{
			Driver:        DefaultStorageDriver,
			MongoDatabase: DefaultMongoDatabase,
		},
		Scheduler: SchedulerConfig{
			FallbackMS: DefaultSchedulerFallbackMS,
			FloorMS:    DefaultSchedulerFloorMS,
		},
		Conversation: ConversationConfig{
			IdleTimeoutMS:   DefaultIdleTimeoutMS,
			SweepIntervalMS: DefaultSweepIntervalMS,
		},
		Transport: TransportConfig{
			Kind:          DefaultTransport,
			ConsoleUserID: DefaultConsoleUserID,
			HTTPAddr:      DefaultHTTPAddr,
		},
		Delivery: DeliveryConfig{
			TimeoutMS: DefaultDeliveryTimeoutMS,
			Breaker: BreakerConfig{
				MaxRequests:         DefaultBreakerMaxRequests,
				OpenMS:              DefaultBreakerOpenMS,
				ConsecutiveFailures: DefaultBreakerConsecutiveFailures,
			},
		},
		Log: LogConfig{
			Level:      DefaultLogLevel,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
		},
	}
}

func (c SchedulerConfig) Fallback() time.Duration { return ms(c.FallbackMS) }
func (c SchedulerConfig) Floor() time.Duration    { return ms(c.FloorMS) }

func (c ConversationConfig) IdleTimeout() time.Duration   { return ms(c.IdleTimeoutMS) }
func (c ConversationConfig) SweepInterval() time.Duration { return ms(c.SweepIntervalMS) }

func (c DeliveryConfig) Timeout() time.Duration { return ms(c.TimeoutMS) }
func (c BreakerConfig) Open() time.Duration     { return ms(c.OpenMS) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Load 按层叠加配置：默认值 → 全局文件 → 项目文件 → .env → 环境变量。
// Load layers defaults, the global file, the project file, .env and TASKBOT_* variables.
func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	dotenv, err := readDotEnv()
	if err != nil {
		return Config{}, err
	}
	env := func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(dotenv[key])
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := env("TASKBOT_CONFIG_PATH"); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	return applyEnv(cfg, env)
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".taskbot", "config.json")}
}

func findProjectConfigPath() string {
	candidates := []string{
		"taskbot.config.json",
		".taskbot/config.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// readDotEnv reads ./.env, or the file named by TASKBOT_ENV_FILE. A missing
// file yields an empty map. Values never override the real environment.
func readDotEnv() (map[string]string, error) {
	path := strings.TrimSpace(os.Getenv("TASKBOT_ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read env file %q: %w", path, err)
	}
	return values, nil
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	cleaned := stripJSONComments(data)
	var fileCfg fileConfig
	if err := json.Unmarshal(cleaned, &fileCfg); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.BaseDir != nil && strings.TrimSpace(*fc.BaseDir) != "" {
		cfg.BaseDir = *fc.BaseDir
	}
	if fc.Locale != nil {
		cfg.Locale = *fc.Locale
	}
	if fc.Storage != nil {
		cfg.Storage = mergeStorage(cfg.Storage, *fc.Storage)
	}
	if fc.Scheduler != nil {
		if fc.Scheduler.FallbackMS > 0 {
			cfg.Scheduler.FallbackMS = fc.Scheduler.FallbackMS
		}
		if fc.Scheduler.FloorMS > 0 {
			cfg.Scheduler.FloorMS = fc.Scheduler.FloorMS
		}
	}
	if fc.Conversation != nil {
		if fc.Conversation.IdleTimeoutMS != nil {
			cfg.Conversation.IdleTimeoutMS = *fc.Conversation.IdleTimeoutMS
		}
		if fc.Conversation.SweepIntervalMS > 0 {
			cfg.Conversation.SweepIntervalMS = fc.Conversation.SweepIntervalMS
		}
	}
	if fc.Transport != nil {
		cfg.Transport = mergeTransport(cfg.Transport, *fc.Transport)
	}
	if fc.Delivery != nil {
		cfg.Delivery = mergeDelivery(cfg.Delivery, *fc.Delivery)
	}
	if fc.Log != nil {
		cfg.Log = mergeLog(cfg.Log, *fc.Log)
	}
}

func mergeStorage(base StorageConfig, override StorageConfig) StorageConfig {
	if strings.TrimSpace(override.Driver) != "" {
		base.Driver = override.Driver
	}
	if strings.TrimSpace(override.SQLitePath) != "" {
		base.SQLitePath = override.SQLitePath
	}
	if strings.TrimSpace(override.JSONPath) != "" {
		base.JSONPath = override.JSONPath
	}
	if strings.TrimSpace(override.MongoURI) != "" {
		base.MongoURI = override.MongoURI
	}
	if strings.TrimSpace(override.MongoDatabase) != "" {
		base.MongoDatabase = override.MongoDatabase
	}
	if strings.TrimSpace(override.LegacyJSONPath) != "" {
		base.LegacyJSONPath = override.LegacyJSONPath
	}
	return base
}

func mergeTransport(base TransportConfig, override TransportConfig) TransportConfig {
	if strings.TrimSpace(override.Kind) != "" {
		base.Kind = override.Kind
	}
	if strings.TrimSpace(override.ConsoleUserID) != "" {
		base.ConsoleUserID = override.ConsoleUserID
	}
	if strings.TrimSpace(override.HTTPAddr) != "" {
		base.HTTPAddr = override.HTTPAddr
	}
	return base
}

func mergeDelivery(base DeliveryConfig, override DeliveryConfig) DeliveryConfig {
	if strings.TrimSpace(override.WebhookURL) != "" {
		base.WebhookURL = override.WebhookURL
	}
	if strings.TrimSpace(override.WebhookSecret) != "" {
		base.WebhookSecret = override.WebhookSecret
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	if override.Breaker.MaxRequests > 0 {
		base.Breaker.MaxRequests = override.Breaker.MaxRequests
	}
	if override.Breaker.OpenMS > 0 {
		base.Breaker.OpenMS = override.Breaker.OpenMS
	}
	if override.Breaker.ConsecutiveFailures > 0 {
		base.Breaker.ConsecutiveFailures = override.Breaker.ConsecutiveFailures
	}
	return base
}

func mergeLog(base LogConfig, override fileLogConfig) LogConfig {
	if strings.TrimSpace(override.Path) != "" {
		base.Path = override.Path
	}
	if strings.TrimSpace(override.Level) != "" {
		base.Level = override.Level
	}
	if override.Stderr != nil {
		base.Stderr = *override.Stderr
	}
	if override.MaxSizeMB > 0 {
		base.MaxSizeMB = override.MaxSizeMB
	}
	if override.MaxBackups > 0 {
		base.MaxBackups = override.MaxBackups
	}
	if override.MaxAgeDays > 0 {
		base.MaxAgeDays = override.MaxAgeDays
	}
	if override.Compress != nil {
		base.Compress = *override.Compress
	}
	return base
}

func normalize(cfg *Config) error {
	def := Default()

	baseDir := cfg.BaseDir
	if strings.TrimSpace(baseDir) == "" {
		baseDir = def.BaseDir
	}
	expanded, err := expandPath(baseDir)
	if err != nil {
		return err
	}
	cfg.BaseDir = expanded

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	switch cfg.Storage.Driver {
	case "":
		cfg.Storage.Driver = def.Storage.Driver
	case "sqlite", "json", "mongo":
	default:
		return fmt.Errorf("invalid storage.driver: %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "mongo" && strings.TrimSpace(cfg.Storage.MongoURI) == "" {
		return errors.New("storage.mongo_uri is required for the mongo driver")
	}
	if strings.TrimSpace(cfg.Storage.MongoDatabase) == "" {
		cfg.Storage.MongoDatabase = def.Storage.MongoDatabase
	}
	if cfg.Storage.SQLitePath, err = pathUnder(cfg.BaseDir, cfg.Storage.SQLitePath, "taskbot.db"); err != nil {
		return err
	}
	if cfg.Storage.JSONPath, err = pathUnder(cfg.BaseDir, cfg.Storage.JSONPath, "tasks.json"); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Storage.LegacyJSONPath) != "" {
		if cfg.Storage.LegacyJSONPath, err = expandPath(cfg.Storage.LegacyJSONPath); err != nil {
			return err
		}
	}

	if cfg.Scheduler.FallbackMS <= 0 {
		cfg.Scheduler.FallbackMS = def.Scheduler.FallbackMS
	}
	if cfg.Scheduler.FloorMS <= 0 {
		cfg.Scheduler.FloorMS = def.Scheduler.FloorMS
	}
	if cfg.Scheduler.FloorMS > cfg.Scheduler.FallbackMS {
		cfg.Scheduler.FloorMS = cfg.Scheduler.FallbackMS
	}

	if cfg.Conversation.IdleTimeoutMS < 0 {
		cfg.Conversation.IdleTimeoutMS = 0
	}
	if cfg.Conversation.SweepIntervalMS <= 0 {
		cfg.Conversation.SweepIntervalMS = def.Conversation.SweepIntervalMS
	}

	cfg.Transport.Kind = strings.ToLower(strings.TrimSpace(cfg.Transport.Kind))
	switch cfg.Transport.Kind {
	case "":
		cfg.Transport.Kind = def.Transport.Kind
	case TransportREPL, TransportTUI, TransportHTTP:
	default:
		return fmt.Errorf("invalid transport.kind: %q", cfg.Transport.Kind)
	}
	cfg.Transport.ConsoleUserID = strings.TrimSpace(cfg.Transport.ConsoleUserID)
	if cfg.Transport.ConsoleUserID == "" {
		cfg.Transport.ConsoleUserID = def.Transport.ConsoleUserID
	}
	if strings.TrimSpace(cfg.Transport.HTTPAddr) == "" {
		cfg.Transport.HTTPAddr = def.Transport.HTTPAddr
	}

	cfg.Delivery.WebhookURL = strings.TrimSpace(cfg.Delivery.WebhookURL)
	if cfg.Delivery.TimeoutMS <= 0 {
		cfg.Delivery.TimeoutMS = def.Delivery.TimeoutMS
	}
	if cfg.Delivery.Breaker.MaxRequests <= 0 {
		cfg.Delivery.Breaker.MaxRequests = def.Delivery.Breaker.MaxRequests
	}
	if cfg.Delivery.Breaker.OpenMS <= 0 {
		cfg.Delivery.Breaker.OpenMS = def.Delivery.Breaker.OpenMS
	}
	if cfg.Delivery.Breaker.ConsecutiveFailures <= 0 {
		cfg.Delivery.Breaker.ConsecutiveFailures = def.Delivery.Breaker.ConsecutiveFailures
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Path, err = pathUnder(cfg.BaseDir, cfg.Log.Path, filepath.Join("logs", "taskbot.log")); err != nil {
		return err
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = def.Log.MaxSizeMB
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = def.Log.MaxBackups
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = def.Log.MaxAgeDays
	}

	cfg.Locale = strings.TrimSpace(cfg.Locale)
	return nil
}

func applyEnv(cfg Config, env func(string) string) (Config, error) {
	strs := []struct {
		key string
		dst *string
	}{
		{"TASKBOT_BASE_DIR", &cfg.BaseDir},
		{"TASKBOT_LANG", &cfg.Locale},
		{"TASKBOT_STORAGE_DRIVER", &cfg.Storage.Driver},
		{"TASKBOT_SQLITE_PATH", &cfg.Storage.SQLitePath},
		{"TASKBOT_JSON_PATH", &cfg.Storage.JSONPath},
		{"TASKBOT_MONGO_URI", &cfg.Storage.MongoURI},
		{"TASKBOT_MONGO_DATABASE", &cfg.Storage.MongoDatabase},
		{"TASKBOT_LEGACY_JSON", &cfg.Storage.LegacyJSONPath},
		{"TASKBOT_TRANSPORT", &cfg.Transport.Kind},
		{"TASKBOT_USER", &cfg.Transport.ConsoleUserID},
		{"TASKBOT_HTTP_ADDR", &cfg.Transport.HTTPAddr},
		{"TASKBOT_WEBHOOK_URL", &cfg.Delivery.WebhookURL},
		{"TASKBOT_WEBHOOK_SECRET", &cfg.Delivery.WebhookSecret},
		{"TASKBOT_LOG_LEVEL", &cfg.Log.Level},
		{"TASKBOT_LOG_PATH", &cfg.Log.Path},
	}
	for _, s := range strs {
		if v := env(s.key); v != "" {
			*s.dst = v
		}
	}

	durations := []struct {
		key string
		dst *int
	}{
		{"TASKBOT_IDLE_TIMEOUT", &cfg.Conversation.IdleTimeoutMS},
		{"TASKBOT_SCHEDULER_FALLBACK", &cfg.Scheduler.FallbackMS},
	}
	for _, d := range durations {
		v := env(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", d.key, v)
		}
		*d.dst = int(parsed / time.Millisecond)
	}

	if v := env("TASKBOT_LOG_STDERR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TASKBOT_LOG_STDERR: %q", v)
		}
		cfg.Log.Stderr = b
	}

	return cfg, normalize(&cfg)
}

// pathUnder resolves p, or base/def when p is empty.
func pathUnder(base, p, def string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return filepath.Join(base, def), nil
	}
	return expandPath(p)
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

// stripJSONComments 去掉 // 与 /* */ 注释，字符串内的内容保持不变。
// stripJSONComments removes // and /* */ comments outside string literals.
func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return out.Bytes()
}
