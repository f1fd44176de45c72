package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Connectors ConnectorsConfig `yaml:"connectors" mapstructure:"connectors"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Documents  DocumentsConfig  `yaml:"documents" mapstructure:"documents"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Chunk      ChunkConfig      `yaml:"chunk" mapstructure:"chunk"`
	Embedding  EmbeddingConfig  `yaml:"embedding" mapstructure:"embedding"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Analysis   AnalysisConfig   `yaml:"analysis" mapstructure:"analysis"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// CacheConfig selects the backend for cached source API responses.
type CacheConfig struct {
	Driver     string `yaml:"driver" mapstructure:"driver"`
	RedisURL   string `yaml:"redis_url" mapstructure:"redis_url"`
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	TTLSecs    int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// TTL returns the configured cache TTL.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// ConnectorsConfig holds per-source API settings.
type ConnectorsConfig struct {
	UserAgent  string       `yaml:"user_agent" mapstructure:"user_agent"`
	PNCP       SourceConfig `yaml:"pncp" mapstructure:"pncp"`
	ComprasGov SourceConfig `yaml:"compras_gov" mapstructure:"compras_gov"`
}

// SourceConfig configures a single government source API.
type SourceConfig struct {
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	RateLimitRPM int    `yaml:"rate_limit_rpm" mapstructure:"rate_limit_rpm"`
	PageSize     int    `yaml:"page_size" mapstructure:"page_size"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries   int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// StorageConfig configures object storage for downloaded documents.
type StorageConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	LocalDir  string `yaml:"local_dir" mapstructure:"local_dir"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	Region    string `yaml:"region" mapstructure:"region"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// DocumentsConfig configures the download and extraction pipeline.
type DocumentsConfig struct {
	DownloadTimeoutSecs int `yaml:"download_timeout_secs" mapstructure:"download_timeout_secs"`
	Concurrency         int `yaml:"concurrency" mapstructure:"concurrency"`
	SweepLimit          int `yaml:"sweep_limit" mapstructure:"sweep_limit"`
	MaxErrorLen         int `yaml:"max_error_len" mapstructure:"max_error_len"`
}

// OCRConfig configures PDF text extraction and the OCR fallback.
type OCRConfig struct {
	Provider        string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath   string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	PdfToPPMPath    string `yaml:"pdftoppm_path" mapstructure:"pdftoppm_path"`
	TesseractPath   string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	Lang            string `yaml:"lang" mapstructure:"lang"`
	DPI             int    `yaml:"dpi" mapstructure:"dpi"`
	MinCharsPerPage int    `yaml:"min_chars_per_page" mapstructure:"min_chars_per_page"`
	MistralKey      string `yaml:"mistral_key" mapstructure:"mistral_key"`
	MistralModel    string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// ChunkConfig configures token windowing.
type ChunkConfig struct {
	Size    int    `yaml:"size" mapstructure:"size"`
	Overlap int    `yaml:"overlap" mapstructure:"overlap"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider" mapstructure:"provider"`
	Model      string `yaml:"model" mapstructure:"model"`
	Dimensions int    `yaml:"dimensions" mapstructure:"dimensions"`
	BatchSize  int    `yaml:"batch_size" mapstructure:"batch_size"`
	GeminiKey  string `yaml:"gemini_key" mapstructure:"gemini_key"`
	CohereKey  string `yaml:"cohere_key" mapstructure:"cohere_key"`
	// TimeoutSecs bounds each provider request.
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the per-request provider timeout.
func (c EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// LLMConfig configures the generation provider.
type LLMConfig struct {
	Provider     string  `yaml:"provider" mapstructure:"provider"`
	Model        string  `yaml:"model" mapstructure:"model"`
	Temperature  float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens    int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	GeminiKey    string  `yaml:"gemini_key" mapstructure:"gemini_key"`
	AnthropicKey string  `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the per-request generation timeout.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// AnalysisConfig configures retrieval depth for analysis and search.
type AnalysisConfig struct {
	ExtractionTopK int `yaml:"extraction_top_k" mapstructure:"extraction_top_k"`
	SearchTopK     int `yaml:"search_top_k" mapstructure:"search_top_k"`
}

// TemporalConfig configures the workflow client and worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// ScheduleConfig holds cron specs (seconds first) for periodic work.
type ScheduleConfig struct {
	IngestPNCP       string `yaml:"ingest_pncp" mapstructure:"ingest_pncp"`
	IngestComprasGov string `yaml:"ingest_compras_gov" mapstructure:"ingest_compras_gov"`
	IngestDaysBack   int    `yaml:"ingest_days_back" mapstructure:"ingest_days_back"`
	DownloadPending  string `yaml:"download_pending" mapstructure:"download_pending"`
	CheckDeadlines   string `yaml:"check_deadlines" mapstructure:"check_deadlines"`
}

// MonitoringConfig sets the pipeline health thresholds checked by the worker
// and the status command.
type MonitoringConfig struct {
	FailureRateThreshold    float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DocFailureRateThreshold float64 `yaml:"doc_failure_rate_threshold" mapstructure:"doc_failure_rate_threshold"`
	LookbackHours           int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	CheckIntervalSecs       int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LICITA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.sqlite_path", "licita-cache.db")
	v.SetDefault("cache.ttl_secs", 300)
	v.SetDefault("connectors.user_agent", "LicitaAI/1.0")
	v.SetDefault("connectors.pncp.base_url", "https://pncp.gov.br/api/pncp")
	v.SetDefault("connectors.pncp.rate_limit_rpm", 60)
	v.SetDefault("connectors.pncp.page_size", 50)
	v.SetDefault("connectors.pncp.timeout_secs", 30)
	v.SetDefault("connectors.pncp.max_retries", 3)
	v.SetDefault("connectors.compras_gov.base_url", "https://dadosabertos.compras.gov.br")
	v.SetDefault("connectors.compras_gov.rate_limit_rpm", 60)
	v.SetDefault("connectors.compras_gov.page_size", 500)
	v.SetDefault("connectors.compras_gov.timeout_secs", 30)
	v.SetDefault("connectors.compras_gov.max_retries", 3)
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.bucket", "licitaai")
	v.SetDefault("storage.local_dir", "./data")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("documents.download_timeout_secs", 60)
	v.SetDefault("documents.concurrency", 4)
	v.SetDefault("documents.sweep_limit", 200)
	v.SetDefault("documents.max_error_len", 500)
	v.SetDefault("ocr.provider", "tesseract")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.pdftoppm_path", "pdftoppm")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.lang", "por")
	v.SetDefault("ocr.dpi", 200)
	v.SetDefault("ocr.min_chars_per_page", 100)
	v.SetDefault("ocr.mistral_key", "")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("chunk.size", 800)
	v.SetDefault("chunk.overlap", 100)
	v.SetDefault("chunk.model", "gpt-4o")
	v.SetDefault("embedding.provider", "gemini")
	v.SetDefault("embedding.model", "gemini-embedding-001")
	v.SetDefault("embedding.dimensions", 3072)
	v.SetDefault("embedding.batch_size", 100)
	v.SetDefault("embedding.gemini_key", "")
	v.SetDefault("embedding.cohere_key", "")
	v.SetDefault("embedding.timeout_secs", 120)
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 16000)
	v.SetDefault("llm.gemini_key", "")
	v.SetDefault("llm.anthropic_key", "")
	v.SetDefault("llm.timeout_secs", 120)
	v.SetDefault("analysis.extraction_top_k", 15)
	v.SetDefault("analysis.search_top_k", 10)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "licita")
	v.SetDefault("schedule.ingest_pncp", "0 0 6 * * *")
	v.SetDefault("schedule.ingest_compras_gov", "0 30 6 * * *")
	v.SetDefault("schedule.ingest_days_back", 3)
	v.SetDefault("schedule.download_pending", "0 0 */2 * * *")
	v.SetDefault("schedule.check_deadlines", "0 0 8 * * *")
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.doc_failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs before it touches any
// external service.
func (c *Config) Validate(mode string) error {
	var errs []string

	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Chunk.Size <= 0 || c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		errs = append(errs, "chunk.overlap must be between 0 and chunk.size")
	}

	needLLM, needEmbedding := false, false
	switch mode {
	case "ingest", "migrate", "clients", "deadlines", "runs", "status":
	case "documents", "search":
		needEmbedding = true
	case "match":
		needLLM = true
	case "analyze", "serve", "worker":
		needLLM, needEmbedding = true, true
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needLLM && c.llmKey() == "" {
		errs = append(errs, "llm key is required for provider "+c.LLM.Provider)
	}
	if needEmbedding && c.embeddingKey() == "" {
		errs = append(errs, "embedding key is required for provider "+c.Embedding.Provider)
	}
	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) llmKey() string {
	switch c.LLM.Provider {
	case "anthropic":
		return c.LLM.AnthropicKey
	default:
		return c.LLM.GeminiKey
	}
}

func (c *Config) embeddingKey() string {
	switch c.Embedding.Provider {
	case "cohere":
		return c.Embedding.CohereKey
	default:
		return c.Embedding.GeminiKey
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
