package config

import (
	"crypto/rand"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Recompression strategies accepted by RECOMPRESS_STRATEGY
const (
	StrategyRasterize = "rasterize"
	StrategyOptimize  = "optimize"
)

// Quality and scale bounds shared by config defaults and request validation
const (
	MinQuality     = 10
	MaxQuality     = 95
	DefaultQuality = 50

	MinScale     = 1.0
	MaxScale     = 3.0
	DefaultScale = 1.5
)

// Config holds all application configuration
type Config struct {
	// Result index
	DBURL            string
	DBEngine         string // "memory", "postgres", "mysql" or "redis"
	DBMaxConnections int    // connection pool size (default: 20)
	DBAutoMigrate    bool
	TableName        string
	KeyPrefix        string // For Redis

	// Result storage
	StorageType string // "memory", "local" or "s3"
	StoragePath string // For local filesystem storage

	// S3
	S3Bucket          string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool

	// Security
	EnforceSigning bool
	SigningSecret  []byte

	// Timeouts
	DatabaseQueryTimeout time.Duration
	StorageFetchTimeout  time.Duration
	RequestTimeout       time.Duration
	DocumentTimeout      time.Duration

	// Resource limits
	MaxUploadBytes     int64   // max multipart body size
	MaxArchiveEntries  int     // 0 = unlimited
	MaxExtractedBytes  int64   // 0 = unlimited
	MaxActiveRuns      int     // max concurrent pipeline runs, 0 = unlimited
	RateLimitPerIP     float64 // requests per second per IP, 0 = unlimited
	RateLimitBurst     int

	// Retries
	StorageMaxRetries int
	StorageRetryDelay time.Duration

	// Circuit Breaker
	CircuitBreakerThreshold   int           // failures before opening
	CircuitBreakerTimeout     time.Duration // time to wait before half-open
	CircuitBreakerMaxRequests int           // max requests in half-open state

	// Recompression
	WorkDir         string // parent of per-run workspaces, empty = os.TempDir()
	DefaultQuality  int
	DefaultScale    float64
	Strategy        string
	GhostscriptPath string

	// Results
	ResultTTL       time.Duration
	JanitorInterval time.Duration
	PublicBaseURL   string // prefix for download links, empty = relative links

	// Callback
	CallbackMaxRetries int
	CallbackRetryDelay time.Duration

	// Server
	Port        string
	EnableHTTPS bool

	// Let's Encrypt
	LetsEncryptDomains  []string
	LetsEncryptCacheDir string
	LetsEncryptEmail    string

	// Metrics
	MetricsUsername string
	MetricsPassword string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	dbEngine := "memory"
	dbURL := os.Getenv("DB_URL")
	if dbURL != "" {
		u, err := url.Parse(dbURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_URL: %w", err)
		}
		if u.Scheme == "" {
			return nil, fmt.Errorf("invalid DB_URL: missing scheme")
		}
		dbEngine = u.Scheme
	}

	enforceSigning := parseBool(os.Getenv("ENFORCE_SIGNING"), true)
	enableHTTPS, _ := strconv.ParseBool(os.Getenv("ENABLE_HTTPS"))
	autoMigrate, _ := strconv.ParseBool(os.Getenv("DB_AUTO_MIGRATE"))

	tableName := os.Getenv("TABLE_NAME")
	if tableName == "" {
		tableName = "results"
	}

	keyPrefix := os.Getenv("KEY_PREFIX")
	if keyPrefix == "" {
		keyPrefix = "pdfsqueeze:"
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	s3Region := os.Getenv("S3_REGION")
	if s3Region == "" {
		s3Region = "auto"
	}
	s3UsePathStyle := parseBool(os.Getenv("S3_USE_PATH_STYLE"), false)

	var letsEncryptDomains []string
	if enableHTTPS {
		letsEncryptDomains = parseStringList(os.Getenv("LETSENCRYPT_DOMAINS"))
		if len(letsEncryptDomains) == 0 {
			return nil, fmt.Errorf("LETSENCRYPT_DOMAINS required when ENABLE_HTTPS=true")
		}
	}

	letsEncryptCacheDir := os.Getenv("LETSENCRYPT_CACHE_DIR")
	if letsEncryptCacheDir == "" {
		letsEncryptCacheDir = "./certs"
	}

	// Determine storage type
	storageType := os.Getenv("STORAGE_TYPE")
	storagePath := os.Getenv("STORAGE_PATH")
	s3Bucket := os.Getenv("S3_BUCKET")

	// Auto-detect storage type if not specified
	if storageType == "" {
		switch {
		case storagePath != "":
			storageType = "local"
		case s3Bucket != "":
			storageType = "s3"
		default:
			storageType = "memory"
		}
	}

	// Recompression settings
	defaultQuality := parseInt(os.Getenv("DEFAULT_QUALITY"), DefaultQuality)
	if defaultQuality < MinQuality || defaultQuality > MaxQuality {
		return nil, fmt.Errorf("DEFAULT_QUALITY must be between %d and %d, got %d", MinQuality, MaxQuality, defaultQuality)
	}
	defaultScale := parseFloat(os.Getenv("DEFAULT_SCALE"), DefaultScale)
	if defaultScale < MinScale || defaultScale > MaxScale {
		return nil, fmt.Errorf("DEFAULT_SCALE must be between %.1f and %.1f, got %g", MinScale, MaxScale, defaultScale)
	}

	strategy := strings.ToLower(os.Getenv("RECOMPRESS_STRATEGY"))
	if strategy == "" {
		strategy = StrategyRasterize
	}
	if strategy != StrategyRasterize && strategy != StrategyOptimize {
		return nil, fmt.Errorf("unsupported RECOMPRESS_STRATEGY: %s", strategy)
	}

	ghostscriptPath := os.Getenv("GHOSTSCRIPT_PATH")
	if ghostscriptPath == "" {
		ghostscriptPath = "gs"
	}

	signingSecret := []byte(os.Getenv("SIGNING_SECRET"))
	if len(signingSecret) == 0 {
		// Links signed with a per-process secret stop verifying after a restart.
		signingSecret = make([]byte, 32)
		if _, err := rand.Read(signingSecret); err != nil {
			return nil, fmt.Errorf("generate signing secret: %w", err)
		}
	}

	return &Config{
		DBURL:                     dbURL,
		DBEngine:                  dbEngine,
		DBMaxConnections:          parseInt(os.Getenv("DB_MAX_CONNECTIONS"), 20),
		DBAutoMigrate:             autoMigrate,
		TableName:                 tableName,
		KeyPrefix:                 keyPrefix,
		StorageType:               storageType,
		StoragePath:               storagePath,
		S3Bucket:                  s3Bucket,
		S3Endpoint:                os.Getenv("S3_ENDPOINT"),
		S3Region:                  s3Region,
		S3AccessKeyID:             os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:         os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3UsePathStyle:            s3UsePathStyle,
		EnforceSigning:            enforceSigning,
		SigningSecret:             signingSecret,
		DatabaseQueryTimeout:      parseDuration(os.Getenv("DATABASE_QUERY_TIMEOUT"), 5*time.Second),
		StorageFetchTimeout:       parseDuration(os.Getenv("STORAGE_FETCH_TIMEOUT"), 60*time.Second),
		RequestTimeout:            parseDuration(os.Getenv("REQUEST_TIMEOUT"), 300*time.Second),
		DocumentTimeout:           parseDuration(os.Getenv("DOCUMENT_TIMEOUT"), 120*time.Second),
		MaxUploadBytes:            parseInt64(os.Getenv("MAX_UPLOAD_BYTES"), 256<<20),
		MaxArchiveEntries:         parseInt(os.Getenv("MAX_ARCHIVE_ENTRIES"), 1000),
		MaxExtractedBytes:         parseInt64(os.Getenv("MAX_EXTRACTED_BYTES"), 2<<30),
		MaxActiveRuns:             parseInt(os.Getenv("MAX_ACTIVE_RUNS"), 4),
		RateLimitPerIP:            parseFloat(os.Getenv("RATE_LIMIT_PER_IP"), 0),
		RateLimitBurst:            parseInt(os.Getenv("RATE_LIMIT_BURST"), 5),
		StorageMaxRetries:         parseInt(os.Getenv("STORAGE_MAX_RETRIES"), 3),
		StorageRetryDelay:         parseDuration(os.Getenv("STORAGE_RETRY_DELAY"), 1*time.Second),
		CircuitBreakerThreshold:   parseInt(os.Getenv("CIRCUIT_BREAKER_THRESHOLD"), 5),
		CircuitBreakerTimeout:     parseDuration(os.Getenv("CIRCUIT_BREAKER_TIMEOUT"), 60*time.Second),
		CircuitBreakerMaxRequests: parseInt(os.Getenv("CIRCUIT_BREAKER_MAX_REQUESTS"), 2),
		WorkDir:                   os.Getenv("WORK_DIR"),
		DefaultQuality:            defaultQuality,
		DefaultScale:              defaultScale,
		Strategy:                  strategy,
		GhostscriptPath:           ghostscriptPath,
		ResultTTL:                 parseDuration(os.Getenv("RESULT_TTL"), 1*time.Hour),
		JanitorInterval:           parseDuration(os.Getenv("JANITOR_INTERVAL"), 1*time.Minute),
		PublicBaseURL:             strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		CallbackMaxRetries:        parseInt(os.Getenv("CALLBACK_MAX_RETRIES"), 3),
		CallbackRetryDelay:        parseDuration(os.Getenv("CALLBACK_RETRY_DELAY"), 5*time.Second),
		Port:                      port,
		EnableHTTPS:               enableHTTPS,
		LetsEncryptDomains:        letsEncryptDomains,
		LetsEncryptCacheDir:       letsEncryptCacheDir,
		LetsEncryptEmail:          os.Getenv("LETSENCRYPT_EMAIL"),
		MetricsUsername:           os.Getenv("METRICS_USERNAME"),
		MetricsPassword:           os.Getenv("METRICS_PASSWORD"),
	}, nil
}

// Helper functions for parsing configuration values

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}

func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

func parseInt64(s string, defaultValue int64) int64 {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return defaultValue
	}
	return val
}

func parseFloat(s string, defaultValue float64) float64 {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return defaultValue
	}
	return val
}

func parseBool(s string, defaultValue bool) bool {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.ParseBool(s)
	if err != nil {
		return defaultValue
	}
	return val
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
