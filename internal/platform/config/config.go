package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures process level configuration. Empty infrastructure URLs
// select the in-memory implementations.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	LogLevel      string

	DatabaseURL string
	Redis       RedisConfig
	Kafka       KafkaConfig
	Blob        BlobConfig
	Survey      SurveyConfig
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers           []string
	Topic             string
	ClientID          string
	Partitions        int32
	ReplicationFactor int16
}

// Enabled reports whether events should go to Kafka.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type BlobConfig struct {
	Backend         string // local | oss | memory
	Dir             string
	OSSEndpoint     string
	OSSBucket       string
	OSSAccessKey    string
	OSSAccessSecret string
	OSSPrefix       string
}

type SurveyConfig struct {
	Dwell      time.Duration
	URL        string
	CacheTTL   time.Duration
	SessionTTL time.Duration
}

// FromEnv builds the config from the environment, loading .env first when
// present.
func FromEnv() Server {
	_ = godotenv.Load()

	return Server{
		Addr:          getEnv("PORTAL_ADDR", ":8080"),
		JWTSigningKey: getEnv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:     getEnv("JWT_ISSUER", "iin-portal"),
		JWTAudience:   getEnv("JWT_AUDIENCE", "iin-portal"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:           splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:             getEnv("KAFKA_TOPIC", "iin.application.events"),
			ClientID:          getEnv("KAFKA_CLIENT_ID", "iin-portal"),
			Partitions:        int32(getEnvInt("KAFKA_PARTITIONS", 3)),
			ReplicationFactor: int16(getEnvInt("KAFKA_REPLICATION_FACTOR", 1)),
		},
		Blob: BlobConfig{
			Backend:         getEnv("BLOB_BACKEND", "local"),
			Dir:             getEnv("BLOB_DIR", "./data/uploads"),
			OSSEndpoint:     os.Getenv("OSS_ENDPOINT"),
			OSSBucket:       os.Getenv("OSS_BUCKET"),
			OSSAccessKey:    os.Getenv("OSS_ACCESS_KEY_ID"),
			OSSAccessSecret: os.Getenv("OSS_ACCESS_KEY_SECRET"),
			OSSPrefix:       getEnv("OSS_PREFIX", "iin"),
		},
		Survey: SurveyConfig{
			Dwell:      getEnvDuration("SURVEY_DWELL", 10*time.Second),
			URL:        getEnv("SURVEY_URL", "https://survey.example.invalid/iin"),
			CacheTTL:   getEnvDuration("SURVEY_CACHE_TTL", 24*time.Hour),
			SessionTTL: getEnvDuration("SURVEY_SESSION_TTL", 30*time.Minute),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
