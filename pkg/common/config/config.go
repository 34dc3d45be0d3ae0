package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Configuration tables
	TransformationTable string
	FeatureTable        string
	ResourceRouteTable  string
	TerminologyCatalog  string

	// FHIR server
	FHIRServerURL      string
	FHIRTokenURL       string
	FHIRClientID       string
	FHIRClientSecret   string
	FHIRScopes         []string
	FHIRRequestTimeout time.Duration
	FHIRMaxPages       int
	AssemblyWorkers    int

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	VectorLogEnabled bool

	// Redis
	RedisHost      string
	RedisPort      string
	RedisPassword  string
	RedisDB        int
	VectorCacheTTL time.Duration

	// Kafka
	KafkaBrokers      []string
	KafkaGroupID      string
	KafkaRequestTopic string
	KafkaVectorTopic  string
	KafkaEnabled      bool
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 60*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),

		TransformationTable: getEnv("TRANSFORMATION_TABLE", "configs/transformation.csv"),
		FeatureTable:        getEnv("FEATURE_TABLE", "configs/features.csv"),
		ResourceRouteTable:  getEnv("RESOURCE_ROUTE_TABLE", "configs/resource.route"),
		TerminologyCatalog:  getEnv("TERMINOLOGY_CATALOG", ""),

		FHIRServerURL:      getEnv("FHIR_SERVER_URL", "http://localhost:8090/fhir"),
		FHIRTokenURL:       getEnv("FHIR_TOKEN_URL", ""),
		FHIRClientID:       getEnv("FHIR_CLIENT_ID", ""),
		FHIRClientSecret:   getEnv("FHIR_CLIENT_SECRET", ""),
		FHIRScopes:         getStringSliceEnv("FHIR_SCOPES", []string{"system/*.read"}),
		FHIRRequestTimeout: getDuration("FHIR_REQUEST_TIMEOUT", 10*time.Second),
		FHIRMaxPages:       getIntEnv("FHIR_MAX_PAGES", 20),
		AssemblyWorkers:    getIntEnv("ASSEMBLY_WORKERS", 4),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "mocab"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "mocab123"),
		PostgresDB:       getEnv("POSTGRES_DB", "mocab"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		VectorLogEnabled: getBoolEnv("VECTOR_LOG_ENABLED", false),

		RedisHost:      getEnv("REDIS_HOST", "localhost"),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getIntEnv("REDIS_DB", 0),
		VectorCacheTTL: getDuration("VECTOR_CACHE_TTL", 5*time.Minute),

		KafkaBrokers:      getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", "mocab-feature-service"),
		KafkaRequestTopic: getEnv("KAFKA_REQUEST_TOPIC", "feature.assemble"),
		KafkaVectorTopic:  getEnv("KAFKA_VECTOR_TOPIC", "feature.vector"),
		KafkaEnabled:      getBoolEnv("KAFKA_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getStringSliceEnv splits a comma-separated value.
func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
