package types

import (
	"os"
	"strconv"
	"time"
)

// Config holds the runtime settings of the service, read from environment
// variables with defaults suitable for local use.
type Config struct {
	ServerAddr       string
	StoreBackend     string
	DataDir          string
	ChunkSize        int
	ChunkOverlap     int
	DefaultTopK      int
	MaxContextLength int
	MaxHistoryLength int
	SessionTimeout   time.Duration
	MaxFileSizeMB    int
	SourceDir        string
	ArchiveDir       string
	BadDir           string
	MonitoringTime   time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		ServerAddr:       envStr("SERVER_ADDR", ":8080"),
		StoreBackend:     envStr("STORE_BACKEND", "memory"),
		DataDir:          envStr("DATA_DIR", "./data"),
		ChunkSize:        envInt("CHUNK_SIZE", 1000),
		ChunkOverlap:     envInt("CHUNK_OVERLAP", 200),
		DefaultTopK:      envInt("DEFAULT_TOP_K", 3),
		MaxContextLength: envInt("MAX_CONTEXT_LENGTH", 4000),
		MaxHistoryLength: envInt("MAX_HISTORY_LENGTH", 10),
		SessionTimeout:   time.Duration(envInt("SESSION_TIMEOUT_MINUTES", 60)) * time.Minute,
		MaxFileSizeMB:    envInt("MAX_FILE_SIZE_MB", 10),
		SourceDir:        os.Getenv("LOADER_SOURCE_DIR"),
		ArchiveDir:       envStr("LOADER_ARCHIVE_DIR", "./archive"),
		BadDir:           envStr("LOADER_BAD_DIR", "./bad"),
		MonitoringTime:   time.Duration(envInt("LOADER_MONITORING_SECONDS", 3)) * time.Second,
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
