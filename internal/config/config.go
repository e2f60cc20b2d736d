package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Supported inference backends.
const (
	BackendONNX   = "onnx"
	BackendOpenCV = "opencv"
)

type Config struct {
	ModelPath      string
	Backend        string
	OrtLibraryPath string
	InputName      string
	InputWidth     int
	InputHeight    int
	ScoreThreshold float64
	ShowWindow     bool
	OutputDir      string
	DBPath         string
	Port           int
	LogDirectory   string
	LogLevel       string
}

// Load reads an optional dotenv file (ENV_FILE, default .env) and then the
// process environment. Variables already present in the environment win.
func Load() *Config {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: could not read %s: %v\n", envFile, err)
	}

	return &Config{
		ModelPath:      getEnv("MODEL_PATH", filepath.Join(".", "models", "ssd-12.onnx")),
		Backend:        strings.ToLower(getEnv("BACKEND", BackendONNX)),
		OrtLibraryPath: getEnv("ORT_LIBRARY_PATH", ""),
		InputName:      getEnv("INPUT_NAME", "image"),
		InputWidth:     getEnvAsInt("INPUT_WIDTH", 1200),
		InputHeight:    getEnvAsInt("INPUT_HEIGHT", 1200),
		ScoreThreshold: getEnvAsFloat("SCORE_THRESHOLD", 0.5),
		ShowWindow:     getEnvAsBool("SHOW_WINDOW", false),
		OutputDir:      getEnv("OUTPUT_DIR", filepath.Join(".", "output")),
		DBPath:         getEnv("DB_PATH", filepath.Join(".", "data", "detections.db")),
		Port:           getEnvAsInt("PORT", 8080),
		LogDirectory:   getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

// Validate reports the first setting that cannot drive a detection run.
func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if c.Backend != BackendONNX && c.Backend != BackendOpenCV {
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendONNX, BackendOpenCV)
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return fmt.Errorf("input size must be positive, got %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold >= 1 {
		return fmt.Errorf("score threshold must be in [0,1), got %g", c.ScoreThreshold)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
