package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	ModelDir       string
	ModelFile      string
	MetadataFile   string
	ORTLibraryPath string
	IntraOpThreads int

	// Normalization pins the preprocessing scheme when the metadata file does not.
	Normalization string
	Resampler     string
	AutoOrient    bool

	MaxUploadBytes   int64
	MaxImagePixels   int64
	SoftmaxTolerance float64
	RequestTimeout   time.Duration
	ShutdownTimeout  time.Duration

	CORSOrigin string
	LogLevel   string
	LogFormat  string
	GinMode    string
}

var (
	resamplers     = []string{"nfnt", "imaging", "xdraw"}
	normalizations = []string{"", "caffe", "unit"}
)

// Warning reports an environment value that could not be used. Load falls
// back to the default and carries on.
type Warning struct {
	Key      string
	Value    string
	Fallback string
	Err      error
}

// Load reads .env, if present, and the process environment.
func Load() (*Config, []Warning) {
	var env envReader
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		env.warn(".env", "", "", err)
	}

	cfg := &Config{
		Port: env.getEnv("PORT", "8080"),

		ModelDir:       env.getEnv("MODEL_DIR", "models"),
		ModelFile:      env.getEnv("MODEL_FILE", "skin_cancer_model.onnx"),
		MetadataFile:   env.getEnv("METADATA_FILE", "model_metadata.json"),
		ORTLibraryPath: env.getEnv("ONNXRUNTIME_LIB", ""),
		IntraOpThreads: env.getInt("INTRA_OP_THREADS", 0),

		Normalization: strings.ToLower(env.getEnv("MODEL_NORMALIZATION", "")),
		Resampler:     strings.ToLower(env.getEnv("RESAMPLER", "nfnt")),
		AutoOrient:    env.getBool("AUTO_ORIENT", false),

		MaxUploadBytes:   env.getInt64("MAX_UPLOAD_BYTES", 10<<20),
		MaxImagePixels:   env.getInt64("MAX_IMAGE_PIXELS", 178956970),
		SoftmaxTolerance: env.getFloat("SOFTMAX_TOLERANCE", 1e-3),
		RequestTimeout:   env.getDuration("REQUEST_TIMEOUT", 60*time.Second),
		ShutdownTimeout:  env.getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		CORSOrigin: env.getEnv("CORS_ORIGIN", "*"),
		LogLevel:   env.getEnv("LOG_LEVEL", "info"),
		LogFormat:  env.getEnv("LOG_FORMAT", "json"),
		GinMode:    env.getEnv("GIN_MODE", "release"),
	}
	return cfg, env.warnings
}

// Validate reports settings that would otherwise fail late, on the first request.
func (c *Config) Validate() error {
	if !contains(resamplers, c.Resampler) {
		return fmt.Errorf("RESAMPLER must be one of %v, got %q", resamplers, c.Resampler)
	}
	if !contains(normalizations, c.Normalization) {
		return fmt.Errorf("MODEL_NORMALIZATION must be one of %v, got %q", normalizations[1:], c.Normalization)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.MaxImagePixels <= 0 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be positive, got %d", c.MaxImagePixels)
	}
	if c.SoftmaxTolerance <= 0 {
		return fmt.Errorf("SOFTMAX_TOLERANCE must be positive, got %g", c.SoftmaxTolerance)
	}
	if c.ModelFile == "" {
		return fmt.Errorf("MODEL_FILE must not be empty")
	}
	return nil
}

// ModelPath is the artifact location, used for log output only.
func (c *Config) ModelPath() string {
	return filepath.Join(c.ModelDir, c.ModelFile)
}

type envReader struct {
	warnings []Warning
}

func (e *envReader) warn(key, value, fallback string, err error) {
	e.warnings = append(e.warnings, Warning{Key: key, Value: value, Fallback: fallback, Err: err})
}

func (e *envReader) getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (e *envReader) getInt(key string, fallback int) int {
	return int(e.getInt64(key, int64(fallback)))
}

func (e *envReader) getInt64(key string, fallback int64) int64 {
	v := e.getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.warn(key, v, strconv.FormatInt(fallback, 10), err)
		return fallback
	}
	return n
}

func (e *envReader) getFloat(key string, fallback float64) float64 {
	v := e.getEnv(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.warn(key, v, strconv.FormatFloat(fallback, 'g', -1, 64), err)
		return fallback
	}
	return f
}

func (e *envReader) getBool(key string, fallback bool) bool {
	v := e.getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.warn(key, v, strconv.FormatBool(fallback), err)
		return fallback
	}
	return b
}

// getDuration accepts Go durations ("30s") or a bare number of seconds.
func (e *envReader) getDuration(key string, fallback time.Duration) time.Duration {
	v := e.getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err == nil {
		return d
	}
	if secs, serr := strconv.Atoi(v); serr == nil {
		return time.Duration(secs) * time.Second
	}
	e.warn(key, v, fallback.String(), err)
	return fallback
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
