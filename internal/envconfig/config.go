// Package envconfig reads mriscan settings from MRI_* environment variables.
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Host returns the address the API server listens on.
// Configurable via MRI_HOST. Default: 127.0.0.1:8000
func Host() string {
	const defaultPort = "8000"

	s := strings.TrimSpace(Var("MRI_HOST"))
	s = strings.TrimPrefix(s, "http://")
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(s, "[]")); ip != nil {
			host = ip.String()
		} else if s != "" {
			host = s
		}
	}
	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}
	return net.JoinHostPort(host, port)
}

// AllowedOrigins returns the CORS origins. Empty means every origin.
// Configurable via MRI_ORIGINS (comma separated).
func AllowedOrigins() (origins []string) {
	for _, o := range strings.Split(Var("MRI_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// LogLevel returns the log level.
// Configurable via MRI_DEBUG: 0/false is INFO, 1/true is DEBUG, 2 is TRACE.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("MRI_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

var (
	// Dataset is the directory holding Training/ and Testing/.
	Dataset = StringWithDefault("MRI_DATASET", "./dataset")
	// Trained is the directory artifacts are written to.
	Trained = StringWithDefault("MRI_TRAINED", "./trained")
	// Checkpoints is the directory for best-so-far checkpoints.
	Checkpoints = StringWithDefault("MRI_CHECKPOINTS", "./Checkpoints")
	// DB is the SQLite database path.
	DB = StringWithDefault("MRI_DB", "./mri.db")
	// Uploads is where scans attached to analyses are kept.
	Uploads = StringWithDefault("MRI_UPLOADS", "./uploads")
	// PretrainedDir holds ImageNet backbone weights, if any.
	PretrainedDir = String("MRI_PRETRAINED_DIR")

	// BatchSize is the training batch size.
	BatchSize = Uint("MRI_BATCH_SIZE", 32)
	// Seed seeds the train/validation split.
	Seed = Uint64("MRI_SEED", 74)
	// Workers bounds image decoding and compute parallelism.
	Workers = Uint("MRI_WORKERS", uint(runtime.NumCPU()))
	// NumParallel bounds concurrent predictions in the API server.
	NumParallel = Uint("MRI_NUM_PARALLEL", 1)
)

// Var returns an environment variable stripped of surrounding quotes and
// spaces.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// String returns a getter for key.
func String(key string) func() string {
	return func() string {
		return Var(key)
	}
}

// StringWithDefault returns a getter for key that falls back to
// defaultValue when key is unset.
func StringWithDefault(key, defaultValue string) func() string {
	return func() string {
		if s := Var(key); s != "" {
			return s
		}
		return defaultValue
	}
}

// Uint returns a getter for key with a default.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Uint64 returns a getter for key with a default.
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// EnvVar describes one setting.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every setting with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"MRI_HOST":           {"MRI_HOST", Host(), "Address for the API server (default 127.0.0.1:8000)"},
		"MRI_ORIGINS":        {"MRI_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"MRI_DEBUG":          {"MRI_DEBUG", LogLevel(), "Show additional debug information (e.g. MRI_DEBUG=1)"},
		"MRI_DATASET":        {"MRI_DATASET", Dataset(), "Dataset directory containing Training and Testing"},
		"MRI_TRAINED":        {"MRI_TRAINED", Trained(), "Directory for trained models"},
		"MRI_CHECKPOINTS":    {"MRI_CHECKPOINTS", Checkpoints(), "Directory for training checkpoints"},
		"MRI_DB":             {"MRI_DB", DB(), "SQLite database path"},
		"MRI_UPLOADS":        {"MRI_UPLOADS", Uploads(), "Directory for analyzed scans"},
		"MRI_PRETRAINED_DIR": {"MRI_PRETRAINED_DIR", PretrainedDir(), "Directory with pretrained backbone weights"},
		"MRI_BATCH_SIZE":     {"MRI_BATCH_SIZE", BatchSize(), "Training batch size (default 32)"},
		"MRI_SEED":           {"MRI_SEED", Seed(), "Seed for the validation split (default 74)"},
		"MRI_WORKERS":        {"MRI_WORKERS", Workers(), "Worker goroutines for decoding and compute"},
		"MRI_NUM_PARALLEL":   {"MRI_NUM_PARALLEL", NumParallel(), "Maximum number of parallel predictions"},
	}
}

// Values returns every setting formatted for logging.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
