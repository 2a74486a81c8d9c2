package envconfig

import (
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestHost(t *testing.T) {
	cases := map[string]string{
		"":                    "127.0.0.1:8000",
		"0.0.0.0":             "0.0.0.0:8000",
		"0.0.0.0:9000":        "0.0.0.0:9000",
		"http://localhost:80": "localhost:80",
		"example.com":         "example.com:8000",
		"[::1]:8080":          "[::1]:8080",
		"127.0.0.1:99999":     "127.0.0.1:8000",
		`"127.0.0.1:1234"`:    "127.0.0.1:1234",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			t.Setenv("MRI_HOST", in)
			assert.Equal(t, want, Host())
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	t.Setenv("MRI_ORIGINS", "")
	assert.Empty(t, AllowedOrigins())

	t.Setenv("MRI_ORIGINS", "http://a.test, http://b.test,")
	if diff := cmp.Diff([]string{"http://a.test", "http://b.test"}, AllowedOrigins()); diff != "" {
		t.Errorf("origins mismatch (-want +got):\n%s", diff)
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"0":     slog.LevelInfo,
		"1":     slog.LevelDebug,
		"true":  slog.LevelDebug,
		"2":     slog.Level(-8),
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			t.Setenv("MRI_DEBUG", in)
			assert.Equal(t, want, LogLevel())
		})
	}
}

func TestDefaults(t *testing.T) {
	for _, k := range []string{"MRI_DATASET", "MRI_BATCH_SIZE", "MRI_SEED", "MRI_PRETRAINED_DIR"} {
		t.Setenv(k, "")
	}
	assert.Equal(t, "./dataset", Dataset())
	assert.Equal(t, uint(32), BatchSize())
	assert.Equal(t, uint64(74), Seed())
	assert.Empty(t, PretrainedDir())

	t.Setenv("MRI_BATCH_SIZE", "8")
	t.Setenv("MRI_SEED", "oops")
	assert.Equal(t, uint(8), BatchSize())
	assert.Equal(t, uint64(74), Seed())
}

func TestValues(t *testing.T) {
	t.Setenv("MRI_DB", "/tmp/x.db")
	vals := Values()
	assert.Equal(t, "/tmp/x.db", vals["MRI_DB"])
	assert.Len(t, vals, len(AsMap()))
}
