package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"
)

func TestLoad_Defaults(t *testing.T) {
	is := is.New(t)

	cfg, err := Load("")
	// Defaults select the eleven provider, which requires a base URL.
	is.True(err != nil)
	is.Equal(cfg.Listen, ":8080")
	is.Equal(cfg.Cache.Driver, "sqlite")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "narrator.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	is := is.New(t)

	path := writeConfig(t, `
listen: ":9090"
log:
  level: debug
vendor:
  provider: eleven
  base_url: https://tts.example.com
  api_key: secret
cache:
  driver: memory
alignment:
  word_duration_ms: 250
`)

	cfg, err := Load(path)
	is.NoErr(err)
	is.Equal(cfg.Listen, ":9090")
	is.Equal(cfg.Vendor.BaseURL, "https://tts.example.com")
	is.Equal(cfg.Cache.Driver, "memory")
	is.Equal(cfg.WordDuration().Milliseconds(), int64(250))
	is.Equal(cfg.LogLevel(), slog.LevelDebug)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	is := is.New(t)

	path := writeConfig(t, `
vendor:
  provider: eleven
  base_url: https://tts.example.com
  api_key: from-file
`)
	t.Setenv("NARRATOR_VENDOR_API_KEY", "from-env")

	cfg, err := Load(path)
	is.NoErr(err)
	is.Equal(cfg.Vendor.APIKey, "from-env")
}

func TestValidate_UnknownProvider(t *testing.T) {
	is := is.New(t)

	cfg := Default()
	cfg.Vendor.Provider = "acme"
	is.True(cfg.Validate() != nil)
}

func TestValidate_SQLiteNeedsPath(t *testing.T) {
	is := is.New(t)

	cfg := Default()
	cfg.Vendor.Provider = "openai"
	cfg.Cache.Path = ""
	is.True(cfg.Validate() != nil)
}

func TestValidate_BucketNeedsEndpoint(t *testing.T) {
	is := is.New(t)

	cfg := Default()
	cfg.Vendor.Provider = "openai"
	cfg.Audio.Bucket = "narration"
	is.True(cfg.Validate() != nil)

	cfg.Audio.Endpoint = "minio.local:9000"
	is.NoErr(cfg.Validate())
	is.True(cfg.ObjectStoreEnabled())
}
