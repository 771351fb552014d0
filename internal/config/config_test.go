package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsAndEnvSecrets(t *testing.T) {
	t.Setenv("EHS_JWT_SECRET", "s3cret")
	path := writeConfig(t, `
server:
  port: 9090
workflow:
  seed_file: configs/workflows.yaml
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 200, cfg.Visibility.BatchSize)
	assert.Equal(t, 5, cfg.Notification.MaxAttempts)
	assert.Equal(t, "configs/workflows.yaml", cfg.Workflow.SeedFile)

	cc := cfg.ToContainerConfig()
	assert.Equal(t, cfg.Database.Path, cc.Database.Path)
	assert.Equal(t, cfg.Visibility.RebuildSchedule, cc.Visibility.RebuildSchedule)
	assert.Equal(t, int64(10<<20), cc.Server.MaxUploadBytes)
}

func TestLoad_PrefixedOverride(t *testing.T) {
	t.Setenv("EHS_JWT_SECRET", "s3cret")
	t.Setenv("EHS_NOTIFICATION_MAX_ATTEMPTS", "9")
	path := writeConfig(t, "logger:\n  format: console\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Notification.MaxAttempts)
	assert.Equal(t, "console", cfg.Logger.Format)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing jwt secret",
			body:    "server:\n  port: 8080\n",
			wantErr: "auth.jwt_secret",
		},
		{
			name:    "postgres without dsn",
			body:    "database:\n  driver: postgres\n",
			env:     map[string]string{"EHS_JWT_SECRET": "x"},
			wantErr: "database.dsn",
		},
		{
			name:    "lark enabled without credentials",
			body:    "lark:\n  enabled: true\n",
			env:     map[string]string{"EHS_JWT_SECRET": "x"},
			wantErr: "lark.app_id",
		},
		{
			name:    "bad cron",
			body:    "visibility:\n  rebuild_schedule: \"every day\"\n",
			env:     map[string]string{"EHS_JWT_SECRET": "x"},
			wantErr: "rebuild_schedule",
		},
		{
			name:    "unknown log format",
			body:    "logger:\n  format: xml\n",
			env:     map[string]string{"EHS_JWT_SECRET": "x"},
			wantErr: "logger.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
