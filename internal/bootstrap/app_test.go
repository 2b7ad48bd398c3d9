package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/config"
	"github.com/btwld/docling-sdk-sub000/internal/progress"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	return &config.Config{
		App: config.AppConfig{Name: "test", Environment: "test"},
		Logging: config.LoggingConfig{
			Level:  "debug",
			Format: "json",
			Output: filepath.Join(t.TempDir(), "app.log"),
		},
		Docling:  config.DoclingConfig{BaseURL: baseURL, RequestTimeout: time.Second},
		Tracking: config.TrackingConfig{Mode: "pull"},
	}
}

func fakeDocling(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_WithoutOptionalDependencies(t *testing.T) {
	srv := fakeDocling(t)

	app, err := New(context.Background(), testConfig(t, srv.URL))
	require.NoError(t, err)

	assert.Nil(t, app.DB)
	assert.Nil(t, app.Results)
	assert.Nil(t, app.Events)
	assert.Equal(t, progress.ModePull, app.Tracker.Defaults().Mode)

	checks := app.HealthChecks()
	require.Len(t, checks, 1)
	require.Contains(t, checks, "docling")
	assert.NoError(t, checks["docling"].HealthCheck(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, app.Shutdown(ctx))
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr string
	}{
		{
			name:    "unknown tracking mode",
			mutate:  func(cfg *config.Config) { cfg.Tracking.Mode = "carrier-pigeon" },
			wantErr: "invalid tracking config",
		},
		{
			name: "log file in missing directory",
			mutate: func(cfg *config.Config) {
				cfg.Logging.Output = filepath.Join(t.TempDir(), "missing", "app.log")
			},
			wantErr: "failed to initialize logger",
		},
		{
			name: "unreachable database",
			mutate: func(cfg *config.Config) {
				cfg.Database = config.DatabaseConfig{
					Enabled:  true,
					Host:     "127.0.0.1",
					Port:     1,
					User:     "monitor",
					Database: "monitor",
				}
			},
			wantErr: "failed to initialize database",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "http://127.0.0.1:1")
			tt.mutate(cfg)

			app, err := New(context.Background(), cfg)
			require.Error(t, err)
			assert.Nil(t, app)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
