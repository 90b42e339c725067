package container

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/garyjia/procurement-workflow/internal/application/port"
	"github.com/garyjia/procurement-workflow/internal/application/workflow"
	"github.com/garyjia/procurement-workflow/internal/domain/entity"
)

const seedYAML = `
templates:
  - name: Standard budget
    workflow_type: budget_approval
    default: true
    steps:
      - approver_type: role
        approver_role: manager
      - approver_type: role
        approver_role: finance_lead
`

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "workflow.db")
	cfg.Reconciler.Enabled = false
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "database.dsn"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "unsupported database.driver"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"redis without addr", func(c *Config) { c.ChangeFeed.Driver = ChangeFeedRedis }, "redis_addr"},
		{"unknown changefeed", func(c *Config) { c.ChangeFeed.Driver = "kafka" }, "unsupported changefeed.driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewContainer_RequiresConfigAndLogger(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)
	_, err = NewContainer(DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestContainer_Lifecycle(t *testing.T) {
	cfg := testConfig(t)
	seedPath := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(seedYAML), 0o600))
	cfg.Workflow.SeedFile = seedPath

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(context.Background()), "second start must fail")

	ctx := context.Background()
	tpl, err := c.Templates().GetDefaultTemplate(ctx, entity.WorkflowTypeBudgetApproval)
	require.NoError(t, err)
	assert.Equal(t, "Standard budget", tpl.Name)
	assert.Len(t, tpl.Steps, 2)

	changes, unsubscribe, err := c.ChangeNotifier().Subscribe(ctx, port.TableInstances)
	require.NoError(t, err)
	defer unsubscribe()

	inst, err := c.WorkflowEngine().CreateWorkflowInstance(ctx, workflow.CreateInstanceRequest{
		DocumentType: entity.DocumentTypeBudget, DocumentID: "B-100", CreatedBy: "u1",
	})
	require.NoError(t, err)

	select {
	case change := <-changes:
		assert.Equal(t, inst.ID, change.RowID)
		assert.Equal(t, port.OpInsert, change.Op)
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification for the new instance")
	}

	health := c.Health(ctx)
	assert.True(t, health.Overall)
	assert.True(t, health.Components["database"].Healthy)

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close(), "second close must fail")
	assert.Error(t, c.Start(context.Background()), "start after close must fail")
}

func TestContainer_SeedIsIdempotentAcrossRestarts(t *testing.T) {
	cfg := testConfig(t)
	seedPath := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(seedYAML), 0o600))
	cfg.Workflow.SeedFile = seedPath

	for i := 0; i < 2; i++ {
		c, err := NewContainer(cfg, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, c.Start(context.Background()))

		templates, err := c.Templates().ListTemplates(context.Background(), nil)
		require.NoError(t, err)
		assert.Len(t, templates, 1)
		require.NoError(t, c.Close())
	}
}

func TestContainer_StartFailsOnMissingSeedFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workflow.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, c.Start(context.Background()))
	assert.False(t, c.Ready())
}

func TestContainer_WorkersAndHTTPServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Reconciler.Enabled = true
	cfg.Reconciler.Schedule = "@every 1h"

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	assert.Equal(t, []string{"instance-reconciler"}, c.Workers().RunningWorkers())

	router := c.HTTPServer().Router()
	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.True(t, strings.Contains(rec.Body.String(), `"database":"ok"`), rec.Body.String())
}

func TestLoggerAdapter(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	adapter := newLoggerAdapter(zap.New(core))

	adapter.Info("Template created", "template_id", "t1")
	adapter.Warn("Rejected request", "kind", "validation")
	adapter.Error("Failed to commit", "error", "boom")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "t1", entries[0].ContextMap()["template_id"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, zap.ErrorLevel, entries[2].Level)
}
