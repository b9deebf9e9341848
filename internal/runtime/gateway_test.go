package runtime

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGateway_New_Defaults(t *testing.T) {
	gw, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if gw.logger == nil {
		t.Error("Expected default logger")
	}
	if gw.errCh == nil {
		t.Error("Expected error channel")
	}
}

func TestGateway_New_BadConfigPath(t *testing.T) {
	if _, err := New(WithFileConfig("")); err == nil {
		t.Error("Expected error for empty config path")
	}
}

func TestGateway_Start_And_Shutdown(t *testing.T) {
	// Create temp config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := `
server:
  port: 18573
storage:
  type: sqlite
  sqlite:
    path: ` + filepath.Join(tmpDir, "test.db") + `
`
	os.WriteFile(configPath, []byte(configContent), 0644)

	gw, err := New(
		WithFileConfig(configPath),
		WithHandler(http.NotFoundHandler()),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := gw.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Violation store and publisher were wired from the storage section
	if gw.store == nil {
		t.Error("Expected sqlite violation store")
	}
	if gw.events == nil {
		t.Error("Expected default direct publisher")
	}
	if gw.state == nil {
		t.Error("Expected admission state")
	}

	// Give the listener a moment, then verify the health endpoint
	var resp *http.Response
	for i := 0; i < 20; i++ {
		resp, err = http.Get("http://localhost:18573/health")
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}

	if err := gw.Wait(); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestGateway_CustomStoreNotOverridden(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	os.WriteFile(configPath, []byte("server:\n  port: 18574\n"), 0644)

	gw, err := New(
		WithFileConfig(configPath),
		WithSQLite(filepath.Join(tmpDir, "custom.db")),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if gw.store == nil {
		t.Fatal("Expected store from WithSQLite")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	custom := gw.store
	if err := gw.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		gw.Shutdown(shutdownCtx)
	}()

	if gw.store != custom {
		t.Error("Start replaced the store supplied via WithSQLite")
	}
}
