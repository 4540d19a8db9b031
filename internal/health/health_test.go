package health

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h fiber.Handler, path string) (int, string) {
	t.Helper()
	app := fiber.New()
	app.Get(path, h)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestLivenessHandler(t *testing.T) {
	code, body := get(t, LivenessHandler(), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "ok")
}

func TestChecker_AllHealthy(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("workspace", func(ctx context.Context) Status { return StatusOK })
	c.Register("polish", func(ctx context.Context) Status { return StatusOK })

	assert.True(t, c.IsReady(context.Background()))
	assert.Len(t, c.Last(), 2)
}

func TestChecker_OneDown(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("workspace", func(ctx context.Context) Status { return StatusDown })
	c.Register("polish", func(ctx context.Context) Status { return StatusOK })

	assert.False(t, c.IsReady(context.Background()))
}

func TestChecker_Degraded_StillReady(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("polish", PolishConfigured(false))

	assert.True(t, c.IsReady(context.Background()))
	assert.Equal(t, StatusDegraded, c.Last()["polish"])
}

func TestChecker_NoChecks(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	assert.True(t, c.IsReady(context.Background()))
}

func TestReadinessHandler_Ready(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("workspace", DirWritable(t.TempDir()))

	code, body := get(t, c.ReadinessHandler(), "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"ready"`)
}

func TestReadinessHandler_NotReady(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("workspace", DirWritable(filepath.Join(t.TempDir(), "missing")))

	code, body := get(t, c.ReadinessHandler(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "not_ready")
}

func TestAccepting(t *testing.T) {
	open := true
	check := Accepting(func() bool { return open })
	assert.Equal(t, StatusOK, check(context.Background()))
	open = false
	assert.Equal(t, StatusDegraded, check(context.Background()))
}

func TestDiskSpace(t *testing.T) {
	dir := t.TempDir()
	used, err := diskUsedPct(dir)
	if err != nil {
		t.Skipf("statfs unavailable: %v", err)
	}

	ctx := context.Background()
	if used < 99 {
		assert.Equal(t, StatusDegraded, DiskSpace(dir, -1)(ctx))
	}
	assert.NotEqual(t, StatusDegraded, DiskSpace(dir, 100)(ctx))
}

func TestDiskSpace_MissingDirIsOK(t *testing.T) {
	check := DiskSpace(filepath.Join(t.TempDir(), "missing"), 90)
	assert.Equal(t, StatusOK, check(context.Background()))
}
