package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flanksource/prepress/config"
	"github.com/flanksource/prepress/exec"
	"github.com/flanksource/prepress/pipeline"
	"github.com/flanksource/prepress/render"
	"github.com/flanksource/prepress/validate"
)

func newTestServer(t *testing.T, runner *exec.FakeRunner) (*Server, config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.ExportsDir = t.TempDir()
	cfg.ProfilesDir = t.TempDir()
	services, err := pipeline.NewServices(context.Background(), cfg, runner)
	require.NoError(t, err)
	t.Cleanup(func() { _ = services.Close() })
	return New(services), cfg
}

func do(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp Response
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestHealthAndTools(t *testing.T) {
	runner := exec.NewFakeRunner().On("inkscape --version", exec.Result{Stdout: "Inkscape 1.3.2"})
	s, _ := newTestServer(t, runner)

	w, resp := do(t, s, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, []any{"inkscape"}, resp.Data.(map[string]any)["tools"])

	w, resp = do(t, s, http.MethodGet, "/api/export/tools", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	list := resp.Data.([]any)
	assert.Len(t, list, 12)

	w, _ = do(t, s, http.MethodPost, "/api/export/tools/refresh", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, runner.CallsTo("inkscape"), 2)
}

func TestCheckProfiles(t *testing.T) {
	s, cfg := newTestServer(t, exec.NewFakeRunner())
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ProfilesDir, "sRGB.icc"), []byte("x"), 0o644))

	w, resp := do(t, s, http.MethodGet, "/api/export/check-icc-profiles", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	check := resp.Data.(map[string]any)["check"].(map[string]any)
	assert.Equal(t, false, check["available"])
	assert.Contains(t, check["profiles"], "JapanColor2001Coated")
}

func TestConvertRejectsInvalidInput(t *testing.T) {
	s, _ := newTestServer(t, exec.NewFakeRunner())

	w, resp := do(t, s, http.MethodPost, "/api/export/convert", map[string]any{
		"sourcePath":      "/does/not/exist.pdf",
		"destinationPath": filepath.Join(t.TempDir(), "out.pdf"),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "InvalidInput")

	w, _ = do(t, s, http.MethodPost, "/api/export/convert", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConvertRequiresTargetDPI(t *testing.T) {
	runner := exec.NewFakeRunner()
	s, _ := newTestServer(t, runner)
	src := filepath.Join(t.TempDir(), "in.pdf")
	require.NoError(t, validate.WriteTestPDF(src, validate.TestPDF{Content: "0 0 1 rg 0 0 10 10 re f"}))
	detected := len(runner.Calls())

	for _, dpi := range []any{nil, 0, -300} {
		body := map[string]any{
			"sourcePath":      src,
			"destinationPath": filepath.Join(t.TempDir(), "out.pdf"),
		}
		if dpi != nil {
			body["targetDPI"] = dpi
		}
		w, resp := do(t, s, http.MethodPost, "/api/export/convert", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "targetDPI=%v", dpi)
		assert.Contains(t, resp.Error, "targetDPI")
	}
	assert.Len(t, runner.Calls(), detected, "no tool may run without a target DPI")
}

func TestValidateEndpoint(t *testing.T) {
	s, _ := newTestServer(t, exec.NewFakeRunner())

	w, _ := do(t, s, http.MethodPost, "/api/export/validate", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, validate.WriteTestPDF(path, validate.TestPDF{Font: true, Content: "BT /F1 12 Tf (hi) Tj ET"}))
	w, resp := do(t, s, http.MethodPost, "/api/export/validate", map[string]any{"path": path})
	assert.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.Contains(t, data, "colorSpace")
	assert.Contains(t, data, "vector")
}

func TestExportEndpoint(t *testing.T) {
	s, cfg := newTestServer(t, exec.NewFakeRunner())
	svg := filepath.Join(t.TempDir(), "design.svg")
	require.NoError(t, os.WriteFile(svg, render.TestCard(), 0o644))

	w, resp := do(t, s, http.MethodPost, "/api/export", map[string]any{
		"taskId":  "task-42",
		"regions": []map[string]any{{"id": "main", "svg": svg}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := resp.Data.(map[string]any)
	assert.Equal(t, "task-42", data["taskId"])
	assert.Equal(t, filepath.Join(cfg.ExportsDir, "task-42"), data["exportDir"])
	// nothing can render without tools, the failure is per region
	assert.Equal(t, 0.0, data["successfulRegions"])
	download := data["download"].(map[string]any)
	assert.Equal(t, "/exports/task-42/report.json", download["report"])
	assert.Equal(t, "/exports/task-42/design.svg", download["svg"])

	w, _ = do(t, s, http.MethodGet, "/exports/task-42/report.json", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, s, http.MethodPost, "/api/export", map[string]any{
		"taskId":  "../escape",
		"regions": []map[string]any{{"id": "main", "svg": svg}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	escapeDir := t.TempDir()
	w, _ = do(t, s, http.MethodPost, "/api/export", map[string]any{
		"taskId":  "task-43",
		"regions": []map[string]any{{"id": "../../" + filepath.Base(escapeDir) + "/escaped", "svg": svg}, {"id": "b", "svg": svg}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	entries, err := os.ReadDir(escapeDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	w, _ = do(t, s, http.MethodPost, "/api/export", map[string]any{"regions": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
