package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"viewtools/internal/logging"
	"viewtools/internal/model"
	"viewtools/internal/render"
)

const testToolbox = `
data:
  - {key: title, type: string, value: Shelf}
tools:
  - {key: db, class: model.Tool}
  - {key: import, class: render.ImportTool}
  - {key: params, class: tools.ParameterTool}
`

const testModel = `
driver: sqlite
init:
  - CREATE TABLE IF NOT EXISTS book (id INTEGER PRIMARY KEY, title TEXT)
  - INSERT OR IGNORE INTO book (id, title) VALUES (1, 'Dune'), (2, 'Emma')
entities:
  - {name: book, table: book, keys: [id]}
attributes:
  - {name: books, kind: rowset, result: book, query: "SELECT * FROM book ORDER BY id"}
`

// writeProject lays out a configuration, toolbox, model and templates in
// a temporary directory and points the global flags at it.
func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"templates/page.html":           `<h1>{{.title}}</h1>{{range .db.Rows "books"}}<li>{{.Get "title"}}</li>{{end}}{{.import.Read "frag.html"}}`,
		"templates/frag.html":           `<p>{{.params.Get "q"}}</p>`,
		"templates/fail.html":           `{{.db.Value "nope"}}`,
		"templates/layout/Default.html": `<body>{{.screen_content}}</body>`,
		"templates/Error.html":          `error: {{.error_cause}}`,
		"toolbox.yaml":                  testToolbox,
		"model.yaml":                    testModel,
		"viewtools.yaml": `
templates:
  paths: [` + filepath.Join(dir, "templates") + `]
  cache: false
toolbox:
  path: ` + filepath.Join(dir, "toolbox.yaml") + `
model:
  path: ` + filepath.Join(dir, "model.yaml") + `
  dsn: ` + filepath.Join(dir, "app.db") + `
logging:
  level: error
`,
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	}

	configPath = filepath.Join(dir, "viewtools.yaml")
	verbose = false
	renderParams = nil
	return dir
}

func testCommand() (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	return cmd, out
}

func TestTypeRegistry(t *testing.T) {
	registry, err := typeRegistry()
	require.NoError(t, err)
	for _, name := range []string{"tools.ParameterTool", render.TypeImport, model.TypeTool} {
		assert.True(t, registry.Has(name), name)
	}
}

func TestLoadToolboxMissingFile(t *testing.T) {
	writeProject(t)
	cfg, err := loadConfig()
	require.NoError(t, err)
	cfg.Toolbox.Path = filepath.Join(t.TempDir(), "absent.yaml")

	registry, err := typeRegistry()
	require.NoError(t, err)
	def, err := loadToolbox(cfg, registry, nil)
	require.NoError(t, err, "a nil logger is allowed")
	assert.Empty(t, def.Descriptors)

	core, logs := observer.New(zapcore.WarnLevel)
	def, err = loadToolbox(cfg, registry, zap.New(core))
	require.NoError(t, err)
	assert.Empty(t, def.Descriptors)
	require.Equal(t, 1, logs.FilterMessage("toolbox file not found, no tools configured").Len())
}

func TestModelDefinitionOverrides(t *testing.T) {
	dir := writeProject(t)
	cfg, err := loadConfig()
	require.NoError(t, err)
	cfg.Model.Driver = "modernc"

	def, err := modelDefinition(cfg)
	require.NoError(t, err)
	assert.Equal(t, "modernc", def.Driver)
	assert.Equal(t, filepath.Join(dir, "app.db"), def.DSN)

	cfg.Model.Path, cfg.Model.DSN = "", ""
	def, err = modelDefinition(cfg)
	require.NoError(t, err)
	assert.Nil(t, def)
}

func TestRunCheck(t *testing.T) {
	writeProject(t)
	cmd, out := testCommand()

	require.NoError(t, runCheck(cmd, nil))
	assert.Contains(t, out.String(), "toolbox: 4 entries")
	assert.Contains(t, out.String(), "book (book) keys=[id] fields=[id,title]")
	assert.Contains(t, out.String(), "books: rowset")
}

func TestRunRender(t *testing.T) {
	writeProject(t)
	renderParams = map[string]string{"q": "x<y"}
	cmd, out := testCommand()

	require.NoError(t, runRender(cmd, []string{"page.html"}))
	assert.Equal(t, "<body><h1>Shelf</h1><li>Dune</li><li>Emma</li><p>x&lt;y</p></body>", out.String())

	cmd, out = testCommand()
	err := runRender(cmd, []string{"fail.html"})
	require.Error(t, err)
	assert.Contains(t, out.String(), "error: ")
	assert.Contains(t, err.Error(), "status 500")
}

func TestHandler(t *testing.T) {
	writeProject(t)
	cfg, err := loadConfig()
	require.NoError(t, err)
	a, err := buildApp(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	defer a.Close()

	srv := httptest.NewServer(a.handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/page.html")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "<li>Emma</li>")

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `viewtools_renders_total{outcome="ok"} 1`)
}

func TestServeStopsOnCancel(t *testing.T) {
	writeProject(t)
	cfg, err := loadConfig()
	require.NoError(t, err)
	a, err := buildApp(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: a.handler()}
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv, a, logging.Nop()) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
