package render

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewtools/internal/engine"
	"viewtools/internal/tools"
	"viewtools/internal/view"
)

func importToolbox(t *testing.T) *tools.Manager {
	t.Helper()
	registry := tools.NewRegistry()
	require.NoError(t, RegisterTools(registry))

	d, err := registry.Classify(tools.ToolSpec{Key: "import", Class: TypeImport})
	require.NoError(t, err)
	assert.Equal(t, tools.KindViewTool, d.Kind())
	assert.Equal(t, tools.ScopeRequest, d.Scope)

	return tools.NewManager(&tools.Definition{Descriptors: []*tools.Descriptor{d}})
}

func TestImportTool(t *testing.T) {
	p := newPipeline(t, map[string]string{
		"page.html":           `<main>{{.import.Read "fragments/menu.html"}}</main>`,
		"fragments/menu.html": `<nav>{{.layout}}</nav>`,
		"layout/Default.html": `{{.screen_content}}`,
		"layout/Wide.html":    `wide:{{.screen_content}}`,
	}, importToolbox(t))

	rec := get(p, "/page.html?layout=Wide.html")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "wide:<main><nav>Wide.html</nav></main>", rec.Body.String())
}

func TestImportToolErrors(t *testing.T) {
	p := newPipeline(t, map[string]string{
		"self.html": `{{.import.Read "self.html"}}`,
		"fail.html": `{{.tool.Fail}}`,
	}, importToolbox(t))

	vctx := view.NewHTTPContext(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), nil, p.Application(), "")
	tool := &ImportTool{}
	require.NoError(t, tool.Init(vctx))

	_, err := tool.Read("missing.html")
	var inc *IncludeError
	require.ErrorAs(t, err, &inc)
	assert.Equal(t, "missing.html", inc.Path)
	assert.ErrorIs(t, err, engine.ErrResourceNotFound)

	_, err = tool.Read("self.html")
	require.ErrorAs(t, err, &inc)
	assert.ErrorIs(t, err, ErrIncludeDepth)

	p.toolbox = toolboxFunc(func(view.Context) map[string]any {
		return map[string]any{"tool": failing{}}
	})
	_, err = tool.Read("fail.html")
	require.ErrorAs(t, err, &inc)
	assert.Equal(t, errBoom, inc.Err, "invocation wrappers are unwrapped to their root cause")

	p.toolbox = toolboxFunc(func(view.Context) map[string]any { panic("bad toolbox") })
	_, err = tool.Read("fail.html")
	require.ErrorAs(t, err, &inc)
	var pe *PanicError
	assert.ErrorAs(t, err, &pe)
}

func TestImportToolWithoutPipeline(t *testing.T) {
	vctx := view.NewHTTPContext(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), nil, nil, "")
	assert.ErrorIs(t, (&ImportTool{}).Init(vctx), ErrNoPipeline)

	_, err := (&ImportTool{}).Read("x.html")
	assert.ErrorIs(t, err, ErrNoPipeline)
}
