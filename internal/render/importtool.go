package render

import (
	"errors"
	htmltemplate "html/template"
	"path"
	"runtime/debug"

	"viewtools/internal/tools"
	"viewtools/internal/view"
)

// TypeImport is the registered type name of ImportTool.
const TypeImport = "render.ImportTool"

// MaxIncludeDepth bounds nested includes.
const MaxIncludeDepth = 8

var (
	ErrNoPipeline   = errors.New("no render pipeline in application scope")
	ErrIncludeDepth = errors.New("include nesting too deep")
)

// RegisterTools adds the render package's tool types to registry.
func RegisterTools(registry *tools.Registry) error {
	return registry.Register(&tools.Type{
		Name:        TypeImport,
		Description: "Renders another template of the same pipeline, without a layout",
		New:         func() any { return &ImportTool{} },
	})
}

// ImportTool includes secondary resources:
//
//	{{.import.Read "fragments/menu.html"}}
//
// The fragment is merged with a fresh context for the same request.
type ImportTool struct {
	vctx     view.Context
	pipeline *Pipeline
	depth    int
}

// Init binds the tool to the request and to the pipeline serving it.
func (t *ImportTool) Init(vctx view.Context) error {
	v, _ := vctx.Application().Get(PipelineKey)
	p, ok := v.(*Pipeline)
	if !ok {
		return ErrNoPipeline
	}
	t.vctx = vctx
	t.pipeline = p
	return nil
}

func (t *ImportTool) DefaultScope() tools.Scope { return tools.ScopeRequest }

// Read renders name and returns its output. Every failure is returned as
// *IncludeError.
func (t *ImportTool) Read(name string) (out htmltemplate.HTML, err error) {
	name = path.Clean("/" + name)[1:]
	defer func() {
		if r := recover(); r != nil {
			out, err = "", newIncludeError(name, &PanicError{Value: r, Stack: debug.Stack()})
		}
	}()

	if t.pipeline == nil {
		return "", newIncludeError(name, ErrNoPipeline)
	}
	if t.depth >= MaxIncludeDepth {
		return "", newIncludeError(name, ErrIncludeDepth)
	}

	ctx := t.pipeline.createContext(t.vctx)
	for k, v := range ctx {
		if _, ok := v.(*ImportTool); ok {
			ctx[k] = &ImportTool{vctx: t.vctx, pipeline: t.pipeline, depth: t.depth + 1}
		}
	}
	screen, err := t.pipeline.mergeScreen(name, ctx)
	if err != nil {
		return "", newIncludeError(name, err)
	}
	return htmltemplate.HTML(screen), nil
}
