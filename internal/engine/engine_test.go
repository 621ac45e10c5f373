package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"viewtools/internal/metrics"
)

var errBoom = errors.New("boom")

type probe struct{}

func (probe) Hello(name string) string { return "hello " + name }
func (probe) Fail() (string, error)    { return "", fmt.Errorf("probe: %w", errBoom) }
func (probe) Panic() string            { panic(errBoom) }

func newMemoryEngine(t *testing.T, templates map[string]string) (*HTMLEngine, *MemoryLoader) {
	t.Helper()
	loader := NewMemoryLoader(templates)
	e, err := NewHTMLEngine(Options{Loaders: []Loader{loader}, Cache: true})
	require.NoError(t, err)
	return e, loader
}

func merge(t *testing.T, e Engine, name string, ctx Context) (string, error) {
	t.Helper()
	tmpl, err := e.Template(name)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err = tmpl.Merge(ctx, &buf)
	return buf.String(), err
}

func TestContext(t *testing.T) {
	ctx := NewContext()
	assert.Equal(t, "", ctx.Put("b", 2))
	ctx.Put("a", 1)

	assert.True(t, ctx.Has("a"))
	assert.Equal(t, 2, ctx.Get("b"))
	assert.Equal(t, []string{"a", "b"}, ctx.Keys())

	ctx.Remove("a")
	assert.False(t, ctx.Has("a"))
	assert.Nil(t, ctx.Get("a"))
}

func TestMerge(t *testing.T) {
	e, _ := newMemoryEngine(t, map[string]string{
		"page.html": `<p>{{.title}} {{.tool.Hello "bob"}}</p>{{.Put "layout" "Wide.html"}}`,
	})
	ctx := Context{"title": "<b>", "tool": probe{}}

	out, err := merge(t, e, "page.html", ctx)
	require.NoError(t, err)
	assert.Equal(t, "<p>&lt;b&gt; hello bob</p>", out)
	assert.Equal(t, "Wide.html", ctx.Get("layout"), "templates can write into the context")
}

func TestTemplateNotFound(t *testing.T) {
	e, _ := newMemoryEngine(t, nil)
	_, err := e.Template("missing.html")
	assert.ErrorIs(t, err, ErrResourceNotFound)
}

func TestParseError(t *testing.T) {
	e, _ := newMemoryEngine(t, map[string]string{"bad.html": "{{if}}"})
	_, err := e.Template("bad.html")
	assert.ErrorIs(t, err, ErrParse)
}

func TestInvocationError(t *testing.T) {
	e, _ := newMemoryEngine(t, map[string]string{
		"fail.html":  `before {{.tool.Fail}}`,
		"panic.html": `{{.tool.Panic}}`,
		"field.html": `{{.tool.Nope}}`,
	})

	for _, name := range []string{"fail.html", "panic.html"} {
		_, err := merge(t, e, name, Context{"tool": probe{}})
		var inv *InvocationError
		require.ErrorAs(t, err, &inv, name)
		assert.Equal(t, name, inv.Template)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, errBoom, inv.Cause(), name)
	}

	_, err := merge(t, e, "field.html", Context{"tool": probe{}})
	require.Error(t, err)
	var inv *InvocationError
	assert.False(t, errors.As(err, &inv), "evaluation errors are not invocation failures")
}

func TestCacheRevalidation(t *testing.T) {
	loader := NewMemoryLoader(nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	loader.now = func() time.Time { return base }
	loader.Set("a.html", "v1")

	m := metrics.New(nil)
	e, err := NewHTMLEngine(Options{
		Loaders:       []Loader{loader},
		Cache:         true,
		CheckInterval: time.Second,
		Metrics:       m,
	})
	require.NoError(t, err)
	now := base
	e.now = func() time.Time { return now }

	out, err := merge(t, e, "a.html", nil)
	require.NoError(t, err)
	assert.Equal(t, "v1", out)
	assert.True(t, e.Cached("a.html"))

	loader.now = func() time.Time { return base.Add(time.Minute) }
	loader.Set("a.html", "v2")

	out, _ = merge(t, e, "a.html", nil)
	assert.Equal(t, "v1", out, "not due for a check yet")

	now = base.Add(2 * time.Second)
	out, _ = merge(t, e, "a.html", nil)
	assert.Equal(t, "v2", out)

	loader.Delete("a.html")
	now = now.Add(2 * time.Second)
	_, err = e.Template("a.html")
	assert.ErrorIs(t, err, ErrResourceNotFound)
	assert.False(t, e.Cached("a.html"))
}

func TestNoCache(t *testing.T) {
	loader := NewMemoryLoader(map[string]string{"a.html": "v1"})
	e, err := NewHTMLEngine(Options{Loaders: []Loader{loader}})
	require.NoError(t, err)

	_, err = merge(t, e, "a.html", nil)
	require.NoError(t, err)
	loader.Set("a.html", "v2")
	out, _ := merge(t, e, "a.html", nil)
	assert.Equal(t, "v2", out)
	assert.False(t, e.Cached("a.html"))
}

func TestLoaderOrder(t *testing.T) {
	first := NewMemoryLoader(map[string]string{"a.html": "first"})
	second := NewMemoryLoader(map[string]string{"a.html": "second", "b.html": "only second"})
	e, err := NewHTMLEngine(Options{Loaders: []Loader{first, second}})
	require.NoError(t, err)

	out, _ := merge(t, e, "a.html", nil)
	assert.Equal(t, "first", out)
	out, _ = merge(t, e, "b.html", nil)
	assert.Equal(t, "only second", out)
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "templates")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "layout"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "layout", "Default.html"), []byte("layout"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.html"), []byte("secret"), 0644))

	l := NewFileLoader(root)
	res, err := l.Load(context.Background(), "layout/Default.html")
	require.NoError(t, err)
	assert.Equal(t, "layout", string(res.Data))

	_, err = l.Load(context.Background(), "../secret.html")
	assert.ErrorIs(t, err, ErrResourceNotFound)

	_, err = l.Load(context.Background(), "layout")
	assert.ErrorIs(t, err, ErrResourceNotFound)

	_, err = l.Stat(context.Background(), "nope.html")
	assert.ErrorIs(t, err, ErrResourceNotFound)
}

func TestWatcherEvicts(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	path := filepath.Join(root, "page.html")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	e, err := NewHTMLEngine(Options{
		Loaders: []Loader{NewFileLoader(root)},
		Cache:   true,
		Watch:   true,
	})
	require.NoError(t, err)

	_, err = e.Template("page.html")
	require.NoError(t, err)
	require.True(t, e.Cached("page.html"))

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0644))
	assert.Eventually(t, func() bool { return !e.Cached("page.html") }, 5*time.Second, 10*time.Millisecond)

	out, err := merge(t, e, "page.html", nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", out)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

type fakeS3 struct {
	objects  map[string]string
	modified time.Time
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:         io.NopCloser(strings.NewReader(body)),
		LastModified: aws.Time(f.modified),
	}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{LastModified: aws.Time(f.modified)}, nil
}

func TestS3Loader(t *testing.T) {
	modified := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeS3{
		objects:  map[string]string{"site/layout/Default.html": "<html>{{.screen_content}}</html>"},
		modified: modified,
	}
	l := NewS3LoaderWithClient(client, "bucket", "site")
	assert.Equal(t, "s3://bucket/site/", l.Name())

	res, err := l.Load(context.Background(), "layout/Default.html")
	require.NoError(t, err)
	assert.Equal(t, modified, res.ModTime)

	ts, err := l.Stat(context.Background(), "layout/Default.html")
	require.NoError(t, err)
	assert.Equal(t, modified, ts)

	_, err = l.Load(context.Background(), "missing.html")
	assert.ErrorIs(t, err, ErrResourceNotFound)
	_, err = l.Stat(context.Background(), "missing.html")
	assert.ErrorIs(t, err, ErrResourceNotFound)

	e, err := NewHTMLEngine(Options{Loaders: []Loader{l}, Cache: true})
	require.NoError(t, err)
	out, err := merge(t, e, "layout/Default.html", Context{"screen_content": "body"})
	require.NoError(t, err)
	assert.Equal(t, "<html>body</html>", out)
}
