package view

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestAttributes(t *testing.T) {
	a := NewAttributes()
	a.Set("b", 2)
	a.Set("a", 1)

	v, ok := a.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, []string{"a", "b"}, a.Names())

	a.Set("a", nil)
	_, ok = a.Get("a")
	assert.False(t, ok, "nil value removes the attribute")

	a.Remove("b")
	assert.Empty(t, a.Names())
}

func TestAttributes_Concurrent(t *testing.T) {
	a := NewAttributes()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a.Set("k", i)
			a.Get("k")
		}(i)
	}
	wg.Wait()
	_, ok := a.Get("k")
	assert.True(t, ok)
}

func TestSessionStore_Expiry(t *testing.T) {
	store := NewSessionStore(time.Minute, nil)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	var destroyed []string
	store.OnDestroy(func(s *Session) { destroyed = append(destroyed, s.ID()) })

	sess := store.Create()
	require.NotEmpty(t, sess.ID())
	assert.Same(t, sess, store.Get(sess.ID()))

	now = now.Add(2 * time.Minute)
	assert.Nil(t, store.Get(sess.ID()), "idle session should expire")
	assert.Equal(t, []string{sess.ID()}, destroyed)
	assert.Equal(t, 0, store.Len())
}

func TestSessionStore_Sweep(t *testing.T) {
	store := NewSessionStore(time.Minute, nil)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	store.Create()
	store.Create()
	now = now.Add(30 * time.Second)
	fresh := store.Create()
	now = now.Add(45 * time.Second)

	assert.Equal(t, 2, store.Sweep())
	assert.Equal(t, 1, store.Len())
	assert.NotNil(t, store.Get(fresh.ID()))
}

func TestSessionStore_RunStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewSessionStore(time.Millisecond, nil)
	store.Create()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Run(ctx, time.Millisecond) }()

	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestHTTPContext_SessionCookie(t *testing.T) {
	store := NewSessionStore(0, nil)
	app := NewAttributes()

	// No session yet and create=false
	r := httptest.NewRequest(http.MethodGet, "/page?layout=Wide.html", nil)
	w := httptest.NewRecorder()
	ctx := NewHTTPContext(w, r, store, app, "")
	assert.Nil(t, ctx.Session(false))
	assert.Equal(t, "Wide.html", ctx.Param("layout"))

	sess := ctx.Session(true)
	require.NotNil(t, sess)
	assert.Same(t, sess, ctx.Session(false))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DefaultCookieName, cookies[0].Name)

	// Second request carrying the cookie sees the same session
	r2 := httptest.NewRequest(http.MethodGet, "/page", nil)
	r2.AddCookie(cookies[0])
	ctx2 := NewHTTPContext(httptest.NewRecorder(), r2, store, app, "")
	assert.Same(t, sess, ctx2.Session(false))
	assert.Same(t, app, ctx2.Application())
}

func TestHTTPContext_NoStore(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := NewHTTPContext(httptest.NewRecorder(), r, nil, nil, "")
	assert.Nil(t, ctx.Session(true))
	assert.NotNil(t, ctx.Application())
}
