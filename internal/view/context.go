// Package view adapts net/http to the request, session and application
// scopes tools live in.
package view

import (
	"net/http"
)

// Context gives tools and the render pipeline access to the current request,
// its session and the application-wide attributes.
type Context interface {
	Request() *http.Request
	Response() http.ResponseWriter
	// Session returns the current session. When none exists it is created if
	// create is true; otherwise nil is returned.
	Session(create bool) *Session
	Application() *Attributes
	// Param returns the first value of a request parameter.
	Param(name string) string
}

// DefaultCookieName is used when a store is given no cookie name.
const DefaultCookieName = "VTSESSIONID"

// HTTPContext is the Context of one HTTP request.
type HTTPContext struct {
	w          http.ResponseWriter
	r          *http.Request
	sessions   *SessionStore
	app        *Attributes
	cookieName string
	session    *Session
	looked     bool
}

// NewHTTPContext binds a request to its session store and application
// attributes. sessions may be nil, in which case no session ever exists.
func NewHTTPContext(w http.ResponseWriter, r *http.Request, sessions *SessionStore, app *Attributes, cookieName string) *HTTPContext {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	if app == nil {
		app = NewAttributes()
	}
	return &HTTPContext{w: w, r: r, sessions: sessions, app: app, cookieName: cookieName}
}

func (c *HTTPContext) Request() *http.Request        { return c.r }
func (c *HTTPContext) Response() http.ResponseWriter { return c.w }
func (c *HTTPContext) Application() *Attributes      { return c.app }

func (c *HTTPContext) Param(name string) string {
	return c.r.FormValue(name)
}

func (c *HTTPContext) Session(create bool) *Session {
	if c.sessions == nil {
		return nil
	}
	if c.session != nil {
		return c.session
	}
	if !c.looked {
		c.looked = true
		if cookie, err := c.r.Cookie(c.cookieName); err == nil {
			c.session = c.sessions.Get(cookie.Value)
		}
	}
	if c.session == nil && create {
		c.session = c.sessions.Create()
		http.SetCookie(c.w, &http.Cookie{
			Name:     c.cookieName,
			Value:    c.session.ID(),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return c.session
}
