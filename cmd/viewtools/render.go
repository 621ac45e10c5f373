package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"viewtools/internal/metrics"
	"viewtools/internal/view"
)

// pageWriter collects a rendered page for the render command.
type pageWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (w *pageWriter) Header() http.Header { return w.header }

func (w *pageWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *pageWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(p)
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = root.Sync() }()

	a, err := buildApp(cmd.Context(), cfg, root)
	if err != nil {
		return err
	}
	defer a.Close()

	query := url.Values{}
	for k, v := range renderParams {
		query.Set(k, v)
	}
	target := "/" + strings.TrimPrefix(args[0], "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	r, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
	if err != nil {
		return err
	}

	w := &pageWriter{header: make(http.Header)}
	vctx := view.NewHTTPContext(w, r, a.sessions, a.pipeline.Application(), cfg.Session.CookieName)
	outcome := a.pipeline.Render(vctx, a.pipeline.TemplateName(r))

	if _, err := cmd.OutOrStdout().Write(w.body.Bytes()); err != nil {
		return err
	}
	if outcome != metrics.OutcomeOK {
		return fmt.Errorf("render %s: %s (status %d)", args[0], outcome, w.status)
	}
	return nil
}
