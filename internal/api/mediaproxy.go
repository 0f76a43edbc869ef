package api

import (
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nqdang/qbattle/internal/errors"
)

// mediaProxy streams question media from allowlisted hosts so browser
// clients are never blocked by the asset host's CORS policy. Range requests
// pass through for video seeking.
type mediaProxy struct {
	hosts  map[string]bool
	client *http.Client
}

func newMediaProxy(hosts []string) *mediaProxy {
	m := &mediaProxy{
		hosts: make(map[string]bool, len(hosts)),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, h := range hosts {
		m.hosts[h] = true
	}
	return m
}

func (m *mediaProxy) serve(c *gin.Context) {
	raw := c.Query("url")
	if raw == "" {
		abortWithError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("url is required")))
		return
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" {
		abortWithError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("only https URLs are proxied")))
		return
	}
	if !m.hosts[u.Hostname()] {
		abortWithError(c, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("host %s is not allowlisted", u.Hostname())))
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, u.String(), nil)
	if err != nil {
		abortWithError(c, errors.Internal(err))
		return
	}
	if rng := c.GetHeader("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		abortWithError(c, errors.New(errors.CodeInternal,
			errors.WithMessagef("fetch media failed"), errors.WithCause(err)))
		return
	}
	defer resp.Body.Close()

	for _, h := range []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges", "Cache-Control"} {
		if v := resp.Header.Get(h); v != "" {
			c.Header(h, v)
		}
	}
	c.Status(resp.StatusCode)
	io.Copy(c.Writer, resp.Body)
}
