package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teemow/sheetsproxy/internal/apierror"
)

const (
	// FetchTimeout bounds a single /fetch upstream call.
	FetchTimeout = 30 * time.Second

	fetchUserAgent    = "MCP-Server/1.0"
	fetchMaxBodyBytes = 10 << 20
)

// FetchResult is the JSON body returned by GET /fetch.
type FetchResult struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Data       any               `json:"data"`
	URL        string            `json:"url"`
}

// handleFetch reads a public http(s) URL on behalf of the caller.
func (s *HTTPServer) handleFetch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := q.Get("url")
	if target == "" {
		apierror.WriteJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "URL parameter is required",
			"example": "/fetch?url=https://api.example.com/data",
		})
		return
	}

	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		apierror.WriteJSON(w, http.StatusBadRequest, apierror.Body{Error: "Invalid URL format"})
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		apierror.WriteJSON(w, http.StatusBadRequest, apierror.Body{Error: "Only HTTP and HTTPS URLs are allowed"})
		return
	}

	method := strings.ToUpper(q.Get("method"))
	if method == "" {
		method = http.MethodGet
	}
	headers := map[string]string{}
	if raw := q.Get("headers"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &headers); err != nil {
			apierror.WriteJSON(w, http.StatusBadRequest, apierror.Body{Error: "Invalid headers parameter"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), FetchTimeout)
	defer cancel()

	res, err := fetchURL(ctx, method, target, headers)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			apierror.WriteJSON(w, http.StatusRequestTimeout, apierror.Body{Error: "Request timeout"})
			return
		}
		apierror.Write(w, s.sc.Logger(), "GET /fetch", err)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, res)
}

func fetchURL(ctx context.Context, method, target string, headers map[string]string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, apierror.Wrap(apierror.InvalidArgument, "Invalid request", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBodyBytes))
	if err != nil {
		return nil, err
	}

	out := &FetchResult{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    make(map[string]string, len(resp.Header)),
		URL:        target,
	}
	for k := range resp.Header {
		out.Headers[strings.ToLower(k)] = resp.Header.Get(k)
	}

	out.Data = string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var data any
		if err := json.Unmarshal(body, &data); err == nil {
			out.Data = data
		}
	}
	return out, nil
}
