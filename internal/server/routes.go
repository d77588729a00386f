package server

import (
	"encoding/json"
	"errors"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"

	"github.com/teemow/sheetsproxy/internal/apierror"
	"github.com/teemow/sheetsproxy/internal/authgate"
	"github.com/teemow/sheetsproxy/internal/google"
	"github.com/teemow/sheetsproxy/internal/identity"
	"github.com/teemow/sheetsproxy/internal/instrumentation"
	"github.com/teemow/sheetsproxy/internal/logging"
	"github.com/teemow/sheetsproxy/internal/sheets"
)

// ServiceName identifies the proxy in health and info responses.
const ServiceName = "sheetsproxy"

// ToolDefinition is the shape listed by GET /tools.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	ReadOnly    bool           `json:"readOnly"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolDefinitions describes every registered Sheets operation.
func ToolDefinitions() []ToolDefinition {
	ops := sheets.Operations()
	defs := make([]ToolDefinition, 0, len(ops))
	for _, op := range ops {
		defs = append(defs, ToolDefinition{
			Name:        op.Name,
			Description: op.Description,
			ReadOnly:    op.ReadOnly,
			Parameters:  op.Schema(),
		})
	}
	return defs
}

func (s *HTTPServer) handleRoot(w http.ResponseWriter, _ *http.Request) {
	apierror.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "sheetsproxy is running!",
		"version": s.sc.Version(),
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	apierror.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  healthStatusOK,
		"service": ServiceName,
	})
}

func (s *HTTPServer) handleTools(w http.ResponseWriter, _ *http.Request) {
	apierror.WriteJSON(w, http.StatusOK, ToolDefinitions())
}

// handleAuthURL starts the Google consent flow. The caller's bearer token
// travels in state so the callback can bind it.
func (s *HTTPServer) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	conf := s.sc.OAuthConfig()
	if conf == nil {
		apierror.Write(w, s.sc.Logger(), "GET /auth/url", errNoOAuthClient)
		return
	}

	// Anonymous callers get a fresh token minted at the callback.
	state, ok := authgate.ParseBearer(r.Header.Get("Authorization"))
	if !ok || state == "" {
		state = defaultState
	}

	apierror.WriteJSON(w, http.StatusOK, map[string]string{
		"authUrl": google.AuthURL(conf, state),
		"message": "Visit this URL to authorize the application. User will be automatically created from your Google email.",
		"note":    "After authorization, your email will be used as user_id automatically.",
	})
}

const defaultState = "default"

var errNoOAuthClient = apierror.New(apierror.Configuration, "Google OAuth client is not configured")

// handleCallback finishes the consent flow. In multi-tenant mode it binds
// an MCP token to the Google identity and shows a generated token once.
func (s *HTTPServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.WithOperation(s.sc.Logger(), "oauth_callback")

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Authorization code not found.", http.StatusBadRequest)
		return
	}
	conf := s.sc.OAuthConfig()
	if conf == nil {
		apierror.Write(w, logger, "OAuth Callback", errNoOAuthClient)
		return
	}

	cred, err := google.Exchange(ctx, conf, code)
	if err != nil {
		apierror.Write(w, logger, "OAuth Callback", apierror.Wrap(apierror.Upstream, "", err))
		return
	}

	if !s.sc.MultiTenant() {
		if err := s.sc.Lifecycle().Store(ctx, identity.SentinelIdentity, cred); err != nil {
			apierror.Write(w, logger, "OAuth Callback", err)
			return
		}
		writeCallbackPage(w, identity.SentinelIdentity, "", "")
		return
	}

	token := r.URL.Query().Get("state")
	generated := ""
	if token == "" || token == defaultState {
		token, err = identity.GenerateToken()
		if err != nil {
			apierror.Write(w, logger, "OAuth Callback", err)
			return
		}
		generated = token
	}

	userInfoClient := google.NewHTTPClient(ctx, oauth2.StaticTokenSource(google.TokenFromCredential(cred)))
	email, err := google.FetchEmail(ctx, userInfoClient, s.sc.cfg.UserInfoEndpoint)
	if err != nil {
		logger.Warn("could not fetch user email, using fallback identity",
			slog.String(logging.KeyError, apierror.Redact(err.Error())))
		email = ""
	}
	id := email
	if id == "" {
		id = identity.FallbackIdentity(token)
	}

	if err := s.sc.Resolver().Bind(ctx, token, id, email); err != nil {
		apierror.Write(w, logger, "OAuth Callback", err)
		return
	}
	if err := s.sc.Lifecycle().Store(ctx, id, cred); err != nil {
		apierror.Write(w, logger, "OAuth Callback", err)
		return
	}
	logger.Info("credential stored", logging.UserHash(id))
	writeCallbackPage(w, id, email, generated)
}

func writeCallbackPage(w http.ResponseWriter, id, email, generated string) {
	msg := "Authentication successful! Token has been stored for user: " + id
	if email != "" && email != id {
		msg += " (" + email + ")"
	}
	msg += "."
	if generated != "" {
		msg += "\n\nYour MCP Token (save this securely):\n" + generated +
			"\n\nUse this token in your MCP client configuration."
	}
	msg += "\n\nYou can close this tab."

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "<html><body><pre>"+html.EscapeString(msg)+"</pre></body></html>")
}

func (s *HTTPServer) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if !s.sc.MultiTenant() {
		apierror.WriteJSON(w, http.StatusBadRequest, apierror.Body{
			Error: "Token revocation requires a multi-tenant credential backend. Multi-user mode not enabled.",
		})
		return
	}
	id, err := s.sc.IdentityFor(r.Context())
	if err != nil {
		apierror.Write(w, s.sc.Logger(), "POST /auth/revoke", err)
		return
	}
	if err := s.sc.Lifecycle().Revoke(r.Context(), id); err != nil {
		apierror.Write(w, s.sc.Logger(), "POST /auth/revoke", err)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Token revoked successfully for user: " + id,
		"userId":  id,
	})
}

// emailLookup returns the resolver's email index in multi-tenant mode.
func (s *HTTPServer) emailLookup(w http.ResponseWriter) (identity.EmailLookup, bool) {
	lookup, ok := s.sc.Resolver().(identity.EmailLookup)
	if !s.sc.MultiTenant() || !ok {
		apierror.WriteJSON(w, http.StatusBadRequest, apierror.Body{Error: "Multi-user mode not enabled."})
		return nil, false
	}
	return lookup, true
}

// handleMCPToken reports whether an email has an active binding. Tokens
// are stored hashed, so the plaintext cannot be returned.
func (s *HTTPServer) handleMCPToken(w http.ResponseWriter, r *http.Request) {
	lookup, ok := s.emailLookup(w)
	if !ok {
		return
	}
	email := r.URL.Query().Get("email")
	if email == "" {
		apierror.WriteJSON(w, http.StatusBadRequest, apierror.Body{Error: "Email is required. Provide ?email=your@email.com"})
		return
	}

	b, err := lookup.FindByEmail(r.Context(), email)
	if errors.Is(err, identity.ErrNotFound) {
		apierror.WriteJSON(w, http.StatusNotFound, apierror.Body{
			Error: "User not found. Please complete OAuth authentication first.",
			Hint:  "Visit /auth/url to authenticate with Google",
		})
		return
	}
	if err != nil {
		apierror.Write(w, s.sc.Logger(), "GET /auth/mcp-token", err)
		return
	}

	apierror.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "User found. Use your MCP token in Authorization header.",
		"userId":  b.UserID,
		"email":   b.Email,
		"hint":    "If you don't have an MCP token, visit /auth/url to authenticate again and a new one will be generated",
	})
}

type linkTokenRequest struct {
	MCPToken string `json:"mcpToken"`
	Email    string `json:"email"`
}

// handleLinkToken binds an additional token to the caller's own identity.
func (s *HTTPServer) handleLinkToken(w http.ResponseWriter, r *http.Request) {
	lookup, ok := s.emailLookup(w)
	if !ok {
		return
	}
	var req linkTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MCPToken == "" || req.Email == "" {
		apierror.WriteJSON(w, http.StatusBadRequest, apierror.Body{Error: "Both mcpToken and email are required."})
		return
	}

	caller, err := s.sc.IdentityFor(r.Context())
	if err != nil {
		apierror.Write(w, s.sc.Logger(), "POST /auth/link-token", err)
		return
	}
	b, err := lookup.FindByEmail(r.Context(), req.Email)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		if caller != req.Email {
			apierror.WriteJSON(w, http.StatusForbidden, apierror.Body{Error: "Email does not belong to the authenticated user."})
			return
		}
	case err != nil:
		apierror.Write(w, s.sc.Logger(), "POST /auth/link-token", err)
		return
	case b.UserID != caller:
		apierror.WriteJSON(w, http.StatusForbidden, apierror.Body{Error: "Email does not belong to the authenticated user."})
		return
	}

	if err := s.sc.Resolver().Bind(r.Context(), req.MCPToken, caller, req.Email); err != nil {
		apierror.Write(w, s.sc.Logger(), "POST /auth/link-token", err)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "MCP token linked to user successfully",
		"userId":  caller,
		"email":   req.Email,
	})
}

// handleTool runs POST /api/tools/{name} with the JSON body as arguments.
func (s *HTTPServer) handleTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	op, ok := sheets.Lookup(name)
	if !ok {
		apierror.WriteJSON(w, http.StatusNotFound, apierror.Body{Error: "Unknown tool: " + name})
		return
	}
	args, err := decodeArgs(r)
	if err != nil {
		apierror.WriteJSON(w, http.StatusBadRequest, apierror.Body{Error: "Invalid JSON body"})
		return
	}
	s.runOperation(w, r, op, args)
}

// argsBuilder maps a direct REST request onto operation arguments.
type argsBuilder func(r *http.Request, args sheets.Args) error

// direct serves one of the Google-shaped spreadsheet routes. The body
// supplies the request payload and path parameters take precedence.
func (s *HTTPServer) direct(name string, build argsBuilder) http.HandlerFunc {
	op, ok := sheets.Lookup(name)
	if !ok {
		panic("unknown sheets operation " + name)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		args, err := decodeArgs(r)
		if err != nil {
			apierror.WriteJSON(w, http.StatusBadRequest, apierror.Body{Error: "Invalid JSON body"})
			return
		}
		if id := chi.URLParam(r, "id"); id != "" {
			args[sheets.ParamSpreadsheetID] = pathParam(id)
		}
		if rng := chi.URLParam(r, "range"); rng != "" {
			args[sheets.ParamRange] = pathParam(rng)
		}
		if build != nil {
			if err := build(r, args); err != nil {
				apierror.WriteJSON(w, http.StatusBadRequest, apierror.Body{Error: err.Error()})
				return
			}
		}
		s.runOperation(w, r, op, args)
	}
}

// withQuery copies the named query parameters into args. Repeated
// parameters become arrays.
func withQuery(keys ...string) argsBuilder {
	return func(r *http.Request, args sheets.Args) error {
		q := r.URL.Query()
		for _, k := range keys {
			vals, ok := q[k]
			if !ok || len(vals) == 0 {
				continue
			}
			if len(vals) == 1 {
				args[k] = vals[0]
				continue
			}
			list := make([]any, len(vals))
			for i, v := range vals {
				list[i] = v
			}
			args[k] = list
		}
		return nil
	}
}

var errInvalidSheetID = errors.New("Invalid sheetId. Must be a number.")

func copyToArgs(r *http.Request, args sheets.Args) error {
	id, err := strconv.ParseInt(chi.URLParam(r, "sheetId"), 10, 64)
	if err != nil {
		return errInvalidSheetID
	}
	args[sheets.ParamSheetID] = strconv.FormatInt(id, 10)
	return nil
}

func pathParam(v string) string {
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func decodeArgs(r *http.Request) (sheets.Args, error) {
	args := sheets.Args{}
	if r.Body == nil || r.Body == http.NoBody {
		return args, nil
	}
	err := json.NewDecoder(r.Body).Decode(&args)
	if errors.Is(err, io.EOF) {
		return sheets.Args{}, nil
	}
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = sheets.Args{}
	}
	return args, nil
}

// runOperation executes op, records the invocation and writes the result.
func (s *HTTPServer) runOperation(w http.ResponseWriter, r *http.Request, op *sheets.Operation, args sheets.Args) {
	ctx := r.Context()
	start := time.Now()
	id, _ := s.sc.IdentityFor(ctx)

	invocation := instrumentation.NewToolInvocation(op.Name).
		WithTransport(instrumentation.TransportREST).
		WithIdentity(id).
		WithTarget(args.String(sheets.ParamSpreadsheetID), args.String(sheets.ParamRange)).
		WithSpanContext(ctx)

	result, err := s.sc.RunOperation(ctx, op, args)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		invocation.CompleteWithError(errors.New(apierror.Sanitize(err).Message))
	} else {
		invocation.CompleteSuccess()
	}
	s.sc.Metrics().RecordToolInvocation(ctx, op.Name, instrumentation.TransportREST, status, id, time.Since(start))
	s.sc.AuditLogger().LogToolInvocation(invocation)

	if err != nil {
		apierror.Write(w, s.sc.Logger(), r.Method+" "+r.URL.Path, err)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, result)
}
