package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/storefront-sync/internal/core/domain"
	"github.com/duynhne/storefront-sync/middleware"
)

const (
	maxResponseBytes = 10 << 20

	accessDeniedMessage = "You do not have permission to perform this action."
	serverErrorMessage  = "Server error. Please try again later."
)

type backgroundKey struct{}

// Background marks ctx as belonging to a best-effort background task.
// The pipeline still runs its credential transitions for such calls, but
// does not surface access-denied, server or other errors to the user.
func Background(ctx context.Context) context.Context {
	return context.WithValue(ctx, backgroundKey{}, true)
}

func isBackground(ctx context.Context) bool {
	v, _ := ctx.Value(backgroundKey{}).(bool)
	return v
}

// Pipeline wraps every outgoing commerce API call. Before sending it attaches
// the bearer token chosen by the Resolver; on failure it classifies the
// response and applies the session policy: admin and seller 401s end that
// role's session, other 401s refresh the customer once and retry once.
type Pipeline struct {
	baseURL   *url.URL
	client    *http.Client
	session   *SessionContext
	resolver  *Resolver
	refresher *Refresher
	notifier  domain.Notifier
}

// NewPipeline creates a Pipeline sending requests relative to baseURL.
func NewPipeline(baseURL string, client *http.Client, session *SessionContext, refresher *Refresher, notifier domain.Notifier) (*Pipeline, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return &Pipeline{
		baseURL:   u,
		client:    client,
		session:   session,
		resolver:  NewResolver(session),
		refresher: refresher,
		notifier:  notifier,
	}, nil
}

// Do sends req and returns the response for any 2xx/3xx status.
// Every other status is returned as *StatusError.
func (p *Pipeline) Do(ctx context.Context, req domain.Request) (*domain.Response, error) {
	return p.do(ctx, req, nil)
}

// do runs one attempt. token, when set, overrides role resolution; the retry
// after a refresh uses it to carry the fresh customer token.
func (p *Pipeline) do(ctx context.Context, req domain.Request, token *domain.SessionToken) (*domain.Response, error) {
	ctx, span := middleware.StartSpan(ctx, "pipeline.do", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("method", req.Method),
		attribute.String("path", req.Path),
		attribute.Bool("retried", req.Retried()),
	))
	defer span.End()

	if token == nil {
		token = p.attach(req.Path)
	}
	roleLabel := "none"
	if token != nil {
		roleLabel = token.Role.String()
		span.SetAttributes(attribute.String("role", roleLabel))
	}

	resp, err := p.send(ctx, req, token)
	if err != nil {
		span.RecordError(err)
		middleware.ObserveUpstream(roleLabel, "transport_error")
		if !req.Retried() && !isBackground(ctx) {
			p.notifier.Notify(ctx, domain.Notice{Kind: domain.NoticeError, Message: err.Error()})
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}

	span.SetAttributes(attribute.Int("status", resp.Status))
	if resp.Status < http.StatusBadRequest {
		middleware.ObserveUpstream(roleLabel, "ok")
		return resp, nil
	}

	return p.fail(ctx, req, resp, roleLabel)
}

// attach is the before-hook: it returns the live token the request must carry,
// or nil to send it unauthenticated.
func (p *Pipeline) attach(path string) *domain.SessionToken {
	role, ok := p.resolver.Resolve(path)
	if !ok {
		return nil
	}
	tok, ok := p.session.Get(role)
	if !ok {
		return nil
	}
	return &tok
}

// fail is the after-hook for non-success statuses.
func (p *Pipeline) fail(ctx context.Context, req domain.Request, resp *domain.Response, roleLabel string) (*domain.Response, error) {
	message := errorMessage(resp.Body)
	failure := Classify(resp.Status, Scope(req.Path), message)
	statusErr := &StatusError{
		Method:  req.Method,
		Path:    req.Path,
		Status:  resp.Status,
		Message: message,
		Failure: failure,
	}

	background := isBackground(ctx)

	switch f := failure.(type) {
	case Unauthorized:
		middleware.ObserveUpstream(roleLabel, "unauthorized")
		if req.Retried() {
			// the single retry is spent; never refresh twice for one request
			return nil, statusErr
		}

		switch f.Role {
		case domain.RoleAdmin, domain.RoleSeller:
			p.expire(ctx, f.Role)
			return nil, statusErr
		}

		fresh, err := p.refresher.Refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w (%w)", err, statusErr)
		}
		return p.do(ctx, req.AsRetry(), &fresh)

	case Forbidden:
		middleware.ObserveUpstream(roleLabel, "forbidden")
		if !background {
			p.notifier.Notify(ctx, domain.Notice{Kind: domain.NoticeAccessDenied, Message: accessDeniedMessage})
		}

	case ServerFault:
		middleware.ObserveUpstream(roleLabel, "server_error")
		if !background {
			p.notifier.Notify(ctx, domain.Notice{Kind: domain.NoticeServerError, Message: serverErrorMessage})
		}

	case Other:
		middleware.ObserveUpstream(roleLabel, "other")
		if f.Message != "" && !req.Retried() && !background {
			p.notifier.Notify(ctx, domain.Notice{Kind: domain.NoticeError, Message: f.Message})
		}
	}

	return nil, statusErr
}

// expire ends a non-renewable admin or seller session.
func (p *Pipeline) expire(ctx context.Context, role domain.Role) {
	log.Warn().Str("role", role.String()).Msg("Session rejected by backend, logging out")

	p.session.Clear(ctx, role)
	p.notifier.Notify(ctx, domain.Notice{
		Kind:     domain.NoticeSessionExpired,
		Message:  sessionExpiredMessage,
		Redirect: LoginSurface(role),
	})
}

func (p *Pipeline) send(ctx context.Context, req domain.Request, token *domain.SessionToken) (*domain.Response, error) {
	u := *p.baseURL
	u.Path = u.Path + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if httpReq.Header.Get("X-Request-ID") == "" {
		httpReq.Header.Set("X-Request-ID", uuid.NewString())
	}
	if token != nil && token.Value != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token.Value)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &domain.Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   data,
	}, nil
}

// errorMessage pulls a human readable message out of an error body:
// {"error": "..."}, {"message": "..."} or a short plain-text body.
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		return payload.Error
	}

	text := strings.TrimSpace(string(body))
	if len(text) > 200 || strings.HasPrefix(text, "<") {
		return ""
	}
	return text
}
