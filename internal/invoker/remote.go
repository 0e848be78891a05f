package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/pitabwire/triage/internal/config"
	"github.com/pitabwire/triage/internal/openapi"
	"github.com/pitabwire/triage/model"
)

// RejectedError reports that a remote service answered but refused the
// request. It does not count against the service's circuit breaker.
type RejectedError struct {
	Status int
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Status == 0 {
		return "request rejected: " + e.Reason
	}
	return fmt.Sprintf("request rejected with status %d: %s", e.Status, e.Reason)
}

// RemoteService is a gateway service whose methods are the operations of
// an OpenAPI document. Required keys come from required path and query
// parameters and required body properties.
type RemoteService struct {
	name   string
	index  *openapi.Index
	cfg    config.ServiceConfig
	client *http.Client
	logger *zap.Logger
}

// RemoteOption configures remote services.
type RemoteOption func(*RemoteService)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(s *RemoteService) { s.client = c }
}

// WithRemoteLogger sets the logger.
func WithRemoteLogger(logger *zap.Logger) RemoteOption {
	return func(s *RemoteService) { s.logger = logger }
}

// NewRemoteServices builds one RemoteService per service in idx.
func NewRemoteServices(idx *openapi.Index, settings func(service string) config.ServiceConfig, opts ...RemoteOption) []*RemoteService {
	names := idx.Services()
	out := make([]*RemoteService, 0, len(names))
	for _, name := range names {
		var cfg config.ServiceConfig
		if settings != nil {
			cfg = settings(name)
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		svc := &RemoteService{
			name:  name,
			index: idx,
			cfg:   cfg,
			client: &http.Client{
				Timeout: timeout,
				Transport: &http.Transport{
					MaxIdleConns:        100,
					MaxConnsPerHost:     50,
					IdleConnTimeout:     90 * time.Second,
					TLSHandshakeTimeout: 10 * time.Second,
				},
			},
			logger: zap.NewNop(),
		}
		for _, opt := range opts {
			opt(svc)
		}
		out = append(out, svc)
	}
	return out
}

// Name implements Service.
func (s *RemoteService) Name() string { return s.name }

// Methods implements Service.
func (s *RemoteService) Methods() []Method {
	ids := s.index.AllOperationIDs(s.name)
	methods := make([]Method, 0, len(ids))
	for _, id := range ids {
		op, _ := s.index.GetOperation(s.name, id)
		methods = append(methods, Method{
			Name:     id,
			Required: op.RequiredKeys(),
			Optional: op.OptionalKeys(),
		})
	}
	return methods
}

// Invoke implements Service. Gateway 4xx answers come back as
// *RejectedError; 5xx answers and transport faults as plain errors.
func (s *RemoteService) Invoke(ctx context.Context, call Call) (model.ServiceResult, error) {
	op, ok := s.index.GetOperation(s.name, call.Method.Name)
	if !ok {
		return model.ServiceResult{}, &model.ExecutorError{Kind: model.ExecUnknownMethod}
	}

	out, err := s.prepare(ctx, op, call)
	if err != nil {
		return model.ServiceResult{}, err
	}
	rep, err := s.send(ctx, out)
	switch {
	case err != nil:
		return model.ServiceResult{}, err
	case rep.status >= http.StatusInternalServerError:
		return model.ServiceResult{}, fmt.Errorf("%s answered %d", s.name, rep.status)
	case rep.status >= http.StatusBadRequest:
		return model.ServiceResult{}, &RejectedError{Status: rep.status, Reason: http.StatusText(rep.status)}
	}

	data := map[string]any{"status": rep.status}
	if rep.body != nil {
		data["body"] = rep.body
	}
	return model.ServiceResult{Data: data}, nil
}

// outbound is a prepared gateway request that can be replayed on retry.
type outbound struct {
	method string
	url    string
	header http.Header
	body   []byte
}

type reply struct {
	status int
	body   any
}

// prepare fills the operation's path, query and body from call and checks
// the body against the operation's schema before anything is sent.
func (s *RemoteService) prepare(ctx context.Context, op openapi.IndexedOperation, call Call) (*outbound, error) {
	out := &outbound{
		method: op.Method,
		header: gatewayHeaders(model.RequestContextFrom(ctx), op.Method),
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(out.header))

	path := op.PathTemplate
	query := url.Values{}
	var body map[string]any
	if op.BodySchema != nil {
		body = map[string]any{}
	}
	for _, p := range op.Params {
		switch p.In {
		case "path":
			if v := call.Param(p.Name); v != "" {
				path = strings.ReplaceAll(path, "{"+p.Name+"}", url.PathEscape(v))
			}
		case "query":
			if v := call.Param(p.Name); v != "" {
				query.Set(p.Name, v)
			}
		case "body":
			if v, ok := call.Params[p.Name]; ok && body != nil {
				body[p.Name] = v.Interface()
			}
		}
	}
	out.url = op.BaseURL + path
	if len(query) > 0 {
		out.url += "?" + query.Encode()
	}

	if body != nil {
		if errs := s.index.ValidateRequest(s.name, op.OperationID, body); len(errs) > 0 {
			return nil, &RejectedError{Reason: errs[0].Message}
		}
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", op.OperationID, err)
		}
		out.body = raw
	}
	return out, nil
}

// send performs out, retrying transient failures and retryable statuses as
// the service's retry policy allows.
func (s *RemoteService) send(ctx context.Context, out *outbound) (reply, error) {
	policy := retryPolicy(s.cfg.Retry)
	tries := policy.attempts(out.method)
	for n := 1; ; n++ {
		rep, err := s.roundTrip(ctx, out)
		again := (err != nil && transient(err)) || (err == nil && retryableStatus(rep.status))
		if !again || n >= tries {
			return rep, err
		}
		s.logger.Debug("retrying gateway call",
			zap.String("service", s.name),
			zap.Int("attempt", n),
			zap.Int("of", tries),
			zap.Int("status", rep.status),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return reply{}, ctx.Err()
		case <-time.After(policy.backoff(n)):
		}
	}
}

func (s *RemoteService) roundTrip(ctx context.Context, out *outbound) (reply, error) {
	var body io.Reader
	if out.body != nil {
		body = bytes.NewReader(out.body)
	}
	req, err := http.NewRequestWithContext(ctx, out.method, out.url, body)
	if err != nil {
		return reply{}, fmt.Errorf("build request: %w", err)
	}
	req.Header = out.header.Clone()

	resp, err := s.client.Do(req)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return reply{}, ctx.Err()
	case unreachable(err):
		return reply{}, &model.ExecutorError{Kind: model.ExecUnavailable, Err: err}
	default:
		return reply{}, fmt.Errorf("%s %s: %w", out.method, out.url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return reply{}, fmt.Errorf("read response: %w", err)
	}
	rep := reply{status: resp.StatusCode}
	if len(raw) > 0 && json.Unmarshal(raw, &rep.body) != nil {
		rep.body = nil
	}
	return rep, nil
}

var headerBreaks = strings.NewReplacer("\r", "", "\n", "")

// gatewayHeaders forwards the caller's token, correlation id and subject.
// Values are stripped of line breaks.
func gatewayHeaders(rctx *model.RequestContext, method string) http.Header {
	h := http.Header{"Accept": {"application/json"}}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		h.Set("Content-Type", "application/json")
	}
	if rctx == nil {
		return h
	}
	if rctx.Token != "" {
		h.Set("Authorization", "Bearer "+headerBreaks.Replace(rctx.Token))
	}
	if rctx.CorrelationID != "" {
		h.Set("X-Correlation-Id", headerBreaks.Replace(rctx.CorrelationID))
	}
	h.Set("X-Request-Subject", headerBreaks.Replace(rctx.SubjectID))
	return h
}

// retryPolicy interprets a service's retry settings.
type retryPolicy config.RetryConfig

// attempts is how many tries a request with method gets. Non-idempotent
// methods get one when IdempotentOnly is set.
func (p retryPolicy) attempts(method string) int {
	if p.MaxAttempts < 1 {
		return 1
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
	default:
		if p.IdempotentOnly {
			return 1
		}
	}
	return p.MaxAttempts
}

// backoff is the wait after the n-th failed try: exponential from
// BackoffInitial (100ms) by BackoffMultiplier (2), capped at BackoffMax (2s).
func (p retryPolicy) backoff(n int) time.Duration {
	initial, mult, ceiling := p.BackoffInitial, p.BackoffMultiplier, p.BackoffMax
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if mult <= 0 {
		mult = 2
	}
	if ceiling <= 0 {
		ceiling = 2 * time.Second
	}
	d := float64(initial) * math.Pow(mult, float64(n-1))
	if d > float64(ceiling) {
		return ceiling
	}
	return time.Duration(d)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// transient reports whether err may clear on a later try. Rejections and
// cancellation are final.
func transient(err error) bool {
	var rejected *RejectedError
	return err != nil && !errors.As(err, &rejected) &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func unreachable(err error) bool {
	var opErr *net.OpError
	var dnsErr *net.DNSError
	return errors.As(err, &opErr) || errors.As(err, &dnsErr)
}
