package oauth

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/giantswarm/mcp-oauth/security"
	"github.com/google/uuid"

	"harbor-bridge/internal/instrumentation"
	"harbor-bridge/pkg/logging"
)

// DefaultOutcomeQueueSize bounds the channel between callback handlers and
// the persistence consumer.
const DefaultOutcomeQueueSize = 10

// DefaultCallbackPath is the redirect path served by the listener.
const DefaultCallbackPath = "/oauth/callback"

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(
	template.New("pages").Funcs(sprig.FuncMap()).ParseFS(templateFS, "templates/*.html"),
)

// CodeExchanger redeems authorization codes. *FlowManager implements it.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code string, flow *PendingFlow, creds ClientCredentials) (*TokenSet, error)
}

// OutcomeRecorder persists successful outcomes. *TokenStore implements it.
type OutcomeRecorder interface {
	RecordOutcome(outcome CallbackOutcome) error
}

// CallbackServerConfig configures a CallbackServer.
type CallbackServerConfig struct {
	// Addr is the loopback host:port to bind.
	Addr string

	// Path defaults to DefaultCallbackPath.
	Path string

	Flows       *PendingFlowStore
	Exchanger   CodeExchanger
	Credentials CredentialProvider
	Recorder    OutcomeRecorder

	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit int
	RateBurst int

	// QueueSize defaults to DefaultOutcomeQueueSize.
	QueueSize int

	Metrics *instrumentation.Metrics
}

// CallbackServer is the local listener that receives provider redirects.
//
// It is started lazily by EnsureStarted and then stays up for the life of the
// process. Code exchange happens inside the HTTP handler so the browser gets
// a definite answer; persistence happens on a separate consumer goroutine fed
// through a bounded channel.
type CallbackServer struct {
	cfg     CallbackServerConfig
	limiter *security.RateLimiter
	auditor *security.Auditor

	limiterStop sync.Once

	mu       sync.Mutex
	started  bool
	server   *http.Server
	listener net.Listener

	// queueMu guards outcomes. Handlers hold it for reading while they
	// publish, so Shutdown cannot close the channel under a pending send.
	queueMu      sync.RWMutex
	outcomes     chan CallbackOutcome
	consumerDone chan struct{}

	waitersMu sync.Mutex
	waiters   map[string][]chan CallbackOutcome
}

// NewCallbackServer creates a callback server. Nothing is bound until
// EnsureStarted.
func NewCallbackServer(cfg CallbackServerConfig) *CallbackServer {
	if cfg.Path == "" {
		cfg.Path = DefaultCallbackPath
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultOutcomeQueueSize
	}

	s := &CallbackServer{
		cfg:     cfg,
		auditor: security.NewAuditor(logging.Logger(), true),
		waiters: make(map[string][]chan CallbackOutcome),
	}
	if cfg.RateLimit > 0 {
		s.limiter = security.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, logging.Logger())
	}
	return s
}

// EnsureStarted binds the listener and starts serving. Calling it again while
// running is a no-op. A port already in use yields a *ListenerBindError.
func (s *CallbackServer) EnsureStarted() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return &ListenerBindError{
			Addr:  s.cfg.Addr,
			InUse: errors.Is(err, syscall.EADDRINUSE),
			Err:   err,
		}
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	outcomes := make(chan CallbackOutcome, s.cfg.QueueSize)
	s.consumerDone = make(chan struct{})

	s.queueMu.Lock()
	s.outcomes = outcomes
	s.queueMu.Unlock()

	go s.consume(outcomes, s.consumerDone)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logging.Error("Callback", err, "Callback listener stopped unexpectedly")
		}
	}()

	s.started = true
	logging.Info("Callback", "OAuth callback listener running on http://%s%s", listener.Addr(), s.cfg.Path)
	return nil
}

// IsRunning reports whether the listener is bound.
func (s *CallbackServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Addr returns the bound address, or the configured one before start.
func (s *CallbackServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Shutdown stops the listener, then drains the outcome queue.
func (s *CallbackServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limiter != nil {
		s.limiterStop.Do(s.limiter.Stop)
	}
	if !s.started {
		return nil
	}

	err := s.server.Shutdown(ctx)

	// Handlers still running after a Shutdown deadline see a nil queue and
	// handle their outcome inline.
	s.queueMu.Lock()
	close(s.outcomes)
	s.outcomes = nil
	s.queueMu.Unlock()

	select {
	case <-s.consumerDone:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	s.started = false
	s.listener = nil
	return err
}

// Handler returns the HTTP routes served by the listener.
func (s *CallbackServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.cfg.Path, s.handleCallback)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	return mux
}

// Subscribe returns a channel that receives the outcome for state once it
// has been handled. Call cancel when no longer interested.
func (s *CallbackServer) Subscribe(state string) (<-chan CallbackOutcome, func()) {
	ch := make(chan CallbackOutcome, 1)

	s.waitersMu.Lock()
	s.waiters[state] = append(s.waiters[state], ch)
	s.waitersMu.Unlock()

	cancel := func() {
		s.waitersMu.Lock()
		defer s.waitersMu.Unlock()
		list := s.waiters[state]
		for i, c := range list {
			if c == ch {
				s.waiters[state] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(s.waiters[state]) == 0 {
			delete(s.waiters, state)
		}
	}
	return ch, cancel
}

// WaitForOutcome blocks until the flow identified by state completes or ctx ends.
func (s *CallbackServer) WaitForOutcome(ctx context.Context, state string) (CallbackOutcome, error) {
	ch, cancel := s.Subscribe(state)
	defer cancel()

	select {
	case outcome := <-ch:
		return outcome, nil
	case <-ctx.Done():
		return CallbackOutcome{}, ctx.Err()
	}
}

// consume persists outcomes until the queue is closed.
func (s *CallbackServer) consume(outcomes <-chan CallbackOutcome, done chan<- struct{}) {
	defer close(done)

	for outcome := range outcomes {
		s.handleOutcome(outcome)
	}
}

func (s *CallbackServer) handleOutcome(outcome CallbackOutcome) {
	if outcome.Err == nil && s.cfg.Recorder != nil {
		if err := s.cfg.Recorder.RecordOutcome(outcome); err != nil {
			logging.Error("Callback", err, "Failed to persist tokens for server=%s", outcome.ServerID)
		} else {
			logging.Info("Callback", "Stored tokens for server=%s provider=%s", outcome.ServerID, outcome.ProviderID)
		}
	}
	s.notify(outcome)
}

func (s *CallbackServer) notify(outcome CallbackOutcome) {
	if outcome.State == "" {
		return
	}

	s.waitersMu.Lock()
	list := s.waiters[outcome.State]
	delete(s.waiters, outcome.State)
	s.waitersMu.Unlock()

	for _, ch := range list {
		select {
		case ch <- outcome:
		default:
		}
	}
}

// publish queues an outcome for the consumer. A full queue blocks the handler
// until there is room or the request goes away, in which case the outcome is
// handled inline: the code is already spent, so the tokens must not be lost.
// Without a running listener (Handler mounted elsewhere, or after Shutdown)
// the outcome is also handled inline.
func (s *CallbackServer) publish(ctx context.Context, outcome CallbackOutcome) {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()

	if s.outcomes == nil {
		s.handleOutcome(outcome)
		return
	}
	select {
	case s.outcomes <- outcome:
	case <-ctx.Done():
		logging.Warn("Callback", "Outcome queue full for server=%s (%v), handling inline", outcome.ServerID, ctx.Err())
		s.handleOutcome(outcome)
	}
}

// pageData feeds templates/callback.html.
type pageData struct {
	Title     string
	Heading   string
	Message   string
	Detail    string
	Success   bool
	RequestID string
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	clientIP := security.GetClientIP(r, false, 0)
	ctx := r.Context()

	if s.limiter != nil && !s.limiter.Allow(clientIP) {
		s.auditor.LogRateLimitExceeded(clientIP, "")
		s.cfg.Metrics.RecordCallback(ctx, instrumentation.ResultRateLimited)
		s.renderPage(w, http.StatusTooManyRequests, pageData{
			Title:     "Too Many Requests",
			Heading:   "Too many requests",
			Message:   "Slow down and try signing in again in a moment.",
			RequestID: requestID,
		})
		return
	}

	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")

	if providerErr := query.Get("error"); providerErr != "" {
		description := query.Get("error_description")
		logging.Warn("Callback", "[%s] Provider returned error: %s - %s", logging.TruncateID(requestID), providerErr, description)
		s.auditor.LogAuthFailure("", "", clientIP, "provider_error:"+providerErr)
		s.cfg.Metrics.RecordCallback(ctx, instrumentation.ResultProviderError)

		// Waiters learn about the denial, the pending flow is left alone.
		s.notify(CallbackOutcome{
			State: state,
			Err:   fmt.Errorf("authorization denied by provider: %s", providerErr),
		})

		s.renderPage(w, http.StatusBadRequest, pageData{
			Title:     "Authentication Failed",
			Heading:   "Authentication failed",
			Message:   "The provider did not grant access.",
			Detail:    providerErrorDetail(providerErr, description),
			RequestID: requestID,
		})
		return
	}

	if code == "" || state == "" {
		logging.Warn("Callback", "[%s] %v: missing code or state parameter", logging.TruncateID(requestID), ErrInvalidCallback)
		s.cfg.Metrics.RecordCallback(ctx, instrumentation.ResultInvalidRequest)
		s.renderPage(w, http.StatusBadRequest, pageData{
			Title:     "Invalid Request",
			Heading:   "Invalid request",
			Message:   "The redirect is missing required parameters.",
			RequestID: requestID,
		})
		return
	}

	flow, ok := s.cfg.Flows.Take(state)
	if !ok {
		logging.Warn("Callback", "[%s] %v: no pending flow for state=%s", logging.TruncateID(requestID), ErrSessionExpired, logging.TruncateID(state))
		s.auditor.LogEvent(security.Event{
			Type:      "provider_state_mismatch",
			IPAddress: clientIP,
			Details:   map[string]any{"request_id": requestID},
		})
		s.cfg.Metrics.RecordCallback(ctx, instrumentation.ResultSessionExpired)
		s.renderPage(w, http.StatusBadRequest, pageData{
			Title:     "Session Expired",
			Heading:   "Session expired",
			Message:   "This sign-in is no longer pending. It may have timed out or Harbor was restarted.",
			RequestID: requestID,
		})
		return
	}

	creds, ok := s.cfg.Credentials.Get(flow.ProviderID)
	if !ok {
		err := notConfigured(flow.ProviderID)
		logging.Error("Callback", err, "[%s] Cannot complete flow for server=%s", logging.TruncateID(requestID), flow.ServerID)
		s.cfg.Metrics.RecordCallback(ctx, instrumentation.ResultNotConfigured)
		s.publish(ctx, outcomeFor(flow, nil, err))
		s.renderPage(w, http.StatusInternalServerError, pageData{
			Title:     "Configuration Error",
			Heading:   "Configuration error",
			Message:   fmt.Sprintf("No client credentials are configured for %s.", flow.ProviderID),
			RequestID: requestID,
		})
		return
	}

	logging.Debug("Callback", "[%s] Exchanging code for server=%s provider=%s",
		logging.TruncateID(requestID), flow.ServerID, flow.ProviderID)

	tokens, err := s.cfg.Exchanger.ExchangeCode(ctx, code, flow, creds)
	s.publish(ctx, outcomeFor(flow, tokens, err))

	if err != nil {
		logging.Error("Callback", err, "[%s] Code exchange failed for server=%s", logging.TruncateID(requestID), flow.ServerID)
		s.auditor.LogAuthFailure("", creds.ClientID, clientIP, "code_exchange_failed")
		s.cfg.Metrics.RecordCallback(ctx, instrumentation.ResultExchangeFailed)

		detail := err.Error()
		var te *TokenExchangeError
		if errors.As(err, &te) && te.Status != 0 {
			detail = fmt.Sprintf("HTTP %d", te.Status)
		}
		s.renderPage(w, http.StatusBadGateway, pageData{
			Title:     "Authentication Failed",
			Heading:   "Authentication failed",
			Message:   "The provider rejected the authorization code.",
			Detail:    detail,
			RequestID: requestID,
		})
		return
	}

	s.auditor.LogTokenIssued(flow.ServerID, creds.ClientID, clientIP, tokens.Scope)
	s.cfg.Metrics.RecordCallback(ctx, instrumentation.ResultSuccess)
	s.renderPage(w, http.StatusOK, pageData{
		Title:   "Authentication Successful",
		Heading: "Authentication successful",
		Message: fmt.Sprintf("%s is now connected for %s.", flow.ServerID, flow.ProviderID),
		Success: true,
	})
}

func (s *CallbackServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "index.html", map[string]any{
		"CallbackPath": s.cfg.Path,
		"Pending":      s.cfg.Flows.Len(),
	})
}

func (s *CallbackServer) renderPage(w http.ResponseWriter, status int, data pageData) {
	s.render(w, status, "callback.html", data)
}

// render executes a template into a buffer first so a template error can
// still produce a clean 500.
func (s *CallbackServer) render(w http.ResponseWriter, status int, name string, data any) {
	setSecurityHeaders(w)

	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		logging.Error("Callback", err, "Failed to render %s", name)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// setSecurityHeaders applies the mcp-oauth header set, relaxed only to allow
// the pages' inline styles.
func setSecurityHeaders(w http.ResponseWriter) {
	security.SetSecurityHeaders(w, "")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none'")
}

func outcomeFor(flow *PendingFlow, tokens *TokenSet, err error) CallbackOutcome {
	return CallbackOutcome{
		State:      flow.State,
		ServerID:   flow.ServerID,
		ProviderID: flow.ProviderID,
		Scopes:     append([]string(nil), flow.Scopes...),
		Tokens:     tokens,
		Err:        err,
	}
}

func providerErrorDetail(code, description string) string {
	if description == "" {
		return code
	}
	return code + ": " + description
}
