// Package httpemu translates HTTP request/response semantics onto the
// push-based LIME protocol: every authenticated identity gets a
// server-side Channel backed by a ServerTransport, and HTTP requests
// inject envelopes into that channel's inbound side while the
// listener's pumps read what the channel receives and complete waiting
// responses through a correlation map. It is grounded on the teacher's meshstorage/api.Server
// (pkg/meshstorage/api/server.go): Config/DefaultConfig,
// setupMiddleware/setupRoutes, and graceful Start/Stop, generalized
// from a storage/DHT REST facade to the LIME URI surface.
package httpemu

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kinhtkblbp/limenode/pkg/channel"
	"github.com/kinhtkblbp/limenode/pkg/lime"
	"github.com/kinhtkblbp/limenode/pkg/limelog"
	"github.com/kinhtkblbp/limenode/pkg/metrics"
	"github.com/kinhtkblbp/limenode/pkg/session"
	"github.com/kinhtkblbp/limenode/pkg/storage"
)

// CommandHandler answers a command a listener has routed to the
// application layer, echoing its id and uri in the response.
type CommandHandler func(ctx context.Context, from lime.Node, cmd *lime.Command) *lime.Command

func defaultCommandHandler(ctx context.Context, from lime.Node, cmd *lime.Command) *lime.Command {
	if cmd.URI == "/ping" {
		return &lime.Command{
			Base:     lime.Base{ID: cmd.ID},
			URI:      cmd.URI,
			Method:   cmd.Method,
			Status:   lime.CommandStatusSuccess,
			Resource: lime.Document{MediaType: lime.MediaTypePing, Value: &lime.Ping{}},
		}
	}
	return &lime.Command{
		Base:   lime.Base{ID: cmd.ID},
		URI:    cmd.URI,
		Method: cmd.Method,
		Status: lime.CommandStatusFailure,
		Reason: lime.NewReason(lime.ReasonCodeProtocolError, "unknown resource"),
	}
}

// Config holds the listener's tuning knobs.
type Config struct {
	SessionConfig           session.Config
	RequestTimeout          time.Duration
	RemoteIdleTimeout       time.Duration
	RateLimitPerMinute      int
	WriteExceptionsToOutput bool
	CommandHandler          CommandHandler
	LocalDomain             string
}

func (c *Config) applyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.CommandHandler == nil {
		c.CommandHandler = defaultCommandHandler
	}
	if c.LocalDomain == "" {
		c.LocalDomain = "lime.local"
	}
	if len(c.SessionConfig.EncryptionOptions) == 0 {
		c.SessionConfig.EncryptionOptions = []lime.SessionEncryption{lime.SessionEncryptionNone}
	}
	if len(c.SessionConfig.CompressionOptions) == 0 {
		c.SessionConfig.CompressionOptions = []lime.SessionCompression{lime.SessionCompressionNone}
	}
	if len(c.SessionConfig.SchemeOptions) == 0 {
		c.SessionConfig.SchemeOptions = []lime.AuthenticationScheme{lime.AuthenticationSchemeGuest}
	}
	if c.SessionConfig.Authenticate == nil {
		c.SessionConfig.Authenticate = func(ctx context.Context, from lime.Node, scheme lime.AuthenticationScheme, auth lime.Authentication) (bool, *lime.Reason) {
			return true, nil
		}
	}
}

// responseResult is what the output-routing goroutines hand back to an
// HTTP handler blocked on a correlated command or notification.
type responseResult struct {
	status int
	env    lime.Envelope
}

// pendingResponse guards one HTTP handler's wait for a correlated
// response; complete is idempotent so a late duplicate delivery (ABA
// on a reused id) is silently dropped, per invariant 3.
type pendingResponse struct {
	result chan responseResult
	once   sync.Once
}

func newPendingResponse() *pendingResponse {
	return &pendingResponse{result: make(chan responseResult, 1)}
}

func (p *pendingResponse) complete(r responseResult) {
	p.once.Do(func() {
		p.result <- r
	})
}

// Listener is the HTTP emulation gateway: a gin.Engine plus the
// per-identity transport cache and pending-response correlation map
// that bridge REST calls onto channel-level sends and receives.
type Listener struct {
	cfg     Config
	storage storage.Storage
	logger  *limelog.Logger
	engine  *gin.Engine

	transports sync.Map // string(transport_key) -> *ServerTransport
	accept     chan *ServerTransport

	pending sync.Map // uuid.UUID -> *pendingResponse
}

// New builds a Listener storing envelopes in store and routing
// requests per cfg.
func New(store storage.Storage, cfg Config, logger *limelog.Logger) *Listener {
	cfg.applyDefaults()
	if logger == nil {
		logger = limelog.Default()
	}
	l := &Listener{
		cfg:     cfg,
		storage: store,
		logger:  logger,
		accept:  make(chan *ServerTransport, 256),
	}
	l.engine = gin.New()
	l.setupMiddleware()
	l.setupRoutes()
	return l
}

// Engine exposes the underlying gin.Engine, e.g. for cmd/limed to wrap
// in an *http.Server.
func (l *Listener) Engine() *gin.Engine { return l.engine }

func (l *Listener) setupMiddleware() {
	l.engine.Use(gin.Recovery())
	l.engine.Use(corsMiddleware())
	l.engine.Use(loggingMiddleware(l.logger))
	l.engine.Use(basicAuthMiddlewareExcept("/health", "/metrics"))
	if l.cfg.RateLimitPerMinute > 0 {
		l.engine.Use(rateLimitMiddleware(newRateLimiter(l.cfg.RateLimitPerMinute)))
	}
}

func (l *Listener) setupRoutes() {
	l.engine.GET("/health", l.handleHealth)
	l.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	l.engine.GET("/messages/", l.handleReceiveMessage)
	l.engine.POST("/messages/", l.handleSendMessage)
	l.engine.GET("/storage/messages/", l.handleListStoredMessages)
	l.engine.DELETE("/storage/messages/:id", l.handleDeleteStoredMessage)

	l.engine.GET("/commands/:resource/", l.handleCommand(lime.CommandMethodGet))
	l.engine.POST("/commands/:resource/", l.handleCommand(lime.CommandMethodSet))
	l.engine.DELETE("/commands/:resource/", l.handleCommand(lime.CommandMethodDelete))

	l.engine.GET("/storage/notifications/", l.handleLongPollNotifications)
	l.engine.POST("/notifications/", l.handleInjectNotification)
}

func (l *Listener) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// AcceptTransport blocks for the next newly created ServerTransport,
// per the source's acceptance-queue design: a get-or-create cache miss
// posts here so "the hosting server" (Serve, or a caller driving its
// own loop) can establish a session over it.
func (l *Listener) AcceptTransport(ctx context.Context) (*ServerTransport, error) {
	select {
	case st := <-l.accept:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Serve drains AcceptTransport in a loop, establishing a session and
// spawning the output-routing goroutines for every accepted
// transport. It returns when ctx is done.
func (l *Listener) Serve(ctx context.Context) {
	for {
		st, err := l.AcceptTransport(ctx)
		if err != nil {
			return
		}
		go l.establishAndPump(ctx, st)
	}
}

func (l *Listener) getOrCreateTransport(identity lime.Identity, transportKey string) *ServerTransport {
	if v, ok := l.transports.Load(transportKey); ok {
		return v.(*ServerTransport)
	}
	candidate := newServerTransport(transportKey, identity)
	actual, loaded := l.transports.LoadOrStore(transportKey, candidate)
	st := actual.(*ServerTransport)
	if !loaded {
		metrics.ActiveTransports.Inc()
		select {
		case l.accept <- st:
		default:
			l.logger.Warnf("httpemu: acceptance queue full, dropping transport for %s", identity)
		}
	}
	return st
}

func (l *Listener) establishAndPump(ctx context.Context, st *ServerTransport) {
	ch := channel.New(st, channel.Config{RemoteIdleTimeout: l.cfg.RemoteIdleTimeout})

	serverCfg := l.cfg.SessionConfig
	serverCfg.LocalNode = lime.Node{Name: "lime", Domain: l.cfg.LocalDomain, Instance: "gateway"}

	clientCfg := session.Config{
		EncryptionOptions:  l.cfg.SessionConfig.EncryptionOptions,
		CompressionOptions: l.cfg.SessionConfig.CompressionOptions,
		LocalNode:          lime.Node{Name: st.Identity().Name, Domain: st.Identity().Domain, Instance: "http"},
	}
	creds := session.ClientCredentials{Scheme: lime.AuthenticationSchemeGuest, Authentication: lime.GuestAuthentication{}}

	sess, err := establishSynthetic(ctx, st, ch, serverCfg, clientCfg, creds)
	if err != nil {
		l.logger.Errorf("httpemu: establish session for %s: %v", st.Identity(), err)
		l.transports.CompareAndDelete(st.key, st)
		metrics.ActiveTransports.Dec()
		metrics.SessionsFailed.Inc()
		return
	}
	metrics.SessionsEstablished.Inc()
	id := uuid.New()
	if sess.ID != nil {
		id = *sess.ID
	}
	st.markReady(id)

	pumpCtx, pumpCancel := context.WithCancel(ctx)
	defer pumpCancel()
	go st.pumpOutboundPings(pumpCtx, l.logger)
	go l.pumpMessages(ch)
	go l.pumpNotifications(ch)
	go l.pumpCommands(ch)

	<-ch.Closed()
	pumpCancel()
	l.transports.CompareAndDelete(st.key, st)
	metrics.ActiveTransports.Dec()
}

// reportStorageDepth sets the StorageDepth gauge for identity to its
// current queued envelope count.
func (l *Listener) reportStorageDepth(ctx context.Context, identity lime.Identity) {
	ids, err := l.storage.GetIDs(ctx, identity)
	if err != nil {
		return
	}
	metrics.StorageDepth.WithLabelValues(identity.String()).Set(float64(len(ids)))
}

func (l *Listener) pumpMessages(ch *channel.Channel) {
	ctx := context.Background()
	for {
		msg, err := ch.ReceiveMessage(ctx)
		if err != nil {
			return
		}
		metrics.EnvelopesReceived.WithLabelValues("message").Inc()
		to := msg.To.Identity()
		if !to.IsZero() {
			if err := l.storage.Store(ctx, to, msg); err != nil {
				l.logger.Errorf("httpemu: store message for %s: %v", to, err)
			} else {
				l.reportStorageDepth(ctx, to)
			}
		}
		if msg.ID != nil {
			l.routeNotification(ctx, &lime.Notification{
				Base:  lime.Base{ID: msg.ID, From: msg.To, To: msg.From},
				Event: lime.NotificationEventDispatched,
			})
		}
	}
}

func (l *Listener) pumpNotifications(ch *channel.Channel) {
	ctx := context.Background()
	for {
		n, err := ch.ReceiveNotification(ctx)
		if err != nil {
			return
		}
		metrics.EnvelopesReceived.WithLabelValues("notification").Inc()
		l.routeNotification(ctx, n)
	}
}

func (l *Listener) routeNotification(ctx context.Context, n *lime.Notification) {
	if n.ID != nil {
		if v, ok := l.pending.Load(*n.ID); ok {
			status, terminal := notificationToHTTPStatus(n)
			if terminal {
				v.(*pendingResponse).complete(responseResult{status: status, env: n})
				l.pending.Delete(*n.ID)
				metrics.PendingHTTPResponses.Dec()
			}
			return
		}
	}
	to := n.To.Identity()
	if to.IsZero() {
		return
	}
	if err := l.storage.Store(ctx, to, n); err != nil {
		l.logger.Errorf("httpemu: store notification for %s: %v", to, err)
		return
	}
	l.reportStorageDepth(ctx, to)
}

func (l *Listener) pumpCommands(ch *channel.Channel) {
	ctx := context.Background()
	for {
		cmd, err := ch.ReceiveCommand(ctx)
		if err != nil {
			return
		}
		metrics.EnvelopesReceived.WithLabelValues("command").Inc()
		resp := l.cfg.CommandHandler(ctx, cmd.From, cmd)
		if resp.ID == nil {
			resp.Base.ID = cmd.ID
		}
		if cmd.ID == nil {
			l.logger.Warnf("httpemu: command %s %s carried no id, dropping response", cmd.Method, cmd.URI)
			continue
		}
		v, ok := l.pending.Load(*cmd.ID)
		if !ok {
			l.logger.Warnf("httpemu: command %s %s matched no pending response, dropping", cmd.Method, cmd.URI)
			continue
		}
		status, terminal := commandToHTTPStatus(resp)
		if !terminal {
			continue
		}
		v.(*pendingResponse).complete(responseResult{status: status, env: resp})
		l.pending.Delete(*cmd.ID)
		metrics.PendingHTTPResponses.Dec()
	}
}

// -- HTTP handlers --

func (l *Listener) identityAndTransport(c *gin.Context) (lime.Identity, *ServerTransport) {
	identity := c.MustGet(identityKey).(lime.Identity)
	transportKey := c.MustGet(transportKeyKey).(string)
	st := l.getOrCreateTransport(identity, transportKey)
	return identity, st
}

func (l *Listener) awaitSession(c *gin.Context, st *ServerTransport, ctx context.Context) bool {
	id, err := st.awaitReady(ctx)
	if err != nil {
		l.writeError(c, http.StatusServiceUnavailable, err)
		return false
	}
	c.Header("X-Session-Id", id.String())
	return true
}

func (l *Listener) writeError(c *gin.Context, status int, err error) {
	body := gin.H{"error": "request failed"}
	if l.cfg.WriteExceptionsToOutput && err != nil && status >= http.StatusInternalServerError {
		body["error"] = err.Error()
	}
	c.JSON(status, body)
}

func (l *Listener) writeEnvelopeResult(c *gin.Context, res responseResult) {
	if cmd, ok := res.env.(*lime.Command); ok && cmd.Resource.MediaType != "" {
		c.Header("Content-Type", cmd.Resource.MediaType)
	}
	c.JSON(res.status, res.env)
}

func (l *Listener) handleSendMessage(c *gin.Context) {
	identity, st := l.identityAndTransport(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), l.cfg.RequestTimeout)
	defer cancel()
	if !l.awaitSession(c, st, ctx) {
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		l.writeError(c, http.StatusBadRequest, err)
		return
	}
	env, err := lime.DecodeEnvelope(body)
	if err != nil {
		l.writeError(c, http.StatusBadRequest, err)
		return
	}
	msg, ok := env.(*lime.Message)
	if !ok {
		l.writeError(c, http.StatusBadRequest, errors.New("httpemu: expected a message envelope"))
		return
	}
	if msg.From.IsZero() {
		msg.From = lime.Node{Name: identity.Name, Domain: identity.Domain, Instance: "http"}
	}

	idParam := c.Query("id")
	if idParam == "" {
		if msg.ID == nil {
			id := lime.NewID()
			msg.Base.ID = &id
		}
		if err := st.inject(ctx, msg); err != nil {
			l.writeError(c, http.StatusServiceUnavailable, err)
			return
		}
		metrics.EnvelopesSent.WithLabelValues("message").Inc()
		c.Status(http.StatusAccepted)
		return
	}

	id, err := uuid.Parse(idParam)
	if err != nil {
		l.writeError(c, http.StatusBadRequest, err)
		return
	}
	msg.Base.ID = &id

	pr := newPendingResponse()
	if _, loaded := l.pending.LoadOrStore(id, pr); loaded {
		l.writeError(c, http.StatusConflict, errors.New("httpemu: id already has a pending response"))
		return
	}
	metrics.PendingHTTPResponses.Inc()

	if err := st.inject(ctx, msg); err != nil {
		l.pending.Delete(id)
		metrics.PendingHTTPResponses.Dec()
		l.writeError(c, http.StatusServiceUnavailable, err)
		return
	}
	metrics.EnvelopesSent.WithLabelValues("message").Inc()

	select {
	case res := <-pr.result:
		l.writeEnvelopeResult(c, res)
	case <-ctx.Done():
		l.pending.Delete(id)
		metrics.PendingHTTPResponses.Dec()
		_ = st.Close(context.Background())
		c.Status(http.StatusRequestTimeout)
	}
}

func (l *Listener) handleReceiveMessage(c *gin.Context) {
	identity, st := l.identityAndTransport(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), l.cfg.RequestTimeout)
	defer cancel()
	if !l.awaitSession(c, st, ctx) {
		return
	}
	l.longPollDequeue(c, ctx, identity)
}

func (l *Listener) longPollDequeue(c *gin.Context, ctx context.Context, identity lime.Identity) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		ids, err := l.storage.GetIDs(ctx, identity)
		if err == nil && len(ids) > 0 {
			env, err := l.storage.Get(ctx, identity, ids[0])
			if err == nil {
				_, _ = l.storage.Delete(ctx, identity, ids[0])
				l.reportStorageDepth(ctx, identity)
				c.JSON(http.StatusOK, env)
				return
			}
		}
		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			c.Status(http.StatusNoContent)
			return
		}
	}
}

func (l *Listener) handleListStoredMessages(c *gin.Context) {
	identity := c.MustGet(identityKey).(lime.Identity)
	ctx := c.Request.Context()
	ids, err := l.storage.GetIDs(ctx, identity)
	if err != nil {
		l.writeError(c, http.StatusInternalServerError, err)
		return
	}
	items := make([]lime.Envelope, 0, len(ids))
	for _, id := range ids {
		env, err := l.storage.Get(ctx, identity, id)
		if err != nil {
			continue
		}
		items = append(items, env)
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

func (l *Listener) handleDeleteStoredMessage(c *gin.Context) {
	identity := c.MustGet(identityKey).(lime.Identity)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		l.writeError(c, http.StatusBadRequest, err)
		return
	}
	ctx := c.Request.Context()
	ok, err := l.storage.Delete(ctx, identity, id)
	if err != nil {
		l.writeError(c, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	l.reportStorageDepth(ctx, identity)
	c.Status(http.StatusOK)
}

func (l *Listener) handleCommand(method lime.CommandMethod) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, st := l.identityAndTransport(c)
		ctx, cancel := context.WithTimeout(c.Request.Context(), l.cfg.RequestTimeout)
		defer cancel()
		if !l.awaitSession(c, st, ctx) {
			return
		}

		var resource lime.Document
		if c.Request.ContentLength > 0 {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				l.writeError(c, http.StatusBadRequest, err)
				return
			}
			if len(body) > 0 {
				env, err := lime.DecodeEnvelope(body)
				if err != nil {
					l.writeError(c, http.StatusBadRequest, err)
					return
				}
				reqCmd, ok := env.(*lime.Command)
				if !ok {
					l.writeError(c, http.StatusBadRequest, errors.New("httpemu: expected a command envelope"))
					return
				}
				resource = reqCmd.Resource
			}
		}

		id := lime.NewID()
		cmd := &lime.Command{
			Base:     lime.Base{ID: &id},
			URI:      "/" + c.Param("resource"),
			Method:   method,
			Resource: resource,
		}

		pr := newPendingResponse()
		l.pending.Store(id, pr)
		metrics.PendingHTTPResponses.Inc()

		if err := st.inject(ctx, cmd); err != nil {
			l.pending.Delete(id)
			metrics.PendingHTTPResponses.Dec()
			l.writeError(c, http.StatusServiceUnavailable, err)
			return
		}
		metrics.EnvelopesSent.WithLabelValues("command").Inc()

		select {
		case res := <-pr.result:
			l.writeEnvelopeResult(c, res)
		case <-ctx.Done():
			l.pending.Delete(id)
			metrics.PendingHTTPResponses.Dec()
			_ = st.Close(context.Background())
			c.Status(http.StatusRequestTimeout)
		}
	}
}

func (l *Listener) handleLongPollNotifications(c *gin.Context) {
	identity, st := l.identityAndTransport(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), l.cfg.RequestTimeout)
	defer cancel()
	if !l.awaitSession(c, st, ctx) {
		return
	}
	l.longPollDequeue(c, ctx, identity)
}

func (l *Listener) handleInjectNotification(c *gin.Context) {
	_, st := l.identityAndTransport(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), l.cfg.RequestTimeout)
	defer cancel()
	if !l.awaitSession(c, st, ctx) {
		return
	}

	idParam := c.Query("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		l.writeError(c, http.StatusBadRequest, err)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		l.writeError(c, http.StatusBadRequest, err)
		return
	}
	env, err := lime.DecodeEnvelope(body)
	if err != nil {
		l.writeError(c, http.StatusBadRequest, err)
		return
	}
	n, ok := env.(*lime.Notification)
	if !ok {
		l.writeError(c, http.StatusBadRequest, errors.New("httpemu: expected a notification envelope"))
		return
	}
	n.Base.ID = &id

	if err := st.inject(ctx, n); err != nil {
		l.writeError(c, http.StatusServiceUnavailable, err)
		return
	}
	metrics.EnvelopesSent.WithLabelValues("notification").Inc()
	c.Status(http.StatusAccepted)
}
