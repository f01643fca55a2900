package hbdp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/hbdp/internal/node"
	"github.com/danmuck/hbdp/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handler is told about every new session before its identifier is sent.
type Handler interface {
	HandleConnection(conn *Connection)
}

type HandlerFunc func(conn *Connection)

func (f HandlerFunc) HandleConnection(conn *Connection) { f(conn) }

// Server routes HBDP requests to sessions.
type Server struct {
	ID       string
	Addr     string
	Appeared time.Time
	Registry *Registry

	cfg      ServerConfig
	handler  Handler
	router   *gin.Engine
	basePath string
	attached bool
	logger   zerolog.Logger

	mu         sync.Mutex
	httpServer *http.Server
}

var _ node.Node = (*Server)(nil)

// Appear builds a server on its own gin engine.
func Appear(cfg ServerConfig, handler Handler) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.ID))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := newServer(cfg, r, handler)
	s.Addr = cfg.Addr
	return s
}

// Attach mounts sessions under basePath of an existing engine.
func Attach(id string, router *gin.Engine, basePath string, queues QueueConfig, handler Handler) *Server {
	cfg := DefaultServerConfig()
	cfg.ID = id
	cfg.BasePath = basePath
	cfg.Queues = queues
	s := newServer(cfg, router, handler)
	s.attached = true
	return s
}

func newServer(cfg ServerConfig, router *gin.Engine, handler Handler) *Server {
	return &Server{
		ID:       cfg.ID,
		Appeared: time.Now(),
		Registry: NewRegistry(cfg.Queues, nil, log.Logger),
		cfg:      cfg,
		handler:  handler,
		router:   router,
		basePath: NormalizeBasePath(cfg.BasePath),
		logger:   log.Logger,
	}
}

func (s *Server) NodeID() string {
	return s.ID
}

func (s *Server) Kind() string {
	return "hbdp"
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// SetLogger replaces the session logger. Call before serving.
func (s *Server) SetLogger(logger zerolog.Logger) {
	s.logger = logger
	s.Registry.logger = logger
}

func (s *Server) RegisterRoutes() {
	if s.attached {
		s.registerSessionRoutes()
		return
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(s.Appeared).String(),
			"service":  s.ID,
			"sessions": s.Registry.Len(),
			"version":  "0.0.1",
		})
	})

	if s.cfg.MetricsPath != "" {
		s.router.GET(s.cfg.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	s.registerSessionRoutes()
	if s.basePath != "" {
		// Paths outside the base still get a plain-text 404 and a log record.
		s.router.NoRoute(s.handleExchange)
	}
}

func (s *Server) registerSessionRoutes() {
	// A root base path shares the tree with other routes, so sessions take
	// whatever those miss.
	if s.basePath == "" {
		s.router.NoRoute(s.handleExchange)
		return
	}
	routes := s.router.Group(s.basePath)
	routes.Any("", s.handleExchange)
	routes.Any("/*target", s.handleExchange)
}

func (s *Server) Serve() error {
	s.RegisterRoutes()
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info().Str("addr", s.Addr).Str("base_path", s.basePath).Msg("hbdp server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleExchange(c *gin.Context) {
	peer := c.ClientIP()
	ex := newHTTPExchange(c.Request.Context(), peer, nil)

	id, detail, err := s.dispatch(ex, c.Request)
	if err != nil {
		perr := asProtocolError(err)
		detail = "HbdpException: " + perr.Message
		_ = ex.fail(perr)
	}
	s.record(id, detail, peer)

	if !ex.await() {
		s.logger.Debug().Str("session", id).Str("peer", peer).Msg("peer left before response")
		c.Abort()
		return
	}
	s.writeResponse(c, ex, id)
}

// dispatch routes by path and verb. Only submissions read the request body.
func (s *Server) dispatch(ex *httpExchange, r *http.Request) (string, string, error) {
	method := r.Method
	rel, ok := relative(s.basePath, r.URL.Path)
	if !ok {
		return "", "", notFound("Wrong context path.")
	}

	if rel == "" {
		if method != http.MethodGet {
			return "", "", methodNotAllowed("Only GET method allowed for session initialisation.")
		}
		conn, err := s.Registry.Create()
		if err != nil {
			return "", "", err
		}
		observability.SessionStarted()
		if s.handler != nil {
			s.handler.HandleConnection(conn)
		}
		_ = ex.respond(http.StatusOK, contentTypeText, []byte(conn.ID()))
		return conn.ID(), "Connected", nil
	}

	t, err := parseTarget(rel)
	if err != nil {
		return "", "", err
	}
	if !t.hasSerial && method != http.MethodDelete {
		return t.id, "", notFound("No serial number.")
	}
	conn, ok := s.Registry.Lookup(t.id)
	if !ok {
		return t.id, "", notFound("No session with the provided identifier.")
	}

	switch method {
	case http.MethodDelete:
		s.terminate(t.id, observability.SessionEndClient)
		_ = ex.respond(http.StatusNoContent, contentTypeText, nil)
		return t.id, "Client disconnected", nil
	case http.MethodPost:
		payload, err := readPayload(r, s.cfg.Queues.withDefaults().InboundCapacity)
		if err != nil {
			return t.id, "", err
		}
		ex.payload = payload
		keepAlive, err := conn.Submit(ex, t.serial)
		if err != nil {
			return t.id, "", err
		}
		if !keepAlive {
			s.remove(t.id, observability.SessionEndServer)
			return t.id, "Server disconnected", nil
		}
		return t.id, fmt.Sprintf("Accepted serial %d, read %d bytes", t.serial, len(ex.Payload())), nil
	default:
		return t.id, "", methodNotAllowed("Only POST or DELETE method allowed for session requests.")
	}
}

func (s *Server) terminate(id, reason string) {
	if conn, ok := s.Registry.Remove(id); ok {
		conn.Terminate()
		observability.SessionEnded(reason)
	}
}

// remove drops a session the server side ended. Blocked readers see io.EOF
// after buffered bytes.
func (s *Server) remove(id, reason string) {
	if conn, ok := s.Registry.Remove(id); ok {
		conn.inbound.End()
		observability.SessionEnded(reason)
	}
}

// record emits the one log record each request gets.
func (s *Server) record(id, detail, peer string) {
	if id == "" {
		id = "-"
	}
	s.logger.Info().
		Str("session", id).
		Str("proto", ProtocolTag).
		Str("peer", peer).
		Msg(detail)
}

func (s *Server) writeResponse(c *gin.Context, ex *httpExchange, id string) {
	status, contentType, body := ex.response()
	if status != http.StatusNoContent {
		c.Header("Content-Type", contentType)
		c.Header("Content-Length", strconv.Itoa(len(body)))
	}
	c.Status(status)
	if len(body) == 0 {
		c.Writer.WriteHeaderNow()
		return
	}
	if _, err := c.Writer.Write(body); err != nil {
		s.logger.Warn().
			Err(err).
			Str("session", id).
			Str("peer", ex.RemoteAddr()).
			Int("bytes", len(body)).
			Msg("response write failed")
	}
}

// readPayload reads at most limit bytes of the request body.
func readPayload(r *http.Request, limit int) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, int64(limit)+1))
	if err != nil {
		return nil, &ProtocolError{Status: http.StatusBadRequest, Message: "Request body: " + err.Error()}
	}
	if len(data) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, limit)
	}
	return data, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = normalizeOrigins(origins)
	return cfg
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
