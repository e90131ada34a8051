package api

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joescharf/lendchat/internal/models"
	"github.com/joescharf/lendchat/internal/retrieval"
	"github.com/joescharf/lendchat/internal/store"
	"github.com/joescharf/lendchat/internal/workflow"
)

// Retriever reads the customer snapshot for the context endpoint.
type Retriever interface {
	Retrieve(ctx context.Context, customerID, message string) (*models.CustomerContext, error)
}

// Server provides the HTTP handlers.
type Server struct {
	store       store.Store
	engine      *workflow.Engine
	retriever   Retriever
	verifyToken string
	locks       *keyedMutex
	log         *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithVerifyToken sets the token the webhook verification handshake must present.
func WithVerifyToken(token string) Option {
	return func(s *Server) { s.verifyToken = token }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer creates a new API server.
func NewServer(st store.Store, engine *workflow.Engine, r Retriever, opts ...Option) *Server {
	s := &Server{
		store:     st,
		engine:    engine,
		retriever: r,
		locks:     newKeyedMutex(),
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhook/whatsapp", s.whatsappMessage)
	mux.HandleFunc("GET /webhook/whatsapp", s.whatsappVerify)

	mux.HandleFunc("POST /api/v1/messages", s.processMessage)

	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)
	mux.HandleFunc("GET /api/v1/customers/{id}/sessions", s.listCustomerSessions)
	mux.HandleFunc("GET /api/v1/customers/{id}/context", s.customerContext)

	mux.HandleFunc("GET /api/v1/escalations", s.listEscalations)
	mux.HandleFunc("POST /api/v1/escalations/{id}/resolve", s.resolveEscalation)

	mux.HandleFunc("GET /api/v1/health", s.health)

	return s.logRequests(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status,
			"duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// --- Turns ---

// turn runs one message for customerID under that customer's lock. When
// existing is nil the customer's active session, if any, is resumed.
// sessionLoader fetches the session a turn continues. It runs under the
// customer's lock so the load and the save that follows cannot interleave
// with another turn. A nil session starts a new conversation.
type sessionLoader func(ctx context.Context) (*models.Session, error)

func (s *Server) turn(ctx context.Context, customerID, text string, load sessionLoader) (workflow.Result, error) {
	unlock := s.locks.Lock(customerID)
	defer unlock()

	var existing *models.Session
	if load != nil {
		sess, err := load(ctx)
		if err != nil {
			return workflow.Result{}, err
		}
		existing = sess
	}
	return s.engine.ProcessMessage(ctx, customerID, text, existing), nil
}

// activeSession resumes the customer's open conversation, if any. Lookup
// failures start a new session rather than failing the webhook.
func (s *Server) activeSession(customerID string) sessionLoader {
	return func(ctx context.Context) (*models.Session, error) {
		sess, err := s.store.ActiveSession(ctx, customerID)
		switch {
		case err == nil:
			return sess, nil
		case !errors.Is(err, store.ErrNotFound):
			s.log.Warn("active session lookup failed, starting a new one",
				"customer_id", customerID, "error", err)
		}
		return nil, nil
	}
}

type messageRequest struct {
	CustomerID   string          `json:"customerId"`
	MessageText  string          `json:"messageText"`
	SessionState *models.Session `json:"sessionState,omitempty"`
	SessionID    string          `json:"sessionId,omitempty"`
}

func (s *Server) processMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.CustomerID) == "" {
		writeError(w, http.StatusBadRequest, "customerId is required")
		return
	}

	var load sessionLoader
	switch {
	case req.SessionState != nil:
		state := req.SessionState
		load = func(context.Context) (*models.Session, error) { return state, nil }
	case req.SessionID != "":
		id := req.SessionID
		load = func(ctx context.Context) (*models.Session, error) { return s.store.LoadSession(ctx, id) }
	}

	res, err := s.turn(r.Context(), req.CustomerID, req.MessageText, load)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- WhatsApp webhook ---

type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

// whatsappCustomerID prefers WaId and falls back to From without its
// channel prefix.
func whatsappCustomerID(r *http.Request) string {
	if id := strings.TrimSpace(r.PostForm.Get("WaId")); id != "" {
		return id
	}
	from := strings.TrimSpace(r.PostForm.Get("From"))
	return strings.TrimPrefix(from, "whatsapp:")
}

func (s *Server) whatsappMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	sid := r.PostForm.Get("MessageSid")
	if sid == "" {
		writeError(w, http.StatusBadRequest, "MessageSid is required")
		return
	}
	customerID := whatsappCustomerID(r)
	if customerID == "" {
		writeError(w, http.StatusBadRequest, "sender is required")
		return
	}

	res, err := s.turn(r.Context(), customerID, r.PostForm.Get("Body"), s.activeSession(customerID))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.log.Info("whatsapp message handled",
		"message_sid", sid, "customer_id", customerID,
		"session_id", res.NewState.SessionID, "step", res.NewState.CurrentStep,
		"escalated", res.RequiresEscalation)

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(twiml{Message: res.ReplyText})
}

func (s *Server) whatsappVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if s.verifyToken != "" && q.Get("hub.verify_token") != s.verifyToken {
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

// --- Sessions ---

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.LoadSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) listCustomerSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context(), store.SessionListFilter{
		CustomerID: r.PathValue("id"),
		Step:       models.Step(r.URL.Query().Get("step")),
		Limit:      queryLimit(r, 20),
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

type contextResponse struct {
	Segment models.Segment          `json:"segment"`
	Context *models.CustomerContext `json:"context"`
}

func (s *Server) customerContext(w http.ResponseWriter, r *http.Request) {
	cc, err := s.retriever.Retrieve(r.Context(), r.PathValue("id"), r.URL.Query().Get("q"))
	if err != nil {
		if errors.Is(err, retrieval.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, contextResponse{
		Segment: retrieval.SegmentContext(cc),
		Context: cc,
	})
}

// --- Escalations ---

func (s *Server) listEscalations(w http.ResponseWriter, r *http.Request) {
	status := models.EscalationStatus(r.URL.Query().Get("status"))
	escalations, err := s.store.ListEscalations(r.Context(), status, queryLimit(r, 50))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if escalations == nil {
		escalations = []*models.Escalation{}
	}
	writeJSON(w, http.StatusOK, escalations)
}

func (s *Server) resolveEscalation(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.ResolveEscalation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// --- Health ---

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
