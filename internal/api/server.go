// Package api wires every call-core component behind an HTTP surface:
// call lifecycle, signaling pass-through, ICE config, recording control,
// recording ingest, and recording-queue self-service, all scoped by the
// AuthContext the bearer-token middleware resolves.
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/familyspace/callcore/internal/api/middleware"
	"github.com/familyspace/callcore/internal/authctx"
	"github.com/familyspace/callcore/internal/callerr"
	"github.com/familyspace/callcore/internal/callstate"
	"github.com/familyspace/callcore/internal/coordinator"
	"github.com/familyspace/callcore/internal/ice"
	"github.com/familyspace/callcore/internal/ingest"
	"github.com/familyspace/callcore/internal/recorder"
	"github.com/familyspace/callcore/internal/recordingqueue"
	"github.com/familyspace/callcore/internal/signaling"
)

// Config holds the HTTP-layer tunables NewServer needs beyond the component
// references it's handed.
type Config struct {
	CORSOrigins []string
	TLSEnabled  bool
	JWTSecret   []byte
}

// Server holds every component the HTTP surface dispatches into and builds
// the chi router that exposes them.
type Server struct {
	coord  *coordinator.Coordinator
	rec    *recorder.Coordinator
	ing    *ingest.Coordinator
	queue  *recordingqueue.Queue
	ice    *ice.Provider
	cfg    Config
	logger *slog.Logger
	router chi.Router

	limiters []*middleware.IPRateLimiter
}

// NewServer builds the Server and its route table.
func NewServer(coord *coordinator.Coordinator, rec *recorder.Coordinator, ing *ingest.Coordinator, queue *recordingqueue.Queue, iceProvider *ice.Provider, cfg Config, logger *slog.Logger) *Server {
	s := &Server{
		coord:  coord,
		rec:    rec,
		ing:    ing,
		queue:  queue,
		ice:    iceProvider,
		cfg:    cfg,
		logger: logger.With("subsystem", "api"),
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the background cleanup goroutines backing the rate limiters.
func (s *Server) Close() {
	for _, l := range s.limiters {
		l.Stop()
	}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.CORS(s.cfg.CORSOrigins))
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders(s.cfg.TLSEnabled))

	generalLimiter := middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig())
	initiateLimiter := middleware.NewIPRateLimiter(middleware.AuthRateLimitConfig())
	s.limiters = append(s.limiters, generalLimiter, initiateLimiter)
	r.Use(middleware.RateLimit(generalLimiter))

	r.Group(func(r chi.Router) {
		r.Use(authctx.RequireAuth(s.cfg.JWTSecret))

		r.Route("/groups/{gid}/calls", func(r chi.Router) {
			r.Get("/", s.handleListCalls)
			r.Get("/active", s.handleListActive)
			r.With(middleware.RateLimit(initiateLimiter)).Post("/", s.handleInitiate)

			r.Route("/{cid}", func(r chi.Router) {
				r.Put("/respond", s.handleRespond)
				r.Put("/end", s.handleEnd)
				r.Put("/leave", s.handleLeave)
				r.Put("/hide-recording", s.handleHideRecording)

				r.Post("/recording", s.handleIngestRecording)

				r.Post("/signal", s.handleDepositSignal)
				r.Get("/signal", s.handleDrainSignals)

				r.Get("/ice-servers", s.handleIceServers)

				r.Post("/start-recording", s.handleStartRecording)
				r.Post("/stop-recording", s.handleStopRecording)
				r.Get("/recording-status", s.handleRecordingStatus)

				r.Get("/recorder-signal", s.handleRecorderSignalDrain)
				r.Post("/recorder-signal", s.handleRecorderSignalDeposit)
			})
		})

		r.Route("/recording-queue", func(r chi.Router) {
			r.Get("/status", s.handleQueueStatus)
			r.Post("/join", s.handleQueueJoin)
			r.Post("/leave", s.handleQueueLeave)
			r.Get("/position/{qid}", s.handleQueuePosition)
			r.Get("/check-turn/{qid}", s.handleQueueCheckTurn)
		})
	})

	return r
}

func authFrom(r *http.Request) *authctx.AuthContext {
	ac, _ := authctx.FromContext(r.Context())
	return ac
}

func kindFromQuery(r *http.Request) callstate.Kind {
	switch r.URL.Query().Get("kind") {
	case "video":
		return callstate.KindVideo
	case "voice":
		return callstate.KindVoice
	default:
		return ""
	}
}

func parseKind(raw string) (callstate.Kind, bool) {
	switch raw {
	case string(callstate.KindVideo):
		return callstate.KindVideo, true
	case string(callstate.KindVoice):
		return callstate.KindVoice, true
	default:
		return "", false
	}
}

// --- call lifecycle ---

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	gid := chi.URLParam(r, "gid")
	page, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	aggs, total, err := s.coord.ListCalls(r.Context(), authFrom(r), gid, kindFromQuery(r), page.Limit, page.Offset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PaginatedResponse{Items: aggs, Total: total, Limit: page.Limit, Offset: page.Offset})
}

func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	gid := chi.URLParam(r, "gid")
	active, incoming, err := s.coord.ListActive(r.Context(), authFrom(r), gid)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": active, "incoming": incoming})
}

type initiateRequest struct {
	Kind     string   `json:"kind"`
	Invitees []string `json:"invitees"`
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	gid := chi.URLParam(r, "gid")
	var req initiateRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	kind, ok := parseKind(req.Kind)
	if !ok {
		writeError(w, http.StatusBadRequest, "kind must be voice or video")
		return
	}
	agg, err := s.coord.Initiate(r.Context(), authFrom(r), gid, kind, req.Invitees)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agg)
}

type respondRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	var req respondRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	var accept bool
	switch req.Action {
	case "accept":
		accept = true
	case "reject":
		accept = false
	default:
		writeError(w, http.StatusBadRequest, "action must be accept or reject")
		return
	}
	agg, err := s.coord.Respond(r.Context(), authFrom(r), cid, accept)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	agg, err := s.coord.End(r.Context(), authFrom(r), cid)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	agg, err := s.coord.Leave(r.Context(), authFrom(r), cid)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (s *Server) handleHideRecording(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	agg, err := s.coord.HideRecording(r.Context(), authFrom(r), cid)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// --- signaling pass-through ---

type depositSignalRequest struct {
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data"`
	TargetPeerID string          `json:"targetPeerId"`
}

// signalDTO is the wire shape of a relayed signal. Message.Data is carried
// as an opaque byte payload internally; here it round-trips as the raw JSON
// value the client originally sent.
type signalDTO struct {
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	FromPeerID string          `json:"fromPeerId"`
}

func toSignalDTOs(signals []signaling.Message) []signalDTO {
	out := make([]signalDTO, len(signals))
	for i, m := range signals {
		out[i] = signalDTO{Type: string(m.Type), Data: json.RawMessage(m.Data), FromPeerID: m.FromPeerID}
	}
	return out
}

func (s *Server) handleDepositSignal(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	var req depositSignalRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	msg := signaling.Message{Type: signaling.MessageType(req.Type), Data: []byte(req.Data)}
	if err := s.coord.DepositSignal(r.Context(), authFrom(r), cid, req.TargetPeerID, msg); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleDrainSignals(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	signals, peers, myPeerID, err := s.coord.DrainSignals(r.Context(), authFrom(r), cid)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": toSignalDTOs(signals), "peers": peers, "myPeerId": myPeerID})
}

// --- ICE config ---

func (s *Server) handleIceServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"iceServers": s.ice.Servers()})
}

// --- recording control ---

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	kind, ok := parseKind(r.URL.Query().Get("kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, "kind must be voice or video")
		return
	}
	result, err := s.rec.Start(r.Context(), authFrom(r), cid, kind)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	kind, ok := parseKind(r.URL.Query().Get("kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, "kind must be voice or video")
		return
	}
	if err := s.rec.Stop(r.Context(), authFrom(r), cid, kind); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	kind, ok := parseKind(r.URL.Query().Get("kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, "kind must be voice or video")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recording": s.rec.IsRecording(r.Context(), cid, kind)})
}

func (s *Server) handleRecorderSignalDrain(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	writeJSON(w, http.StatusOK, map[string]any{"signals": toSignalDTOs(s.rec.GetRecorderSignals(cid))})
}

type recorderSignalRequest struct {
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data"`
	TargetPeerID string          `json:"targetPeerId"`
}

func (s *Server) handleRecorderSignalDeposit(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	var req recorderSignalRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	msg := signaling.Message{Type: signaling.MessageType(req.Type), Data: []byte(req.Data)}
	if err := s.rec.SendRecorderSignal(cid, req.TargetPeerID, msg); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// --- recording ingest ---

func (s *Server) handleIngestRecording(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	kind, ok := parseKind(r.URL.Query().Get("kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, "kind must be voice or video")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRecordingBodySize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form with an artifact field")
		return
	}

	file, header, err := r.FormFile("artifact")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing artifact file field")
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if err := s.ing.Ingest(r.Context(), authFrom(r), cid, kind, io.Reader(file), mimeType); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// --- recording queue self-service ---

type queueJoinRequest struct {
	Kind                 string   `json:"kind"`
	IntendedParticipants []string `json:"intendedParticipants"`
	DisplayName          string   `json:"displayName"`
	Email                string   `json:"email"`
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Status())
}

func (s *Server) handleQueueJoin(w http.ResponseWriter, r *http.Request) {
	auth := authFrom(r)
	if auth == nil {
		s.writeDomainError(w, callerr.ErrUnauthenticated)
		return
	}
	var req queueJoinRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	kind, ok := parseKind(req.Kind)
	if !ok {
		writeError(w, http.StatusBadRequest, "kind must be voice or video")
		return
	}
	result, err := s.queue.Admit(r.Context(), auth.UserID, auth.GroupID, kind, req.IntendedParticipants, req.DisplayName, req.Email)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type queueLeaveRequest struct {
	QueueID string `json:"queueId"`
	Kind    string `json:"kind"`
}

func (s *Server) handleQueueLeave(w http.ResponseWriter, r *http.Request) {
	auth := authFrom(r)
	if auth == nil {
		s.writeDomainError(w, callerr.ErrUnauthenticated)
		return
	}
	var req queueLeaveRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	var err error
	if req.QueueID != "" {
		err = s.queue.Leave(req.QueueID)
	} else {
		kind, ok := parseKind(req.Kind)
		if !ok {
			writeError(w, http.StatusBadRequest, "queueId or kind is required")
			return
		}
		err = s.queue.LeaveByUser(auth.UserID, kind)
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleQueuePosition(w http.ResponseWriter, r *http.Request) {
	qid := chi.URLParam(r, "qid")
	snapshot, err := s.queue.Position(qid)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleQueueCheckTurn(w http.ResponseWriter, r *http.Request) {
	qid := chi.URLParam(r, "qid")
	yourTurn, err := s.queue.CheckTurn(qid)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"yourTurn": yourTurn})
}
