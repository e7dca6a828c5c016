package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	apperrors "github.com/codeclash/arena/internal/platform/errors"
	"github.com/codeclash/arena/internal/platform/timeouts"
	"github.com/codeclash/arena/internal/services/lobby/domain/session"
	"github.com/codeclash/arena/internal/services/lobby/service"
)

// maxBodyBytes bounds request bodies; lobby payloads are tiny.
const maxBodyBytes = 4 << 10

type handler struct {
	svc      *service.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// newHandler builds the lobby HTTP surface: JSON routes under /v1 plus a
// websocket push endpoint for quick-match pairing.
func newHandler(svc *service.Service, logger *zap.Logger, allowedOrigins []string) http.Handler {
	h := &handler{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/rooms", h.createRoom).Methods(http.MethodPost)
	v1.HandleFunc("/rooms/{code}/confirm", h.confirmRoom).Methods(http.MethodPost)
	v1.HandleFunc("/rooms/{code}/join", h.joinRoom).Methods(http.MethodPost)
	v1.HandleFunc("/rooms/{code}", h.cancelRoom).Methods(http.MethodDelete)
	v1.HandleFunc("/quickmatch", h.quickMatch).Methods(http.MethodPost)
	v1.HandleFunc("/quickmatch/{ticketId}/watch", h.watchTicket).Methods(http.MethodGet)
	v1.HandleFunc("/quickmatch/{ticketId}", h.pollTicket).Methods(http.MethodGet)
	v1.HandleFunc("/quickmatch/{ticketId}", h.cancelTicket).Methods(http.MethodDelete)

	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}

// originChecker enforces the CORS origin allow-list on websocket upgrades.
func originChecker(allowedOrigins []string) func(*http.Request) bool {
	for _, o := range allowedOrigins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// sessionPayload is the session descriptor wire shape.
type sessionPayload struct {
	Code         string    `json:"code"`
	Difficulty   string    `json:"difficulty"`
	State        string    `json:"state"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func toSessionPayload(s session.Session) sessionPayload {
	participants := s.Participants
	if participants == nil {
		participants = []string{}
	}
	return sessionPayload{
		Code:         s.Code,
		Difficulty:   session.DifficultyLabel(s.Difficulty),
		State:        session.StateLabel(s.State),
		Participants: participants,
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
	}
}

type ticketPayload struct {
	TicketID string          `json:"ticketId"`
	Status   string          `json:"status"`
	Session  *sessionPayload `json:"session,omitempty"`
}

type roomRequest struct {
	Difficulty string `json:"difficulty"`
	PlayerID   string `json:"playerId"`
}

type errorPayload struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		h.writeError(w, apperrors.Wrap(apperrors.CodeInvalidRequest, "malformed request body", err))
		return false
	}
	return true
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	message := "internal error"
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	} else {
		h.logger.Error("unclassified handler error", zap.Error(err))
	}
	h.writeJSON(w, code.HTTPStatus(), errorPayload{Error: errorBody{
		Code:    string(code),
		Message: message,
	}})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.svc.CreateRoom(r.Context(), req.Difficulty, req.PlayerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toSessionPayload(sess))
}

func (h *handler) confirmRoom(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.svc.ConfirmRoom(r.Context(), mux.Vars(r)["code"], req.PlayerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSessionPayload(sess))
}

func (h *handler) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.svc.JoinRoom(r.Context(), mux.Vars(r)["code"], req.PlayerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSessionPayload(sess))
}

func (h *handler) cancelRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelRoom(r.Context(), mux.Vars(r)["code"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) quickMatch(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if !h.decode(w, r, &req) {
		return
	}
	handle, err := h.svc.QuickMatch(r.Context(), req.Difficulty, req.PlayerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	// Pairing may already have happened; report the current state so a
	// second arrival sees MATCHED without a follow-up poll.
	status, err := h.svc.PollTicket(r.Context(), handle.TicketID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, toTicketPayload(status))
}

func toTicketPayload(status service.TicketStatus) ticketPayload {
	payload := ticketPayload{
		TicketID: status.TicketID,
		Status:   service.TicketStateLabel(status.State),
	}
	if status.Session != nil {
		p := toSessionPayload(*status.Session)
		payload.Session = &p
	}
	return payload
}

func (h *handler) pollTicket(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.PollTicket(r.Context(), mux.Vars(r)["ticketId"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toTicketPayload(status))
}

func (h *handler) cancelTicket(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelTicket(r.Context(), mux.Vars(r)["ticketId"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// watchTicket upgrades to a websocket and pushes the pairing result as a
// single ticket payload once it arrives, then closes the connection.
func (h *handler) watchTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := mux.Vars(r)["ticketId"]
	ch, err := h.svc.WatchTicket(r.Context(), ticketID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake failure.
		h.logger.Warn("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	select {
	case res, ok := <-ch:
		conn.SetWriteDeadline(time.Now().Add(timeouts.WebsocketWrite))
		switch {
		case !ok:
			// Cancelled before pairing.
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "ticket cancelled"),
				time.Now().Add(timeouts.WebsocketWrite))
		case res.Err != nil:
			code := apperrors.GetCode(res.Err)
			conn.WriteJSON(errorPayload{Error: errorBody{
				Code:    string(code),
				Message: "pairing failed",
			}})
		default:
			payload := toSessionPayload(res.Session)
			conn.WriteJSON(ticketPayload{
				TicketID: ticketID,
				Status:   service.TicketStateLabel(service.TicketStateMatched),
				Session:  &payload,
			})
		}
	case <-r.Context().Done():
	}
}
