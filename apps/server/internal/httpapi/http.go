package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"homegame/apps/server/internal/auth"
	"homegame/apps/server/internal/notify"
	"homegame/apps/server/internal/settlement"
	"homegame/settle"
)

const defaultRequestTimeout = 5 * time.Second

var errUnauthorized = errors.New("invalid session token")

type Options struct {
	RequestTimeout time.Duration
	// GameTTL is applied to new games that do not ask for their own.
	GameTTL      time.Duration
	AutoValidate bool
}

// HTTPHandler maps the settlement API onto JSON endpoints. It authenticates the caller,
// checks the role, and forwards; all rules live in the settlement service.
type HTTPHandler struct {
	games    *settlement.Service
	sessions auth.Service
	feed     notify.Feed
	opts     Options
	log      *log.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHTTPHandler(games *settlement.Service, sessions auth.Service, feed notify.Feed, opts Options, logger *log.Logger) *HTTPHandler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &HTTPHandler{
		games:    games,
		sessions: sessions,
		feed:     feed,
		opts:     opts,
		log:      logger.WithPrefix("http"),
	}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/games", h.handleCreateGame)
	mux.HandleFunc("GET /api/games/{gameID}", h.handleGetGame)
	mux.HandleFunc("POST /api/games/{gameID}/join", h.handleJoin)
	mux.HandleFunc("POST /api/games/{gameID}/manager/login", h.handleManagerLogin)

	mux.HandleFunc("GET /api/games/{gameID}/buyins", h.handleListBuyIns)
	mux.HandleFunc("POST /api/games/{gameID}/buyins", h.handleRequestBuyIn)
	mux.HandleFunc("POST /api/games/{gameID}/buyins/{requestID}/approve", h.handleResolveBuyIn(settle.BuyInApproved))
	mux.HandleFunc("POST /api/games/{gameID}/buyins/{requestID}/decline", h.handleResolveBuyIn(settle.BuyInDeclined))
	mux.HandleFunc("POST /api/games/{gameID}/buyins/{requestID}/edit", h.handleResolveBuyIn(settle.BuyInEdited))

	mux.HandleFunc("POST /api/games/{gameID}/settlement/start", h.handleStartSettling)
	mux.HandleFunc("POST /api/games/{gameID}/close", h.handleClose)
	mux.HandleFunc("GET /api/games/{gameID}/pool", h.handlePool)
	mux.HandleFunc("GET /api/games/{gameID}/distribution", h.handleSuggest)
	mux.HandleFunc("POST /api/games/{gameID}/distribution", h.handleApplyDistribution)
	mux.HandleFunc("GET /api/games/{gameID}/notifications", h.handleNotifications)

	mux.HandleFunc("POST /api/games/{gameID}/players/{playerID}/checkout", h.handleMidgameCheckout)
	mux.HandleFunc("POST /api/games/{gameID}/players/{playerID}/chips", h.handleSubmitChips)
	mux.HandleFunc("POST /api/games/{gameID}/players/{playerID}/validate", h.handleValidate)
	mux.HandleFunc("POST /api/games/{gameID}/players/{playerID}/reject", h.handleReject)
	mux.HandleFunc("PUT /api/games/{gameID}/players/{playerID}/distribution", h.handleOverrideDistribution)
	mux.HandleFunc("POST /api/games/{gameID}/players/{playerID}/confirm", h.handleConfirm)
}

type createGameRequest struct {
	Name         string `json:"name"`
	HostName     string `json:"host_name"`
	ManagerPIN   string `json:"manager_pin"`
	AutoValidate *bool  `json:"auto_validate,omitempty"`
	TTLMinutes   *int   `json:"ttl_minutes,omitempty"`
}

type createGameResponse struct {
	Game         gameView   `json:"game"`
	Host         playerView `json:"host"`
	PlayerToken  string     `json:"player_token"`
	ManagerToken string     `json:"manager_token"`
}

func (h *HTTPHandler) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pinHash, err := auth.HashPIN(req.ManagerPIN)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid input: "+err.Error())
		return
	}
	in := settlement.NewGame{
		Name:           req.Name,
		HostName:       req.HostName,
		ManagerPINHash: pinHash,
		AutoValidate:   h.opts.AutoValidate,
		TTL:            h.opts.GameTTL,
	}
	if req.AutoValidate != nil {
		in.AutoValidate = *req.AutoValidate
	}
	if req.TTLMinutes != nil {
		if *req.TTLMinutes < 0 {
			writeError(w, http.StatusBadRequest, "invalid input: ttl_minutes must be >= 0")
			return
		}
		in.TTL = time.Duration(*req.TTLMinutes) * time.Minute
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()
	game, host, err := h.games.CreateGame(ctx, in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	playerToken, err := h.sessions.Issue(ctx, auth.Principal{GameID: game.ID, PlayerID: host.ID, Role: auth.RolePlayer})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	managerToken, err := h.sessions.Issue(ctx, auth.Principal{GameID: game.ID, PlayerID: host.ID, Role: auth.RoleManager})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createGameResponse{
		Game:         newGameView(game),
		Host:         newPlayerView(host),
		PlayerToken:  playerToken,
		ManagerToken: managerToken,
	})
}

type joinRequest struct {
	Name string `json:"name"`
}

type joinResponse struct {
	Player playerView `json:"player"`
	Token  string     `json:"token"`
}

func (h *HTTPHandler) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	gameID := r.PathValue("gameID")
	p, err := h.games.JoinGame(ctx, gameID, req.Name)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	token, err := h.sessions.Issue(ctx, auth.Principal{GameID: gameID, PlayerID: p.ID, Role: auth.RolePlayer})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, joinResponse{Player: newPlayerView(p), Token: token})
}

type managerLoginRequest struct {
	PIN string `json:"pin"`
}

func (h *HTTPHandler) handleManagerLogin(w http.ResponseWriter, r *http.Request) {
	var req managerLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	snap, err := h.games.Snapshot(ctx, r.PathValue("gameID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if err := auth.CheckPIN(snap.Game.ManagerPINHash, req.PIN); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid pin")
		return
	}
	token, err := h.sessions.Issue(ctx, auth.Principal{GameID: snap.Game.ID, Role: auth.RoleManager})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

func (h *HTTPHandler) handleGetGame(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	if _, err := h.principal(ctx, r); err != nil {
		h.writeServiceError(w, err)
		return
	}
	snap, err := h.games.Snapshot(ctx, r.PathValue("gameID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSnapshotView(snap))
}

func (h *HTTPHandler) handleListBuyIns(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	p, err := h.principal(ctx, r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	items, err := h.games.ListBuyIns(ctx, p.GameID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	views := make([]buyInView, 0, len(items))
	for _, item := range items {
		if !p.IsManager() && item.PlayerID != p.PlayerID {
			continue
		}
		views = append(views, newBuyInView(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

type buyInRequest struct {
	PlayerID string `json:"player_id,omitempty"`
	Type     string `json:"type"`
	Amount   int64  `json:"amount"`
}

func (h *HTTPHandler) handleRequestBuyIn(w http.ResponseWriter, r *http.Request) {
	var req buyInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	typ, err := settle.ParseBuyInType(strings.ToUpper(strings.TrimSpace(req.Type)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid input: type must be CASH or CREDIT")
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	p, err := h.principal(ctx, r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	playerID := p.PlayerID
	if req.PlayerID != "" {
		if err := requireSelfOrManager(p, req.PlayerID); err != nil {
			h.writeServiceError(w, err)
			return
		}
		playerID = req.PlayerID
	}
	if playerID == "" {
		writeError(w, http.StatusBadRequest, "invalid input: player_id is required")
		return
	}
	item, err := h.games.RequestBuyIn(ctx, p.GameID, playerID, typ, req.Amount)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newBuyInView(*item))
}

type editBuyInRequest struct {
	Amount int64 `json:"amount"`
}

func (h *HTTPHandler) handleResolveBuyIn(status settle.BuyInStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var edit editBuyInRequest
		if status == settle.BuyInEdited {
			if err := decodeJSON(r, &edit); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}
		ctx, cancel := h.requestContext(r)
		defer cancel()
		p, err := h.manager(ctx, r)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		requestID := r.PathValue("requestID")
		var item *settle.BuyInRequest
		switch status {
		case settle.BuyInApproved:
			item, err = h.games.ApproveBuyIn(ctx, p.GameID, requestID)
		case settle.BuyInDeclined:
			item, err = h.games.DeclineBuyIn(ctx, p.GameID, requestID)
		default:
			item, err = h.games.EditBuyIn(ctx, p.GameID, requestID, edit.Amount)
		}
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newBuyInView(*item))
	}
}

func (h *HTTPHandler) handleStartSettling(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	p, err := h.manager(ctx, r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	game, err := h.games.StartSettling(ctx, p.GameID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newGameView(game))
}

func (h *HTTPHandler) handleClose(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	p, err := h.manager(ctx, r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	game, err := h.games.CloseGame(ctx, p.GameID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newGameView(game))
}

func (h *HTTPHandler) handlePool(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	p, err := h.manager(ctx, r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	pool, err := h.games.Pool(ctx, p.GameID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

func (h *HTTPHandler) handleSuggest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	p, err := h.manager(ctx, r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	suggestion, err := h.games.SuggestDistribution(ctx, p.GameID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSuggestionView(suggestion))
}

type applyDistributionRequest struct {
	Overrides map[string]settle.Distribution `json:"overrides,omitempty"`
}

func (h *HTTPHandler) handleApplyDistribution(w http.ResponseWriter, r *http.Request) {
	var req applyDistributionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()
	p, err := h.manager(ctx, r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	players, err := h.games.ApplyDistribution(ctx, p.GameID, req.Overrides)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": newPlayerViews(players)})
}

func (h *HTTPHandler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	p, err := h.principal(ctx, r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	viewer := p.PlayerID
	if p.IsManager() {
		viewer = ""
	}
	items, err := h.feed.List(ctx, p.GameID, viewer, after)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *HTTPHandler) handleMidgameCheckout(w http.ResponseWriter, r *http.Request) {
	h.playerAction(w, r, false, func(ctx context.Context, gameID, playerID string, _ auth.Principal) (*settle.Player, error) {
		return h.games.RequestMidgameCheckout(ctx, gameID, playerID)
	})
}

// handleSubmitChips submits for the player, or on their behalf when the caller is a manager.
func (h *HTTPHandler) handleSubmitChips(w http.ResponseWriter, r *http.Request) {
	var in settle.SubmitInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.playerAction(w, r, false, func(ctx context.Context, gameID, playerID string, caller auth.Principal) (*settle.Player, error) {
		if caller.IsManager() {
			return h.games.ManagerInput(ctx, gameID, playerID, in)
		}
		return h.games.Submit(ctx, gameID, playerID, in)
	})
}

type validateRequest struct {
	ChipCount *int64 `json:"chip_count,omitempty"`
}

func (h *HTTPHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	h.playerAction(w, r, true, func(ctx context.Context, gameID, playerID string, _ auth.Principal) (*settle.Player, error) {
		return h.games.Validate(ctx, gameID, playerID, req.ChipCount)
	})
}

func (h *HTTPHandler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.playerAction(w, r, true, func(ctx context.Context, gameID, playerID string, _ auth.Principal) (*settle.Player, error) {
		return h.games.Reject(ctx, gameID, playerID)
	})
}

func (h *HTTPHandler) handleOverrideDistribution(w http.ResponseWriter, r *http.Request) {
	var d settle.Distribution
	if err := decodeJSON(r, &d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.playerAction(w, r, true, func(ctx context.Context, gameID, playerID string, _ auth.Principal) (*settle.Player, error) {
		return h.games.OverrideDistribution(ctx, gameID, playerID, d)
	})
}

func (h *HTTPHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	h.playerAction(w, r, false, func(ctx context.Context, gameID, playerID string, _ auth.Principal) (*settle.Player, error) {
		return h.games.Confirm(ctx, gameID, playerID)
	})
}

type playerOp func(ctx context.Context, gameID, playerID string, caller auth.Principal) (*settle.Player, error)

// playerAction authorizes an operation on /players/{playerID}: managers may act on anyone,
// players only on themselves and never on manager-only operations.
func (h *HTTPHandler) playerAction(w http.ResponseWriter, r *http.Request, managerOnly bool, op playerOp) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	p, err := h.principal(ctx, r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	playerID := r.PathValue("playerID")
	if managerOnly && !p.IsManager() {
		h.writeServiceError(w, settle.ErrForbidden)
		return
	}
	if err := requireSelfOrManager(p, playerID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	player, err := op(ctx, p.GameID, playerID, p)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlayerView(player))
}

func (h *HTTPHandler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.opts.RequestTimeout)
}

// principal resolves the bearer token and checks it belongs to the game in the path.
func (h *HTTPHandler) principal(ctx context.Context, r *http.Request) (auth.Principal, error) {
	p, ok := h.sessions.Resolve(ctx, auth.BearerToken(r.Header.Get("Authorization")))
	if !ok {
		return auth.Principal{}, errUnauthorized
	}
	if p.GameID != r.PathValue("gameID") {
		return auth.Principal{}, settle.ErrForbidden
	}
	return p, nil
}

func (h *HTTPHandler) manager(ctx context.Context, r *http.Request) (auth.Principal, error) {
	p, err := h.principal(ctx, r)
	if err != nil {
		return p, err
	}
	if !p.IsManager() {
		return auth.Principal{}, settle.ErrForbidden
	}
	return p, nil
}

func requireSelfOrManager(p auth.Principal, playerID string) error {
	if p.IsManager() || p.PlayerID == playerID {
		return nil
	}
	return settle.ErrForbidden
}

func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, settle.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, settle.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, settle.ErrConflict):
		writeError(w, http.StatusConflict, "conflict: state changed, reload and retry")
	case settle.IsValidation(err):
		writeError(w, http.StatusBadRequest, "invalid input: "+err.Error())
	case settle.IsInvalidState(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		h.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
