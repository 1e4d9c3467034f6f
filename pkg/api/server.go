package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/oplimit/pkg/app/core"
	"github.com/uhyunpark/oplimit/pkg/app/core/orderpool"
	"github.com/uhyunpark/oplimit/pkg/app/core/transaction"
	"github.com/uhyunpark/oplimit/pkg/app/limitorder"
	"github.com/uhyunpark/oplimit/pkg/metrics"
	"github.com/uhyunpark/oplimit/pkg/storage"
	"github.com/uhyunpark/oplimit/pkg/util"
)

// Spender marks owner request digests as used.
type Spender interface {
	Spend(digest common.Hash) error
}

// Gossip forwards accepted orders to peers.
type Gossip interface {
	BroadcastOrder(ctx context.Context, tx *transaction.SubmitTx) error
}

type Config struct {
	Engine      *limitorder.Engine
	Pool        *orderpool.Pool
	Auth        Spender
	Gossip      Gossip // optional
	Clock       util.Clock
	Logger      *zap.SugaredLogger
	CORSOrigins []string
}

// Server handles REST API and WebSocket connections
type Server struct {
	engine   *limitorder.Engine
	verifier *transaction.Verifier
	pool     *orderpool.Pool
	auth     Spender
	gossip   Gossip
	clock    util.Clock
	log      *zap.SugaredLogger
	origins  []string

	router *mux.Router
	hub    *Hub // WebSocket hub
}

// NewServer creates a new API server and subscribes the WebSocket hub to
// engine events.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Pool == nil {
		cfg.Pool = orderpool.New(0)
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}

	s := &Server{
		engine:   cfg.Engine,
		verifier: transaction.NewVerifier(cfg.Engine.Codec()),
		pool:     cfg.Pool,
		auth:     cfg.Auth,
		gossip:   cfg.Gossip,
		clock:    cfg.Clock,
		log:      cfg.Logger,
		origins:  cfg.CORSOrigins,
		router:   mux.NewRouter(),
		hub:      NewHub(cfg.Logger),
	}

	s.setupRoutes()
	s.engine.Subscribe(s.onEvent)
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Fills
	api.HandleFunc("/orders/open/fill", s.handleFillOpen).Methods("POST")
	api.HandleFunc("/orders/close/fill", s.handleFillClose).Methods("POST")

	// Identity and progress
	api.HandleFunc("/orders/open/hash", s.handleHashOpen).Methods("POST")
	api.HandleFunc("/orders/close/hash", s.handleHashClose).Methods("POST")
	api.HandleFunc("/orders/id", s.handleOrderID).Methods("POST")
	api.HandleFunc("/orders/{id}/remaining", s.handleRemaining).Methods("GET")
	api.HandleFunc("/orders/{id}/fills", s.handleFills).Methods("GET")

	// Order submission
	api.HandleFunc("/orders/submit", s.handleSubmitOrder).Methods("POST")

	// Owner requests
	api.HandleFunc("/orders/cancel", s.handleCancelOrders).Methods("POST")
	api.HandleFunc("/positions/close-and-cancel", s.handleCloseAndCancel).Methods("POST")

	// WebSocket endpoint
	api.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Prometheus scrape endpoint
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.router.Use(s.requestMiddleware)
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start runs the WebSocket hub and serves until ctx is done
func (s *Server) Start(ctx context.Context, addr string) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Infow("api_server_starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// Fill Handlers
// ==============================

func (s *Server) handleFillOpen(w http.ResponseWriter, r *http.Request) {
	var req transaction.FillOpenTx
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	order, err := req.Order.ToOpenOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	sig, fill, filler, err := parseFill(req.Signature, "fill_deposit", req.FillDeposit, req.Filler)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid fill", err.Error())
		return
	}

	res, err := s.engine.FillOpenOrder(r.Context(), limitorder.FillOpenParams{
		Order:       order,
		Signature:   sig,
		FillDeposit: fill,
		RoutingData: req.RoutingData,
		Filler:      filler,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, fillResponse(res))
}

func (s *Server) handleFillClose(w http.ResponseWriter, r *http.Request) {
	var req transaction.FillCloseTx
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	order, err := req.Order.ToCloseOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	sig, fill, filler, err := parseFill(req.Signature, "fill_close_held", req.FillCloseHeld, req.Filler)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid fill", err.Error())
		return
	}

	res, err := s.engine.FillCloseOrder(r.Context(), limitorder.FillCloseParams{
		Order:         order,
		Signature:     sig,
		FillCloseHeld: fill,
		RoutingData:   req.RoutingData,
		Filler:        filler,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, fillResponse(res))
}

// parseFill decodes the filler-supplied fields shared by both fill requests.
// A malformed signature is passed through so the engine reports SNE.
func parseFill(sigHex, amountName, amount, fillerHex string) ([]byte, *big.Int, common.Address, error) {
	sig, err := transaction.DecodeSignature(sigHex)
	if err != nil {
		sig = nil
	}
	fill, err := transaction.ParseAmount(amountName, amount)
	if err != nil {
		return nil, nil, common.Address{}, err
	}
	filler, err := transaction.ParseAddress("filler", fillerHex)
	if err != nil {
		return nil, nil, common.Address{}, err
	}
	return sig, fill, filler, nil
}

// ==============================
// Identity Handlers
// ==============================

func (s *Server) handleHashOpen(w http.ResponseWriter, r *http.Request) {
	var req transaction.OpenOrderPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	order, err := req.ToOpenOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	s.respondHash(w, core.RefOfOpen(order))
}

func (s *Server) handleHashClose(w http.ResponseWriter, r *http.Request) {
	var req transaction.CloseOrderPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	order, err := req.ToCloseOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	s.respondHash(w, core.RefOfClose(order))
}

func (s *Server) handleOrderID(w http.ResponseWriter, r *http.Request) {
	var req transaction.OrderRefPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	ref, err := req.ToRef()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	s.respondHash(w, ref)
}

func (s *Server) respondHash(w http.ResponseWriter, ref core.OrderRef) {
	id, err := s.engine.OrderID(ref)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unhashable order", err.Error())
		return
	}
	resp := HashResponse{OrderID: id.Hex()}
	if td, err := s.engine.Codec().TypedDataJSON(ref); err == nil {
		resp.TypedData = json.RawMessage(td)
	}
	respondJSON(w, resp)
}

func (s *Server) handleRemaining(w http.ResponseWriter, r *http.Request) {
	id, ok := parseOrderID(w, r)
	if !ok {
		return
	}
	raw, err := s.engine.RemainingRaw(id)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	resp := RemainingResponse{OrderID: id.Hex(), Raw: raw.String()}
	switch {
	case raw.Sign() == 0:
		resp.Status = "untouched"
	case raw.Cmp(big.NewInt(1)) == 0:
		resp.Status = "terminal"
		resp.Remaining = "0"
	default:
		resp.Status = "partial"
		resp.Remaining = new(big.Int).Sub(raw, big.NewInt(1)).String()
	}
	respondJSON(w, resp)
}

func (s *Server) handleFills(w http.ResponseWriter, r *http.Request) {
	id, ok := parseOrderID(w, r)
	if !ok {
		return
	}
	fills, err := s.engine.Fills(id)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	response := make([]FillInfo, len(fills))
	for i, f := range fills {
		response[i] = FillInfo{
			Seq:        f.Seq,
			Kind:       f.Kind,
			Owner:      f.Owner.Hex(),
			Filler:     f.Filler.Hex(),
			Amount:     amountString(f.Amount),
			Remaining:  amountString(f.Remaining),
			Result:     amountString(f.Result),
			Commission: amountString(f.Commission),
			Timestamp:  f.Timestamp,
		}
	}
	respondJSON(w, response)
}

func parseOrderID(w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	raw := mux.Vars(r)["id"]
	if !strings.HasPrefix(raw, "0x") {
		raw = "0x" + raw
	}
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid order id", raw)
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

// ==============================
// Submission
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req transaction.SubmitTx
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON transaction", err.Error())
		return
	}

	vo, err := s.verifier.VerifySubmit(&req)
	if err != nil {
		if core.CodeOf(err) != "" {
			respondEngineError(w, err)
		} else {
			respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		}
		return
	}
	if raw, err := s.engine.RemainingRaw(vo.ID); err == nil && raw.Cmp(big.NewInt(1)) == 0 {
		respondEngineError(w, core.ErrRemainingZero)
		return
	}

	added, err := s.pool.Add(orderpool.Entry{
		ID:        vo.ID,
		Open:      vo.Open,
		Close:     vo.Close,
		Signature: vo.Signature,
		Added:     s.clock.Now(),
	})
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "order pool rejected order", err.Error())
		return
	}

	status := "duplicate"
	if added {
		status = "submitted"
		if s.gossip != nil {
			if err := s.gossip.BroadcastOrder(r.Context(), &req); err != nil {
				s.log.Warnw("order_gossip_failed", "order_id", vo.ID.Hex(), "err", err)
			}
		}
	}

	s.log.Infow("order_submitted", "order_id", vo.ID.Hex(), "kind", req.Kind, "status", status)
	respondJSON(w, SubmitOrderResponse{Status: status, OrderID: vo.ID.Hex()})
}

// ==============================
// Owner Requests
// ==============================

// authorize verifies an owner envelope of the wanted type and burns its
// digest. It writes the error response itself and returns ok=false on
// failure.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, want transaction.TxType) (*transaction.OwnerEnvelope, common.Address, bool) {
	var env transaction.OwnerEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return nil, common.Address{}, false
	}
	if env.Type != want {
		respondError(w, http.StatusBadRequest, "invalid transaction type", "expected type="+string(want))
		return nil, common.Address{}, false
	}

	owner, digest, err := s.verifier.VerifyOwnerEnvelope(&env, s.clock.Now())
	if err != nil {
		respondErrorCode(w, http.StatusUnauthorized, "owner authorization failed", core.CodeOf(err), err.Error())
		return nil, common.Address{}, false
	}
	if s.auth != nil {
		if err := s.auth.Spend(digest); err != nil {
			if errors.Is(err, storage.ErrAlreadySpent) {
				respondError(w, http.StatusConflict, "owner request already used", digest.Hex())
			} else {
				respondError(w, http.StatusInternalServerError, "failed to record owner request", err.Error())
			}
			return nil, common.Address{}, false
		}
	}
	return &env, owner, true
}

func (s *Server) handleCancelOrders(w http.ResponseWriter, r *http.Request) {
	env, owner, ok := s.authorize(w, r, transaction.TxTypeCancel)
	if !ok {
		return
	}

	var req transaction.CancelOrdersTx
	if err := json.Unmarshal(env.Request, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid cancel request", err.Error())
		return
	}
	refs, err := transaction.ToRefs(req.Orders)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}

	ids, err := s.engine.CancelOrders(r.Context(), owner, refs)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	for _, id := range ids {
		s.pool.Remove(id)
	}
	respondJSON(w, CancelResponse{Cancelled: hexHashes(ids)})
}

func (s *Server) handleCloseAndCancel(w http.ResponseWriter, r *http.Request) {
	env, owner, ok := s.authorize(w, r, transaction.TxTypeCloseAndCancel)
	if !ok {
		return
	}

	var req transaction.CloseAndCancelTx
	if err := json.Unmarshal(env.Request, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid close request", err.Error())
		return
	}
	closeHeld, err := transaction.ParseAmount("closeHeld", req.CloseHeld)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid close request", err.Error())
		return
	}
	minReturn := new(big.Int)
	if req.MinReturn != "" {
		if minReturn, err = transaction.ParseAmount("minReturn", req.MinReturn); err != nil {
			respondError(w, http.StatusBadRequest, "invalid close request", err.Error())
			return
		}
	}
	stale, err := transaction.ToRefs(req.StaleOrders)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}

	res, err := s.engine.CloseTradeAndCancel(r.Context(), limitorder.CloseAndCancelParams{
		Caller:      owner,
		MarketID:    req.MarketID,
		LongToken:   req.LongToken,
		CloseHeld:   closeHeld,
		MinReturn:   minReturn,
		RoutingData: req.RoutingData,
		StaleOrders: stale,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	for _, id := range res.Cancelled {
		s.pool.Remove(id)
	}
	respondJSON(w, CloseAndCancelResponse{
		DepositReturn: res.DepositReturn.String(),
		Cancelled:     hexHashes(res.Cancelled),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics.PoolSize.Set(float64(s.pool.Len()))
	respondJSON(w, HealthResponse{
		Status:      "ok",
		Initialized: s.engine.Initialized(),
		PoolSize:    s.pool.Len(),
	})
}

// ==============================
// Event Broadcast
// ==============================

// onEvent runs inside the engine's write lock, so it must not block.
func (s *Server) onEvent(ev limitorder.Event) {
	if ev.Type != limitorder.EventCancelled && ev.Type != limitorder.EventPositionClosed {
		if ev.Remaining != nil && ev.Remaining.Sign() == 0 {
			s.pool.Remove(ev.OrderID)
		}
	}

	msg := WSMessage{Type: string(ev.Type), Data: EventInfo{
		OrderID:    hashString(ev.OrderID),
		Owner:      ev.Owner.Hex(),
		Filler:     addressString(ev.Filler),
		MarketID:   ev.MarketID,
		Amount:     optionalAmount(ev.Amount),
		Remaining:  optionalAmount(ev.Remaining),
		Result:     optionalAmount(ev.Result),
		Commission: optionalAmount(ev.Commission),
		Timestamp:  ev.Timestamp,
	}}
	s.hub.BroadcastToChannel(ChannelOrders, msg)
	s.hub.BroadcastToChannel(ChannelOwnerPrefix+ev.Owner.Hex(), msg)
	if ev.OrderID != (common.Hash{}) {
		s.hub.BroadcastToChannel(ChannelOrderPrefix+ev.OrderID.Hex(), msg)
	}
}

// ==============================
// Helper Functions
// ==============================

func fillResponse(res *limitorder.FillResult) FillResponse {
	return FillResponse{
		OrderID:    res.OrderID.Hex(),
		Filled:     amountString(res.Filled),
		Remaining:  amountString(res.Remaining),
		Result:     amountString(res.Result),
		Commission: amountString(res.Commission),
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func optionalAmount(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func hashString(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}

func addressString(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func hexHashes(ids []common.Hash) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Hex()
	}
	return out
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondErrorCode(w, status, error, "", message)
}

func respondErrorCode(w http.ResponseWriter, status int, error string, code core.Code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Code:    string(code),
		Message: message,
	})
}

// respondEngineError reports coded rejections as 422 and anything else as
// 500.
func respondEngineError(w http.ResponseWriter, err error) {
	code := core.CodeOf(err)
	if code == "" {
		respondError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}
	respondErrorCode(w, http.StatusUnprocessableEntity, "order rejected", code, err.Error())
}
