// Package api provides the HTTP handlers for market creation, order
// submission, settlement, and read-only market/user queries.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/BakaOtaku/robet-ai/internal/admission"
	"github.com/BakaOtaku/robet-ai/internal/apperr"
	"github.com/BakaOtaku/robet-ai/internal/ledger"
	"github.com/BakaOtaku/robet-ai/internal/matching"
	"github.com/BakaOtaku/robet-ai/internal/metrics"
	"github.com/BakaOtaku/robet-ai/internal/model"
	"github.com/BakaOtaku/robet-ai/internal/settlement"
	"github.com/BakaOtaku/robet-ai/internal/ws"
)

var validate = validator.New()

// Service holds the HTTP handlers for the exchange API.
type Service struct {
	ledger   ledger.Ledger
	admitter *admission.Admitter
	hub      *ws.Hub
}

// NewService creates a new API service. hub may be nil if WebSocket
// broadcasting is not needed.
func NewService(lg ledger.Ledger, admitter *admission.Admitter, hub *ws.Hub) *Service {
	return &Service{ledger: lg, admitter: admitter, hub: hub}
}

// --- Request/response types ---

// CreateMarketRequest is the JSON body for POST /api/v1/markets.
type CreateMarketRequest struct {
	Question       string    `json:"question" validate:"required"`
	Creator        string    `json:"creator" validate:"required"`
	ResolutionTime time.Time `json:"resolution_time" validate:"required"`
}

// SettleRequest is the JSON body for POST /api/v1/markets/{marketID}/settle.
type SettleRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=YES NO"`
}

// SubmitOrderRequest is the JSON body for POST /api/v1/orders. Price must
// be the exact textual form the client signed; Quantity is a JSON integer
// and is rendered as a plain base-10 integer in the signed message.
type SubmitOrderRequest struct {
	MarketID      string `json:"market_id" validate:"required"`
	UserID        string `json:"user_id" validate:"required"`
	ChainID       string `json:"chain_id" validate:"required"`
	WalletAddress string `json:"wallet_address" validate:"required"`
	Side          string `json:"side" validate:"required,oneof=BUY SELL"`
	TokenType     string `json:"token_type" validate:"required,oneof=YES NO"`
	Price         string `json:"price" validate:"required"`
	Quantity      int64  `json:"quantity" validate:"required,gt=0"`

	Signature      string `json:"signature" validate:"required"`
	SessionPubKey  string `json:"session_pub_key,omitempty"`
	SessionAddress string `json:"session_address,omitempty"`
}

// OrderResult is the JSON body returned from POST /api/v1/orders.
type OrderResult struct {
	Order  *model.Order  `json:"order"`
	Trades []*model.Trade `json:"trades"`
}

// BookResponse is the JSON body returned from GET .../book.
type BookResponse struct {
	Yes bookSide `json:"yes"`
	No  bookSide `json:"no"`
}

type bookSide struct {
	Bids    []matching.Level `json:"bids"`
	Asks    []matching.Level `json:"asks"`
	BestBid string           `json:"best_bid,omitempty"`
	BestAsk string           `json:"best_ask,omitempty"`
}

// UserLedgerResponse is the JSON body returned from GET .../ledger.
type UserLedgerResponse struct {
	Balance  *model.UserBalance `json:"balance"`
	Position *model.Position   `json:"position,omitempty"`
}

// --- Handlers ---

// CreateMarket handles POST /api/v1/markets.
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.MissingField, "invalid request body"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, apperr.New(apperr.MissingField, "%s", err))
		return
	}

	market := &model.Market{
		ID:             uuid.New().String(),
		Question:       req.Question,
		Creator:        req.Creator,
		ResolutionTime: req.ResolutionTime,
		Outcome:        model.Unresolved,
		Settled:        false,
		CreatedAt:      time.Now().UTC(),
	}

	ctx := r.Context()
	err := s.ledger.Transact(ctx, market.ID, func(ctx context.Context, tx ledger.Tx) error {
		return tx.SaveMarket(ctx, market)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.ActiveMarkets.Inc()
	slog.Info("market created", "market_id", market.ID, "creator", market.Creator)

	writeJSON(w, http.StatusCreated, market)
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	market, err := s.ledger.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// ListMarkets handles GET /api/v1/markets.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.ledger.ListMarkets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if markets == nil {
		markets = []*model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// SettleMarket handles POST /api/v1/markets/{marketID}/settle.
func (s *Service) SettleMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.MissingField, "invalid request body"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, apperr.New(apperr.MissingField, "%s", err))
		return
	}

	outcome := model.Outcome(req.Outcome)
	if err := settlement.Settle(r.Context(), s.ledger, marketID, outcome); err != nil {
		writeError(w, err)
		return
	}

	metrics.SettlementsTotal.WithLabelValues(req.Outcome).Inc()
	metrics.ActiveMarkets.Dec()
	slog.Info("market settled", "market_id", marketID, "outcome", req.Outcome)

	if s.hub != nil {
		s.hub.Broadcast(ws.Message{Type: "settled", MarketID: marketID, Side: req.Outcome})
	}

	writeJSON(w, http.StatusOK, map[string]string{"market_id": marketID, "outcome": req.Outcome})
}

// GetBook handles GET /api/v1/markets/{marketID}/book.
func (s *Service) GetBook(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	resp := BookResponse{}
	for _, tt := range [2]model.TokenType{model.Yes, model.No} {
		orders, err := s.ledger.ListOpenOrders(r.Context(), marketID)
		if err != nil {
			writeError(w, err)
			return
		}
		book := matching.NewBook()
		for _, o := range orders {
			if o.TokenType == tt {
				book.Add(o)
			}
		}
		bids, asks := book.Snapshot(0)
		side := bookSide{Bids: bids, Asks: asks}
		if len(bids) > 0 {
			side.BestBid = bids[0].Price
		}
		if len(asks) > 0 {
			side.BestAsk = asks[0].Price
		}
		if tt == model.Yes {
			resp.Yes = side
		} else {
			resp.No = side
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetOrders handles GET /api/v1/markets/{marketID}/orders.
func (s *Service) GetOrders(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	orders, err := s.ledger.ListOpenOrders(r.Context(), marketID)
	if err != nil {
		writeError(w, err)
		return
	}
	if orders == nil {
		orders = []*model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetTrades handles GET /api/v1/markets/{marketID}/trades.
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var tokenType *model.TokenType
	if q := r.URL.Query().Get("token_type"); q != "" {
		tt := model.TokenType(q)
		tokenType = &tt
	}

	trades, err := s.ledger.ListTrades(r.Context(), marketID, tokenType)
	if err != nil {
		writeError(w, err)
		return
	}
	if trades == nil {
		trades = []*model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// SubmitOrder handles POST /api/v1/orders.
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.MissingField, "invalid request body"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, apperr.New(apperr.MissingField, "%s", err))
		return
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		writeError(w, apperr.New(apperr.InvalidPrice, "price %q is not a valid decimal", req.Price))
		return
	}

	order, trades, err := s.admitter.Submit(r.Context(), admission.Request{
		MarketID:       req.MarketID,
		UserID:         req.UserID,
		ChainID:        req.ChainID,
		WalletAddress:  req.WalletAddress,
		Side:           model.Side(req.Side),
		TokenType:      model.TokenType(req.TokenType),
		Price:          price,
		PriceText:      req.Price,
		Quantity:       req.Quantity,
		Signature:      req.Signature,
		SessionPubKey:  req.SessionPubKey,
		SessionAddress: req.SessionAddress,
	})
	if err != nil {
		if apperr.Is(err, apperr.LimitExceeded) {
			metrics.RiskLimitRejections.Inc()
		}
		writeError(w, err)
		return
	}

	metrics.OrdersTotal.WithLabelValues(string(order.Side), string(order.TokenType)).Inc()
	for _, t := range trades {
		metrics.TradesTotal.WithLabelValues(string(t.TokenType)).Inc()
		metrics.MarketVolume.WithLabelValues(t.MarketID, string(t.TokenType)).Add(float64(t.Quantity))
		if s.hub != nil {
			s.hub.Broadcast(ws.Message{
				Type:      "trade",
				MarketID:  t.MarketID,
				TokenType: string(t.TokenType),
				Price:     t.Price.String(),
				Quantity:  t.Quantity,
			})
		}
	}

	slog.Info("order admitted",
		"order_id", order.ID, "market_id", order.MarketID, "user_id", order.UserID,
		"side", order.Side, "token_type", order.TokenType, "status", order.Status, "fills", len(trades))

	writeJSON(w, http.StatusCreated, OrderResult{Order: order, Trades: trades})
}

// GetUserLedger handles GET /api/v1/users/{userID}/ledger. chain_id is
// required; market_id is optional and, if present, includes that
// market's position alongside the balance.
func (s *Service) GetUserLedger(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	chainID := r.URL.Query().Get("chain_id")
	if chainID == "" {
		writeError(w, apperr.New(apperr.MissingField, "chain_id query parameter is required"))
		return
	}

	balance, err := s.ledger.GetBalance(r.Context(), userID, chainID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := UserLedgerResponse{Balance: balance}

	if marketID := r.URL.Query().Get("market_id"); marketID != "" {
		position, err := s.ledger.GetPosition(r.Context(), userID, chainID, marketID)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Position = position
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health.
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "robet-ai"})
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	status := statusFor(code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   string(code),
		"detail":  err.Error(),
	})
}

func statusFor(code apperr.Code) int {
	switch code {
	case apperr.InvalidPrice, apperr.InvalidQuantity, apperr.InvalidChain, apperr.MalformedSignature, apperr.MissingField:
		return http.StatusBadRequest
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	case apperr.UnsupportedChain:
		return http.StatusForbidden
	case apperr.UserNotFound, apperr.MarketNotFound, apperr.OrderNotFound, apperr.NotFound:
		return http.StatusNotFound
	case apperr.MarketClosed, apperr.AlreadySettled, apperr.Conflict:
		return http.StatusConflict
	case apperr.InsufficientFunds, apperr.InsufficientTokens, apperr.LimitExceeded:
		return http.StatusUnprocessableEntity
	case apperr.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case apperr.Unavailable, apperr.LedgerInconsistency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
