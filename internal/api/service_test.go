package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/BakaOtaku/robet-ai/internal/admission"
	"github.com/BakaOtaku/robet-ai/internal/ledger"
	"github.com/BakaOtaku/robet-ai/internal/model"
	"github.com/BakaOtaku/robet-ai/internal/risklimit"
	"github.com/BakaOtaku/robet-ai/internal/sigverify"
)

func newTestRouter(lg ledger.Ledger) http.Handler {
	verifier := sigverify.NewVerifier(map[string]sigverify.ChainConfig{
		"devnet": {Scheme: sigverify.SchemeTrustWithoutVerify},
	})
	limiter := risklimit.NewLimiter(decimal.NewFromInt(100000))
	admitter := admission.NewAdmitter(lg, verifier, limiter)
	svc := NewService(lg, admitter, nil)

	r := chi.NewRouter()
	r.Get("/health", svc.Health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/markets", svc.ListMarkets)
		r.Post("/markets", svc.CreateMarket)
		r.Get("/markets/{marketID}", svc.GetMarket)
		r.Post("/markets/{marketID}/settle", svc.SettleMarket)
		r.Get("/markets/{marketID}/book", svc.GetBook)
		r.Get("/markets/{marketID}/orders", svc.GetOrders)
		r.Get("/markets/{marketID}/trades", svc.GetTrades)
		r.Post("/orders", svc.SubmitOrder)
		r.Get("/users/{userID}/ledger", svc.GetUserLedger)
	})
	return r
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetMarket(t *testing.T) {
	lg := ledger.NewMemoryLedger()
	router := newTestRouter(lg)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/markets", CreateMarketRequest{
		Question: "will it rain", Creator: "alice", ResolutionTime: time.Now().Add(24 * time.Hour),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var market model.Market
	if err := json.Unmarshal(rec.Body.Bytes(), &market); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if market.ID == "" {
		t.Fatalf("expected generated market ID")
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/markets/"+market.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCreateMarket_MissingFieldRejected(t *testing.T) {
	lg := ledger.NewMemoryLedger()
	router := newTestRouter(lg)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/markets", CreateMarketRequest{Question: "no creator"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["error"] != "MissingField" {
		t.Fatalf("expected MissingField error, got %+v", resp)
	}
}

func TestSubmitOrder_EndToEnd(t *testing.T) {
	lg := ledger.NewMemoryLedger()
	router := newTestRouter(lg)
	ctx := context.Background()

	err := lg.Transact(ctx, "m1", func(ctx context.Context, tx ledger.Tx) error {
		return tx.SaveMarket(ctx, &model.Market{ID: "m1", CreatedAt: time.Now().UTC()})
	})
	if err != nil {
		t.Fatalf("seed market: %v", err)
	}
	err = lg.Transact(ctx, "m1", func(ctx context.Context, tx ledger.Tx) error {
		bal, err := tx.LoadBalance(ctx, "buyer", "devnet")
		if err != nil {
			return err
		}
		bal.AvailableUSD = decimal.NewFromInt(10)
		return tx.SaveBalance(ctx, bal)
	})
	if err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/orders", SubmitOrderRequest{
		MarketID: "m1", UserID: "buyer", ChainID: "devnet", WalletAddress: "w1",
		Side: "BUY", TokenType: "YES", Price: "0.5", Quantity: 10, Signature: "unsigned",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var result OrderResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Order.Status != model.StatusOpen {
		t.Fatalf("expected OPEN (empty book), got %s", result.Order.Status)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/markets/m1/orders", nil)
	var orders []*model.Order
	json.Unmarshal(rec.Body.Bytes(), &orders)
	if len(orders) != 1 {
		t.Fatalf("expected 1 open order, got %d", len(orders))
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/users/buyer/ledger?chain_id=devnet", nil)
	var userLedger UserLedgerResponse
	json.Unmarshal(rec.Body.Bytes(), &userLedger)
	if !userLedger.Balance.AvailableUSD.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected 5 remaining after lock, got %s", userLedger.Balance.AvailableUSD)
	}
}

func TestSubmitOrder_InvalidSideRejectedByValidator(t *testing.T) {
	lg := ledger.NewMemoryLedger()
	router := newTestRouter(lg)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/orders", SubmitOrderRequest{
		MarketID: "m1", UserID: "buyer", ChainID: "devnet", WalletAddress: "w1",
		Side: "HOLD", TokenType: "YES", Price: "0.5", Quantity: 10, Signature: "unsigned",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSettleMarket_RejectsSecondSettlement(t *testing.T) {
	lg := ledger.NewMemoryLedger()
	router := newTestRouter(lg)
	ctx := context.Background()
	err := lg.Transact(ctx, "m1", func(ctx context.Context, tx ledger.Tx) error {
		return tx.SaveMarket(ctx, &model.Market{ID: "m1", CreatedAt: time.Now().UTC()})
	})
	if err != nil {
		t.Fatalf("seed market: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/markets/m1/settle", SettleRequest{Outcome: "YES"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/markets/m1/settle", SettleRequest{Outcome: "NO"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 AlreadySettled, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	lg := ledger.NewMemoryLedger()
	router := newTestRouter(lg)
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
