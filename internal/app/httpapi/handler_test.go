package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arzex/exchange-core/internal/app/events"
	"github.com/arzex/exchange-core/internal/app/services/accounts"
	kycsvc "github.com/arzex/exchange-core/internal/app/services/kyc"
	"github.com/arzex/exchange-core/internal/app/services/orders"
	"github.com/arzex/exchange-core/internal/app/services/pricefeed"
	"github.com/arzex/exchange-core/internal/app/services/reporting"
	"github.com/arzex/exchange-core/internal/app/services/review"
	"github.com/arzex/exchange-core/internal/app/services/wallets"
	"github.com/arzex/exchange-core/internal/app/storage/memory"
)

type apiFixture struct {
	mux *http.ServeMux
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := memory.New()
	accountSvc := accounts.New(store, store, nil)
	walletSvc := wallets.New(store, store, nil)
	kycService := kycsvc.New(accountSvc, store, nil, 0, nil)

	fetcher := pricefeed.FetcherFunc(func(_ context.Context, symbol string) (int64, string, error) {
		if symbol == "DOWN" {
			return 0, "", fmt.Errorf("feed offline")
		}
		return 115_090, "unit-test", nil
	})
	priceSvc := pricefeed.New(fetcher, store, time.Second, nil)
	orderSvc := orders.New(accountSvc, walletSvc, priceSvc, store, store, nil)
	reviewSvc := review.New(accountSvc, kycService, store, store, events.NewBus(nil), nil)
	reportingSvc := reporting.New(store, store, store, nil)

	handler := NewHandler(Services{
		Accounts:  accountSvc,
		Wallets:   walletSvc,
		KYC:       kycService,
		Orders:    orderSvc,
		Review:    reviewSvc,
		Reporting: reportingSvc,
		Prices:    priceSvc,
	}, nil)
	mux := http.NewServeMux()
	handler.Register(mux)
	return &apiFixture{mux: mux}
}

func (f *apiFixture) do(t *testing.T, id Identity, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(ContextWithIdentity(req.Context(), id))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	user := Identity{AccountID: ""}
	admin := Identity{AccountID: "admin-1", Role: "admin"}

	// Create and fund the account.
	rec := f.do(t, admin, http.MethodPost, "/v1/accounts", `{"owner":"alice"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var acct struct {
		ID string `json:"ID"`
	}
	decode(t, rec, &acct)
	require.NotEmpty(t, acct.ID)
	user.AccountID = acct.ID

	rec = f.do(t, user, http.MethodPost, "/v1/accounts/"+acct.ID+"/deposit", `{"amount_tmn":10000000}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// KYC to level 2 through two submissions.
	for level := 1; level <= 2; level++ {
		rec = f.do(t, user, http.MethodPost, "/v1/kyc", fmt.Sprintf(`{"level":%d,"payload":{"doc":"x"}}`, level))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var sub struct {
			ID string `json:"ID"`
		}
		decode(t, rec, &sub)

		rec = f.do(t, admin, http.MethodPost, "/v1/admin/kyc/"+sub.ID+"/decision", `{"action":"approve"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	// Register and verify the withdrawal address.
	rec = f.do(t, user, http.MethodPost, "/v1/wallets", `{"symbol":"USDT","address":"TAddr1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var addr struct {
		ID string `json:"ID"`
	}
	decode(t, rec, &addr)

	rec = f.do(t, admin, http.MethodPost, "/v1/admin/wallets/"+addr.ID+"/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Place the buy order.
	rec = f.do(t, user, http.MethodPost, "/v1/orders", `{"type":"buy","symbol":"USDT","amount_tmn":1000000}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ord struct {
		ID     string `json:"ID"`
		Status string `json:"Status"`
	}
	decode(t, rec, &ord)
	require.Equal(t, "pending", ord.Status)

	// It shows up in the admin queue.
	rec = f.do(t, admin, http.MethodGet, "/v1/admin/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []struct {
		ID string `json:"ID"`
	}
	decode(t, rec, &pending)
	require.Len(t, pending, 1)

	// Approve it; the second decision conflicts.
	rec = f.do(t, admin, http.MethodPost, "/v1/admin/orders/"+ord.ID+"/decision", `{"action":"approve","note":"ok"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, admin, http.MethodPost, "/v1/admin/orders/"+ord.ID+"/decision", `{"action":"reject"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	// The holding is visible to the account owner.
	rec = f.do(t, user, http.MethodGet, "/v1/accounts/"+acct.ID+"/holdings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var holdings []struct {
		Symbol string `json:"Symbol"`
	}
	decode(t, rec, &holdings)
	require.Len(t, holdings, 1)
	require.Equal(t, "USDT", holdings[0].Symbol)
}

func TestOrderRejections(t *testing.T) {
	f := newAPIFixture(t)
	admin := Identity{AccountID: "admin-1", Role: "admin"}

	rec := f.do(t, admin, http.MethodPost, "/v1/accounts", `{"owner":"bob"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var acct struct {
		ID string `json:"ID"`
	}
	decode(t, rec, &acct)
	user := Identity{AccountID: acct.ID}

	// No KYC yet: forbidden.
	rec = f.do(t, user, http.MethodPost, "/v1/orders", `{"type":"buy","symbol":"USDT","amount_tmn":1000}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Invalid type: bad request.
	rec = f.do(t, user, http.MethodPost, "/v1/orders", `{"type":"hold","symbol":"USDT","amount_tmn":1000}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Garbage body: bad request.
	rec = f.do(t, user, http.MethodPost, "/v1/orders", `{"type":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPriceUnavailableMapsTo503(t *testing.T) {
	f := newAPIFixture(t)
	user := Identity{AccountID: "any"}

	rec := f.do(t, user, http.MethodGet, "/v1/prices/DOWN", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, user, http.MethodGet, "/v1/prices/USDT", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var quote struct {
		Symbol   string `json:"symbol"`
		PriceTMN int64  `json:"price_tmn"`
	}
	decode(t, rec, &quote)
	require.Equal(t, "USDT", quote.Symbol)
	require.Equal(t, int64(115_090), quote.PriceTMN)
}

func TestUnsupportedMethodAnswers405(t *testing.T) {
	f := newAPIFixture(t)
	user := Identity{AccountID: "acct-1"}
	admin := Identity{AccountID: "admin-1", Role: "admin"}

	rec := f.do(t, user, http.MethodDelete, "/v1/orders", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Contains(t, rec.Header().Get("Allow"), http.MethodPost)
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, rec, &resp)
	require.Equal(t, "method_not_allowed", resp.Error.Code)

	rec = f.do(t, user, http.MethodGet, "/v1/wallets/some-id", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, http.MethodDelete, rec.Header().Get("Allow"))

	rec = f.do(t, admin, http.MethodGet, "/v1/admin/orders/42/decision", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, http.MethodPost, rec.Header().Get("Allow"))

	rec = f.do(t, admin, http.MethodPost, "/v1/admin/reports/volume", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestAdminSurfaceRequiresAdminRole(t *testing.T) {
	f := newAPIFixture(t)
	user := Identity{AccountID: "acct-1"}

	for _, path := range []string{
		"/v1/admin/orders",
		"/v1/admin/kyc",
		"/v1/admin/reports/volume",
	} {
		rec := f.do(t, user, http.MethodGet, path, "")
		require.Equalf(t, http.StatusForbidden, rec.Code, "path %s", path)
	}

	rec := f.do(t, user, http.MethodGet, "/v1/accounts", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAccountIsolation(t *testing.T) {
	f := newAPIFixture(t)
	admin := Identity{AccountID: "admin-1", Role: "admin"}

	rec := f.do(t, admin, http.MethodPost, "/v1/accounts", `{"owner":"alice"}`)
	var acct struct {
		ID string `json:"ID"`
	}
	decode(t, rec, &acct)

	stranger := Identity{AccountID: "someone-else"}
	rec = f.do(t, stranger, http.MethodGet, "/v1/accounts/"+acct.ID, "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	owner := Identity{AccountID: acct.ID}
	rec = f.do(t, owner, http.MethodGet, "/v1/accounts/"+acct.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, admin, http.MethodGet, "/v1/accounts/"+acct.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReports(t *testing.T) {
	f := newAPIFixture(t)
	admin := Identity{AccountID: "admin-1", Role: "admin"}

	for _, report := range []string{"volume", "funnel", "queue", "anomalies"} {
		rec := f.do(t, admin, http.MethodGet, "/v1/admin/reports/"+report, "")
		require.Equalf(t, http.StatusOK, rec.Code, "report %s", report)
	}

	rec := f.do(t, admin, http.MethodGet, "/v1/admin/reports/unknown", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
