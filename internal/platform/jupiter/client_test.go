package jupiter

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

const (
	mintA = "So11111111111111111111111111111111111111112"
	mintB = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	mintC = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

const quoteBody = `{
	"inputMint": "` + mintA + `",
	"inAmount": "1000000000",
	"outputMint": "` + mintB + `",
	"outAmount": "150000000",
	"otherAmountThreshold": "120000000",
	"slippageBps": 2000,
	"priceImpactPct": "0.001",
	"routePlan": [
		{"percent": 60, "swapInfo": {"ammKey": "a", "label": "Orca", "inputMint": "` + mintA + `", "outputMint": "` + mintC + `"}},
		{"percent": 40, "swapInfo": {"ammKey": "b", "label": "Raydium", "inputMint": "` + mintA + `", "outputMint": "` + mintC + `"}},
		{"percent": 100, "swapInfo": {"ammKey": "c", "label": "Whirlpool", "inputMint": "` + mintC + `", "outputMint": "` + mintB + `"}}
	]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", APIKey: "k", RequestsPerSecond: 100, Burst: 10})
}

func TestQuote_ParsesRoute(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap/v1/quote", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, mintA, q.Get("inputMint"))
		assert.Equal(t, mintB, q.Get("outputMint"))
		assert.Equal(t, "1000000000", q.Get("amount"))
		assert.Equal(t, "2000", q.Get("slippageBps"))
		assert.Equal(t, "true", q.Get("onlyDirectRoutes"))
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(quoteBody))
	})

	route, err := c.Quote(t.Context(), domain.QuoteRequest{
		InputMint: mintA, OutputMint: mintB, Amount: 1_000_000_000, SlippageBps: 2000, DirectOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), route.InAmount)
	assert.Equal(t, uint64(150_000_000), route.OutAmount)
	assert.Equal(t, uint64(120_000_000), route.MinOutAmount)
	assert.Equal(t, 2, route.Hops)
	assert.Equal(t, domain.RouteMultiHop, route.Kind())
	assert.NotEmpty(t, route.Raw)
}

func TestQuote_OmitsDirectFlagForMultiHop(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("onlyDirectRoutes"))
		_, _ = w.Write([]byte(quoteBody))
	})
	_, err := c.Quote(t.Context(), domain.QuoteRequest{InputMint: mintA, OutputMint: mintB, Amount: 1})
	require.NoError(t, err)
}

func TestQuote_NoRoute(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Could not find any route","errorCode":"COULD_NOT_FIND_ANY_ROUTE"}`))
	})
	_, err := c.Quote(t.Context(), domain.QuoteRequest{InputMint: mintA, OutputMint: mintB, Amount: 1})
	require.ErrorIs(t, err, domain.ErrNoRoute)
}

func TestQuote_HTTPErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, domain.ErrRateLimited},
		{"unauthorized", http.StatusUnauthorized, domain.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := c.Quote(t.Context(), domain.QuoteRequest{InputMint: mintA, OutputMint: mintB, Amount: 1})
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestQuote_ZeroAmount(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://unused"})
	_, err := c.Quote(t.Context(), domain.QuoteRequest{InputMint: mintA, OutputMint: mintB})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestBuildInstructions(t *testing.T) {
	swapData := base64.StdEncoding.EncodeToString([]byte{0xe5, 0x17, 0xcb})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/swap/v1/quote":
			_, _ = w.Write([]byte(quoteBody))
		case "/swap/v1/swap-instructions":
			assert.Equal(t, http.MethodPost, r.Method)
			var req map[string]json.RawMessage
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.JSONEq(t, `"`+mintC+`"`, string(req["userPublicKey"]))
			assert.Contains(t, string(req["quoteResponse"]), "otherAmountThreshold")

			_ = json.NewEncoder(w).Encode(map[string]any{
				"computeBudgetInstructions": []map[string]any{
					{"programId": "ComputeBudget111111111111111111111111111111", "accounts": []any{}, "data": "AsBcAQA="},
				},
				"setupInstructions": []map[string]any{},
				"swapInstruction": map[string]any{
					"programId": "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4",
					"accounts": []map[string]any{
						{"pubkey": mintC, "isSigner": true, "isWritable": true},
					},
					"data": swapData,
				},
				"cleanupInstruction":          nil,
				"addressLookupTableAddresses": []string{mintA},
			})
		default:
			http.NotFound(w, r)
		}
	})

	route, err := c.Quote(t.Context(), domain.QuoteRequest{InputMint: mintA, OutputMint: mintB, Amount: 1_000_000_000})
	require.NoError(t, err)

	ixs, err := c.BuildInstructions(t.Context(), route, mintC)
	require.NoError(t, err)
	require.Len(t, ixs, 2)

	_, ok := ixs[0].(domain.ComputeBudgetStep)
	assert.True(t, ok)

	swap, ok := ixs[1].(domain.SwapStep)
	require.True(t, ok)
	assert.Equal(t, []byte{0xe5, 0x17, 0xcb}, swap.Data)
	assert.Equal(t, mintC, swap.Owner)
	assert.Equal(t, uint64(120_000_000), swap.MinOutAmount)
	assert.Equal(t, []string{mintA}, swap.LookupTables)
	require.Len(t, swap.Accounts, 1)
	assert.True(t, swap.Accounts[0].Signer)
}

func TestBuildInstructions_RequiresQuotePayload(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://unused"})
	_, err := c.BuildInstructions(t.Context(), domain.Route{}, mintC)
	require.Error(t, err)
}
