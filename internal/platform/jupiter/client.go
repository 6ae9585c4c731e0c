package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// Config holds the swap aggregator connection settings.
type Config struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	ExcludeDexes      []string
}

// Client is the REST client for the Jupiter swap API. It implements
// domain.Aggregator.
type Client struct {
	baseURL      string
	apiKey       string
	excludeDexes []string
	httpClient   *http.Client
	limiter      *rate.Limiter
}

// NewClient creates a new aggregator client.
//
// cfg.BaseURL is the API root, e.g. "https://lite-api.jup.ag".
func NewClient(cfg Config) *Client {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		excludeDexes: cfg.ExcludeDexes,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// Quote asks for the best route swapping req.Amount of req.InputMint into
// req.OutputMint. ErrNoRoute is returned when the aggregator has no path.
func (c *Client) Quote(ctx context.Context, req domain.QuoteRequest) (domain.Route, error) {
	if req.Amount == 0 {
		return domain.Route{}, fmt.Errorf("jupiter: quote: %w", domain.ErrInvalidAmount)
	}

	params := url.Values{}
	params.Set("inputMint", req.InputMint)
	params.Set("outputMint", req.OutputMint)
	params.Set("amount", strconv.FormatUint(req.Amount, 10))
	params.Set("slippageBps", strconv.FormatUint(uint64(req.SlippageBps), 10))
	if req.DirectOnly {
		params.Set("onlyDirectRoutes", "true")
	}
	if len(c.excludeDexes) > 0 {
		params.Set("excludeDexes", strings.Join(c.excludeDexes, ","))
	}

	body, err := c.do(ctx, http.MethodGet, "/swap/v1/quote?"+params.Encode(), nil)
	if err != nil {
		return domain.Route{}, fmt.Errorf("jupiter: quote %s->%s: %w", req.InputMint, req.OutputMint, err)
	}

	var q apiQuote
	if err := json.Unmarshal(body, &q); err != nil {
		return domain.Route{}, fmt.Errorf("jupiter: decode quote: %w", err)
	}
	if q.OutAmount == "" || q.OtherAmountThreshold == "" {
		return domain.Route{}, fmt.Errorf("jupiter: quote %s->%s: %w", req.InputMint, req.OutputMint, domain.ErrNoRoute)
	}

	route, err := q.toDomain()
	if err != nil {
		return domain.Route{}, fmt.Errorf("jupiter: quote %s->%s: %w", req.InputMint, req.OutputMint, err)
	}
	if route.OutAmount == 0 {
		return domain.Route{}, fmt.Errorf("jupiter: quote %s->%s: %w", req.InputMint, req.OutputMint, domain.ErrNoRoute)
	}
	route.Raw = body
	return route, nil
}

// BuildInstructions fetches the instructions executing route with owner as
// the signing wallet. The swap leg carries the quote's amounts.
func (c *Client) BuildInstructions(ctx context.Context, route domain.Route, owner string) ([]domain.Instruction, error) {
	if len(route.Raw) == 0 {
		return nil, fmt.Errorf("jupiter: build instructions: route has no quote payload")
	}

	reqBody, err := json.Marshal(swapRequest{
		QuoteResponse:           json.RawMessage(route.Raw),
		UserPublicKey:           owner,
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	})
	if err != nil {
		return nil, fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/swap/v1/swap-instructions", reqBody)
	if err != nil {
		return nil, fmt.Errorf("jupiter: swap instructions: %w", err)
	}

	var resp swapInstructionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("jupiter: decode swap instructions: %w", err)
	}
	if resp.SwapInstruction == nil {
		return nil, fmt.Errorf("jupiter: swap instructions: response has no swap instruction")
	}

	var out []domain.Instruction
	for i, ix := range resp.ComputeBudgetInstructions {
		call, err := ix.toDomain()
		if err != nil {
			return nil, fmt.Errorf("jupiter: compute budget instruction %d: %w", i, err)
		}
		out = append(out, domain.ComputeBudgetStep{ProgramCall: call})
	}
	for i, ix := range resp.SetupInstructions {
		call, err := ix.toDomain()
		if err != nil {
			return nil, fmt.Errorf("jupiter: setup instruction %d: %w", i, err)
		}
		out = append(out, domain.SetupStep{ProgramCall: call})
	}

	call, err := resp.SwapInstruction.toDomain()
	if err != nil {
		return nil, fmt.Errorf("jupiter: swap instruction: %w", err)
	}
	out = append(out, domain.SwapStep{
		ProgramCall:  call,
		Owner:        owner,
		InputMint:    route.InputMint,
		OutputMint:   route.OutputMint,
		InAmount:     route.InAmount,
		OutAmount:    route.OutAmount,
		MinOutAmount: route.MinOutAmount,
		LookupTables: resp.AddressLookupTableAddresses,
	})

	if resp.CleanupInstruction != nil {
		call, err := resp.CleanupInstruction.toDomain()
		if err != nil {
			return nil, fmt.Errorf("jupiter: cleanup instruction: %w", err)
		}
		out = append(out, domain.CleanupStep{ProgramCall: call})
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Wire types
// --------------------------------------------------------------------------

type apiQuote struct {
	InputMint            string         `json:"inputMint"`
	InAmount             string         `json:"inAmount"`
	OutputMint           string         `json:"outputMint"`
	OutAmount            string         `json:"outAmount"`
	OtherAmountThreshold string         `json:"otherAmountThreshold"`
	SlippageBps          uint32         `json:"slippageBps"`
	PriceImpactPct       string         `json:"priceImpactPct"`
	RoutePlan            []apiRoutePlan `json:"routePlan"`
}

type apiRoutePlan struct {
	Percent  int `json:"percent"`
	SwapInfo struct {
		AmmKey     string `json:"ammKey"`
		Label      string `json:"label"`
		InputMint  string `json:"inputMint"`
		OutputMint string `json:"outputMint"`
	} `json:"swapInfo"`
}

func (q apiQuote) toDomain() (domain.Route, error) {
	in, err := parseAmount("inAmount", q.InAmount)
	if err != nil {
		return domain.Route{}, err
	}
	out, err := parseAmount("outAmount", q.OutAmount)
	if err != nil {
		return domain.Route{}, err
	}
	minOut, err := parseAmount("otherAmountThreshold", q.OtherAmountThreshold)
	if err != nil {
		return domain.Route{}, err
	}
	return domain.Route{
		InputMint:      q.InputMint,
		OutputMint:     q.OutputMint,
		InAmount:       in,
		OutAmount:      out,
		MinOutAmount:   minOut,
		SlippageBps:    q.SlippageBps,
		PriceImpactPct: q.PriceImpactPct,
		Hops:           hops(q.RoutePlan),
	}, nil
}

// hops counts sequential legs. Legs splitting the same input in parallel
// count once.
func hops(plan []apiRoutePlan) int {
	seen := make(map[string]struct{}, len(plan))
	for _, p := range plan {
		seen[p.SwapInfo.InputMint+">"+p.SwapInfo.OutputMint] = struct{}{}
	}
	return len(seen)
}

func parseAmount(field, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return v, nil
}

type swapRequest struct {
	QuoteResponse           json.RawMessage `json:"quoteResponse"`
	UserPublicKey           string          `json:"userPublicKey"`
	WrapAndUnwrapSol        bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit bool            `json:"dynamicComputeUnitLimit"`
}

type swapInstructionsResponse struct {
	ComputeBudgetInstructions   []apiInstruction `json:"computeBudgetInstructions"`
	SetupInstructions           []apiInstruction `json:"setupInstructions"`
	SwapInstruction             *apiInstruction  `json:"swapInstruction"`
	CleanupInstruction          *apiInstruction  `json:"cleanupInstruction"`
	AddressLookupTableAddresses []string         `json:"addressLookupTableAddresses"`
}

type apiInstruction struct {
	ProgramID string       `json:"programId"`
	Accounts  []apiAccount `json:"accounts"`
	Data      string       `json:"data"`
}

type apiAccount struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

func (ix apiInstruction) toDomain() (domain.ProgramCall, error) {
	data, err := base64.StdEncoding.DecodeString(ix.Data)
	if err != nil {
		return domain.ProgramCall{}, fmt.Errorf("decode data: %w", err)
	}
	accounts := make([]domain.AccountRef, 0, len(ix.Accounts))
	for _, a := range ix.Accounts {
		accounts = append(accounts, domain.AccountRef{
			Address:  a.Pubkey,
			Signer:   a.IsSigner,
			Writable: a.IsWritable,
		})
	}
	return domain.ProgramCall{ProgramID: ix.ProgramID, Accounts: accounts, Data: data}, nil
}

type apiError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors. The quote
// endpoint answers a missing route with 400 and a route error code.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case http.StatusBadRequest, http.StatusNotFound:
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && isNoRoute(apiErr) {
			return fmt.Errorf("%w: %s", domain.ErrNoRoute, apiErr.Error)
		}
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

func isNoRoute(e apiError) bool {
	switch e.ErrorCode {
	case "COULD_NOT_FIND_ANY_ROUTE", "NO_ROUTES_FOUND", "TOKEN_NOT_TRADABLE", "ROUTE_PLAN_DOES_NOT_CONSUME_ALL_THE_AMOUNT":
		return true
	}
	return strings.Contains(strings.ToLower(e.Error), "route")
}

// Compile-time interface check.
var _ domain.Aggregator = (*Client)(nil)
