package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"tokenexchange/config"
	"tokenexchange/core"
	"tokenexchange/core/events"
	"tokenexchange/core/types"
	"tokenexchange/crypto"
	"tokenexchange/services/exchanged/journal"
	"tokenexchange/services/exchanged/node"
	feeds "tokenexchange/services/exchanged/oracle"
	"tokenexchange/storage"
)

const testSecret = "exchange-test-secret"

type harness struct {
	t        *testing.T
	server   *httptest.Server
	node     *node.Node
	hub      *Hub
	manual   *feeds.ManualSource
	operator *crypto.PrivateKey
	user     *crypto.PrivateKey
}

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

func newHarness(t *testing.T, limits config.RateLimit) *harness {
	t.Helper()
	store := storage.NewMemDB()
	t.Cleanup(store.Close)
	exec, err := core.NewExecutor(store)
	require.NoError(t, err)

	operator, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	user, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	_, err = exec.Genesis(map[common.Address]*uint256.Int{
		operator.Address(): ether(1000),
		user.Address():     ether(1000),
	})
	require.NoError(t, err)

	j, err := journal.Open(journal.MemoryDSN(uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	hub := NewHub(16)
	exec.SetEmitter(events.Multi{hub})

	n, err := node.Bootstrap(context.Background(), exec, store, node.Options{
		Exchange: config.Default().Exchange,
		Operator: operator.Address(),
		Receipts: j,
	})
	require.NoError(t, err)

	manual := feeds.NewManualSource("manual")
	srv := New(Config{
		Backend:    n,
		Receipts:   j,
		Hub:        hub,
		Manual:     manual,
		Pair:       feeds.Pair{Base: "ETH", Quote: "USD"},
		Auth:       AuthConfig{HMACSecret: testSecret, Issuer: "exchange-ops", Audience: []string{"exchanged"}},
		AdminScope: "oracle:write",
		RateLimit:  limits,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{t: t, server: ts, node: n, hub: hub, manual: manual, operator: operator, user: user}
}

func (h *harness) do(method, path string, body interface{}, header http.Header) (*http.Response, []byte) {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(h.t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := h.server.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(h.t, err)
	return resp, buf.Bytes()
}

func (h *harness) signed(key *crypto.PrivateKey, method string, value *big.Int, args interface{}) *types.Request {
	h.t.Helper()
	acct, err := h.node.Account(context.Background(), key.Address())
	require.NoError(h.t, err)
	req := &types.Request{Exchange: h.node.Deployment().Proxy, Method: method, Nonce: acct.Nonce, Value: value}
	if args != nil {
		req.Args, err = types.EncodeArgs(args)
		require.NoError(h.t, err)
	}
	require.NoError(h.t, req.Sign(key.PrivateKey))
	return req
}

func operatorToken(t *testing.T, scope string, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   "exchange-ops",
		"aud":   []string{"exchanged"},
		"scope": scope,
		"exp":   time.Now().Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func TestHealthAndRequestID(t *testing.T) {
	h := newHarness(t, config.RateLimit{})
	resp, body := h.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, string(body))
	_, err := uuid.Parse(resp.Header.Get("X-Request-ID"))
	require.NoError(t, err)

	id := uuid.NewString()
	resp, _ = h.do(http.MethodGet, "/healthz", nil, http.Header{"X-Request-Id": []string{id}})
	require.Equal(t, id, resp.Header.Get("X-Request-ID"))
}

func TestExchangeStatusAndPrice(t *testing.T) {
	h := newHarness(t, config.RateLimit{})

	resp, body := h.do(http.MethodGet, "/v1/exchange", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view ExchangeView
	require.NoError(t, json.Unmarshal(body, &view))
	require.Equal(t, "TokenExchange", view.Logic)
	require.Equal(t, []string{view.Implementation}, view.History)
	require.Equal(t, h.operator.Address().Hex(), view.Owner)
	require.Equal(t, ether(2000).Dec(), view.Price)
	require.Equal(t, ether(100_000).Dec(), view.Pool.Asset)

	resp, body = h.do(http.MethodGet, "/v1/exchange/price", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var price PriceView
	require.NoError(t, json.Unmarshal(body, &price))
	require.Equal(t, ether(2000).Dec(), price.Price)
	require.Equal(t, 18, price.Decimals)

	resp, _ = h.do(http.MethodGet, "/v1/exchange/version", nil, nil)
	require.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestSubmitSwapAndReadAccount(t *testing.T) {
	h := newHarness(t, config.RateLimit{})
	req := h.signed(h.user, types.MethodSwap, big.NewInt(1_000_000_000_000_000_000), nil)

	resp, body := h.do(http.MethodPost, "/v1/tx", req, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out TxResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotNil(t, out.Receipt)
	require.Equal(t, types.ReceiptStatusSuccess, out.Receipt.Status)
	var swaps int
	for _, ev := range out.Receipt.Events {
		if ev.Type == events.TypeExchangeSwap {
			swaps++
			require.Equal(t, ether(2000).Dec(), ev.Attr("amountOut"))
		}
	}
	require.Equal(t, 1, swaps)

	resp, body = h.do(http.MethodGet, "/v1/accounts/"+h.user.Address().Hex(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var acct AccountView
	require.NoError(t, json.Unmarshal(body, &acct))
	require.Equal(t, ether(2000).Dec(), acct.Asset)
	require.Equal(t, uint64(1), acct.Nonce)

	// replaying the same signed request hits the consumed nonce
	resp, _ = h.do(http.MethodPost, "/v1/tx", req, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = h.do(http.MethodGet, "/v1/receipts?method=swap&account="+h.user.Address().Hex(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var receipts []ReceiptView
	require.NoError(t, json.Unmarshal(body, &receipts))
	// the replay is journaled as a failed receipt next to the committed swap
	require.Len(t, receipts, 2)
	var committed int
	for _, rec := range receipts {
		require.Equal(t, strings.ToLower(h.user.Address().Hex()), rec.From)
		if rec.Status == types.ReceiptStatusSuccess {
			committed++
			require.NotEmpty(t, rec.Events)
		} else {
			require.Empty(t, rec.Events)
		}
	}
	require.Equal(t, 1, committed)
}

func TestSubmitErrorMapping(t *testing.T) {
	h := newHarness(t, config.RateLimit{})

	resp, _ := h.do(http.MethodPost, "/v1/tx", types.Request{Method: types.MethodSwap}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(http.MethodPost, "/v1/tx", h.signed(h.user, "mint", nil, nil), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := h.do(http.MethodPost, "/v1/tx", h.signed(h.user, types.MethodWithdraw, nil, types.WithdrawArgs{Native: "1"}), nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	var out TxResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, "OwnableUnauthorizedAccount("+h.user.Address().Hex()+")", out.Error)
	require.NotNil(t, out.Receipt)
	require.Equal(t, types.ReceiptStatusFailed, out.Receipt.Status)
	require.Empty(t, out.Receipt.Events)

	// 100 ether at 2000 per unit exceeds the seeded asset pool.
	resp, body = h.do(http.MethodPost, "/v1/tx", h.signed(h.user, types.MethodSwap, new(big.Int).Mul(big.NewInt(100), big.NewInt(1_000_000_000_000_000_000)), nil), nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	out = TxResponse{}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Contains(t, out.Error, "Insufficient Token balance")
	require.NotNil(t, out.Receipt)

	resp, _ = h.do(http.MethodPost, "/v1/tx", map[string]string{"unexpected": "field"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(http.MethodGet, "/v1/accounts/not-an-address", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpgradeExposesVersion(t *testing.T) {
	h := newHarness(t, config.RateLimit{})
	v2 := h.node.Deployment().Logics["TokenExchangeV2"]
	req := h.signed(h.operator, types.MethodUpgrade, nil, types.UpgradeArgs{Implementation: v2.Hex()})

	resp, body := h.do(http.MethodPost, "/v1/tx", req, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = h.do(http.MethodGet, "/v1/exchange/version", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"version":"V2"}`, string(body))
}

func TestAdminPriceOverride(t *testing.T) {
	h := newHarness(t, config.RateLimit{})
	body := PriceOverride{Rate: "2500"}

	resp, _ := h.do(http.MethodPost, "/admin/oracle/price", body, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = h.do(http.MethodPost, "/admin/oracle/price", body, bearer(operatorToken(t, "exchange:read", time.Minute)))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = h.do(http.MethodPost, "/admin/oracle/price", body, bearer(operatorToken(t, "oracle:write", -time.Hour)))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := operatorToken(t, "exchange:read oracle:write", time.Minute)
	resp, _ = h.do(http.MethodPost, "/admin/oracle/price", PriceOverride{Rate: "-1"}, bearer(token))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw := h.do(http.MethodPost, "/admin/oracle/price", body, bearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	price, err := h.node.LatestPrice(context.Background())
	require.NoError(t, err)
	require.Equal(t, ether(2500).Dec(), price.Dec())

	quote, err := h.manual.Fetch(context.Background(), "ETH", "USD")
	require.NoError(t, err)
	require.Equal(t, "2500", quote.Rate.RatString())
}

func TestRateLimitPerClient(t *testing.T) {
	h := newHarness(t, config.RateLimit{RequestsPerSecond: 0.001, Burst: 1})

	resp, _ := h.do(http.MethodGet, "/v1/exchange/price", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = h.do(http.MethodGet, "/v1/exchange/price", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// a different forwarded client has its own bucket
	resp, _ = h.do(http.MethodGet, "/v1/exchange/price", nil, http.Header{"X-Real-Ip": []string{"203.0.113.7"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// unlimited routes stay reachable
	resp, _ = h.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	h := newHarness(t, config.RateLimit{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/v1/events?type=" + events.TypeExchangeSwap
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// a deposit is filtered out; only the swap reaches the stream
	deposit := h.signed(h.user, types.MethodDeposit, big.NewInt(5), nil)
	_, err = h.node.Apply(ctx, deposit)
	require.NoError(t, err)
	swap := h.signed(h.user, types.MethodSwap, big.NewInt(1_000_000_000_000_000_000), nil)
	_, err = h.node.Apply(ctx, swap)
	require.NoError(t, err)

	var ev types.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	require.Equal(t, events.TypeExchangeSwap, ev.Type)
	require.Equal(t, ether(2000).Dec(), ev.Attr("amountOut"))
}

func TestHubDropsForLaggingSubscriber(t *testing.T) {
	hub := NewHub(1)
	updates, cancel := hub.Subscribe()
	ev := events.ExchangeDeposit{Caller: common.HexToAddress("0x01"), Amount: uint256.NewInt(1)}
	hub.Emit(ev)
	hub.Emit(ev)
	require.Equal(t, uint64(1), hub.Dropped())
	require.Len(t, updates, 1)
	require.Equal(t, 1, hub.Subscribers())
	cancel()
	cancel()
	require.Equal(t, 0, hub.Subscribers())
}
