package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"tokenexchange/core"
	"tokenexchange/core/types"
	"tokenexchange/native/exchange"
	"tokenexchange/services/exchanged/journal"
	"tokenexchange/services/exchanged/node"
)

// PriceDecimals is the fixed precision of every price the API reports.
const PriceDecimals = 18

type errorResponse struct {
	Error string `json:"error"`
}

// TxResponse is the body returned for submitted requests. A failed operation
// carries both the reason and its receipt.
type TxResponse struct {
	Receipt *types.Receipt `json:"receipt,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type PoolView struct {
	Native string `json:"native"`
	Asset  string `json:"asset"`
}

type ExchangeView struct {
	Proxy          string   `json:"proxy"`
	Implementation string   `json:"implementation"`
	History        []string `json:"history"`
	Logic          string   `json:"logic"`
	Version        string   `json:"version,omitempty"`
	Owner          string   `json:"owner"`
	Token          string   `json:"token"`
	PriceFeed      string   `json:"priceFeed"`
	FeedLabel      string   `json:"feedLabel,omitempty"`
	Price          string   `json:"price,omitempty"`
	PriceError     string   `json:"priceError,omitempty"`
	Pool           PoolView `json:"pool"`
	Height         uint64   `json:"height"`
	StateRoot      string   `json:"stateRoot"`
}

type PriceView struct {
	Price    string `json:"price"`
	Decimals int    `json:"decimals"`
}

type VersionView struct {
	Version string `json:"version"`
}

type AccountView struct {
	Address string `json:"address"`
	Native  string `json:"native"`
	Asset   string `json:"asset"`
	Nonce   uint64 `json:"nonce"`
}

type EventView struct {
	Type       string          `json:"type"`
	Attributes json.RawMessage `json:"attributes"`
}

type ReceiptView struct {
	ID         string      `json:"id"`
	Height     uint64      `json:"height"`
	Method     string      `json:"method"`
	From       string      `json:"from"`
	To         string      `json:"to"`
	Value      string      `json:"value"`
	Nonce      uint64      `json:"nonce"`
	Status     uint8       `json:"status"`
	Error      string      `json:"error,omitempty"`
	StateRoot  string      `json:"stateRoot"`
	ExecutedAt string      `json:"executedAt"`
	Events     []EventView `json:"events"`
}

// PriceOverride is the body of the operator price endpoint. Rate is the
// decimal price of one native unit in the quote currency.
type PriceOverride struct {
	Rate string `json:"rate"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req types.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	receipt, err := s.backend.Apply(r.Context(), &req)
	if err != nil {
		status := submitStatus(receipt, err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("apply request", slog.String("method", req.Method), slog.Any("error", err))
		}
		writeJSON(w, status, TxResponse{Receipt: receipt, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, TxResponse{Receipt: receipt})
}

func submitStatus(receipt *types.Receipt, err error) int {
	switch {
	case errors.Is(err, node.ErrInvalidRequest), errors.Is(err, types.ErrMissingSignature):
		return http.StatusBadRequest
	case errors.Is(err, node.ErrUnknownMethod):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNonceMismatch):
		return http.StatusConflict
	case errors.Is(err, exchange.ErrUnauthorized):
		return http.StatusForbidden
	case receipt != nil:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.backend.Status(r.Context())
	if err != nil {
		s.logger.Error("read exchange status", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	view := ExchangeView{
		Proxy:          st.Proxy.Hex(),
		Implementation: st.Implementation.Hex(),
		Logic:          st.Logic,
		Version:        st.Version,
		Owner:          st.Owner.Hex(),
		Token:          st.Token.Hex(),
		PriceFeed:      st.PriceFeed.Hex(),
		FeedLabel:      st.FeedLabel,
		PriceError:     st.PriceErr,
		Pool:           PoolView{Native: decimal(st.Pool.Native), Asset: decimal(st.Pool.Asset)},
		Height:         st.Height,
		StateRoot:      st.StateRoot.Hex(),
	}
	for _, impl := range st.History {
		view.History = append(view.History, impl.Hex())
	}
	if st.Price != nil {
		view.Price = st.Price.Dec()
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.backend.LatestPrice(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, exchange.ErrInvalidPriceFeed) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, PriceView{Price: price.Dec(), Decimals: PriceDecimals})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	version, err := s.backend.Version(r.Context())
	if errors.Is(err, exchange.ErrMethodNotSupported) {
		writeError(w, http.StatusNotImplemented, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, VersionView{Version: version})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := types.ParseHexAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := s.backend.Account(r.Context(), addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, AccountView{
		Address: acct.Address.Hex(),
		Native:  decimal(acct.Native),
		Asset:   decimal(acct.Asset),
		Nonce:   acct.Nonce,
	})
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	if s.receipts == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	q := r.URL.Query()
	filter := journal.ReceiptFilter{Method: q.Get("method")}
	if raw := strings.TrimSpace(q.Get("account")); raw != "" {
		addr, err := types.ParseHexAddress(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Account = addr.Hex()
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	records, err := s.receipts.Receipts(r.Context(), filter)
	if err != nil {
		s.logger.Error("list receipts", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list receipts")
		return
	}
	out := make([]ReceiptView, 0, len(records))
	for _, rec := range records {
		view := ReceiptView{
			ID:         rec.ID.String(),
			Height:     rec.Height,
			Method:     rec.Method,
			From:       rec.FromAddress,
			To:         rec.ToAddress,
			Value:      rec.Value,
			Nonce:      rec.Nonce,
			Status:     rec.Status,
			Error:      rec.Error,
			StateRoot:  rec.StateRoot,
			ExecutedAt: rec.ExecutedAt.UTC().Format(timeLayout),
			Events:     make([]EventView, 0, len(rec.Events)),
		}
		for _, ev := range rec.Events {
			view.Events = append(view.Events, EventView{Type: ev.Type, Attributes: json.RawMessage(ev.Attributes)})
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func (s *Server) handlePriceOverride(w http.ResponseWriter, r *http.Request) {
	var body PriceOverride
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	rate, ok := new(big.Rat).SetString(strings.TrimSpace(body.Rate))
	if !ok || rate.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "rate must be a positive decimal")
		return
	}
	if s.manual != nil && s.pair.Base != "" {
		if err := s.manual.Set(s.pair.Base, s.pair.Quote, rate, s.now()); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	receipt, err := s.backend.PublishRate(r.Context(), rate)
	if err != nil {
		writeJSON(w, submitStatus(receipt, err), TxResponse{Receipt: receipt, Error: err.Error()})
		return
	}
	s.logger.Info("operator price override",
		slog.String("request_id", RequestIDFromContext(r.Context())),
		slog.String("rate", rate.FloatString(8)),
		slog.Uint64("height", receipt.Height))
	writeJSON(w, http.StatusOK, TxResponse{Receipt: receipt})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
