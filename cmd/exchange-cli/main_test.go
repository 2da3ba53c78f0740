package main

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"tokenexchange/core/types"
	"tokenexchange/crypto"
	"tokenexchange/services/exchanged/server"
)

const (
	testPassphrase = "correct horse battery staple"
	testExchange   = "0x00000000000000000000000000000000000000cc"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeKeystore(t *testing.T) (string, *crypto.PrivateKey) {
	t.Helper()
	t.Setenv(defaultPassphraseEnv, testPassphrase)
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.keystore")
	if err := crypto.SaveToKeystore(path, key, testPassphrase); err != nil {
		t.Fatalf("save keystore: %v", err)
	}
	return path, key
}

func TestParseUnits(t *testing.T) {
	cases := []struct {
		raw      string
		decimals int
		want     string
		wantErr  bool
	}{
		{raw: "1.5", decimals: 18, want: "1500000000000000000"},
		{raw: "2000", decimals: 0, want: "2000"},
		{raw: "", decimals: 18, want: "0"},
		{raw: "0.0000000000000000001", decimals: 18, wantErr: true},
		{raw: "-1", decimals: 18, wantErr: true},
		{raw: "abc", decimals: 18, wantErr: true},
		{raw: "1.5", decimals: 0, wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseUnits(tc.raw, tc.decimals)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseUnits(%q, %d) = %s, want error", tc.raw, tc.decimals, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseUnits(%q, %d): %v", tc.raw, tc.decimals, err)
		}
		if got.String() != tc.want {
			t.Fatalf("parseUnits(%q, %d) = %s, want %s", tc.raw, tc.decimals, got, tc.want)
		}
	}
}

func TestFormatUnits(t *testing.T) {
	cases := map[string]string{
		"2000000000000000000000": "2000",
		"2500500000000000000000": "2500.5",
		"1":                      "0.000000000000000001",
		"0":                      "0",
	}
	for raw, want := range cases {
		got, err := formatUnits(raw, 18)
		if err != nil {
			t.Fatalf("formatUnits(%s): %v", raw, err)
		}
		if got != want {
			t.Fatalf("formatUnits(%s) = %q, want %q", raw, got, want)
		}
	}
	if _, err := formatUnits("1e18", 18); err == nil {
		t.Fatalf("expected error for non-integer input")
	}
}

func TestKeygenThenAddress(t *testing.T) {
	t.Setenv(defaultPassphraseEnv, testPassphrase)
	path := filepath.Join(t.TempDir(), "nested", "key.keystore")

	generated, err := runCLI(t, "--keystore", path, "keygen")
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	printed, err := runCLI(t, "--keystore", path, "address")
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	if strings.TrimSpace(generated) != strings.TrimSpace(printed) {
		t.Fatalf("keygen printed %q but address printed %q", generated, printed)
	}
	if _, err := runCLI(t, "--keystore", path, "keygen"); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected second keygen to refuse overwrite, got %v", err)
	}
}

func TestSwapSignsWithAccountNonce(t *testing.T) {
	path, key := writeKeystore(t)
	addr := key.Address()

	var submitted types.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/exchange":
			_ = json.NewEncoder(w).Encode(server.ExchangeView{Proxy: testExchange})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/accounts/"+addr.Hex():
			_ = json.NewEncoder(w).Encode(server.AccountView{Address: addr.Hex(), Native: "0", Asset: "0", Nonce: 7})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/tx":
			if err := json.NewDecoder(r.Body).Decode(&submitted); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(server.TxResponse{Receipt: &types.Receipt{
				Method: submitted.Method,
				From:   addr,
				Nonce:  submitted.Nonce,
				Status: types.ReceiptStatusSuccess,
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := runCLI(t, "--server", srv.URL, "--keystore", path, "swap", "1.5")
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	from, err := submitted.From()
	if err != nil {
		t.Fatalf("recover signer: %v", err)
	}
	if from != addr {
		t.Fatalf("signed by %s, want %s", from.Hex(), addr.Hex())
	}
	if submitted.Method != types.MethodSwap || submitted.Nonce != 7 {
		t.Fatalf("unexpected request: method=%s nonce=%d", submitted.Method, submitted.Nonce)
	}
	if !strings.EqualFold(submitted.Exchange.Hex(), testExchange) {
		t.Fatalf("signed for exchange %s, want %s", submitted.Exchange.Hex(), testExchange)
	}
	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	if submitted.Value == nil || submitted.Value.Cmp(want) != 0 {
		t.Fatalf("value = %v, want %s", submitted.Value, want)
	}
	if !strings.Contains(out, `"method": "swap"`) {
		t.Fatalf("receipt not printed: %s", out)
	}
}

func TestSwapRejectsZeroLocally(t *testing.T) {
	path, _ := writeKeystore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}))
	defer srv.Close()

	if _, err := runCLI(t, "--server", srv.URL, "--keystore", path, "swap", "0"); err == nil {
		t.Fatalf("expected zero swap to fail")
	}
}

func TestFailedSubmitPrintsReceipt(t *testing.T) {
	path, key := writeKeystore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/v1/exchange" {
			_ = json.NewEncoder(w).Encode(server.ExchangeView{Proxy: testExchange})
			return
		}
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode(server.AccountView{Nonce: 0})
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(server.TxResponse{
			Receipt: &types.Receipt{Method: types.MethodWithdraw, From: key.Address(), Error: "OwnableUnauthorizedAccount(" + key.Address().Hex() + ")"},
			Error:   "OwnableUnauthorizedAccount(" + key.Address().Hex() + ")",
		})
	}))
	defer srv.Close()

	out, err := runCLI(t, "--server", srv.URL, "--keystore", path, "withdraw", "--native", "1")
	if err == nil || !strings.Contains(err.Error(), "HTTP 403") {
		t.Fatalf("expected HTTP 403 error, got %v", err)
	}
	if !strings.Contains(out, "OwnableUnauthorizedAccount") {
		t.Fatalf("failed receipt not printed: %s", out)
	}
}

func TestPriceAndVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/exchange/price":
			_ = json.NewEncoder(w).Encode(server.PriceView{Price: "2000000000000000000000", Decimals: 18})
		case "/v1/exchange/version":
			w.WriteHeader(http.StatusNotImplemented)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "method not supported"})
		case "/v1/exchange":
			_ = json.NewEncoder(w).Encode(server.ExchangeView{Owner: "0x00000000000000000000000000000000000000aa"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := runCLI(t, "--server", srv.URL, "price")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if strings.TrimSpace(out) != "2000" {
		t.Fatalf("price printed %q", out)
	}
	out, err = runCLI(t, "--server", srv.URL, "price", "--raw")
	if err != nil || strings.TrimSpace(out) != "2000000000000000000000" {
		t.Fatalf("raw price printed %q err=%v", out, err)
	}
	out, err = runCLI(t, "--server", srv.URL, "owner")
	if err != nil || strings.TrimSpace(out) != "0x00000000000000000000000000000000000000aa" {
		t.Fatalf("owner printed %q err=%v", out, err)
	}
	if _, err := runCLI(t, "--server", srv.URL, "version"); err == nil || !strings.Contains(err.Error(), "HTTP 501") {
		t.Fatalf("expected HTTP 501 from version, got %v", err)
	}
}
