package exchange

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tokenexchange/core"
	"tokenexchange/core/events"
	"tokenexchange/core/types"
	"tokenexchange/native/oracle"
	"tokenexchange/native/token"
	"tokenexchange/storage"
)

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	user  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

type fixture struct {
	ctx      context.Context
	exec     *core.Executor
	clock    time.Time
	token    *token.Client
	feed     *oracle.Client
	proxy    *Proxy
	exchange *Client
	implV1   common.Address
	implV2   common.Address
}

type fixtureOptions struct {
	assetDecimals uint8
	logic         Options
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, fixtureOptions{assetDecimals: 18})
}

func newFixtureWith(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	exec, err := core.NewExecutor(db)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	f := &fixture{ctx: context.Background(), exec: exec, clock: time.Unix(1_700_000_000, 0)}
	exec.SetNowFunc(func() time.Time { return f.clock })
	if _, err := exec.Genesis(map[common.Address]*uint256.Int{owner: ether(1_000), user: ether(1_000)}); err != nil {
		t.Fatalf("genesis: %v", err)
	}

	supply := new(uint256.Int).Mul(uint256.NewInt(1_000_000), new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(opts.assetDecimals))))
	tokenAddr, _, err := token.Deploy(f.ctx, exec, owner, token.Metadata{Name: "Mock USDC", Symbol: "USDC", Decimals: opts.assetDecimals}, owner, supply)
	if err != nil {
		t.Fatalf("deploy token: %v", err)
	}
	f.token = token.NewClient(exec, tokenAddr)

	feedAddr, _, err := oracle.Deploy(f.ctx, exec, owner, 8, "ETH / USD", big.NewInt(2000_0000_0000), owner)
	if err != nil {
		t.Fatalf("deploy feed: %v", err)
	}
	f.feed = oracle.NewClient(exec, feedAddr)

	f.proxy = NewProxy(DefaultRegistry(opts.logic))
	v1, _ := f.proxy.Registry().Lookup("TokenExchange")
	v2, _ := f.proxy.Registry().Lookup("TokenExchangeV2")
	if f.implV1, _, err = DeployImplementation(f.ctx, exec, owner, v1); err != nil {
		t.Fatalf("deploy v1: %v", err)
	}
	if f.implV2, _, err = DeployImplementation(f.ctx, exec, owner, v2); err != nil {
		t.Fatalf("deploy v2: %v", err)
	}
	f.exchange, _, err = Deploy(f.ctx, exec, f.proxy, owner, f.implV1, owner, tokenAddr, feedAddr)
	if err != nil {
		t.Fatalf("deploy exchange: %v", err)
	}

	seed := new(uint256.Int).Div(supply, uint256.NewInt(10))
	if _, err := f.token.Transfer(f.ctx, core.From(owner), f.exchange.Address(), seed); err != nil {
		t.Fatalf("seed pool: %v", err)
	}
	return f
}

func (f *fixture) nativeBalance(t *testing.T, addr common.Address) *uint256.Int {
	t.Helper()
	var out *uint256.Int
	err := f.exec.Query(f.ctx, common.Address{}, addr, func(c *core.Call) error {
		bal, err := c.Balance()
		out = bal
		return err
	})
	if err != nil {
		t.Fatalf("native balance: %v", err)
	}
	return out
}

func (f *fixture) tokenBalance(t *testing.T, addr common.Address) *uint256.Int {
	t.Helper()
	bal, err := f.token.BalanceOf(f.ctx, addr)
	if err != nil {
		t.Fatalf("token balance: %v", err)
	}
	return bal
}

func (f *fixture) pool(t *testing.T) Pool {
	t.Helper()
	p, err := f.exchange.Pool(f.ctx)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return p
}

func TestDeploySetsCollaborators(t *testing.T) {
	f := newFixture(t)

	got, err := f.exchange.Owner(f.ctx)
	if err != nil || got != owner {
		t.Fatalf("owner=%s err=%v", got.Hex(), err)
	}
	if got, _ := f.exchange.Token(f.ctx); got != f.token.Address() {
		t.Fatalf("unexpected token %s", got.Hex())
	}
	if got, _ := f.exchange.PriceFeed(f.ctx); got != f.feed.Address() {
		t.Fatalf("unexpected feed %s", got.Hex())
	}
	if impl, _ := f.exchange.Implementation(f.ctx); impl != f.implV1 {
		t.Fatalf("unexpected implementation %s", impl.Hex())
	}
	price, err := f.exchange.GetLatestPrice(f.ctx)
	if err != nil {
		t.Fatalf("latest price: %v", err)
	}
	if !price.Eq(ether(2000)) {
		t.Fatalf("unexpected normalized price %s", price.Dec())
	}
}

func TestSwapPaysAtOraclePrice(t *testing.T) {
	f := newFixture(t)
	before := f.pool(t)

	receipt, err := f.exchange.Swap(f.ctx, core.From(user), ether(1))
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if got := f.tokenBalance(t, user); !got.Eq(ether(2000)) {
		t.Fatalf("user received %s, want 2000e18", got.Dec())
	}
	after := f.pool(t)
	if want := new(uint256.Int).Add(before.Native, ether(1)); !after.Native.Eq(want) {
		t.Fatalf("pool native %s, want %s", after.Native.Dec(), want.Dec())
	}
	if want := new(uint256.Int).Sub(before.Asset, ether(2000)); !after.Asset.Eq(want) {
		t.Fatalf("pool asset %s, want %s", after.Asset.Dec(), want.Dec())
	}
	if got := f.nativeBalance(t, user); !got.Eq(ether(999)) {
		t.Fatalf("user native %s, want 999e18", got.Dec())
	}

	var swap *types.Event
	for i := range receipt.Events {
		if receipt.Events[i].Type == events.TypeExchangeSwap {
			swap = &receipt.Events[i]
		}
	}
	if swap == nil {
		t.Fatalf("swap event missing from receipt %+v", receipt.Events)
	}
	want := map[string]string{
		"caller":    user.Hex(),
		"amountIn":  ether(1).Dec(),
		"amountOut": ether(2000).Dec(),
	}
	for key, value := range want {
		if swap.Attributes[key] != value {
			t.Fatalf("swap %s = %q, want %q", key, swap.Attributes[key], value)
		}
	}
}

func TestSwapAmountFormula(t *testing.T) {
	f := newFixture(t)
	amountIn := uint256.NewInt(123_456_789_012_345)

	if _, err := f.exchange.Swap(f.ctx, core.From(user), amountIn); err != nil {
		t.Fatalf("swap: %v", err)
	}
	want := new(uint256.Int).Div(new(uint256.Int).Mul(amountIn, ether(2000)), ether(1))
	if got := f.tokenBalance(t, user); !got.Eq(want) {
		t.Fatalf("user received %s, want %s", got.Dec(), want.Dec())
	}
}

func TestSwapScalesToAssetDecimals(t *testing.T) {
	f := newFixtureWith(t, fixtureOptions{assetDecimals: 6})

	if _, err := f.exchange.Swap(f.ctx, core.From(user), ether(1)); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if got := f.tokenBalance(t, user); !got.Eq(uint256.NewInt(2000_000_000)) {
		t.Fatalf("user received %s, want 2000e6", got.Dec())
	}
}

func TestSwapFailsWhenPoolShort(t *testing.T) {
	f := newFixture(t)
	var emitted int
	f.exec.SetEmitter(events.EmitterFunc(func(events.Event) { emitted++ }))
	before := f.pool(t)
	root := f.exec.Root()

	receipt, err := f.exchange.Swap(f.ctx, core.From(user), ether(100))
	if !errors.Is(err, ErrInsufficientTokenBalance) {
		t.Fatalf("expected insufficient token balance, got %v", err)
	}
	if err.Error() != "Insufficient Token balance" {
		t.Fatalf("unexpected reason %q", err.Error())
	}
	if receipt == nil || receipt.Succeeded() || len(receipt.Events) != 0 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if emitted != 0 {
		t.Fatalf("failed swap emitted %d events", emitted)
	}
	after := f.pool(t)
	if !after.Native.Eq(before.Native) || !after.Asset.Eq(before.Asset) {
		t.Fatalf("pool changed after failed swap: %+v -> %+v", before, after)
	}
	if got := f.nativeBalance(t, user); !got.Eq(ether(1_000)) {
		t.Fatalf("user native %s after failed swap", got.Dec())
	}
	if f.exec.Root() == root {
		t.Fatalf("failed operation should still consume the sender nonce")
	}
}

func TestSwapRejectsInvalidPrice(t *testing.T) {
	for _, answer := range []*big.Int{big.NewInt(0), big.NewInt(-1)} {
		f := newFixture(t)
		if _, err := f.feed.UpdateAnswer(f.ctx, core.From(owner), answer); err != nil {
			t.Fatalf("update answer: %v", err)
		}
		if _, err := f.exchange.Swap(f.ctx, core.From(user), ether(1)); !errors.Is(err, ErrInvalidPriceFeed) {
			t.Fatalf("answer %s: expected invalid price feed, got %v", answer, err)
		}
		if _, err := f.exchange.GetLatestPrice(f.ctx); !errors.Is(err, ErrInvalidPriceFeed) {
			t.Fatalf("answer %s: expected invalid price read, got %v", answer, err)
		}
		if got := f.tokenBalance(t, user); !got.IsZero() {
			t.Fatalf("user received %s with invalid price", got.Dec())
		}
	}
}

func TestSwapRejectsStalePrice(t *testing.T) {
	f := newFixtureWith(t, fixtureOptions{assetDecimals: 18, logic: Options{MaxPriceAge: time.Hour}})

	if _, err := f.exchange.Swap(f.ctx, core.From(user), ether(1)); err != nil {
		t.Fatalf("fresh swap: %v", err)
	}
	f.clock = f.clock.Add(2 * time.Hour)
	if _, err := f.exchange.Swap(f.ctx, core.From(user), ether(1)); !errors.Is(err, ErrInvalidPriceFeed) {
		t.Fatalf("expected stale price rejection, got %v", err)
	}
	if _, err := f.feed.UpdateAnswer(f.ctx, core.From(owner), big.NewInt(2500_0000_0000)); err != nil {
		t.Fatalf("update answer: %v", err)
	}
	if _, err := f.exchange.Swap(f.ctx, core.From(user), ether(1)); err != nil {
		t.Fatalf("swap after refresh: %v", err)
	}
	if got := f.tokenBalance(t, user); !got.Eq(ether(4500)) {
		t.Fatalf("user received %s, want 4500e18", got.Dec())
	}
}

func TestSwapRejectsZeroValue(t *testing.T) {
	f := newFixture(t)
	if _, err := f.exchange.Swap(f.ctx, core.From(user), nil); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected zero amount rejection, got %v", err)
	}
}

func TestDepositCreditsPool(t *testing.T) {
	f := newFixture(t)

	receipt, err := f.exchange.Deposit(f.ctx, core.From(user), ether(2))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := f.pool(t).Native; !got.Eq(ether(2)) {
		t.Fatalf("pool native %s, want 2e18", got.Dec())
	}
	if len(receipt.Events) != 1 || receipt.Events[0].Type != events.TypeExchangeDeposit {
		t.Fatalf("unexpected deposit events %+v", receipt.Events)
	}
	attrs := receipt.Events[0].Attributes
	if attrs["caller"] != user.Hex() || attrs["amount"] != ether(2).Dec() {
		t.Fatalf("unexpected deposit attributes %v", attrs)
	}
}

func TestOwnerWithdrawsBothLegs(t *testing.T) {
	f := newFixture(t)
	if _, err := f.exchange.Deposit(f.ctx, core.From(user), ether(2)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	nativeBefore := f.nativeBalance(t, owner)
	assetBefore := f.tokenBalance(t, owner)
	poolBefore := f.pool(t)

	receipt, err := f.exchange.Withdraw(f.ctx, core.From(owner), ether(1), ether(1000))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	var withdrawal *types.Event
	for i := range receipt.Events {
		if receipt.Events[i].Type == events.TypeExchangeWithdrawal {
			withdrawal = &receipt.Events[i]
		}
	}
	if withdrawal == nil {
		t.Fatalf("withdrawal event missing from receipt %+v", receipt.Events)
	}
	if attrs := withdrawal.Attributes; attrs["owner"] != owner.Hex() ||
		attrs["nativeAmount"] != ether(1).Dec() || attrs["assetAmount"] != ether(1000).Dec() {
		t.Fatalf("unexpected withdrawal attributes %v", attrs)
	}
	if got, want := f.nativeBalance(t, owner), new(uint256.Int).Add(nativeBefore, ether(1)); !got.Eq(want) {
		t.Fatalf("owner native %s, want %s", got.Dec(), want.Dec())
	}
	if got, want := f.tokenBalance(t, owner), new(uint256.Int).Add(assetBefore, ether(1000)); !got.Eq(want) {
		t.Fatalf("owner asset %s, want %s", got.Dec(), want.Dec())
	}
	after := f.pool(t)
	if want := new(uint256.Int).Sub(poolBefore.Native, ether(1)); !after.Native.Eq(want) {
		t.Fatalf("pool native %s, want %s", after.Native.Dec(), want.Dec())
	}
	if want := new(uint256.Int).Sub(poolBefore.Asset, ether(1000)); !after.Asset.Eq(want) {
		t.Fatalf("pool asset %s, want %s", after.Asset.Dec(), want.Dec())
	}
}

func TestWithdrawZeroIsNoop(t *testing.T) {
	f := newFixture(t)
	before := f.pool(t)
	if _, err := f.exchange.Withdraw(f.ctx, core.From(owner), nil, nil); err != nil {
		t.Fatalf("withdraw zero: %v", err)
	}
	after := f.pool(t)
	if !after.Native.Eq(before.Native) || !after.Asset.Eq(before.Asset) {
		t.Fatalf("zero withdraw moved funds: %+v -> %+v", before, after)
	}
}

func TestWithdrawRejectsNonOwner(t *testing.T) {
	f := newFixture(t)

	_, err := f.exchange.Withdraw(f.ctx, core.From(user), new(uint256.Int), new(uint256.Int))
	var unauthorized *UnauthorizedAccountError
	if !errors.As(err, &unauthorized) || unauthorized.Account != user {
		t.Fatalf("expected unauthorized account error for user, got %v", err)
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized match, got %v", err)
	}
}

func TestWithdrawRejectsOverdraw(t *testing.T) {
	f := newFixture(t)
	if _, err := f.exchange.Deposit(f.ctx, core.From(user), ether(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	before := f.pool(t)

	if _, err := f.exchange.Withdraw(f.ctx, core.From(owner), ether(2), nil); !errors.Is(err, ErrInsufficientNativeBalance) {
		t.Fatalf("expected insufficient native balance, got %v", err)
	}
	if _, err := f.exchange.Withdraw(f.ctx, core.From(owner), ether(1), ether(200_000)); !errors.Is(err, ErrInsufficientTokenBalance) {
		t.Fatalf("expected insufficient token balance, got %v", err)
	}
	after := f.pool(t)
	if !after.Native.Eq(before.Native) || !after.Asset.Eq(before.Asset) {
		t.Fatalf("pool changed after failed withdraw: %+v -> %+v", before, after)
	}
}

func TestInitializeRunsOnce(t *testing.T) {
	f := newFixture(t)
	_, err := f.exchange.Initialize(f.ctx, core.From(user), user, f.token.Address(), f.feed.Address())
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected re-initialization to fail, got %v", err)
	}
	if got, _ := f.exchange.Owner(f.ctx); got != owner {
		t.Fatalf("owner changed to %s", got.Hex())
	}
}

func TestDeployRejectsZeroOwner(t *testing.T) {
	f := newFixture(t)
	_, _, err := Deploy(f.ctx, f.exec, f.proxy, owner, f.implV1, common.Address{}, f.token.Address(), f.feed.Address())
	if !errors.Is(err, ErrInvalidOwner) {
		t.Fatalf("expected invalid owner, got %v", err)
	}
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t)

	if _, err := f.exchange.TransferOwnership(f.ctx, core.From(user), user); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected non-owner transfer to fail, got %v", err)
	}
	if _, err := f.exchange.TransferOwnership(f.ctx, core.From(owner), common.Address{}); !errors.Is(err, ErrInvalidOwner) {
		t.Fatalf("expected zero owner rejection, got %v", err)
	}
	if _, err := f.exchange.TransferOwnership(f.ctx, core.From(owner), user); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	if got, _ := f.exchange.Owner(f.ctx); got != user {
		t.Fatalf("owner %s, want %s", got.Hex(), user.Hex())
	}
	if _, err := f.exchange.Withdraw(f.ctx, core.From(owner), nil, nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("previous owner still authorized: %v", err)
	}
}

func TestUpgradePreservesState(t *testing.T) {
	f := newFixture(t)
	if _, err := f.exchange.Swap(f.ctx, core.From(user), ether(1)); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if _, err := f.exchange.Version(f.ctx); !errors.Is(err, ErrMethodNotSupported) {
		t.Fatalf("expected version to be unsupported before upgrade, got %v", err)
	}
	poolBefore := f.pool(t)

	receipt, err := f.exchange.UpgradeTo(f.ctx, core.From(owner), f.implV2)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if len(receipt.Events) != 1 || receipt.Events[0].Type != events.TypeExchangeUpgraded {
		t.Fatalf("unexpected upgrade events %+v", receipt.Events)
	}

	if got, _ := f.exchange.Owner(f.ctx); got != owner {
		t.Fatalf("owner not preserved: %s", got.Hex())
	}
	if got, _ := f.exchange.Token(f.ctx); got != f.token.Address() {
		t.Fatalf("token not preserved: %s", got.Hex())
	}
	if got, _ := f.exchange.PriceFeed(f.ctx); got != f.feed.Address() {
		t.Fatalf("feed not preserved: %s", got.Hex())
	}
	version, err := f.exchange.Version(f.ctx)
	if err != nil || version != "V2" {
		t.Fatalf("version=%q err=%v", version, err)
	}
	if name, _ := f.exchange.LogicName(f.ctx); name != "TokenExchangeV2" {
		t.Fatalf("unexpected logic %q", name)
	}
	history, err := f.exchange.Implementations(f.ctx)
	if err != nil {
		t.Fatalf("implementations: %v", err)
	}
	if len(history) != 2 || history[0] != f.implV1 || history[1] != f.implV2 {
		t.Fatalf("unexpected implementation history %v", history)
	}
	poolAfter := f.pool(t)
	if !poolAfter.Native.Eq(poolBefore.Native) || !poolAfter.Asset.Eq(poolBefore.Asset) {
		t.Fatalf("pool changed across upgrade: %+v -> %+v", poolBefore, poolAfter)
	}

	if _, err := f.exchange.Swap(f.ctx, core.From(user), ether(1)); err != nil {
		t.Fatalf("swap after upgrade: %v", err)
	}
	if got := f.tokenBalance(t, user); !got.Eq(ether(4000)) {
		t.Fatalf("user holds %s after second swap", got.Dec())
	}
}

func TestDowngradeRestoresV1Surface(t *testing.T) {
	f := newFixture(t)
	if _, err := f.exchange.UpgradeTo(f.ctx, core.From(owner), f.implV2); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if _, err := f.exchange.UpgradeTo(f.ctx, core.From(owner), f.implV1); err != nil {
		t.Fatalf("downgrade: %v", err)
	}
	if _, err := f.exchange.Version(f.ctx); !errors.Is(err, ErrMethodNotSupported) {
		t.Fatalf("expected version to be unsupported after downgrade, got %v", err)
	}
	if _, err := f.exchange.UpgradeTo(f.ctx, core.From(owner), f.implV2); err != nil {
		t.Fatalf("re-upgrade: %v", err)
	}
	history, err := f.exchange.Implementations(f.ctx)
	if err != nil {
		t.Fatalf("implementations: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("returning to a known logic should not grow history: %v", history)
	}
}

func TestUpgradeRejectsNonOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.exchange.UpgradeTo(f.ctx, core.From(user), f.implV2)
	var unauthorized *UnauthorizedAccountError
	if !errors.As(err, &unauthorized) || unauthorized.Account != user {
		t.Fatalf("expected unauthorized account error, got %v", err)
	}
	if impl, _ := f.exchange.Implementation(f.ctx); impl != f.implV1 {
		t.Fatalf("implementation changed to %s", impl.Hex())
	}
	if history, _ := f.exchange.Implementations(f.ctx); len(history) != 1 {
		t.Fatalf("rejected upgrade recorded in history: %v", history)
	}
}

func TestUpgradeRejectsUnknownImplementation(t *testing.T) {
	f := newFixture(t)
	for _, target := range []common.Address{f.token.Address(), common.HexToAddress("0x1234"), {}} {
		if _, err := f.exchange.UpgradeTo(f.ctx, core.From(owner), target); !errors.Is(err, ErrUnknownImplementation) {
			t.Fatalf("target %s: expected unknown implementation, got %v", target.Hex(), err)
		}
	}
}

type reorderedLogic struct {
	*V2
}

func (reorderedLogic) Name() string { return "Reordered" }

func (reorderedLogic) Layout() Layout {
	return Layout{
		{Name: fieldInitialized, Kind: KindUint64, Slot: 0},
		{Name: fieldToken, Kind: KindAddress, Slot: 1},
		{Name: fieldOwner, Kind: KindAddress, Slot: 2},
		{Name: fieldPriceFeed, Kind: KindAddress, Slot: 3},
	}
}

func TestUpgradeRejectsIncompatibleLayout(t *testing.T) {
	f := newFixture(t)
	bad := reorderedLogic{V2: NewV2(Options{})}
	if err := f.proxy.Registry().Register(bad); err != nil {
		t.Fatalf("register: %v", err)
	}
	impl, _, err := DeployImplementation(f.ctx, f.exec, owner, bad)
	if err != nil {
		t.Fatalf("deploy implementation: %v", err)
	}
	if _, err := f.exchange.UpgradeTo(f.ctx, core.From(owner), impl); !errors.Is(err, ErrIncompatibleLayout) {
		t.Fatalf("expected incompatible layout, got %v", err)
	}
	if impl, _ := f.exchange.Implementation(f.ctx); impl != f.implV1 {
		t.Fatalf("implementation changed to %s", impl.Hex())
	}
}
