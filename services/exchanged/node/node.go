package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tokenexchange/config"
	"tokenexchange/core"
	"tokenexchange/core/events"
	"tokenexchange/core/types"
	"tokenexchange/native/exchange"
	"tokenexchange/native/oracle"
	"tokenexchange/native/token"
	"tokenexchange/observability"
	telemetry "tokenexchange/observability/otel"
	feeds "tokenexchange/services/exchanged/oracle"
	"tokenexchange/storage"
)

var (
	// ErrUnknownMethod is returned for request methods the node does not route.
	ErrUnknownMethod = errors.New("node: unknown method")
	// ErrInvalidRequest wraps malformed request arguments.
	ErrInvalidRequest = errors.New("node: invalid request")
)

var deploymentKey = []byte("exchanged/deployment")

// ReceiptSink receives every receipt the node produces.
type ReceiptSink interface {
	RecordReceipt(ctx context.Context, r *types.Receipt) error
}

// Deployment lists the contracts the node operates against.
type Deployment struct {
	Mode      string                    `json:"mode"`
	Operator  common.Address            `json:"operator"`
	Token     common.Address            `json:"token"`
	PriceFeed common.Address            `json:"priceFeed"`
	Proxy     common.Address            `json:"proxy"`
	Logics    map[string]common.Address `json:"logics,omitempty"`
}

// Options configure Bootstrap.
type Options struct {
	Exchange config.Exchange
	// Operator deploys the dev contracts, seeds the pool and posts feed rounds.
	Operator common.Address
	Logger   *slog.Logger
	Receipts ReceiptSink
}

// Node binds the executor to one exchange deployment and routes requests.
type Node struct {
	logger     *slog.Logger
	exec       *core.Executor
	store      storage.Database
	proxy      *exchange.Proxy
	exchange   *exchange.Client
	token      *token.Client
	feed       *oracle.Client
	receipts   ReceiptSink
	deployment Deployment
}

// Bootstrap attaches to the configured deployment, deploying the dev contracts
// on first boot when the exchange runs in dev mode.
func Bootstrap(ctx context.Context, exec *core.Executor, store storage.Database, opts Options) (*Node, error) {
	if exec == nil || store == nil {
		return nil, fmt.Errorf("node: executor and storage required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := exchange.DefaultRegistry(exchange.Options{MaxPriceAge: opts.Exchange.MaxPriceAge.Duration})
	n := &Node{
		logger:   logger,
		exec:     exec,
		store:    store,
		proxy:    exchange.NewProxy(registry),
		receipts: opts.Receipts,
	}

	var err error
	switch strings.ToLower(strings.TrimSpace(opts.Exchange.Mode)) {
	case config.ModeDev:
		err = n.bootstrapDev(ctx, opts)
	case config.ModeAttach:
		err = n.attach(ctx, opts)
	default:
		err = fmt.Errorf("node: unknown exchange mode %q", opts.Exchange.Mode)
	}
	if err != nil {
		return nil, err
	}
	n.exchange = exchange.NewClient(exec, n.proxy, n.deployment.Proxy)
	n.token = token.NewClient(exec, n.deployment.Token)
	n.feed = oracle.NewClient(exec, n.deployment.PriceFeed)
	observability.Exchange().SetHeight(exec.Height())
	return n, nil
}

func (n *Node) bootstrapDev(ctx context.Context, opts Options) error {
	if dep, ok, err := loadDeployment(n.store); err != nil {
		return err
	} else if ok {
		n.deployment = dep
		n.logger.Info("exchange deployment loaded", slog.String("proxy", dep.Proxy.Hex()))
		return nil
	}
	cfg := opts.Exchange
	operator := opts.Operator
	if operator == (common.Address{}) {
		return fmt.Errorf("node: dev mode requires an operator account")
	}
	owner := operator
	if strings.TrimSpace(cfg.Owner) != "" {
		owner = common.HexToAddress(cfg.Owner)
	}
	supply, err := amount(cfg.TokenSupply)
	if err != nil {
		return fmt.Errorf("node: token supply: %w", err)
	}
	seed, err := amount(cfg.PoolSeed)
	if err != nil {
		return fmt.Errorf("node: pool seed: %w", err)
	}
	initialPrice, ok := new(big.Int).SetString(strings.TrimSpace(cfg.InitialPrice), 10)
	if !ok {
		return fmt.Errorf("node: invalid initial price %q", cfg.InitialPrice)
	}

	dep := Deployment{Mode: config.ModeDev, Operator: operator, Logics: make(map[string]common.Address)}
	meta := token.Metadata{Name: cfg.TokenName, Symbol: cfg.TokenSymbol, Decimals: cfg.TokenDecimals}
	dep.Token, err = n.deploy(ctx, "token", func() (common.Address, *types.Receipt, error) {
		return token.Deploy(ctx, n.exec, operator, meta, operator, supply)
	})
	if err != nil {
		return err
	}
	dep.PriceFeed, err = n.deploy(ctx, "price feed", func() (common.Address, *types.Receipt, error) {
		return oracle.Deploy(ctx, n.exec, operator, cfg.FeedDecimals, "ETH / USD", initialPrice, operator)
	})
	if err != nil {
		return err
	}
	registry := n.proxy.Registry()
	for _, name := range registry.Names() {
		logic, _ := registry.Lookup(name)
		addr, err := n.deploy(ctx, "implementation "+name, func() (common.Address, *types.Receipt, error) {
			return exchange.DeployImplementation(ctx, n.exec, operator, logic)
		})
		if err != nil {
			return err
		}
		dep.Logics[name] = addr
	}
	impl, ok := dep.Logics[cfg.Logic]
	if !ok {
		return fmt.Errorf("node: unknown logic %q (registered: %s)", cfg.Logic, strings.Join(registry.Names(), ", "))
	}
	dep.Proxy, err = n.deploy(ctx, "proxy", func() (common.Address, *types.Receipt, error) {
		client, receipt, err := exchange.Deploy(ctx, n.exec, n.proxy, operator, impl, owner, dep.Token, dep.PriceFeed)
		if err != nil {
			return common.Address{}, receipt, err
		}
		return client.Address(), receipt, nil
	})
	if err != nil {
		return err
	}
	if !seed.IsZero() {
		receipt, err := token.NewClient(n.exec, dep.Token).Transfer(ctx, core.From(operator), dep.Proxy, seed)
		n.record(ctx, receipt)
		if err != nil {
			return fmt.Errorf("node: seed pool: %w", err)
		}
	}
	if err := saveDeployment(n.store, dep); err != nil {
		return err
	}
	n.deployment = dep
	n.logger.Info("exchange deployed",
		slog.String("proxy", dep.Proxy.Hex()),
		slog.String("token", dep.Token.Hex()),
		slog.String("price_feed", dep.PriceFeed.Hex()),
		slog.String("logic", cfg.Logic),
		slog.String("owner", owner.Hex()))
	return nil
}

func (n *Node) deploy(ctx context.Context, what string, fn func() (common.Address, *types.Receipt, error)) (common.Address, error) {
	addr, receipt, err := fn()
	n.record(ctx, receipt)
	if err != nil {
		return common.Address{}, fmt.Errorf("node: deploy %s: %w", what, err)
	}
	return addr, nil
}

func (n *Node) attach(ctx context.Context, opts Options) error {
	proxyAddr := common.HexToAddress(opts.Exchange.Proxy)
	client := exchange.NewClient(n.exec, n.proxy, proxyAddr)
	if _, err := client.Implementation(ctx); err != nil {
		return fmt.Errorf("node: attach %s: %w", proxyAddr.Hex(), err)
	}
	tokenAddr, err := client.Token(ctx)
	if err != nil {
		return fmt.Errorf("node: read token: %w", err)
	}
	feedAddr, err := client.PriceFeed(ctx)
	if err != nil {
		return fmt.Errorf("node: read price feed: %w", err)
	}
	if configured := common.HexToAddress(opts.Exchange.Token); configured != tokenAddr {
		n.logger.Warn("configured token differs from exchange state",
			slog.String("configured", configured.Hex()), slog.String("exchange", tokenAddr.Hex()))
	}
	if configured := common.HexToAddress(opts.Exchange.PriceFeed); configured != feedAddr {
		n.logger.Warn("configured price feed differs from exchange state",
			slog.String("configured", configured.Hex()), slog.String("exchange", feedAddr.Hex()))
	}
	n.deployment = Deployment{
		Mode:      config.ModeAttach,
		Operator:  opts.Operator,
		Token:     tokenAddr,
		PriceFeed: feedAddr,
		Proxy:     proxyAddr,
	}
	return nil
}

func loadDeployment(store storage.Database) (Deployment, bool, error) {
	raw, err := store.Get(deploymentKey)
	if errors.Is(err, storage.ErrNotFound) {
		return Deployment{}, false, nil
	}
	if err != nil {
		return Deployment{}, false, fmt.Errorf("node: load deployment: %w", err)
	}
	var dep Deployment
	if err := json.Unmarshal(raw, &dep); err != nil {
		return Deployment{}, false, fmt.Errorf("node: decode deployment: %w", err)
	}
	return dep, true, nil
}

func saveDeployment(store storage.Database, dep Deployment) error {
	raw, err := json.Marshal(dep)
	if err != nil {
		return err
	}
	if err := store.Put(deploymentKey, raw); err != nil {
		return fmt.Errorf("node: persist deployment: %w", err)
	}
	return nil
}

func amount(raw string) (*uint256.Int, error) {
	v, err := config.ParseAmount(raw)
	if err != nil {
		return nil, err
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("amount %s exceeds 256 bits", raw)
	}
	return out, nil
}

func (n *Node) Exchange() *exchange.Client { return n.exchange }

func (n *Node) Token() *token.Client { return n.token }

func (n *Node) Feed() *oracle.Client { return n.feed }

func (n *Node) Executor() *core.Executor { return n.exec }

func (n *Node) Deployment() Deployment { return n.deployment }

// Apply executes a signed request. The returned receipt is non-nil whenever
// the request reached the executor, including failed operations.
func (n *Node) Apply(ctx context.Context, req *types.Request) (*types.Receipt, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	from, err := req.From()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if proxy := n.exchange.Address(); req.Exchange != proxy {
		return nil, fmt.Errorf("%w: signed for exchange %s, this node serves %s", ErrInvalidRequest, req.Exchange.Hex(), proxy.Hex())
	}
	sender := core.Sender{From: from, Nonce: req.Nonce, CheckNonce: true}
	value, err := requestValue(req.Value)
	if err != nil {
		return nil, err
	}
	if !value.IsZero() && req.Method != types.MethodDeposit && req.Method != types.MethodSwap {
		return nil, fmt.Errorf("%w: %s does not accept value", ErrInvalidRequest, req.Method)
	}

	ctx, span := telemetry.Tracer("node").Start(ctx, "node.Apply", trace.WithAttributes(
		attribute.String("exchange.method", req.Method),
		attribute.String("exchange.from", from.Hex()),
	))
	defer span.End()

	receipt, err := n.dispatch(ctx, sender, req, value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	n.record(ctx, receipt)
	if receipt != nil {
		observability.Exchange().Observe(req.Method, err)
		observability.Exchange().SetHeight(receipt.Height)
		if receipt.Succeeded() && req.Method == types.MethodSwap {
			recordSwap(receipt)
		}
	}
	return receipt, err
}

func (n *Node) dispatch(ctx context.Context, sender core.Sender, req *types.Request, value *uint256.Int) (*types.Receipt, error) {
	switch req.Method {
	case types.MethodDeposit:
		return n.exchange.Deposit(ctx, sender, value)
	case types.MethodSwap:
		return n.exchange.Swap(ctx, sender, value)
	case types.MethodWithdraw:
		var args types.WithdrawArgs
		if err := types.DecodeArgs(req.Args, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		nativeAmount, err := types.ParseAmount(args.Native)
		if err != nil {
			return nil, fmt.Errorf("%w: native: %v", ErrInvalidRequest, err)
		}
		assetAmount, err := types.ParseAmount(args.Asset)
		if err != nil {
			return nil, fmt.Errorf("%w: asset: %v", ErrInvalidRequest, err)
		}
		return n.exchange.Withdraw(ctx, sender, nativeAmount, assetAmount)
	case types.MethodUpgrade:
		var args types.UpgradeArgs
		if err := types.DecodeArgs(req.Args, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		impl, err := types.ParseHexAddress(args.Implementation)
		if err != nil {
			return nil, fmt.Errorf("%w: implementation: %v", ErrInvalidRequest, err)
		}
		return n.exchange.UpgradeTo(ctx, sender, impl)
	case types.MethodTransferOwnership:
		var args types.TransferOwnershipArgs
		if err := types.DecodeArgs(req.Args, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		newOwner, err := types.ParseHexAddress(args.NewOwner)
		if err != nil {
			return nil, fmt.Errorf("%w: newOwner: %v", ErrInvalidRequest, err)
		}
		return n.exchange.TransferOwnership(ctx, sender, newOwner)
	case types.MethodTokenTransfer:
		var args types.TokenTransferArgs
		if err := types.DecodeArgs(req.Args, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		to, err := types.ParseHexAddress(args.To)
		if err != nil {
			return nil, fmt.Errorf("%w: to: %v", ErrInvalidRequest, err)
		}
		amt, err := types.ParseAmount(args.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: amount: %v", ErrInvalidRequest, err)
		}
		tok, err := n.tokenFor(args.Token)
		if err != nil {
			return nil, err
		}
		return tok.Transfer(ctx, sender, to, amt)
	case types.MethodTokenApprove:
		var args types.TokenApproveArgs
		if err := types.DecodeArgs(req.Args, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		spender, err := types.ParseHexAddress(args.Spender)
		if err != nil {
			return nil, fmt.Errorf("%w: spender: %v", ErrInvalidRequest, err)
		}
		amt, err := types.ParseAmount(args.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: amount: %v", ErrInvalidRequest, err)
		}
		tok, err := n.tokenFor(args.Token)
		if err != nil {
			return nil, err
		}
		return tok.Approve(ctx, sender, spender, amt)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, req.Method)
	}
}

func (n *Node) tokenFor(raw string) (*token.Client, error) {
	if strings.TrimSpace(raw) == "" {
		return n.token, nil
	}
	addr, err := types.ParseHexAddress(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: token: %v", ErrInvalidRequest, err)
	}
	return token.NewClient(n.exec, addr), nil
}

// PublishRate posts rate, a decimal price of one native unit in the quote
// currency, as a new round on the price feed.
func (n *Node) PublishRate(ctx context.Context, rate *big.Rat) (*types.Receipt, error) {
	decimals, err := n.feed.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("node: read feed decimals: %w", err)
	}
	answer, err := feeds.ScaleRate(rate, decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	receipt, err := n.feed.UpdateAnswer(ctx, core.From(n.deployment.Operator), answer)
	n.record(ctx, receipt)
	if receipt != nil {
		observability.Exchange().Observe("oracle-update", err)
		observability.Exchange().SetHeight(receipt.Height)
	}
	return receipt, err
}

func (n *Node) record(ctx context.Context, receipt *types.Receipt) {
	if receipt == nil || n.receipts == nil {
		return
	}
	if err := n.receipts.RecordReceipt(ctx, receipt); err != nil {
		n.logger.Warn("journal receipt", slog.String("method", receipt.Method), slog.Any("error", err))
	}
}

func requestValue(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative value", ErrInvalidRequest)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: value exceeds 256 bits", ErrInvalidRequest)
	}
	return out, nil
}

func recordSwap(receipt *types.Receipt) {
	for _, ev := range receipt.Events {
		if ev.Type != events.TypeExchangeSwap {
			continue
		}
		in, errIn := uint256.FromDecimal(ev.Attr("amountIn"))
		out, errOut := uint256.FromDecimal(ev.Attr("amountOut"))
		price, errPrice := uint256.FromDecimal(ev.Attr("price"))
		if errIn == nil && errOut == nil && errPrice == nil {
			observability.Exchange().RecordSwap(in, out, price)
		}
	}
}
