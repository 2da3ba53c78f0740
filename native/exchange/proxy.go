package exchange

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tokenexchange/core"
	"tokenexchange/core/events"
	"tokenexchange/core/types"
)

const (
	// ProxyKind is the code kind of exchange proxies.
	ProxyKind = "exchange-proxy"
	// LogicKindPrefix prefixes the code kind of deployed logic accounts.
	LogicKindPrefix = "exchange-logic:"
)

// Proxy routes every call to the logic version recorded in the proxy's
// implementation slot. The persisted exchange state never moves; only the
// slot changes on upgrade.
type Proxy struct {
	registry *Registry
}

// NewProxy constructs a proxy dispatcher over registry.
func NewProxy(registry *Registry) *Proxy {
	return &Proxy{registry: registry}
}

// Registry returns the logic registry.
func (p *Proxy) Registry() *Registry { return p.registry }

// DeployImplementation deploys an account standing for logic so proxies can
// be pointed at it.
func DeployImplementation(ctx context.Context, exec *core.Executor, deployer common.Address, logic Logic) (common.Address, *types.Receipt, error) {
	if logic == nil {
		return common.Address{}, nil, fmt.Errorf("exchange: nil logic")
	}
	return exec.Deploy(ctx, deployer, LogicKindPrefix+logic.Name(), nil, nil)
}

// Construct initializes a freshly deployed proxy: it records impl and runs
// the logic's Initialize in the proxy frame.
func (p *Proxy) Construct(c *core.Call, impl, owner, asset, feed common.Address) error {
	if err := p.ensureProxy(c); err != nil {
		return err
	}
	logic, err := p.logicAt(c, impl)
	if err != nil {
		return err
	}
	if err := recordImplementation(c, impl); err != nil {
		return err
	}
	c.Emit(events.ExchangeUpgraded{Exchange: c.Self(), Implementation: impl, Logic: logic.Name()})
	return logic.Initialize(c, owner, asset, feed)
}

// Initialize forwards to the active logic. It always fails on a constructed
// proxy; it exists so re-initialization attempts surface the stable reason.
func (p *Proxy) Initialize(c *core.Call, owner, asset, feed common.Address) error {
	logic, _, err := p.resolve(c)
	if err != nil {
		return err
	}
	return logic.Initialize(c, owner, asset, feed)
}

// UpgradeTo points the proxy at newImpl. The active logic authorizes the
// caller and the new logic's layout must extend the active one.
func (p *Proxy) UpgradeTo(c *core.Call, newImpl common.Address) error {
	current, _, err := p.resolve(c)
	if err != nil {
		return err
	}
	if err := current.AuthorizeUpgrade(c, newImpl); err != nil {
		return err
	}
	next, err := p.logicAt(c, newImpl)
	if err != nil {
		return err
	}
	if err := next.Layout().CompatibleWith(current.Layout()); err != nil {
		return err
	}
	if err := recordImplementation(c, newImpl); err != nil {
		return err
	}
	c.Emit(events.ExchangeUpgraded{Exchange: c.Self(), Implementation: newImpl, Logic: next.Name()})
	return nil
}

// Implementation returns the active logic account.
func (p *Proxy) Implementation(c *core.Call) (common.Address, error) {
	_, impl, err := p.resolve(c)
	return impl, err
}

// Implementations lists every logic account the proxy has been pointed at,
// oldest first. Returning to an earlier logic does not add a new entry.
func (p *Proxy) Implementations(c *core.Call) ([]common.Address, error) {
	if err := p.ensureProxy(c); err != nil {
		return nil, err
	}
	return loadImplementations(c)
}

// LogicName returns the name of the active logic.
func (p *Proxy) LogicName(c *core.Call) (string, error) {
	logic, _, err := p.resolve(c)
	if err != nil {
		return "", err
	}
	return logic.Name(), nil
}

// Version returns the active logic's version tag. Logic without a version
// read reports ErrMethodNotSupported.
func (p *Proxy) Version(c *core.Call) (string, error) {
	logic, _, err := p.resolve(c)
	if err != nil {
		return "", err
	}
	versioned, ok := logic.(Versioned)
	if !ok {
		return "", fmt.Errorf("%w: version() on %s", ErrMethodNotSupported, logic.Name())
	}
	return versioned.Version(), nil
}

func (p *Proxy) Deposit(c *core.Call) error {
	logic, _, err := p.resolve(c)
	if err != nil {
		return err
	}
	return logic.Deposit(c)
}

func (p *Proxy) Swap(c *core.Call) (*uint256.Int, error) {
	logic, _, err := p.resolve(c)
	if err != nil {
		return nil, err
	}
	return logic.Swap(c)
}

func (p *Proxy) Withdraw(c *core.Call, nativeAmount, assetAmount *uint256.Int) error {
	logic, _, err := p.resolve(c)
	if err != nil {
		return err
	}
	return logic.Withdraw(c, nativeAmount, assetAmount)
}

func (p *Proxy) TransferOwnership(c *core.Call, newOwner common.Address) error {
	logic, _, err := p.resolve(c)
	if err != nil {
		return err
	}
	return logic.TransferOwnership(c, newOwner)
}

func (p *Proxy) Owner(c *core.Call) (common.Address, error) {
	logic, _, err := p.resolve(c)
	if err != nil {
		return common.Address{}, err
	}
	return logic.Owner(c)
}

func (p *Proxy) Token(c *core.Call) (common.Address, error) {
	logic, _, err := p.resolve(c)
	if err != nil {
		return common.Address{}, err
	}
	return logic.Token(c)
}

func (p *Proxy) PriceFeed(c *core.Call) (common.Address, error) {
	logic, _, err := p.resolve(c)
	if err != nil {
		return common.Address{}, err
	}
	return logic.PriceFeed(c)
}

func (p *Proxy) GetLatestPrice(c *core.Call) (*uint256.Int, error) {
	logic, _, err := p.resolve(c)
	if err != nil {
		return nil, err
	}
	return logic.GetLatestPrice(c)
}

func (p *Proxy) resolve(c *core.Call) (Logic, common.Address, error) {
	if err := p.ensureProxy(c); err != nil {
		return nil, common.Address{}, err
	}
	impl, err := loadImplementation(c)
	if err != nil {
		return nil, common.Address{}, err
	}
	if impl == (common.Address{}) {
		return nil, common.Address{}, ErrNotInitialized
	}
	logic, err := p.logicAt(c, impl)
	if err != nil {
		return nil, common.Address{}, err
	}
	return logic, impl, nil
}

func (p *Proxy) logicAt(c *core.Call, impl common.Address) (Logic, error) {
	if impl == (common.Address{}) {
		return nil, invalidImplementation(impl)
	}
	kind, err := c.State().Code(impl)
	if err != nil {
		return nil, err
	}
	name, ok := strings.CutPrefix(kind, LogicKindPrefix)
	if !ok || p.registry == nil {
		return nil, invalidImplementation(impl)
	}
	logic, ok := p.registry.Lookup(name)
	if !ok {
		return nil, invalidImplementation(impl)
	}
	return logic, nil
}

func (p *Proxy) ensureProxy(c *core.Call) error {
	kind, err := c.CodeKind()
	if err != nil {
		return err
	}
	if kind != ProxyKind {
		return fmt.Errorf("%w: %s", ErrNotExchange, c.Self().Hex())
	}
	return nil
}
