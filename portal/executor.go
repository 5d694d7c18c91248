package portal

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/intentlane/intentlane/bank"
	"github.com/intentlane/intentlane/log"
	"github.com/intentlane/intentlane/types"
)

// ErrExecutionFailed wraps a route call that reverted.
var ErrExecutionFailed = errors.New("portal: route call failed")

// CallContext is what a call target observes: the executor's identity as
// caller, never the portal's. Route calls run through this isolated context
// so arbitrary targets cannot impersonate the settlement ledger.
type CallContext struct {
	Caller types.Address
	Value  *uint256.Int
	Ledger bank.Ledger
}

// Handler is the in-process stand-in for a callable account. It receives
// the call context and the opaque payload.
type Handler func(ctx *CallContext, data []byte) error

// Executor executes route calls from its own account. The portal funds it
// with the route's declared assets before execution and sweeps leftovers
// back afterwards; between the two, every call sees only the executor.
type Executor struct {
	addr     types.Address
	ledger   bank.Ledger
	handlers map[types.Address]Handler
	log      *log.Logger
}

// NewExecutor creates an executor with its own account identity.
func NewExecutor(addr types.Address, ledger bank.Ledger, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.Default()
	}
	return &Executor{
		addr:     addr,
		ledger:   ledger,
		handlers: make(map[types.Address]Handler),
		log:      logger.Module("executor"),
	}
}

// Address returns the executor's account identity.
func (e *Executor) Address() types.Address { return e.addr }

// Register installs the handler for a target account. Targets without a
// handler still receive value transfers, like plain accounts.
func (e *Executor) Register(target types.Address, h Handler) {
	e.handlers[target] = h
}

// Execute runs one route call: transfers the attached value to the target,
// then invokes its handler if one exists. Value-transfer failures and
// handler failures both abort the call.
func (e *Executor) Execute(c *types.Call) error {
	if c.Value != nil && !c.Value.IsZero() {
		if err := e.ledger.TransferNative(e.addr, c.Target, c.Value); err != nil {
			return err
		}
	}
	h, ok := e.handlers[c.Target]
	if !ok {
		// Plain account: accepts value, ignores payload.
		return nil
	}
	ctx := &CallContext{Caller: e.addr, Value: c.Value, Ledger: e.ledger}
	if err := h(ctx, c.Data); err != nil {
		e.log.Debug("route call reverted", "target", c.Target.Hex(), "err", err.Error())
		return errors.Join(ErrExecutionFailed, err)
	}
	return nil
}
