package execution

import (
	"context"

	"tradecore/pkg/quant"
)

// Capabilities describes what a venue supports. Amendment constraints are venue policy
// and are checked by callers before issuing a modify.
type Capabilities struct {
	// AtomicAmend is true when price and quantity can change in one request.
	AtomicAmend  bool
	StopOrders   bool
	ReduceOnly   bool
	AmendPending bool
}

// Client is the venue collaborator. Responses arrive asynchronously as order events.
type Client interface {
	SubmitOrder(ctx context.Context, order *Order) error
	ModifyOrder(ctx context.Context, order *Order, qty *quant.Quantity, price, triggerPrice *quant.Price) error
	CancelOrder(ctx context.Context, order *Order) error
	Capabilities() Capabilities
}
