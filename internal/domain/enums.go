package domain

// OrderSide is the side of an order or book entry.
type OrderSide string

const (
	NoOrderSide OrderSide = "NO_ORDER_SIDE"
	Buy         OrderSide = "BUY"
	Sell        OrderSide = "SELL"
)

// Opposite returns the other side. NoOrderSide maps to itself.
func (s OrderSide) Opposite() OrderSide {
	switch s {
	case Buy:
		return Sell
	case Sell:
		return Buy
	}
	return NoOrderSide
}

// Sign is +1 for BUY, -1 for SELL, 0 otherwise.
func (s OrderSide) Sign() int64 {
	switch s {
	case Buy:
		return 1
	case Sell:
		return -1
	}
	return 0
}

// ID is the deterministic order id used for L1 entries.
func (s OrderSide) ID() uint64 {
	switch s {
	case Buy:
		return 1
	case Sell:
		return 2
	}
	return 0
}

func (s OrderSide) Valid() bool { return s == Buy || s == Sell }

type OrderType string

const (
	Market     OrderType = "MARKET"
	Limit      OrderType = "LIMIT"
	StopMarket OrderType = "STOP_MARKET"
	StopLimit  OrderType = "STOP_LIMIT"
)

// HasPrice reports whether the type requires a limit price.
func (t OrderType) HasPrice() bool { return t == Limit || t == StopLimit }

// HasTrigger reports whether the type requires a trigger price.
func (t OrderType) HasTrigger() bool { return t == StopMarket || t == StopLimit }

type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
	GTD TimeInForce = "GTD"
	DAY TimeInForce = "DAY"
)

type OrderStatus string

const (
	StatusInitialized     OrderStatus = "INITIALIZED"
	StatusDenied          OrderStatus = "DENIED"
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusAccepted        OrderStatus = "ACCEPTED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusTriggered       OrderStatus = "TRIGGERED"
	StatusPendingUpdate   OrderStatus = "PENDING_UPDATE"
	StatusPendingCancel   OrderStatus = "PENDING_CANCEL"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
)

// IsTerminal reports whether no further event may be applied.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusDenied, StatusRejected, StatusCanceled, StatusExpired, StatusFilled:
		return true
	}
	return false
}

// IsPending reports whether the order awaits a venue confirmation of a modify or cancel.
func (s OrderStatus) IsPending() bool {
	return s == StatusPendingUpdate || s == StatusPendingCancel
}

type PositionSide string

const (
	Flat  PositionSide = "FLAT"
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// BookType is the granularity of an order book.
type BookType string

const (
	L1MBP BookType = "L1_MBP"
	L2MBP BookType = "L2_MBP"
	L3MBO BookType = "L3_MBO"
)

func (t BookType) Valid() bool { return t == L1MBP || t == L2MBP || t == L3MBO }

type BookAction string

const (
	ActionAdd    BookAction = "ADD"
	ActionUpdate BookAction = "UPDATE"
	ActionDelete BookAction = "DELETE"
	ActionClear  BookAction = "CLEAR"
)

// OmsType selects how fills map onto positions.
type OmsType string

const (
	// Netting keeps one position per instrument and strategy.
	Netting OmsType = "NETTING"
	// Hedging opens a position per fill unless the order names one.
	Hedging OmsType = "HEDGING"
)

func (t OmsType) Valid() bool { return t == Netting || t == Hedging }

type LiquiditySide string

const (
	NoLiquiditySide LiquiditySide = "NO_LIQUIDITY_SIDE"
	Maker           LiquiditySide = "MAKER"
	Taker           LiquiditySide = "TAKER"
)
