package engine

import (
	"context"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"tradecore/internal/cache"
	"tradecore/internal/domain"
	"tradecore/internal/event"
	"tradecore/internal/execution"
	"tradecore/internal/orderbook"
)

const reasonPendingTimeout = "PENDING_TIMEOUT"

func (s *Sequencer) dispatch(ev event.Event) {
	s.now = ev.GetTs()

	switch e := ev.(type) {
	case *event.BookDeltas:
		s.handleBookDeltas(e)
	case *event.BookDepth:
		s.withBook(e.Depth.InstrumentID, e, func(b orderbook.Book) error { return b.ApplyDepth(e.Depth) })
	case *event.Quote:
		s.withBook(e.Tick.InstrumentID, e, func(b orderbook.Book) error { return b.UpdateQuote(e.Tick) })
	case *event.Trade:
		s.withBook(e.Tick.InstrumentID, e, func(b orderbook.Book) error { return b.UpdateTrade(e.Tick) })
	case *event.Timer:
		s.handleTimer(e)
	case *event.OrderInitialized:
		s.handleOrderInitialized(e)
	case *event.OrderFilled:
		s.handleOrderFilled(e)
	case event.OrderEvent:
		s.handleOrderEvent(e)
	default:
		slog.Warn("UNKNOWN_EVENT_TYPE", slog.String("type", ev.GetType().String()))
	}
}

func (s *Sequencer) handleBookDeltas(e *event.BookDeltas) {
	s.withBook(e.Deltas.InstrumentID, e, func(b orderbook.Book) error {
		return b.ApplyDeltas(e.Deltas)
	})
}

// withBook applies fn to the instrument's book, reports failures and, at the end of a batch,
// checks the book for crossing and lets the venue re-match.
func (s *Sequencer) withBook(id domain.InstrumentID, ev event.Event, fn func(orderbook.Book) error) {
	book, ok := s.books[id]
	if !ok {
		s.reporter.Report("BOOK_UNKNOWN_INSTRUMENT", &domain.DataQualityError{
			InstrumentID: id,
			Sequence:     ev.GetSeq(),
			TsEvent:      ev.GetTs(),
			Reason:       "no book for instrument",
		})
		return
	}
	if err := fn(book); err != nil {
		s.reporter.Report("BOOK_DATA_QUALITY", err,
			slog.String("instrument_id", id.String()),
			slog.Uint64("seq", ev.GetSeq()))
	}
	if !batchComplete(ev) {
		return
	}
	if book.IsCrossed() {
		book.MarkSuspect("crossed book")
		s.reporter.Report("BOOK_CROSSED", &domain.DataQualityError{
			InstrumentID: id,
			Sequence:     book.Sequence(),
			TsEvent:      book.TsLast(),
			Reason:       "best bid at or above best ask",
		})
	}
	if obs, ok := s.client.(bookObserver); ok && !s.replaying {
		obs.OnBookUpdate(id)
	}
}

// batchComplete is false only for a delta batch whose last delta lacks F_LAST.
func batchComplete(ev event.Event) bool {
	if d, ok := ev.(*event.BookDeltas); ok && len(d.Deltas.Deltas) > 0 {
		return d.Deltas.Last().IsLast()
	}
	return true
}

func (s *Sequencer) handleOrderInitialized(e *event.OrderInitialized) {
	o, err := execution.NewOrder(e)
	if err != nil {
		s.reporter.Report("ORDER_INIT_REJECTED", err, slog.String("client_order_id", e.ClientOrderID.String()))
		return
	}
	if err := s.cache.AddOrder(o, e.PositionID); err != nil {
		s.reporter.Report("ORDER_ADD_FAILED", err, slog.String("client_order_id", e.ClientOrderID.String()))
	}
}

func (s *Sequencer) handleOrderEvent(e event.OrderEvent) {
	o, ok := s.orderFor(e)
	if !ok {
		return
	}
	if err := o.Apply(e); err != nil {
		s.reporter.Report("ORDER_TRANSITION_REJECTED", err,
			slog.String("client_order_id", o.ClientOrderID.String()),
			slog.String("status", string(o.Status)),
			slog.String("event", e.GetType().String()))
		return
	}
	if err := s.cache.UpdateOrder(o); err != nil {
		s.reporter.Report("CACHE_UPDATE_FAILED", err, slog.String("client_order_id", o.ClientOrderID.String()))
	}
	s.reporter.SetOpenOrders(s.cache.OrdersOpenCount(cache.Filter{}))

	if s.client == nil || s.replaying {
		return
	}
	s.forwardToClient(o, e)
}

// forwardToClient turns order commands into venue requests. A request the client cannot
// make is answered with the matching rejection event.
func (s *Sequencer) forwardToClient(o *execution.Order, e event.OrderEvent) {
	ctx := context.Background()
	switch ev := e.(type) {
	case *event.OrderSubmitted:
		if err := s.client.SubmitOrder(ctx, o); err != nil {
			s.reporter.Report("CLIENT_SUBMIT_FAILED", err, slog.String("client_order_id", o.ClientOrderID.String()))
			s.Emit(&event.OrderRejected{OrderBase: s.responseBase(o), Reason: err.Error()})
		}
	case *event.OrderPendingUpdate:
		if err := s.client.ModifyOrder(ctx, o, ev.Quantity, ev.Price, ev.TriggerPrice); err != nil {
			s.reporter.Report("CLIENT_MODIFY_FAILED", err, slog.String("client_order_id", o.ClientOrderID.String()))
			s.Emit(&event.OrderModifyRejected{OrderBase: s.responseBase(o), Reason: err.Error()})
		}
	case *event.OrderPendingCancel:
		if err := s.client.CancelOrder(ctx, o); err != nil {
			s.reporter.Report("CLIENT_CANCEL_FAILED", err, slog.String("client_order_id", o.ClientOrderID.String()))
			s.Emit(&event.OrderCancelRejected{OrderBase: s.responseBase(o), Reason: err.Error()})
		}
	}
}

func (s *Sequencer) orderFor(e event.OrderEvent) (*execution.Order, bool) {
	base := e.Order()
	o, ok := s.cache.Order(base.ClientOrderID)
	if !ok && base.VenueOrderID != "" {
		if coid, found := s.cache.ClientOrderID(base.VenueOrderID); found {
			o, ok = s.cache.Order(coid)
		}
		// Venue reports may carry only the venue id; the order's event log keeps the client id.
		if ok && base.ClientOrderID == "" {
			base.ClientOrderID = o.ClientOrderID
		}
	}
	if !ok {
		s.reporter.Report("ORDER_NOT_FOUND", &domain.IdentityConflictError{
			ClientOrderID: base.ClientOrderID,
			Incoming:      base.VenueOrderID,
		}, slog.String("event", e.GetType().String()))
	}
	return o, ok
}

func (s *Sequencer) handleOrderFilled(e *event.OrderFilled) {
	o, ok := s.orderFor(e)
	if !ok {
		return
	}
	inst, ok := s.instruments[o.InstrumentID]
	if !ok {
		s.reporter.Report("FILL_UNKNOWN_INSTRUMENT", &domain.DataQualityError{
			InstrumentID: o.InstrumentID,
			Sequence:     e.Seq,
			TsEvent:      e.TsEvent,
			Reason:       "fill for unregistered instrument",
		})
		return
	}

	// Rejected fills must not advance position numbering.
	if err := o.CheckFill(e); err != nil {
		s.reporter.Report("ORDER_FILL_REJECTED", err,
			slog.String("client_order_id", o.ClientOrderID.String()),
			slog.String("trade_id", e.TradeID.String()))
		return
	}
	positionID := s.positionIDFor(o, e)
	// The order stays bound to the first position it filled into.
	if o.PositionID != "" {
		e.PositionID = o.PositionID
	} else {
		e.PositionID = positionID
	}
	if err := o.Apply(e); err != nil {
		s.reporter.Report("ORDER_FILL_REJECTED", err,
			slog.String("client_order_id", o.ClientOrderID.String()),
			slog.String("trade_id", e.TradeID.String()))
		return
	}
	if err := s.cache.UpdateOrder(o); err != nil {
		s.reporter.Report("CACHE_UPDATE_FAILED", err, slog.String("client_order_id", o.ClientOrderID.String()))
	}
	s.reporter.SetOpenOrders(s.cache.OrdersOpenCount(cache.Filter{}))

	fill := e
	if positionID != e.PositionID {
		cp := *e
		cp.PositionID = positionID
		fill = &cp
	}
	s.applyToPosition(inst, o, fill)
}

// positionIDFor picks the position a fill belongs to.
// NETTING: the open position of the instrument and strategy, or a new one.
// HEDGING: the fill's or order's position id, or a new one per order.
func (s *Sequencer) positionIDFor(o *execution.Order, e *event.OrderFilled) domain.PositionID {
	if s.cfg.OmsType == domain.Hedging {
		switch {
		case e.PositionID != "":
			return e.PositionID
		case o.PositionID != "":
			return o.PositionID
		}
		return s.positionIDs.Generate(o.StrategyID)
	}

	key := nettingKey{instrument: o.InstrumentID, strategy: o.StrategyID}
	if id, ok := s.netting[key]; ok {
		if p, found := s.cache.Position(id); found && p.IsOpen() {
			return id
		}
	}
	id := s.positionIDs.Generate(o.StrategyID)
	s.netting[key] = id
	return id
}

func (s *Sequencer) applyToPosition(inst domain.Instrument, o *execution.Order, fill *event.OrderFilled) {
	before := decimal.Zero
	p, exists := s.cache.Position(fill.PositionID)
	if exists {
		before = p.RealizedPnL().Amount
		if err := p.Apply(fill); err != nil {
			s.reporter.Report("POSITION_FILL_REJECTED", err,
				slog.String("position_id", fill.PositionID.String()),
				slog.String("trade_id", fill.TradeID.String()))
			return
		}
		if err := s.cache.UpdatePosition(p); err != nil {
			s.reporter.Report("CACHE_UPDATE_FAILED", err, slog.String("position_id", p.ID.String()))
		}
	} else {
		var err error
		if p, err = execution.NewPosition(inst, fill); err != nil {
			s.reporter.Report("POSITION_OPEN_REJECTED", err, slog.String("trade_id", fill.TradeID.String()))
			return
		}
		if err := s.cache.AddPosition(p); err != nil {
			s.reporter.Report("CACHE_ADD_FAILED", err, slog.String("position_id", p.ID.String()))
		}
		slog.Info("POSITION_OPENED",
			slog.String("position_id", p.ID.String()),
			slog.String("side", string(p.Side)),
			slog.String("quantity", p.Quantity.String()))
	}
	if p.IsClosed() {
		slog.Info("POSITION_CLOSED",
			slog.String("position_id", p.ID.String()),
			slog.String("realized_pnl", p.RealizedPnL().String()))
	}

	delta := p.RealizedPnL().Amount.Sub(before)
	if delta.IsZero() {
		return
	}
	accountID := fill.AccountID
	if accountID == "" {
		accountID = o.AccountID
	}
	acct, ok := s.cache.Account(accountID)
	if !ok {
		slog.Debug("PNL_NO_ACCOUNT", slog.String("account_id", accountID.String()))
		return
	}
	if err := acct.ApplyPnL(domain.NewMoney(delta, inst.QuoteCurrency), fill.TsEvent); err != nil {
		s.reporter.Report("ACCOUNT_PNL_REJECTED", err, slog.String("account_id", accountID.String()))
		return
	}
	if err := s.cache.UpdateAccount(acct); err != nil {
		s.reporter.Report("CACHE_UPDATE_FAILED", err, slog.String("account_id", accountID.String()))
	}
}

func (s *Sequencer) handleTimer(e *event.Timer) {
	if s.replaying {
		return
	}
	s.sweepPending(e)
	s.maybeSnapshot(e)
}

// sweepPending rejects modify and cancel requests the venue never answered.
// The rejection reverts the order to its last stable status.
func (s *Sequencer) sweepPending(e *event.Timer) {
	if s.cfg.PendingTimeout <= 0 {
		return
	}
	for _, o := range s.cache.OrdersInflight(cache.Filter{}) {
		if !o.Status.IsPending() || e.TsEvent.Sub(o.TsPending) < s.cfg.PendingTimeout {
			continue
		}
		slog.Warn("ORDER_PENDING_TIMEOUT",
			slog.String("client_order_id", o.ClientOrderID.String()),
			slog.String("status", string(o.Status)))
		base := s.responseBase(o)
		if o.Status == domain.StatusPendingCancel {
			s.Emit(&event.OrderCancelRejected{OrderBase: base, Reason: reasonPendingTimeout})
		} else {
			s.Emit(&event.OrderModifyRejected{OrderBase: base, Reason: reasonPendingTimeout})
		}
	}
}

func (s *Sequencer) responseBase(o *execution.Order) event.OrderBase {
	return event.OrderBase{
		BaseEvent:     event.BaseEvent{ID: s.uuids.New(), TsEvent: s.now, TsInit: s.now},
		TraderID:      o.TraderID,
		StrategyID:    o.StrategyID,
		InstrumentID:  o.InstrumentID,
		ClientOrderID: o.ClientOrderID,
		VenueOrderID:  o.VenueOrderID,
		AccountID:     o.AccountID,
	}
}

func (s *Sequencer) instrumentIDs() []domain.InstrumentID {
	ids := make([]domain.InstrumentID, 0, len(s.books))
	for id := range s.books {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
