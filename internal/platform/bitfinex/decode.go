package bitfinex

import (
	"bytes"
	"fmt"
	"math"
	"time"

	json "github.com/goccy/go-json"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Frame is the decoded form of one websocket message.
type Frame struct {
	Events    []domain.Event
	Control   *controlEvent
	Heartbeat bool
}

// Decoder turns raw websocket messages into domain events. It is bound to
// one connection: call Reset after reconnecting. Not safe for concurrent use.
type Decoder struct {
	bookChan int64
}

// NewDecoder returns a Decoder with no channels bound.
func NewDecoder() *Decoder {
	return &Decoder{bookChan: -1}
}

// Reset forgets channel bindings.
func (d *Decoder) Reset() {
	d.bookChan = -1
}

// BindBook records the channel id the server assigned to the book
// subscription.
func (d *Decoder) BindBook(chanID int64) {
	d.bookChan = chanID
}

// Decode parses one message. Unknown message types decode to an empty
// Frame; malformed messages return an error wrapping domain.ErrDecode.
// A panic while decoding is recovered and reported as a decode error.
func (d *Decoder) Decode(raw []byte) (f Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			f = Frame{}
			err = fmt.Errorf("%w: panic: %v", domain.ErrDecode, r)
		}
	}()

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Frame{}, fmt.Errorf("%w: empty message", domain.ErrDecode)
	}

	if raw[0] == '{' {
		var ev controlEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return Frame{}, fmt.Errorf("%w: control: %v", domain.ErrDecode, err)
		}
		return Frame{Control: &ev}, nil
	}

	var msg []json.RawMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	if len(msg) < 2 {
		return Frame{}, fmt.Errorf("%w: short frame", domain.ErrDecode)
	}

	var chanID int64
	if err := json.Unmarshal(msg[0], &chanID); err != nil {
		return Frame{}, fmt.Errorf("%w: channel id: %v", domain.ErrDecode, err)
	}

	var typ string
	if msg[1][0] == '"' {
		if err := json.Unmarshal(msg[1], &typ); err != nil {
			return Frame{}, fmt.Errorf("%w: message type: %v", domain.ErrDecode, err)
		}
		if typ == "hb" {
			return Frame{Heartbeat: true}, nil
		}
	}

	switch {
	case chanID == accountChannel:
		if len(msg) < 3 {
			return Frame{}, nil
		}
		return d.decodeAccount(typ, msg[2])
	case chanID == d.bookChan:
		if typ != "" {
			// Checksums and other typed book frames are not tracked.
			return Frame{}, nil
		}
		return decodeBook(msg[1])
	default:
		return Frame{}, nil
	}
}

func (d *Decoder) decodeAccount(typ string, payload json.RawMessage) (Frame, error) {
	switch typ {
	case "fcs", "fls":
		rows, err := decodeRows(payload)
		if err != nil {
			return Frame{}, err
		}
		usage := domain.UsageUsing
		if typ == "fls" {
			usage = domain.UsageUnused
		}
		borrows := make([]domain.Borrow, 0, len(rows))
		for _, r := range rows {
			borrows = append(borrows, borrowFromRow(r, usage))
		}
		// Credits and loans snapshot separately; each replaces only its half.
		return single(domain.Event{Kind: domain.EventBorrowSnapshot, Usage: usage, Borrows: borrows}), nil

	case "fcn", "fcu", "fcc", "fln", "flu", "flc":
		r, err := decodeRow(payload)
		if err != nil {
			return Frame{}, err
		}
		usage := domain.UsageUsing
		if typ[1] == 'l' {
			usage = domain.UsageUnused
		}
		b := borrowFromRow(r, usage)
		kind := domain.EventBorrowUpdated
		if typ[2] == 'c' {
			kind = domain.EventBorrowCancelled
		}
		return single(domain.Event{Kind: kind, Borrow: &b}), nil

	case "fos":
		rows, err := decodeRows(payload)
		if err != nil {
			return Frame{}, err
		}
		orders := make([]domain.Order, 0, len(rows))
		for _, r := range rows {
			orders = append(orders, orderFromRow(r))
		}
		return single(domain.Event{Kind: domain.EventOrderSnapshot, Orders: orders}), nil

	case "fon", "fou", "foc":
		r, err := decodeRow(payload)
		if err != nil {
			return Frame{}, err
		}
		o := orderFromRow(r)
		kind := map[string]domain.EventKind{
			"fon": domain.EventOrderNew,
			"fou": domain.EventOrderUpdated,
			"foc": domain.EventOrderCancelled,
		}[typ]
		return single(domain.Event{Kind: kind, Order: &o}), nil

	case "fte", "ftu":
		r, err := decodeRow(payload)
		if err != nil {
			return Frame{}, err
		}
		t := tradeFromRow(r)
		kind := domain.EventTradeExecuted
		if typ == "ftu" {
			kind = domain.EventTradeUpdated
		}
		return single(domain.Event{Kind: kind, Trade: &t}), nil

	case "ws":
		rows, err := decodeRows(payload)
		if err != nil {
			return Frame{}, err
		}
		wallets := make([]domain.Wallet, 0, len(rows))
		for _, r := range rows {
			wallets = append(wallets, walletFromRow(r))
		}
		return single(domain.Event{Kind: domain.EventWalletSnapshot, Wallets: wallets}), nil

	case "wu":
		r, err := decodeRow(payload)
		if err != nil {
			return Frame{}, err
		}
		w := walletFromRow(r)
		return single(domain.Event{Kind: domain.EventWalletUpdated, Wallet: &w}), nil

	case "ps":
		rows, err := decodeRows(payload)
		if err != nil {
			return Frame{}, err
		}
		positions := make([]domain.Position, 0, len(rows))
		for _, r := range rows {
			positions = append(positions, positionFromRow(r))
		}
		return single(domain.Event{Kind: domain.EventPositionSnapshot, Positions: positions}), nil

	case "pn", "pu", "pc":
		r, err := decodeRow(payload)
		if err != nil {
			return Frame{}, err
		}
		p := positionFromRow(r)
		kind := domain.EventPositionUpdated
		if typ == "pc" {
			kind = domain.EventPositionClosed
		}
		return single(domain.Event{Kind: kind, Position: &p}), nil
	}
	return Frame{}, nil
}

// decodeBook handles both the snapshot ([[rate, period, count, amount], ...])
// and the single-level update ([rate, period, count, amount]) shapes. Only
// the offer side (positive amount) is reported.
func decodeBook(payload json.RawMessage) (Frame, error) {
	trimmed := bytes.TrimSpace(payload)
	inner := bytes.TrimSpace(bytes.TrimPrefix(trimmed, []byte("[")))
	if len(inner) > 0 && (inner[0] == '[' || inner[0] == ']') {
		rows, err := decodeRows(payload)
		if err != nil {
			return Frame{}, err
		}
		offers := make([]domain.Offer, 0, len(rows))
		for _, r := range rows {
			o := offerFromRow(r)
			if o.Amount > 0 {
				offers = append(offers, o)
			}
		}
		return single(domain.Event{Kind: domain.EventOfferSnapshot, Offers: offers}), nil
	}

	r, err := decodeRow(payload)
	if err != nil {
		return Frame{}, err
	}
	if len(r) < 4 {
		return Frame{}, fmt.Errorf("%w: book level has %d fields", domain.ErrDecode, len(r))
	}
	o := offerFromRow(r)
	if o.Amount <= 0 {
		return Frame{}, nil
	}
	if o.Count == 0 {
		return single(domain.Event{Kind: domain.EventOfferCancelled, Offer: &o}), nil
	}
	return single(domain.Event{Kind: domain.EventOfferUpdated, Offer: &o}), nil
}

func single(ev domain.Event) Frame {
	return Frame{Events: []domain.Event{ev}}
}

// --------------------------------------------------------------------------
// Row helpers
// --------------------------------------------------------------------------

type row []any

func decodeRow(raw json.RawMessage) (row, error) {
	var r row
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	return r, nil
}

func decodeRows(raw json.RawMessage) ([]row, error) {
	var rs []row
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	return rs, nil
}

func (r row) floatAt(i int) float64 {
	if i >= len(r) {
		return 0
	}
	if v, ok := r[i].(float64); ok {
		return v
	}
	return 0
}

func (r row) int64At(i int) int64 {
	return int64(math.Round(r.floatAt(i)))
}

func (r row) intAt(i int) int {
	return int(r.int64At(i))
}

func (r row) stringAt(i int) string {
	if i >= len(r) {
		return ""
	}
	if v, ok := r[i].(string); ok {
		return v
	}
	return ""
}

func (r row) timeAt(i int) time.Time {
	ms := r.int64At(i)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// borrowFromRow maps
// [ID, SYMBOL, SIDE, MTS_CREATE, MTS_UPDATE, AMOUNT, FLAGS, STATUS, _, _, _, RATE, PERIOD, ...].
func borrowFromRow(r row, usage domain.Usage) domain.Borrow {
	return domain.Borrow{
		ID:        r.int64At(0),
		Symbol:    r.stringAt(1),
		Side:      sideFromWire(r.intAt(2)),
		Usage:     usage,
		CreatedAt: r.timeAt(3),
		UpdatedAt: r.timeAt(4),
		Amount:    math.Abs(r.floatAt(5)),
		Status:    r.stringAt(7),
		Rate:      r.floatAt(11),
		Period:    r.intAt(12),
	}
}

func sideFromWire(v int) domain.BorrowSide {
	switch {
	case v < 0:
		return domain.BorrowSideBorrower
	case v > 0:
		return domain.BorrowSideLender
	default:
		return domain.BorrowSideBoth
	}
}

// orderFromRow maps
// [ID, SYMBOL, MTS_CREATED, MTS_UPDATED, AMOUNT, AMOUNT_ORIG, TYPE, _, _, FLAGS, STATUS, _, _, _, RATE, PERIOD, ...].
// AMOUNT on the wire is what remains open.
func orderFromRow(r row) domain.Order {
	return domain.Order{
		ID:              r.int64At(0),
		Symbol:          r.stringAt(1),
		CreatedAt:       r.timeAt(2),
		UpdatedAt:       r.timeAt(3),
		AmountRemaining: r.floatAt(4),
		Amount:          r.floatAt(5),
		Type:            r.stringAt(6),
		Status:          r.stringAt(10),
		Rate:            r.floatAt(14),
		Period:          r.intAt(15),
	}
}

// tradeFromRow maps [ID, SYMBOL, MTS_CREATE, OFFER_ID, AMOUNT, RATE, PERIOD, MAKER].
func tradeFromRow(r row) domain.Trade {
	maker, ok := r.valueAt(7).(bool)
	if !ok {
		maker = r.floatAt(7) > 0
	}
	return domain.Trade{
		ID:         r.int64At(0),
		Symbol:     r.stringAt(1),
		ExecutedAt: r.timeAt(2),
		OfferID:    r.int64At(3),
		Amount:     r.floatAt(4),
		Rate:       r.floatAt(5),
		Period:     r.intAt(6),
		Maker:      maker,
	}
}

func (r row) valueAt(i int) any {
	if i >= len(r) {
		return nil
	}
	return r[i]
}

// walletFromRow maps [TYPE, CURRENCY, BALANCE, UNSETTLED_INTEREST, BALANCE_AVAILABLE].
func walletFromRow(r row) domain.Wallet {
	return domain.Wallet{
		Type:      r.stringAt(0),
		Currency:  r.stringAt(1),
		Balance:   r.floatAt(2),
		Available: r.floatAt(4),
	}
}

// positionFromRow maps [SYMBOL, STATUS, AMOUNT, BASE_PRICE, ...].
func positionFromRow(r row) domain.Position {
	return domain.Position{
		Symbol:    r.stringAt(0),
		Status:    r.stringAt(1),
		Amount:    r.floatAt(2),
		BasePrice: r.floatAt(3),
	}
}

// offerFromRow maps [RATE, PERIOD, COUNT, AMOUNT].
func offerFromRow(r row) domain.Offer {
	return domain.Offer{
		Rate:   r.floatAt(0),
		Period: r.intAt(1),
		Count:  r.intAt(2),
		Amount: r.floatAt(3),
	}
}
