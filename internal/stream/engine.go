package stream

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/solcrank/perp-keeper/internal/bus"
	"github.com/solcrank/perp-keeper/internal/metrics"
	"github.com/solcrank/perp-keeper/internal/model"
)

// priceOffset is where the u64 mark price sits in the market slab,
// right after the 8-byte account discriminator.
const priceOffset = 8

// Engine maintains one pubsub connection to the RPC node and a live
// accountSubscribe per tracked market. Lost connections reconnect with
// exponential backoff; once the attempt budget is exhausted the engine
// stops for good and reports it on the event bus.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	events  *bus.Bus
	metrics *metrics.Metrics

	// dial and wait are replaceable for tests.
	dial func(ctx context.Context) (Conn, error)
	wait func(ctx context.Context, d time.Duration) bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	attempt   int
	conn      Conn
	nextReqID int64
	pending   map[int64]string // Request ID -> market awaiting confirmation
	bySub     map[int64]string // Subscription ID -> market
	byMarket  map[string]int64
	wanted    map[string]struct{}
	rings     map[string]*ring
}

// NewEngine creates a stream engine. events and m may be nil.
func NewEngine(cfg Config, events *bus.Bus, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if cfg.MaxReconnects < 1 {
		cfg.MaxReconnects = DefaultConfig().MaxReconnects
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		events:   events,
		metrics:  m,
		pending:  make(map[int64]string),
		bySub:    make(map[int64]string),
		byMarket: make(map[string]int64),
		wanted:   make(map[string]struct{}),
		rings:    make(map[string]*ring),
	}
	e.dial = func(ctx context.Context) (Conn, error) {
		conn := NewConn(ClientConfig{
			URL:          cfg.URL,
			PingTimeout:  cfg.PingTimeout,
			WriteTimeout: cfg.WriteTimeout,
			BufferSize:   cfg.BufferSize,
		}, logger)
		if err := conn.Connect(ctx); err != nil {
			return nil, err
		}
		return conn, nil
	}
	e.wait = func(ctx context.Context, d time.Duration) bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}
	return e
}

// reconnectDelay is the wait before reconnect attempt n (n >= 1),
// doubling from one second up to a minute.
func reconnectDelay(attempt int) time.Duration {
	if attempt >= 6 { // 2^6 s already exceeds the cap
		return 60 * time.Second
	}
	return time.Second << uint(attempt)
}

// Start connects and begins streaming.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go e.run()

	e.logger.Info("price stream started",
		"url", e.cfg.URL,
		"max_reconnects", e.cfg.MaxReconnects,
	)
	return nil
}

// Stop shuts the stream down.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}

	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("price stream stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current connection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Track subscribes to a market's account. Before the connection is
// open the subscription is queued and flushed on connect.
func (e *Engine) Track(market string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateStopped {
		return ErrStopped
	}
	if _, ok := e.wanted[market]; ok {
		return nil
	}
	e.wanted[market] = struct{}{}
	e.rings[market] = newRing(e.cfg.HistorySize)

	if e.state == StateOpen && e.conn != nil {
		e.subscribeLocked(e.conn, market)
	}
	return nil
}

// Untrack drops a market's subscription and its history.
func (e *Engine) Untrack(market string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.wanted[market]; !ok {
		return
	}
	delete(e.wanted, market)
	delete(e.rings, market)

	if subID, ok := e.byMarket[market]; ok {
		delete(e.byMarket, market)
		delete(e.bySub, subID)
		if e.conn != nil {
			e.sendLocked(e.conn, "accountUnsubscribe", []any{subID})
		}
	}
}

// LatestPrice returns the newest streamed point for a market.
func (e *Engine) LatestPrice(market string) (model.PricePoint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rings[market]
	if !ok {
		return model.PricePoint{}, false
	}
	return r.latest()
}

// History returns a market's buffered points, oldest first. Nil means
// the market is not tracked.
func (e *Engine) History(market string) []model.PricePoint {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rings[market]
	if !ok {
		return nil
	}
	return r.history()
}

func (e *Engine) run() {
	defer e.wg.Done()

	for {
		if e.ctx.Err() != nil {
			e.setState(StateStopped)
			return
		}

		e.setState(StateConnecting)
		conn, err := e.dial(e.ctx)
		if err != nil {
			e.logger.Warn("stream connect failed", "err", err)
			if !e.backoff() {
				return
			}
			continue
		}

		e.onOpen(conn)
		e.consume(conn)
		conn.Close()

		e.mu.Lock()
		e.conn = nil
		e.mu.Unlock()

		if e.ctx.Err() != nil {
			e.setState(StateStopped)
			return
		}
		e.setState(StateClosed)
		if !e.backoff() {
			return
		}
	}
}

// backoff waits out the reconnect delay for the next attempt. It
// returns false when the budget is exhausted or the engine stops.
func (e *Engine) backoff() bool {
	e.mu.Lock()
	e.attempt++
	attempt := e.attempt
	e.mu.Unlock()

	e.metrics.IncStreamReconnect()

	if attempt >= e.cfg.MaxReconnects {
		e.logger.Error("reconnect budget exhausted, stream stopping",
			"attempts", attempt,
		)
		e.setState(StateStopped)
		if e.events != nil {
			e.events.Publish(bus.Event{
				Kind:  bus.KindStreamState,
				State: StateStopped.String(),
				Err:   ErrStopped.Error(),
			})
		}
		return false
	}

	delay := reconnectDelay(attempt)
	e.logger.Info("stream reconnecting",
		"attempt", attempt,
		"delay", delay,
	)
	if !e.wait(e.ctx, delay) {
		e.setState(StateStopped)
		return false
	}
	return true
}

// onOpen resets the attempt counter and replays every wanted
// subscription on the fresh connection. The state flips to Open in
// the same critical section as the flush so a concurrent Track never
// queues a market without a subscribe going out.
func (e *Engine) onOpen(conn Conn) {
	e.mu.Lock()
	e.conn = conn
	e.attempt = 0
	e.pending = make(map[int64]string)
	e.bySub = make(map[int64]string)
	e.byMarket = make(map[string]int64)
	for market := range e.wanted {
		e.subscribeLocked(conn, market)
	}
	n := len(e.wanted)
	changed := e.state != StateOpen
	e.state = StateOpen
	e.mu.Unlock()

	if changed {
		e.announce(StateOpen)
	}
	e.logger.Info("stream connected", "subscriptions", n)
}

func (e *Engine) consume(conn Conn) {
	for {
		select {
		case <-e.ctx.Done():
			return
		case msg, ok := <-conn.Messages():
			if !ok {
				return
			}
			e.handle(msg)
		case err, ok := <-conn.Errors():
			if !ok {
				return
			}
			e.logger.Warn("stream connection error", "err", err)
			return
		}
	}
}

func (e *Engine) subscribeLocked(conn Conn, market string) {
	e.nextReqID++
	id := e.nextReqID
	e.pending[id] = market

	req := request{
		Jsonrpc: "2.0",
		ID:      id,
		Method:  "accountSubscribe",
		Params: []any{
			market,
			subscribeOpts{Encoding: "base64", Commitment: "confirmed"},
		},
	}
	data, err := json.Marshal(req)
	if err != nil {
		delete(e.pending, id)
		return
	}
	if err := conn.Send(data); err != nil {
		delete(e.pending, id)
		e.logger.Warn("subscribe send failed", "market", market, "err", err)
	}
}

func (e *Engine) sendLocked(conn Conn, method string, params []any) {
	e.nextReqID++
	data, err := json.Marshal(request{
		Jsonrpc: "2.0",
		ID:      e.nextReqID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return
	}
	if err := conn.Send(data); err != nil {
		e.logger.Debug("send failed", "method", method, "err", err)
	}
}

func (e *Engine) handle(msg TimestampedMessage) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		e.logger.Debug("unparseable frame", "err", err)
		return
	}

	switch {
	case env.Method == "accountNotification" && env.Params != nil:
		e.handleNotification(env.Params, msg.ReceivedAt)
	case env.ID != nil:
		e.handleResponse(&env)
	}
}

// handleResponse correlates an accountSubscribe confirmation back to
// its market.
func (e *Engine) handleResponse(env *envelope) {
	e.mu.Lock()
	defer e.mu.Unlock()

	market, ok := e.pending[*env.ID]
	if !ok {
		return // Unsubscribe ack or a request from a previous connection
	}
	delete(e.pending, *env.ID)

	if env.Error != nil {
		e.logger.Warn("subscribe rejected",
			"market", market,
			"code", env.Error.Code,
			"msg", env.Error.Message,
		)
		return
	}

	var subID int64
	if err := json.Unmarshal(env.Result, &subID); err != nil {
		e.logger.Warn("bad subscribe result", "market", market, "err", err)
		return
	}
	e.bySub[subID] = market
	e.byMarket[market] = subID
	e.logger.Debug("market subscribed", "market", market, "sub", subID)
}

// handleNotification decodes a slab update into a price point.
func (e *Engine) handleNotification(p *notifyParams, receivedAt time.Time) {
	if len(p.Result.Value.Data) == 0 {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(p.Result.Value.Data[0])
	if err != nil {
		e.logger.Debug("bad account data encoding", "err", err)
		return
	}
	if len(raw) < priceOffset+8 {
		e.logger.Debug("account data too short", "len", len(raw))
		return
	}
	priceE6 := binary.LittleEndian.Uint64(raw[priceOffset : priceOffset+8])

	e.mu.Lock()
	defer e.mu.Unlock()

	market, ok := e.bySub[p.Subscription]
	if !ok {
		return
	}
	r, ok := e.rings[market]
	if !ok {
		return
	}
	r.push(model.PricePoint{
		PriceE6:      int64(priceE6),
		Slot:         p.Result.Context.Slot,
		ReceivedAtMs: receivedAt.UnixMilli(),
	})
}

// setState records and reports a state transition.
func (e *Engine) setState(s State) {
	e.mu.Lock()
	if e.state == s {
		e.mu.Unlock()
		return
	}
	e.state = s
	e.mu.Unlock()

	e.announce(s)
}

// announce reports a state transition on metrics and the bus.
func (e *Engine) announce(s State) {
	e.metrics.SetStreamState(float64(s))
	if e.events != nil && s != StateStopped {
		// The budget-exhaustion transition publishes its own event
		// with the terminal error attached.
		e.events.Publish(bus.Event{Kind: bus.KindStreamState, State: s.String()})
	}
}
