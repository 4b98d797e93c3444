package normcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-normcache/internal/hydrate"
	"github.com/goliatone/go-normcache/layering"
	"github.com/goliatone/go-normcache/pkg/activity"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Cache is the capability set of a normalized cache.
type Cache interface {
	ReadQuery(opts ReadOptions) (map[string]any, error)
	WriteQuery(opts WriteOptions) error
	ReadFragment(opts FragmentOptions) (map[string]any, error)
	WriteFragment(opts FragmentOptions) error
	Diff(opts DiffOptions) (DiffResult, error)
	Watch(opts WatchOptions, callback WatchCallback) (func(), error)
	PerformTransaction(fn func(*Transaction) error) error
	RecordOptimisticTransaction(id string, fn func(*Transaction) error) error
	RemoveOptimistic(id string) error
	Reset()
	Extract(optimistic bool) Snapshot
	Restore(snapshot Snapshot) error
}

var _ Cache = (*InMemoryCache)(nil)

// ReadOptions selects what to read. RootID defaults to the root of the
// query's operation kind.
type ReadOptions struct {
	Query             *Document
	Variables         map[string]any
	RootID            string
	Optimistic        bool
	ReturnPartialData bool
	// ErrorOnMissing turns an incomplete strict read into an
	// *IncompleteResultError instead of a nil result.
	ErrorOnMissing bool
}

// WriteOptions describes a result to normalize into the store.
type WriteOptions struct {
	Query     *Document
	Variables map[string]any
	RootID    string
	Data      map[string]any
}

// FragmentOptions addresses a single entity through a fragment. Fragments
// lists definitions spread from inside Fragment.
type FragmentOptions struct {
	ID                string
	Fragment          *FragmentDefinition
	Fragments         []*FragmentDefinition
	Variables         map[string]any
	Data              map[string]any
	Optimistic        bool
	ReturnPartialData bool
	ErrorOnMissing    bool
}

// DiffOptions describes a diff. Previous is the result of an earlier diff
// of the same query; unchanged subtrees of it are reused.
type DiffOptions struct {
	Query             *Document
	Variables         map[string]any
	RootID            string
	Optimistic        bool
	ReturnPartialData bool
	Previous          map[string]any
}

// DiffResult is a reconstructed result. Result is nil for an incomplete
// strict diff.
type DiffResult struct {
	Result   map[string]any
	Complete bool
	Missing  []MissingField
}

// WatchOptions describes a watched query.
type WatchOptions struct {
	Query             *Document
	Variables         map[string]any
	RootID            string
	Optimistic        bool
	ReturnPartialData bool
}

// Trace reports what every layer holds for one entity.
type Trace struct {
	EntityID string                `json:"entity_id"`
	Layers   []layering.Provenance `json:"layers"`
}

// InMemoryCache is a normalized, layered result cache. It is safe for
// concurrent use. Each operation and each transaction commit runs under a
// single lock, and watch callbacks run after the lock is released.
type InMemoryCache struct {
	mu       sync.Mutex
	stack    *layering.Stack
	cfg      optionsConfig
	ident    *identifier
	matcher  *typeMatcher
	metrics  *cacheMetrics
	tracer   trace.Tracer
	emitter  *activity.Emitter
	payloads *hydrate.Decoder[hydrate.Payload]

	watches  []*watch
	queue    []delivery
	draining bool
}

// New constructs an empty cache.
func New(opts ...Option) *InMemoryCache {
	cfg := applyOptions(opts)
	for _, err := range cfg.optionErrs {
		cfg.logger.LogEvent(LogEvent{Level: LevelWarn, Op: "options", Message: "option ignored", Err: err})
	}
	metrics, err := newCacheMetrics(cfg.meterProvider)
	if err != nil {
		cfg.logger.LogEvent(LogEvent{Level: LevelWarn, Op: "metrics", Message: "metrics disabled", Err: err})
		metrics = noopCacheMetrics()
	}
	return &InMemoryCache{
		stack:    layering.NewStack(),
		cfg:      cfg,
		ident:    newIdentifier(cfg.policies, cfg.identifier, cfg.evaluatorOrDefault()),
		matcher:  newTypeMatcher(cfg.possibleTypes),
		metrics:  metrics,
		tracer:   newTracer(cfg.tracerProvider),
		emitter:  activity.NewEmitter(cfg.activityHooks, cfg.activityConfig),
		payloads: hydrate.NewPayloadDecoder(),
	}
}

// Identify returns the entity id the cache would assign to object, or
// false when the object would be embedded.
func (c *InMemoryCache) Identify(object map[string]any) (string, bool, error) {
	return c.ident.identify(typenameOf(object), object, nil)
}

// ReadQuery reads a query. An incomplete strict read returns nil, or an
// *IncompleteResultError with ErrorOnMissing.
func (c *InMemoryCache) ReadQuery(opts ReadOptions) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read(c.resolver(opts.Optimistic), opts)
}

// WriteQuery writes a query result in its own transaction.
func (c *InMemoryCache) WriteQuery(opts WriteOptions) error {
	return c.PerformTransaction(func(tx *Transaction) error {
		return tx.WriteQuery(opts)
	})
}

// ReadFragment reads one entity through a fragment.
func (c *InMemoryCache) ReadFragment(opts FragmentOptions) (map[string]any, error) {
	read, err := opts.readOptions()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read(c.resolver(opts.Optimistic), read)
}

// WriteFragment writes one entity through a fragment in its own
// transaction.
func (c *InMemoryCache) WriteFragment(opts FragmentOptions) error {
	return c.PerformTransaction(func(tx *Transaction) error {
		return tx.WriteFragment(opts)
	})
}

// Diff reconstructs a query result and reports what is missing.
func (c *InMemoryCache) Diff(opts DiffOptions) (DiffResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, _, err := c.diff(c.resolver(opts.Optimistic), opts)
	return result, err
}

// Watch registers callback for changes to the query result. The callback
// is not invoked on registration. The returned function unsubscribes and
// may be called more than once, including from inside a callback.
func (c *InMemoryCache) Watch(opts WatchOptions, callback WatchCallback) (func(), error) {
	if callback == nil {
		return nil, fmt.Errorf("normcache: watch callback is required")
	}
	p, rootID, err := compileFor(opts.Query, opts.Variables, opts.RootID)
	if err != nil {
		return nil, err
	}
	w := &watch{
		id:         uuid.NewString(),
		plan:       p,
		rootID:     rootID,
		optimistic: opts.Optimistic,
		partial:    opts.ReturnPartialData,
		callback:   callback,
	}
	w.active.Store(true)

	c.mu.Lock()
	w.last, w.deps = c.diffPlan(context.Background(), c.resolver(opts.Optimistic), p, rootID, nil, opts.ReturnPartialData)
	c.watches = append(c.watches, w)
	c.mu.Unlock()

	c.cfg.logger.LogEvent(LogEvent{Level: LevelDebug, Op: "watch", Message: "watch registered", WatchID: w.id, EntityID: rootID})
	var once sync.Once
	return func() {
		once.Do(func() { c.removeWatch(w) })
	}, nil
}

// PerformTransaction runs fn against the base layer. Writes commit and
// watches are notified once when fn returns nil; any error, including a
// failed write whose error fn ignored, discards every write.
//
// fn may call other cache methods. They act on the committed state and a
// nested write commits on its own. A Reset during fn fails the transaction
// with ErrInvalidTransaction.
func (c *InMemoryCache) PerformTransaction(fn func(*Transaction) error) error {
	err := c.transact(layering.BaseLayerID, fn)
	c.drain()
	return err
}

// RecordOptimisticTransaction runs fn against a new optimistic layer named
// id. On failure the layer is removed again. Removing the layer while fn
// runs fails the transaction with ErrInvalidTransaction.
func (c *InMemoryCache) RecordOptimisticTransaction(id string, fn func(*Transaction) error) error {
	if id == layering.BaseLayerID {
		return fmt.Errorf("%w: optimistic layer id must not be empty", ErrInvalidTransaction)
	}
	err := c.transact(id, fn)
	c.drain()
	return err
}

// RemoveOptimistic drops the optimistic layer id and notifies watches.
func (c *InMemoryCache) RemoveOptimistic(id string) error {
	ctx, span := c.tracer.Start(context.Background(), "normcache.remove_optimistic",
		trace.WithAttributes(attribute.String("normcache.layer_id", id)))
	defer span.End()

	c.mu.Lock()
	if err := c.stack.Pop(id); err != nil {
		c.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	c.enqueueEvent(activity.BuildOptimisticRemoveEvent(activity.CacheEventInput{LayerID: id}))
	c.broadcastLocked(ctx, nil, true)
	c.mu.Unlock()

	c.cfg.logger.LogEvent(LogEvent{Level: LevelDebug, Op: "optimistic.remove", LayerID: id})
	c.drain()
	return nil
}

// Reset drops every record and optimistic layer and notifies watches.
func (c *InMemoryCache) Reset() {
	c.mu.Lock()
	c.stack.Reset()
	c.enqueueEvent(activity.BuildResetEvent(activity.CacheEventInput{}))
	c.broadcastLocked(context.Background(), nil, true)
	c.mu.Unlock()

	c.cfg.logger.LogEvent(LogEvent{Level: LevelInfo, Op: "reset"})
	c.drain()
}

// Trace lists every layer's contribution to entityID.
func (c *InMemoryCache) Trace(entityID string) Trace {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Trace{EntityID: entityID, Layers: c.stack.Trace(entityID)}
}

// WriteResult decodes a transport payload and writes its data under the
// query in opts. Errors reported next to data are logged; a payload
// without data fails.
func (c *InMemoryCache) WriteResult(opts WriteOptions, payload []byte) error {
	decoded, err := c.payloads.DecodeBytes(hydrate.Context{Source: "result", Operation: opts.rootLabel()}, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	for _, msg := range decoded.ErrorMessages() {
		c.cfg.logger.LogEvent(LogEvent{Level: LevelWarn, Op: "write", Message: "result error: " + msg})
	}
	if decoded.Data == nil {
		return fmt.Errorf("%w: payload has no data", ErrInvalidResult)
	}
	opts.Data = decoded.Data
	return c.WriteQuery(opts)
}

func (o WriteOptions) rootLabel() string {
	if o.RootID != "" {
		return o.RootID
	}
	if o.Query != nil {
		return o.Query.Operation.RootID()
	}
	return ""
}

func (c *InMemoryCache) resolver(optimistic bool) func(string) (layering.Record, bool) {
	return func(id string) (layering.Record, bool) {
		return c.stack.Resolve(id, optimistic)
	}
}

// transact runs fn against layerID, pushing the layer first when it is
// optimistic. fn runs without the lock; every Transaction call takes it
// briefly and the commit with its notification pass happens atomically.
// Other cache calls made from fn therefore see the committed state, not the
// staged writes.
func (c *InMemoryCache) transact(layerID string, fn func(*Transaction) error) error {
	if fn == nil {
		return fmt.Errorf("%w: transaction function is required", ErrInvalidTransaction)
	}
	optimistic := layerID != layering.BaseLayerID
	ctx, span := c.tracer.Start(context.Background(), "normcache.transaction",
		trace.WithAttributes(
			attribute.String("normcache.layer_id", layerID),
			attribute.Bool("normcache.optimistic", optimistic),
		))
	defer span.End()
	started := time.Now()

	c.mu.Lock()
	if optimistic {
		if err := c.stack.Push(layerID); err != nil {
			c.mu.Unlock()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	draft, err := c.stack.Begin(layerID)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	tx := &Transaction{cache: c, draft: draft, optimistic: optimistic}
	settled := false
	defer func() {
		// fn panicked.
		if !settled {
			c.mu.Lock()
			tx.close()
			draft.Abandon()
			c.mu.Unlock()
		}
	}()

	err = fn(tx)

	c.mu.Lock()
	defer c.mu.Unlock()
	settled = true
	if err == nil {
		err = tx.err
	}
	if err == nil && !draft.Attached() {
		err = fmt.Errorf("%w: layer %q was removed while the transaction ran", ErrInvalidTransaction, layerID)
	}
	if err != nil {
		tx.close()
		draft.Abandon()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.cfg.logger.LogEvent(LogEvent{
			Level:    LevelWarn,
			Op:       "transaction",
			Message:  "transaction aborted",
			LayerID:  layerID,
			Duration: time.Since(started),
			Err:      err,
		})
		return err
	}

	touched := draft.Commit()
	tx.done = true
	span.SetAttributes(attribute.Int("normcache.touched", len(touched)))

	if optimistic {
		c.enqueueEvent(activity.BuildOptimisticPushEvent(activity.CacheEventInput{LayerID: layerID, Touched: touched}))
	}
	if len(touched) > 0 {
		c.metrics.recordWrite(ctx, optimistic)
		c.enqueueEvent(activity.BuildWriteEvent(activity.CacheEventInput{LayerID: layerID, Touched: touched}))
	}
	c.broadcastLocked(ctx, touched, false)
	c.cfg.logger.LogEvent(LogEvent{
		Level:    LevelDebug,
		Op:       "transaction",
		Message:  fmt.Sprintf("committed %d entities", len(touched)),
		LayerID:  layerID,
		Duration: time.Since(started),
	})
	return nil
}

// write normalizes data into draft.
func (c *InMemoryCache) write(draft *layering.Draft, doc *Document, variables map[string]any, rootID string, data map[string]any) error {
	p, rootID, err := compileFor(doc, variables, rootID)
	if err != nil {
		return err
	}
	w := &writer{
		draft:      draft,
		identifier: c.ident,
		matcher:    c.matcher,
		variables:  variables,
		logger:     c.cfg.logger,
	}
	return w.writeRoot(rootID, p, data)
}

func (c *InMemoryCache) read(resolve func(string) (layering.Record, bool), opts ReadOptions) (map[string]any, error) {
	result, rootID, err := c.diff(resolve, DiffOptions{
		Query:             opts.Query,
		Variables:         opts.Variables,
		RootID:            opts.RootID,
		Optimistic:        opts.Optimistic,
		ReturnPartialData: opts.ReturnPartialData,
	})
	if err != nil {
		return nil, err
	}
	if !result.Complete && !opts.ReturnPartialData && opts.ErrorOnMissing {
		return nil, &IncompleteResultError{RootID: rootID, Missing: result.Missing}
	}
	return result.Result, nil
}

func (c *InMemoryCache) diff(resolve func(string) (layering.Record, bool), opts DiffOptions) (DiffResult, string, error) {
	p, rootID, err := compileFor(opts.Query, opts.Variables, opts.RootID)
	if err != nil {
		return DiffResult{}, rootID, err
	}
	previous := opts.Previous
	if !c.cfg.resultCaching {
		previous = nil
	}
	result, _ := c.diffPlan(context.Background(), resolve, p, rootID, previous, opts.ReturnPartialData)
	return result, rootID, nil
}

func (c *InMemoryCache) diffPlan(ctx context.Context, resolve func(string) (layering.Record, bool), p *plan, rootID string, previous map[string]any, partial bool) (DiffResult, map[string]struct{}) {
	started := time.Now()
	r := newReader(resolve, c.matcher)
	tree := r.readRoot(rootID, p, previous)
	result := DiffResult{
		Result:   tree,
		Complete: len(r.missing) == 0,
		Missing:  r.missing,
	}
	if !result.Complete && !partial {
		result.Result = nil
	}
	c.metrics.recordRead(ctx, result.Complete, time.Since(started))
	return result, r.dependencies()
}

func compileFor(doc *Document, variables map[string]any, rootID string) (*plan, string, error) {
	if doc == nil {
		return nil, rootID, fmt.Errorf("normcache: query document is required")
	}
	if rootID == "" {
		rootID = doc.Operation.RootID()
	}
	p, err := compilePlan(doc, doc.SelectionSet, variables)
	if err != nil {
		return nil, rootID, err
	}
	return p, rootID, nil
}

func (o FragmentOptions) document() (*Document, error) {
	if o.Fragment == nil {
		return nil, fmt.Errorf("normcache: fragment definition is required")
	}
	if o.ID == "" {
		return nil, fmt.Errorf("normcache: fragment %s: entity id is required", o.Fragment.Name)
	}
	doc := Query(Spread(o.Fragment.Name)).WithFragments(o.Fragment)
	doc.WithFragments(o.Fragments...)
	return doc, nil
}

func (o FragmentOptions) readOptions() (ReadOptions, error) {
	doc, err := o.document()
	if err != nil {
		return ReadOptions{}, err
	}
	return ReadOptions{
		Query:             doc,
		Variables:         o.Variables,
		RootID:            o.ID,
		Optimistic:        o.Optimistic,
		ReturnPartialData: o.ReturnPartialData,
		ErrorOnMissing:    o.ErrorOnMissing,
	}, nil
}
