// Package engine wraps graph-gophers/graphql-go behind a transport-neutral
// Execute call: canonical request in, complete or chunked result out.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/timeout"
	graphql "github.com/graph-gophers/graphql-go"
	"github.com/vektah/gqlparser/v2/ast"

	"shelf/internal/apq"
	"shelf/pkg/ctxkeys"
	"shelf/pkg/logging"
	"shelf/pkg/monitoring"
)

const (
	DefaultMaxDepth         = 10
	DefaultExecutionTimeout = 30 * time.Second
	DefaultMaxParallelism   = 10
)

// Config tunes execution. Zero values take the defaults above; a negative
// MaxDepth or ExecutionTimeout disables that limit.
type Config struct {
	MaxDepth         int
	ExecutionTimeout time.Duration
	MaxParallelism   int
	// APQ enables automatic persisted queries when non-nil.
	APQ     apq.Store
	Metrics *monitoring.GraphQLMetrics
}

// Engine executes GraphQL operations against one schema. It is immutable
// after Start and safe for concurrent use.
type Engine struct {
	cfg      Config
	sdl      string
	resolver interface{}
	logger   logging.Logger

	once     sync.Once
	startErr error
	started  atomic.Bool
	schema   *graphql.Schema
	executor failsafe.Executor[*graphql.Response]
}

func New(cfg Config, sdl string, resolver interface{}, logger logging.Logger) *Engine {
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.ExecutionTimeout == 0 {
		cfg.ExecutionTimeout = DefaultExecutionTimeout
	}
	if cfg.MaxParallelism <= 0 {
		cfg.MaxParallelism = DefaultMaxParallelism
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Engine{cfg: cfg, sdl: sdl, resolver: resolver, logger: logger}
}

// Start parses the schema and binds resolvers. Only the first call does any
// work; later calls return its outcome.
func (e *Engine) Start(_ context.Context) error {
	e.once.Do(func() {
		panics := &panicReporter{logger: e.logger}
		schema, err := graphql.ParseSchema(e.sdl, e.resolver,
			graphql.UseFieldResolvers(),
			graphql.MaxParallelism(e.cfg.MaxParallelism),
			graphql.Logger(panics),
			graphql.PanicHandler(panics),
		)
		if err != nil {
			e.startErr = fmt.Errorf("parse schema: %w", err)
			return
		}
		e.schema = schema
		if e.cfg.ExecutionTimeout > 0 {
			e.executor = failsafe.With[*graphql.Response](
				timeout.NewBuilder[*graphql.Response](e.cfg.ExecutionTimeout).Build(),
			)
		}
		e.started.Store(true)
	})
	return e.startErr
}

// Started reports whether Start succeeded.
func (e *Engine) Started() bool {
	return e.started.Load()
}

// Ready is Started shaped for health checks.
func (e *Engine) Ready() error {
	if !e.Started() {
		if e.startErr != nil {
			return e.startErr
		}
		return ErrNotStarted
	}
	return nil
}

// Execute runs one canonical request. Client mistakes come back as a Result
// with a 4xx status; the error return is reserved for engine failures.
func (e *Engine) Execute(ctx context.Context, req *Request, contextFunc ContextFunc) (res *Result, err error) {
	if !e.Started() {
		return nil, ErrNotStarted
	}

	start := time.Now()
	kind := "unknown"
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logging.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("GraphQL execution panicked")
			res, err = nil, fmt.Errorf("graphql execution panicked: %v", r)
		}
		e.cfg.Metrics.ObserveOperation(kind, outcome(res, err), time.Since(start))
	}()

	params, err := ParseParams(req)
	if err != nil {
		return errorResult(err)
	}

	query, rerr := e.resolvePersistedQuery(ctx, params)
	if rerr != nil {
		return rerr.result(), nil
	}

	op, err := inspectOperation(query, params.OperationName)
	if err != nil {
		return errorResult(err)
	}
	kind = string(op.Kind)

	if op.Kind == ast.Mutation && params.Method == http.MethodGet {
		rerr := newRequestError(http.StatusMethodNotAllowed, CodeMethodNotAllowed,
			"Can only perform a mutation operation from a POST request.")
		rerr.header = http.Header{"Allow": []string{"POST"}}
		return rerr.result(), nil
	}
	if e.cfg.MaxDepth > 0 && op.Depth > e.cfg.MaxDepth {
		return newRequestError(http.StatusBadRequest, CodeDepthLimit,
			fmt.Sprintf("query depth %d exceeds maximum allowed depth of %d", op.Depth, e.cfg.MaxDepth)).result(), nil
	}

	if errs := e.schema.ValidateWithVariables(query, params.Variables); len(errs) > 0 {
		return (&requestError{
			status: http.StatusBadRequest,
			errs:   fromQueryErrors(CodeValidationFailed, errs),
		}).result(), nil
	}

	opCtx := ctxkeys.WithOperation(ctx, op.Name, kind)
	if contextFunc != nil {
		built, cerr := contextFunc(opCtx)
		if cerr != nil {
			return newRequestError(http.StatusInternalServerError, CodeInternal,
				"Context creation failed: "+cerr.Error()).result(), nil
		}
		if built != nil {
			opCtx = built
		}
	}

	if op.Kind == ast.Subscription {
		return e.subscribe(opCtx, query, params)
	}
	return e.exec(opCtx, query, params)
}

func (e *Engine) exec(ctx context.Context, query string, params *Params) (*Result, error) {
	var resp *graphql.Response
	if e.executor == nil {
		resp = e.schema.Exec(ctx, query, params.OperationName, params.Variables)
	} else {
		var err error
		resp, err = e.executor.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[*graphql.Response]) (*graphql.Response, error) {
			return e.execUntilDone(exec.Context(), query, params)
		})
		if errors.Is(err, timeout.ErrExceeded) || (err != nil && ctx.Err() == nil && isContextError(err)) {
			return newRequestError(http.StatusGatewayTimeout, CodeTimeout,
				fmt.Sprintf("execution exceeded %s", e.cfg.ExecutionTimeout)).result(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("graphql exec: %w", err)
		}
	}
	sanitizeResponse(resp)

	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return &Result{
		Status: http.StatusOK,
		Header: jsonHeader(),
		Body:   Complete{Payload: string(payload)},
	}, nil
}

// execUntilDone runs Exec in its own goroutine and returns as soon as ctx is
// done, leaving the resolvers to observe the cancellation on their own.
func (e *Engine) execUntilDone(ctx context.Context, query string, params *Params) (*graphql.Response, error) {
	type execOutcome struct {
		resp *graphql.Response
		err  error
	}
	done := make(chan execOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- execOutcome{err: fmt.Errorf("graphql execution panicked: %v", r)}
			}
		}()
		done <- execOutcome{resp: e.schema.Exec(ctx, query, params.OperationName, params.Variables)}
	}()

	select {
	case out := <-done:
		return out.resp, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) subscribe(ctx context.Context, query string, params *Params) (*Result, error) {
	subCtx, cancel := context.WithCancel(ctx)
	ch, err := e.schema.Subscribe(subCtx, query, params.OperationName, params.Variables)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrSubscribe, err)
	}
	return &Result{
		Status: http.StatusOK,
		Header: jsonHeader(),
		Body:   Chunked{Stream: &subscriptionStream{ch: ch, cancel: cancel}},
	}, nil
}

// resolvePersistedQuery returns the query text to run, consulting the APQ
// store when the request carries extensions.persistedQuery.
func (e *Engine) resolvePersistedQuery(ctx context.Context, params *Params) (string, *requestError) {
	hash, ok, err := params.persistedQuery()
	if err != nil {
		var rerr *requestError
		if errors.As(err, &rerr) {
			return "", rerr
		}
		return "", badRequest(err.Error())
	}
	if !ok {
		if strings.TrimSpace(params.Query) == "" {
			return "", badRequest("GraphQL operations must contain a non-empty `query` or a `persistedQuery` extension.")
		}
		return params.Query, nil
	}

	if e.cfg.APQ == nil {
		return "", &requestError{
			status: http.StatusOK,
			errs:   gqlList(CodePersistedQueryNotSupport, "PersistedQueryNotSupported"),
		}
	}

	if params.Query == "" {
		query, found, err := e.cfg.APQ.Get(ctx, hash)
		if err != nil {
			e.cfg.Metrics.IncAPQ("error")
			e.logger.WithError(err).WithField("hash", hash).Warn("Persisted query lookup failed")
		}
		if !found {
			e.cfg.Metrics.IncAPQ("miss")
			return "", &requestError{
				status: http.StatusOK,
				errs:   gqlList(CodePersistedQueryNotFound, "PersistedQueryNotFound"),
			}
		}
		e.cfg.Metrics.IncAPQ("hit")
		return query, nil
	}

	if apq.Hash(params.Query) != hash {
		return "", badRequest("provided sha does not match query")
	}
	if err := e.cfg.APQ.Put(ctx, hash, params.Query); err != nil {
		e.cfg.Metrics.IncAPQ("error")
		e.logger.WithError(err).WithField("hash", hash).Warn("Persisted query store failed")
	} else {
		e.cfg.Metrics.IncAPQ("stored")
	}
	return params.Query, nil
}

// subscriptionStream turns a graphql-go subscription channel into chunks,
// one JSON document per line.
type subscriptionStream struct {
	ch        <-chan interface{}
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *subscriptionStream) Next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case msg, ok := <-s.ch:
		if !ok {
			return "", io.EOF
		}
		if resp, ok := msg.(*graphql.Response); ok {
			sanitizeResponse(resp)
		}
		b, err := json.Marshal(msg)
		if err != nil {
			return "", fmt.Errorf("marshal subscription response: %w", err)
		}
		return string(b) + "\n", nil
	}
}

func (s *subscriptionStream) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

func errorResult(err error) (*Result, error) {
	var rerr *requestError
	if errors.As(err, &rerr) {
		return rerr.result(), nil
	}
	return nil, err
}

func jsonHeader() http.Header {
	return http.Header{"Content-Type": []string{contentTypeJSON}}
}

func outcome(res *Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case res == nil:
		return "unknown"
	case res.Status >= 400:
		return "rejected"
	default:
		return "ok"
	}
}
