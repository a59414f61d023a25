// Package adapter translates between gin requests and the engine's canonical
// request/result shapes.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"shelf/internal/engine"
	"shelf/pkg/ctxkeys"
	"shelf/pkg/logging"
	"shelf/pkg/middleware"
	"shelf/pkg/monitoring"
	"shelf/pkg/server"
)

// DefaultMaxBodyBytes bounds POST bodies when Options leaves it unset.
const DefaultMaxBodyBytes int64 = 1 << 20

var (
	ErrMalformedBody     = errors.New("malformed request body")
	ErrExecution         = errors.New("graphql execution failed")
	ErrUnsupportedResult = errors.New("unsupported execution result")
)

// Executor runs canonical requests. *engine.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, req *engine.Request, contextFunc engine.ContextFunc) (*engine.Result, error)
}

type Options struct {
	MaxBodyBytes int64
	Metrics      *monitoring.GraphQLMetrics
}

// Handler serves GraphQL over HTTP and websockets. It keeps no per-request
// state.
type Handler struct {
	exec    Executor
	logger  logging.Logger
	opts    Options
	metrics *monitoring.GraphQLMetrics
}

func New(exec Executor, logger logging.Logger, opts Options) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Handler{exec: exec, logger: logger, opts: opts, metrics: opts.Metrics}
}

// Response is the outbound shape: exactly one of Payload or Stream is used.
type Response struct {
	Status  int
	Header  http.Header
	Payload []byte
	Stream  engine.ChunkStream
}

// ServeGraphQL handles one GraphQL HTTP request.
func (h *Handler) ServeGraphQL(c *gin.Context) {
	log := middleware.GetContextLogger(c, h.logger)

	req, err := Canonicalize(c.Request, c.Writer, h.opts.MaxBodyBytes)
	if err != nil {
		status := http.StatusBadRequest
		var be *BodyError
		if errors.As(err, &be) {
			status = be.Status
		}
		_ = c.Error(err)
		log.WithError(err).Debug("Rejected GraphQL request body")
		writeError(c, status, engine.CodeBadRequest, err.Error())
		return
	}

	info := requestInfoFromGin(c, req.Header)
	res, err := h.exec.Execute(c.Request.Context(), req, newContextFunc(info, func(name string) {
		c.Set(string(ctxkeys.KeyOperationName), name)
	}))
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrExecution, err)
		_ = c.Error(err)
		log.WithError(err).Error("GraphQL execution failed")
		writeError(c, http.StatusInternalServerError, engine.CodeInternal, "Internal server error")
		return
	}

	resp, err := Translate(res)
	if err != nil {
		_ = c.Error(err)
		log.WithError(err).WithField("body_type", fmt.Sprintf("%T", bodyOf(res))).Error("Engine returned a result the adapter cannot serve")
		writeError(c, http.StatusInternalServerError, engine.CodeInternal, "Internal server error")
		return
	}

	h.write(c, resp, log)
}

// Canonicalize builds the engine request from an inbound HTTP request.
func Canonicalize(r *http.Request, w http.ResponseWriter, maxBody int64) (*engine.Request, error) {
	header := NormalizeHeaders(r.Header)
	if _, ok := header["host"]; !ok && r.Host != "" {
		header["host"] = r.Host
	}

	var body any
	if r.Method == http.MethodPost {
		var err error
		if body, err = ReadBody(r, w, maxBody); err != nil {
			return nil, err
		}
	}

	return &engine.Request{
		Method: strings.ToUpper(r.Method),
		Header: header,
		Body:   body,
		Search: SearchString(r.URL),
	}, nil
}

// NormalizeHeaders lower-cases keys, joins multiple values with ", " and
// drops keys without values. Keys are visited in sorted order, so when two
// raw keys differ only by case the lexicographically greatest one wins.
func NormalizeHeaders(h http.Header) engine.HeaderMap {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(engine.HeaderMap, len(keys))
	for _, k := range keys {
		values := h[k]
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(k)] = strings.Join(values, ", ")
	}
	return out
}

// SearchString returns "?" plus the raw query, or "" when the URL has none.
func SearchString(u *url.URL) string {
	if u == nil {
		return ""
	}
	if u.RawQuery == "" && !u.ForceQuery {
		return ""
	}
	return "?" + u.RawQuery
}

// Translate maps an engine result to the outbound response. Anything other
// than a Complete or Chunked value body fails with ErrUnsupportedResult.
func Translate(res *engine.Result) (*Response, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: nil result", ErrUnsupportedResult)
	}

	header := http.Header{}
	for k, v := range res.Header {
		header[k] = append([]string(nil), v...)
	}
	header.Set("Content-Type", "application/json")

	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}

	switch body := res.Body.(type) {
	case engine.Complete:
		return &Response{Status: status, Header: header, Payload: []byte(body.Payload)}, nil
	case engine.Chunked:
		if body.Stream == nil {
			return nil, fmt.Errorf("%w: chunked body without stream", ErrUnsupportedResult)
		}
		return &Response{Status: status, Header: header, Stream: body.Stream}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedResult, res.Body)
	}
}

func (h *Handler) write(c *gin.Context, resp *Response, log logging.Entry) {
	for k, values := range resp.Header {
		c.Writer.Header().Del(k)
		for _, v := range values {
			c.Writer.Header().Add(k, v)
		}
	}

	if resp.Stream == nil {
		c.Status(resp.Status)
		if _, err := c.Writer.Write(resp.Payload); err != nil {
			log.WithError(err).Debug("Failed to write GraphQL response")
		}
		return
	}

	h.stream(c, resp, log)
}

// stream forwards fragments in order, pulling the next one only after the
// previous was flushed. A producer error aborts the connection so the client
// never sees a clean end of body.
func (h *Handler) stream(c *gin.Context, resp *Response, log logging.Entry) {
	defer func() {
		if err := resp.Stream.Close(); err != nil {
			log.WithError(err).Debug("Failed to close chunk stream")
		}
	}()

	reqCtx := c.Request.Context()
	ctx, stop := server.StreamContext(reqCtx)
	defer stop()
	c.Status(resp.Status)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	for {
		chunk, err := resp.Stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if reqCtx.Err() != nil {
				h.metrics.IncAbort("client_gone")
				log.WithError(err).Debug("Client went away during chunked response")
				return
			}
			if ctx.Err() != nil {
				h.metrics.IncAbort("shutdown")
				log.Info("Cutting chunked response short for shutdown")
				panic(http.ErrAbortHandler)
			}
			h.metrics.IncAbort("stream_error")
			log.WithError(err).Error("Chunk stream failed mid-response")
			panic(http.ErrAbortHandler)
		}

		if _, err := io.WriteString(c.Writer, chunk); err != nil {
			h.metrics.IncAbort("write_failed")
			log.WithError(err).Debug("Failed to write chunk")
			return
		}
		c.Writer.Flush()
		h.metrics.IncChunk()
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.Header("Content-Type", "application/json")
	c.String(status, engine.SingleErrorPayload(code, message))
}

func bodyOf(res *engine.Result) engine.Body {
	if res == nil {
		return nil
	}
	return res.Body
}
