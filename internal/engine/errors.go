package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	graphql "github.com/graph-gophers/graphql-go"
	gqlerrors "github.com/graph-gophers/graphql-go/errors"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"shelf/pkg/ctxkeys"
	"shelf/pkg/logging"
)

// Error codes reported in errors[].extensions.code.
const (
	CodeBadRequest               = "BAD_REQUEST"
	CodeParseFailed              = "GRAPHQL_PARSE_FAILED"
	CodeValidationFailed         = "GRAPHQL_VALIDATION_FAILED"
	CodeDepthLimit               = "QUERY_DEPTH_LIMIT_EXCEEDED"
	CodeMethodNotAllowed         = "METHOD_NOT_ALLOWED"
	CodePersistedQueryNotFound   = "PERSISTED_QUERY_NOT_FOUND"
	CodePersistedQueryNotSupport = "PERSISTED_QUERY_NOT_SUPPORTED"
	CodeTimeout                  = "EXECUTION_TIMEOUT"
	CodeInternal                 = "INTERNAL_SERVER_ERROR"
)

const internalMessage = "Internal server error"

// resolverSafeMessages are the resolver error fragments clients may see as-is.
var resolverSafeMessages = []string{"not found", "invalid", "required", "must be", "not allowed"}

var (
	// ErrNotStarted is returned by Execute before a successful Start.
	ErrNotStarted = errors.New("engine not started")
	// ErrSubscribe wraps failures to open a subscription stream.
	ErrSubscribe = errors.New("subscription failed")
)

// requestError is a client-visible failure that short-circuits execution.
type requestError struct {
	status int
	errs   gqlerror.List
	header http.Header
}

func (e *requestError) Error() string {
	if len(e.errs) == 0 {
		return http.StatusText(e.status)
	}
	return e.errs[0].Message
}

func newRequestError(status int, code, message string) *requestError {
	return &requestError{
		status: status,
		errs:   gqlList(code, message),
	}
}

func codedError(code, message string) *gqlerror.Error {
	return &gqlerror.Error{
		Message:    message,
		Extensions: map[string]interface{}{"code": code},
	}
}

func gqlList(code, message string) gqlerror.List {
	return gqlerror.List{codedError(code, message)}
}

// fromQueryErrors converts executor validation errors to the shared payload shape.
func fromQueryErrors(code string, errs []*gqlerrors.QueryError) gqlerror.List {
	out := make(gqlerror.List, 0, len(errs))
	for _, qe := range errs {
		if qe == nil {
			continue
		}
		ge := codedError(code, qe.Message)
		for _, loc := range qe.Locations {
			ge.Locations = append(ge.Locations, gqlerror.Location{Line: loc.Line, Column: loc.Column})
		}
		out = append(out, ge)
	}
	return out
}

// fromParseError tags a gqlparser syntax error with a code, keeping its location.
func fromParseError(err error) *gqlerror.Error {
	var ge *gqlerror.Error
	if errors.As(err, &ge) && ge != nil {
		out := codedError(CodeParseFailed, ge.Message)
		out.Locations = ge.Locations
		return out
	}
	return codedError(CodeParseFailed, err.Error())
}

// ErrorPayload renders {"errors":[...]} for a list of GraphQL errors.
func ErrorPayload(errs gqlerror.List) string {
	b, err := json.Marshal(struct {
		Errors gqlerror.List `json:"errors"`
	}{Errors: errs})
	if err != nil {
		return `{"errors":[{"message":"internal error","extensions":{"code":"` + CodeInternal + `"}}]}`
	}
	return string(b)
}

// SingleErrorPayload renders one coded error.
func SingleErrorPayload(code, message string) string {
	return ErrorPayload(gqlList(code, message))
}

func (e *requestError) result() *Result {
	header := http.Header{}
	for k, v := range e.header {
		header[k] = v
	}
	header.Set("Content-Type", contentTypeJSON)
	return &Result{
		Status: e.status,
		Header: header,
		Body:   Complete{Payload: ErrorPayload(e.errs)},
	}
}

// SanitizeMessage keeps a message only when it contains an allowed fragment;
// anything else becomes fallback. Used for errors that may carry internals.
func SanitizeMessage(message, fallback string, allowed []string) string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return fallbackMessage(fallback)
	}
	lowered := strings.ToLower(trimmed)
	for _, allow := range allowed {
		if allow == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(allow)) {
			return trimmed
		}
	}
	return fallbackMessage(fallback)
}

func fallbackMessage(fallback string) string {
	if fallback == "" {
		return "request failed"
	}
	return fallback
}

// sanitizeResponse replaces resolver error messages that may carry internals.
func sanitizeResponse(resp *graphql.Response) {
	if resp == nil {
		return
	}
	for _, qe := range resp.Errors {
		if qe == nil || qe.ResolverError == nil {
			continue
		}
		safe := SanitizeMessage(qe.Message, internalMessage, resolverSafeMessages)
		if safe == qe.Message {
			continue
		}
		qe.Message = safe
		if qe.Extensions == nil {
			qe.Extensions = map[string]interface{}{}
		}
		qe.Extensions["code"] = CodeInternal
	}
}

// panicReporter logs resolver panics through logrus and reports a generic
// error in their place.
type panicReporter struct {
	logger logging.Logger
}

func (p *panicReporter) LogPanic(ctx context.Context, value interface{}) {
	p.logger.WithFields(logging.Fields{
		"panic":          fmt.Sprint(value),
		"operation_name": ctxkeys.GetOperationName(ctx),
		"operation_kind": ctxkeys.GetOperationKind(ctx),
		"stack":          string(debug.Stack()),
	}).Error("Resolver panicked")
}

func (p *panicReporter) MakePanicError(context.Context, interface{}) *gqlerrors.QueryError {
	return &gqlerrors.QueryError{
		Message:    internalMessage,
		Extensions: map[string]interface{}{"code": CodeInternal},
	}
}
