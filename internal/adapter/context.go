package adapter

import (
	"context"

	"github.com/gin-gonic/gin"

	"shelf/internal/engine"
	"shelf/pkg/ctxkeys"
	"shelf/pkg/middleware"
)

type requestInfoKey struct{}

// RequestInfo is what resolvers can learn about the transport request.
type RequestInfo struct {
	RequestID string
	ClientIP  string
	Header    engine.HeaderMap
}

// RequestInfoFrom returns the RequestInfo attached to a resolver context.
func RequestInfoFrom(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info, ok
}

func requestInfoFromGin(c *gin.Context, header engine.HeaderMap) RequestInfo {
	return RequestInfo{
		RequestID: middleware.GetRequestID(c),
		ClientIP:  c.ClientIP(),
		Header:    header,
	}
}

// newContextFunc attaches info to the resolver context. onOperation, when
// set, learns the selected operation name.
func newContextFunc(info RequestInfo, onOperation func(name string)) engine.ContextFunc {
	return func(ctx context.Context) (context.Context, error) {
		if onOperation != nil {
			if name := ctxkeys.GetOperationName(ctx); name != "" {
				onOperation(name)
			}
		}
		if info.RequestID != "" {
			ctx = ctxkeys.WithRequestID(ctx, info.RequestID)
		}
		return context.WithValue(ctx, requestInfoKey{}, info), nil
	}
}
