package authcore

import "context"

// requestInfo is the caller metadata carried through a request context.
type requestInfo struct {
	ip        string
	userAgent string
}

type requestInfoKey struct{}

func requestInfoFrom(ctx context.Context) requestInfo {
	if ctx == nil {
		return requestInfo{}
	}
	info, _ := ctx.Value(requestInfoKey{}).(requestInfo)
	return info
}

// WithClientIP records the caller's IP on ctx. Authenticate compares it with
// the IP stored on the session; the login throttle and audit events read it too.
func WithClientIP(ctx context.Context, ip string) context.Context {
	info := requestInfoFrom(ctx)
	info.ip = ip
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// WithUserAgent records the caller's User-Agent on ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	info := requestInfoFrom(ctx)
	info.userAgent = userAgent
	return context.WithValue(ctx, requestInfoKey{}, info)
}

func clientIPFromContext(ctx context.Context) string { return requestInfoFrom(ctx).ip }

func userAgentFromContext(ctx context.Context) string { return requestInfoFrom(ctx).userAgent }
