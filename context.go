package waanauth

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type platformContextKey struct{}
type deviceIDContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It is used for login
// and signup throttling and recorded on sessions and devices.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithPlatform attaches the client platform hint (Sec-CH-UA-Platform).
func WithPlatform(ctx context.Context, platform string) context.Context {
	return context.WithValue(ctx, platformContextKey{}, platform)
}

// WithDeviceID attaches a previously issued device id. Logins reuse it
// instead of minting a new one.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDContextKey{}, deviceID)
}

func clientIPFromContext(ctx context.Context) string {
	return stringFromContext(ctx, clientIPContextKey{})
}

func userAgentFromContext(ctx context.Context) string {
	return stringFromContext(ctx, userAgentContextKey{})
}

func platformFromContext(ctx context.Context) string {
	return stringFromContext(ctx, platformContextKey{})
}

func deviceIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, deviceIDContextKey{})
}

func stringFromContext(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
