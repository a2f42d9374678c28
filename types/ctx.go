package types

import (
	"context"
)

type ctxKey int

const appKey ctxKey = iota

// CtxWithApp tags a context with the calling app's identity. The daemon
// sets it from the transport layer; tests set it directly.
func CtxWithApp(ctx context.Context, appID string) context.Context {
	return context.WithValue(ctx, appKey, appID)
}

// CtxGetApp returns the app identity carried by the context, if any.
func CtxGetApp(ctx context.Context) (string, bool) {
	appID, ok := ctx.Value(appKey).(string)
	return appID, ok && len(appID) > 0
}
