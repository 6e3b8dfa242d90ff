package hostenv

import "context"

type callbackKey struct{}

// MarkCallback marks ctx as callback scope. Dispatch paths apply it before
// invoking a handler.
func MarkCallback(ctx context.Context) context.Context {
	return context.WithValue(ctx, callbackKey{}, true)
}

// InCallback reports whether ctx is callback scope.
func InCallback(ctx context.Context) bool {
	v, _ := ctx.Value(callbackKey{}).(bool)
	return v
}
