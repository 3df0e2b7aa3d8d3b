package logging

import (
	"context"

	"github.com/google/uuid"
)

// debugKeyField is the field CDebugw adds for contexts carrying a debug key.
const debugKeyField = "debug_key"

type debugKeyCtx struct{}

// WithDebugKey tags ctx so CDebugw lines logged under it are written whatever the logger level.
// An empty key is replaced by a short random one.
func WithDebugKey(ctx context.Context, key string) context.Context {
	if key == "" {
		key = uuid.NewString()[:8]
	}
	return context.WithValue(ctx, debugKeyCtx{}, key)
}

// DebugKey returns the key ctx was tagged with, if any.
func DebugKey(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	key, ok := ctx.Value(debugKeyCtx{}).(string)
	return key, ok && key != ""
}
