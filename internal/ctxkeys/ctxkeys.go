package ctxkeys

import "context"

// SessionIDKey 投递上下文中的会话 ID
type SessionIDKey struct{}

// WithSessionID 将会话 ID 写入上下文
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey{}, id)
}

// SessionID 读取上下文中的会话 ID，不存在时返回空串
func SessionID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(SessionIDKey{}).(string)
	return id
}
