package plist

import (
	"context"

	"golang.org/x/sys/unix"
)

type peerContextKey struct{}

func withContextPeer(ctx context.Context, cred *unix.Ucred) context.Context {
	return context.WithValue(ctx, peerContextKey{}, cred)
}

// ContextPeer returns the credentials of the process that sent the
// request being handled. It is only available in the context passed
// to a [HandlerFunc].
func ContextPeer(ctx context.Context) (*unix.Ucred, bool) {
	v := ctx.Value(peerContextKey{})
	if v == nil {
		return nil, false
	}
	if ret, ok := v.(*unix.Ucred); ok && ret != nil {
		return ret, true
	}
	return nil, false
}

type cmdContextKey struct{}

func withContextCmd(ctx context.Context, cmd uint32) context.Context {
	return context.WithValue(ctx, cmdContextKey{}, cmd)
}

// ContextCmd returns the command code of the request being handled.
func ContextCmd(ctx context.Context) (uint32, bool) {
	ret, ok := ctx.Value(cmdContextKey{}).(uint32)
	return ret, ok
}
