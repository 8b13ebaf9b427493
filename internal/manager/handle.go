package manager

import (
	"context"

	"github.com/tapecell/undotx/internal/envelope"
)

// txHandle is the back-reference handed to running functions. Nested
// calls target the transaction being executed, not the sticky
// default.
type txHandle struct {
	m *Manager
}

func (h txHandle) Call(ctx context.Context, f string, args map[string]any) envelope.Response {
	req := CallRequest{F: f, Args: args}
	if h.m.cur != nil {
		req.TxID = h.m.cur.StrID
	}
	return h.m.Call(ctx, req)
}

func (h txHandle) TrashDir(ctx context.Context) envelope.Response {
	return h.m.TrashDir(ctx)
}

func (h txHandle) TmpDir(ctx context.Context) envelope.Response {
	return h.m.TmpDir(ctx)
}
