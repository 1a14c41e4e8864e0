package uow

import "context"

type unitContextKey struct{}

// WithUnitOfWork attaches u to the context so nested calls can join it.
func WithUnitOfWork(ctx context.Context, u *UnitOfWork) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if u == nil {
		return ctx
	}
	return context.WithValue(ctx, unitContextKey{}, u)
}

// FromContext returns the unit of work attached to ctx.
func FromContext(ctx context.Context) (*UnitOfWork, bool) {
	if ctx == nil {
		return nil, false
	}
	u, ok := ctx.Value(unitContextKey{}).(*UnitOfWork)
	return u, ok && u != nil
}

// BeginFrom opens a child of the unit attached to ctx, or a root of e when
// ctx carries none. The returned context carries the new unit.
func (e *Engine) BeginFrom(ctx context.Context) (context.Context, *UnitOfWork, error) {
	if parent, ok := FromContext(ctx); ok {
		child, err := parent.Begin()
		if err != nil {
			return ctx, nil, err
		}
		return WithUnitOfWork(ctx, child), child, nil
	}
	u := e.Begin()
	return WithUnitOfWork(ctx, u), u, nil
}
