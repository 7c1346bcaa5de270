package receipt

import "context"

type writerKey struct{}

// WithWriter turns receipts on for every operation run under ctx. Passing a
// nil w turns them off again for a sub-tree.
func WithWriter(ctx context.Context, w Writer) context.Context {
	return context.WithValue(ctx, writerKey{}, w)
}

// From returns the active writer, or nil when receipts are off.
func From(ctx context.Context) Writer {
	w, _ := ctx.Value(writerKey{}).(Writer)
	return w
}

// Enabled reports whether an operation under ctx leaves a receipt
func Enabled(ctx context.Context) bool {
	return From(ctx) != nil
}

func record(ctx context.Context, r Receipt) error {
	w := From(ctx)
	if w == nil {
		return nil
	}
	return w.Write(r)
}
