package cost

import "context"

type recorderKey struct{}

// WithRecorder returns a context that carries r. Provider adapters record
// their usage through RecordFrom so callers need not thread the Recorder.
func WithRecorder(ctx context.Context, r *Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, r)
}

// FromContext returns the Recorder carried by ctx, or nil.
func FromContext(ctx context.Context) *Recorder {
	r, _ := ctx.Value(recorderKey{}).(*Recorder)
	return r
}

// RecordFrom records u on the context's Recorder. It is a no-op without one.
func RecordFrom(ctx context.Context, u Usage) {
	r := FromContext(ctx)
	if r == nil {
		return
	}
	_ = r.Record(ctx, u)
}
