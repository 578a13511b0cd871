package trigger

import "context"

// ManualTrigger starts an execution directly from a caller-supplied
// workload, matching the teacher's ManualTrigger.Fire identity transform
// (ctx, payload) -> (ctx, payload) but adapted to call through to the
// scheduler instead of just passing the payload along.
type ManualTrigger struct {
	starter Starter
	path    string
	version int
}

func NewManual(starter Starter, path string, version int) *ManualTrigger {
	return &ManualTrigger{starter: starter, path: path, version: version}
}

func (t *ManualTrigger) Fire(ctx context.Context, workload map[string]any) (int64, error) {
	return t.starter.Start(ctx, t.path, t.version, workload, nil, "")
}
