package access

import "context"

// PolicyClient is the remote authorization decision call. Implementations
// classify transport failures by wrapping them with Transient so the
// evaluator can apply its fallback policy.
type PolicyClient interface {
	Evaluate(ctx context.Context, permission Permission, pc PermissionContext) (Decision, error)
}

// BatchPolicyClient is the optional batched variant of PolicyClient. When the
// backend does not provide it, the evaluator degrades to sequential Evaluate
// calls.
type BatchPolicyClient interface {
	PolicyClient
	EvaluateBatch(ctx context.Context, permissions []Permission, pc PermissionContext) (map[Permission]Decision, error)
}

// ChangeFeed delivers permission change notifications for a user. The
// returned release function must be invoked on session teardown. The feed is
// responsible for its own reconnection policy; subscriber errors are surfaced
// through onError without detaching the subscription.
type ChangeFeed interface {
	Subscribe(ctx context.Context, userID string, onChange func(InvalidationEvent), onError func(error)) (func(), error)
}

// DecisionSink receives denial and fallback decisions for audit purposes.
// Implementations must be best-effort: a sink failure never fails a check.
type DecisionSink interface {
	Record(ctx context.Context, permission Permission, result PermissionResult)
}
