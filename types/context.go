package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID    contextKey = "trace_id"
	keyTaskID     contextKey = "task_id"
	keyRequestID  contextKey = "request_id"
	keyPipelineID contextKey = "pipeline_id"
	keyAgentID    contextKey = "agent_id"
	keySubject    contextKey = "subject"
	keyRoles      contextKey = "roles"
)

func withString(ctx context.Context, key contextKey, v string) context.Context {
	return context.WithValue(ctx, key, v)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return withString(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	return stringFrom(ctx, keyTraceID)
}

// WithTaskID adds the executing task ID to context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return withString(ctx, keyTaskID, taskID)
}

// TaskID extracts task ID from context.
func TaskID(ctx context.Context) (string, bool) {
	return stringFrom(ctx, keyTaskID)
}

// WithRequestID adds the provider request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withString(ctx, keyRequestID, requestID)
}

// RequestID extracts request ID from context.
func RequestID(ctx context.Context) (string, bool) {
	return stringFrom(ctx, keyRequestID)
}

// WithPipelineID adds pipeline ID to context.
func WithPipelineID(ctx context.Context, pipelineID string) context.Context {
	return withString(ctx, keyPipelineID, pipelineID)
}

// PipelineID extracts pipeline ID from context.
func PipelineID(ctx context.Context) (string, bool) {
	return stringFrom(ctx, keyPipelineID)
}

// WithAgentID adds agent ID to context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return withString(ctx, keyAgentID, agentID)
}

// AgentID extracts agent ID from context.
func AgentID(ctx context.Context) (string, bool) {
	return stringFrom(ctx, keyAgentID)
}

// WithSubject stores the authenticated caller (JWT "sub" claim).
func WithSubject(ctx context.Context, subject string) context.Context {
	return withString(ctx, keySubject, subject)
}

// Subject extracts the authenticated caller from context.
func Subject(ctx context.Context) (string, bool) {
	return stringFrom(ctx, keySubject)
}

// WithRoles stores the caller's roles.
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, keyRoles, roles)
}

// Roles extracts the caller's roles from context.
func Roles(ctx context.Context) ([]string, bool) {
	v, ok := ctx.Value(keyRoles).([]string)
	return v, ok && len(v) > 0
}
