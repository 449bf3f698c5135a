package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/goliatone/go-durable"
)

// DefaultOrchestratorName serves orchestration names with no registration.
const DefaultOrchestratorName = "*"

// Orchestrator is user orchestration code. Returning an error fails the
// orchestration, returning a value completes it with that output.
type Orchestrator func(ctx *Context) (any, error)

// Activity is user activity code, executed out of band by a worker.
type Activity func(ctx *ActivityContext) (any, error)

// ActivityContext carries one activity invocation.
type ActivityContext struct {
	ctx        context.Context
	instanceID string
	name       string
	taskID     int32
	input      string
}

// NewActivityContext builds the context handed to an activity.
func NewActivityContext(ctx context.Context, instanceID, name string, taskID int32, input string) *ActivityContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ActivityContext{ctx: ctx, instanceID: instanceID, name: name, taskID: taskID, input: input}
}

func (a *ActivityContext) Context() context.Context { return a.ctx }
func (a *ActivityContext) InstanceID() string       { return a.instanceID }
func (a *ActivityContext) Name() string             { return a.name }
func (a *ActivityContext) TaskID() int32            { return a.taskID }

// GetInput decodes the activity input into v.
func (a *ActivityContext) GetInput(v any) error {
	return decodePayload(a.input, v)
}

// Registry stores orchestrators and activities by name.
type Registry struct {
	orchestrators map[string]Orchestrator
	activities    map[string]Activity
	namespacer    func(string, string) string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		orchestrators: make(map[string]Orchestrator),
		activities:    make(map[string]Activity),
		namespacer:    defaultNamespace,
	}
}

// SetNamespacer customizes how names are namespaced.
func (r *Registry) SetNamespacer(fn func(string, string) string) {
	if fn != nil {
		r.namespacer = fn
	}
}

// AddOrchestrator registers an orchestrator by name.
func (r *Registry) AddOrchestrator(name string, fn Orchestrator) error {
	return r.AddOrchestratorNamespaced("", name, fn)
}

// AddOrchestratorNamespaced registers an orchestrator under namespace::name.
func (r *Registry) AddOrchestratorNamespaced(namespace, name string, fn Orchestrator) error {
	key, err := r.key(namespace, name, fn == nil)
	if err != nil {
		return err
	}
	if r.orchestrators == nil {
		r.orchestrators = make(map[string]Orchestrator)
	}
	if _, exists := r.orchestrators[key]; exists {
		return durable.NewError(durable.ErrAlreadyRegistered, fmt.Sprintf("orchestrator %s already registered", key), nil,
			map[string]any{"name": key})
	}
	r.orchestrators[key] = fn
	return nil
}

// AddActivity registers an activity by name.
func (r *Registry) AddActivity(name string, fn Activity) error {
	return r.AddActivityNamespaced("", name, fn)
}

// AddActivityNamespaced registers an activity under namespace::name.
func (r *Registry) AddActivityNamespaced(namespace, name string, fn Activity) error {
	key, err := r.key(namespace, name, fn == nil)
	if err != nil {
		return err
	}
	if r.activities == nil {
		r.activities = make(map[string]Activity)
	}
	if _, exists := r.activities[key]; exists {
		return durable.NewError(durable.ErrAlreadyRegistered, fmt.Sprintf("activity %s already registered", key), nil,
			map[string]any{"name": key})
	}
	r.activities[key] = fn
	return nil
}

// Orchestrator returns the orchestrator for name, falling back to the
// orchestrator registered as DefaultOrchestratorName.
func (r *Registry) Orchestrator(name string) (Orchestrator, bool) {
	if r == nil {
		return nil, false
	}
	if fn, ok := r.orchestrators[name]; ok {
		return fn, true
	}
	fn, ok := r.orchestrators[DefaultOrchestratorName]
	return fn, ok
}

// Activity returns the activity registered for name.
func (r *Registry) Activity(name string) (Activity, bool) {
	if r == nil {
		return nil, false
	}
	fn, ok := r.activities[name]
	return fn, ok
}

// OrchestratorNames returns the registered orchestrator names sorted.
func (r *Registry) OrchestratorNames() []string {
	if r == nil {
		return nil
	}
	return sortedKeys(r.orchestrators)
}

// ActivityNames returns the registered activity names sorted.
func (r *Registry) ActivityNames() []string {
	if r == nil {
		return nil
	}
	return sortedKeys(r.activities)
}

func (r *Registry) key(namespace, name string, missing bool) (string, error) {
	if strings.TrimSpace(name) == "" || missing {
		return "", durable.NewError(durable.ErrInvalidOptions, "name and function are required", nil, nil)
	}
	if r.namespacer == nil {
		return strings.TrimSpace(name), nil
	}
	return r.namespacer(namespace, name), nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// defaultNamespace concatenates namespace and name using ::, trimming whitespace.
func defaultNamespace(namespace, name string) string {
	ns := strings.TrimSpace(namespace)
	ident := strings.TrimSpace(name)
	if ns == "" {
		return ident
	}
	return ns + "::" + ident
}

func encodePayload(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return string(raw), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodePayload(raw string, v any) error {
	if v == nil || strings.TrimSpace(raw) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}
