package orchestration

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/goliatone/go-durable/history"
)

// uuidNamespace seeds NewUUID. Changing it changes every generated id.
var uuidNamespace = uuid.MustParse("9e952958-5e33-4daf-827f-2fa12937b875")

// NewUUID returns a name-based UUID derived from the instance id and a
// per-execution counter, so replays produce the same sequence.
func (oc *Context) NewUUID() uuid.UUID {
	name := fmt.Sprintf("%s-%d", oc.instanceID, oc.uuidCounter)
	oc.uuidCounter++
	return uuid.NewSHA1(uuidNamespace, []byte(name))
}

// appIDFromRouter picks the target app when set, otherwise the source app.
func appIDFromRouter(r *history.TaskRouter) string {
	if r == nil {
		return ""
	}
	if target := strings.TrimSpace(r.TargetAppID); target != "" {
		return target
	}
	return strings.TrimSpace(r.SourceAppID)
}

// routerFor stamps outgoing calls with this execution's app id. Executions
// without an app id attach no router.
func (oc *Context) routerFor(target string) *history.TaskRouter {
	if oc.appID == "" {
		return nil
	}
	return &history.TaskRouter{
		SourceAppID: oc.appID,
		TargetAppID: strings.TrimSpace(target),
	}
}

func (oc *Context) completionRouter() *history.TaskRouter {
	if oc.appID == "" {
		return nil
	}
	return &history.TaskRouter{SourceAppID: oc.appID}
}
