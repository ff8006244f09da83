package events

import (
	"context"
	"encoding/json"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// logRuntimeEvent mirrors an event into the Wails log without its payload; slot
// payloads carry whole images.
func logRuntimeEvent(ctx context.Context, name string, event SessionEvent) {
	event.Payload = nil
	data, err := json.Marshal(struct {
		Name string `json:"name"`
		SessionEvent
	}{Name: name, SessionEvent: event})
	if err != nil {
		runtime.LogError(ctx, "loggers: failed to marshal session event: "+err.Error())
		return
	}

	payload := string(data)

	switch event.Type {
	case EventError:
		runtime.LogError(ctx, payload)
	case EventWarn:
		runtime.LogWarning(ctx, payload)
	default:
		runtime.LogInfo(ctx, payload)
	}
}
