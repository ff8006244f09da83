package events

import (
	"context"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// Emit delivers an event to the frontend. It is a no-op until an emitter is installed.
var Emit = func(ctx context.Context, name string, evt SessionEvent) {}

// EnableRuntimeEmitter routes events through the Wails runtime. ctx passed to Emit must
// then be the context Wails handed to OnStartup.
func EnableRuntimeEmitter() {
	Emit = func(ctx context.Context, name string, evt SessionEvent) {
		if evt.SessionKey == "" {
			if session := SessionFromContext(ctx); session != "" {
				evt.SessionKey = session
			}
		}

		runtime.EventsEmit(ctx, name, evt)

		if evt.Type != EventInfo || name == SessionNotice {
			logRuntimeEvent(ctx, name, evt)
		}
	}
}

func SetCustomEmitter(f func(ctx context.Context, name string, evt SessionEvent)) {
	if f == nil {
		Emit = func(context.Context, string, SessionEvent) {}
		return
	}
	Emit = func(ctx context.Context, name string, evt SessionEvent) {
		if evt.SessionKey == "" {
			if session := SessionFromContext(ctx); session != "" {
				evt.SessionKey = session
			}
		}
		f(ctx, name, evt)
	}
}
