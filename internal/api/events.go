package api

import (
	"github.com/wonny/stocktop/internal/events"
	"github.com/wonny/stocktop/internal/market"
	"github.com/wonny/stocktop/internal/workspace"
)

// BridgeEvents forwards refresh progress, snapshot replacement and inactivity sign-outs to the hub
func BridgeEvents(hub *events.Hub, fetcher *market.Fetcher, registry *workspace.Registry) {
	fetcher.OnTick(func(elapsed int) {
		hub.Broadcast(events.Message{Type: events.TypeRefreshTick, Data: map[string]int{"elapsed": elapsed}})
	})

	fetcher.OnSettle(func(result market.RefreshResult) {
		hub.Broadcast(events.Message{Type: events.TypeRefreshSettled, Data: result})
	})

	fetcher.OnUpdate(func(snap *market.Snapshot) {
		if snap == nil {
			return
		}
		hub.Broadcast(events.Message{Type: events.TypeSnapshotUpdated, Data: map[string]interface{}{
			"timestamp": snap.Timestamp,
			"origin":    snap.Origin,
		}})
	})

	registry.OnCreate(func(ws *workspace.Workspace) {
		id := ws.ID
		ws.Auth.OnExpire(func() {
			hub.Send(id, events.Message{Type: events.TypeSessionExpired})
		})
	})
}
