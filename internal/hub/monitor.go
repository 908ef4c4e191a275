package hub

import (
	"sort"

	"Parley/internal/model"
	"Parley/internal/service"
)

// MonitorService provides methods to gather bridge and engine statistics
type MonitorService struct {
	hub *Hub
}

// NewMonitorService creates a new monitor service
func NewMonitorService(hub *Hub) *MonitorService {
	return &MonitorService{hub: hub}
}

// GetStats gathers and returns all statistics
func (ms *MonitorService) GetStats() model.MonitorResponse {
	resp := model.MonitorResponse{
		Status:  "healthy",
		Clients: ms.getClientList(),
		Calls:   model.CallStats{CallDetails: make([]model.CallInfo, 0)},
	}

	sess := ms.hub.sess
	if sess == nil {
		resp.Status = "idle"
		return resp
	}

	resp.Identity = sess.Identity()
	resp.Transport = model.TransportStats{
		Connected:     sess.Adapter.IsConnected(),
		ClientID:      sess.Adapter.ClientID(),
		Subscriptions: sess.Adapter.Topics(),
	}
	resp.Conversations = ms.getConversationStats()
	resp.Calls = ms.getCallStats()

	// Determine overall health status
	if !resp.Transport.Connected {
		resp.Status = "degraded"
	}
	return resp
}

func (ms *MonitorService) getConversationStats() model.ConversationStats {
	snap := ms.hub.sess.Reducer.Snapshot()
	stats := model.ConversationStats{
		TotalConversations: len(snap.Conversations),
		Details:            make([]model.ConversationInfo, 0, len(snap.Conversations)),
	}

	for _, conv := range snap.Conversations {
		info := model.ConversationInfo{
			PeerID:       conv.PeerID,
			MessageCount: len(conv.Messages),
			ByStatus:     make(map[string]int),
			PeerTyping:   conv.PeerTyping,
		}
		for _, status := range []model.DeliveryStatus{model.StatusSent, model.StatusDelivered, model.StatusSeen} {
			matching := service.Filter(conv.Messages, func(m model.Message) bool { return m.Status == status })
			info.ByStatus[status.String()] = len(matching)
		}
		stats.TotalMessages += info.MessageCount
		stats.Details = append(stats.Details, info)
	}
	return stats
}

func (ms *MonitorService) getCallStats() model.CallStats {
	stats := model.CallStats{CallDetails: make([]model.CallInfo, 0, 1)}

	route, agg, ok := ms.hub.sess.ActiveCall()
	if !ok {
		return stats
	}

	view := agg.View()
	speaking := service.Keys(service.FilterMap(view.Speaking, func(_ string, now bool) bool { return now }))
	sort.Strings(speaking)

	stats.TotalActiveCalls = 1
	stats.CallDetails = append(stats.CallDetails, model.CallInfo{
		CallID:       route.CallID,
		Channel:      route.Channel,
		Route:        string(route.Kind),
		Participants: route.Participants,
		Speaking:     speaking,
		Muted:        ms.hub.sess.Muted(),
	})
	return stats
}

// getClientList returns list of all connected clients
func (ms *MonitorService) getClientList() []model.ClientInfo {
	clients := ms.hub.snapshotClients()
	list := make([]model.ClientInfo, 0, len(clients))
	for _, c := range clients {
		list = append(list, model.ClientInfo{ClientID: c.ID, Closed: c.IsClosed()})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ClientID < list[j].ClientID })
	return list
}
