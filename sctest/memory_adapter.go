package sctest

import (
	"encoding/json"
	"sync"
)

// MemoryAdapter is an in-memory implementation of the Adapter interface
type MemoryAdapter struct {
	channels     map[string]map[string]bool // channel -> connIDs
	connChannels map[string]map[string]bool // connID -> channels
	mu           sync.RWMutex
	server       *Server
}

// NewMemoryAdapter creates a new in-memory adapter
func NewMemoryAdapter(server *Server) *MemoryAdapter {
	return &MemoryAdapter{
		channels:     make(map[string]map[string]bool),
		connChannels: make(map[string]map[string]bool),
		server:       server,
	}
}

// Add subscribes a connection to a channel
func (a *MemoryAdapter) Add(connID, channel string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.channels[channel] == nil {
		a.channels[channel] = make(map[string]bool)
	}
	a.channels[channel][connID] = true

	if a.connChannels[connID] == nil {
		a.connChannels[connID] = make(map[string]bool)
	}
	a.connChannels[connID][channel] = true
}

// Remove unsubscribes a connection from a channel
func (a *MemoryAdapter) Remove(connID, channel string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.removeLocked(connID, channel)
}

func (a *MemoryAdapter) removeLocked(connID, channel string) {
	if a.channels[channel] != nil {
		delete(a.channels[channel], connID)
		if len(a.channels[channel]) == 0 {
			delete(a.channels, channel)
		}
	}

	if a.connChannels[connID] != nil {
		delete(a.connChannels[connID], channel)
		if len(a.connChannels[connID]) == 0 {
			delete(a.connChannels, connID)
		}
	}
}

// RemoveAll unsubscribes a connection from all channels
func (a *MemoryAdapter) RemoveAll(connID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for channel := range a.connChannels[connID] {
		a.removeLocked(connID, channel)
	}
	delete(a.connChannels, connID)
}

// Subscribers returns all connection IDs subscribed to a channel
func (a *MemoryAdapter) Subscribers(channel string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	conns := a.channels[channel]
	result := make([]string, 0, len(conns))
	for connID := range conns {
		result = append(result, connID)
	}
	return result
}

// Channels returns all channels a connection is subscribed to
func (a *MemoryAdapter) Channels(connID string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	channels := a.connChannels[connID]
	result := make([]string, 0, len(channels))
	for channel := range channels {
		result = append(result, channel)
	}
	return result
}

// Publish sends a #publish event to every subscriber of channel.
// Map payloads get the channel name merged in, other payloads are wrapped as {"channel", "data"}.
func (a *MemoryAdapter) Publish(channel string, data interface{}) (int, error) {
	payload, err := publishPayload(channel, data)
	if err != nil {
		return 0, err
	}

	encoded, err := json.Marshal(map[string]interface{}{
		"event": "#publish",
		"data":  payload,
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, connID := range a.Subscribers(channel) {
		if conn, ok := a.server.Conn(connID); ok {
			if conn.Send(string(encoded)) == nil {
				sent++
			}
		}
	}
	return sent, nil
}

// Close cleans up the adapter
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.channels = make(map[string]map[string]bool)
	a.connChannels = make(map[string]map[string]bool)

	return nil
}

func publishPayload(channel string, data interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return map[string]interface{}{"channel": channel, "data": data}, nil
	}
	fields["channel"] = channel
	return fields, nil
}
