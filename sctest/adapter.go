package sctest

// Adapter is the interface for managing channel subscriptions and publishing
type Adapter interface {
	// Add subscribes a connection to a channel
	Add(connID, channel string)

	// Remove unsubscribes a connection from a channel
	Remove(connID, channel string)

	// RemoveAll unsubscribes a connection from all channels
	RemoveAll(connID string)

	// Subscribers returns all connection IDs subscribed to a channel
	Subscribers(channel string) []string

	// Channels returns all channels a connection is subscribed to
	Channels(connID string) []string

	// Publish sends a #publish event to every subscriber of channel and returns how many were reached
	Publish(channel string, data interface{}) (int, error)

	// Close cleans up the adapter
	Close() error
}
