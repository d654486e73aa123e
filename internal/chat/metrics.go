package chat

// Metrics receives counters from the hub. The Prometheus implementation
// lives in internal/obs.
type Metrics interface {
	OnlineUsers(n int)
	MessageSent()
	MessageDelivered()
	DeliveryFailed(event string)
	TypingStarted()
}

type NopMetrics struct{}

func (NopMetrics) OnlineUsers(int)       {}
func (NopMetrics) MessageSent()          {}
func (NopMetrics) MessageDelivered()     {}
func (NopMetrics) DeliveryFailed(string) {}
func (NopMetrics) TypingStarted()        {}
