package lime

// Media types for the documents the core ships out of the box.
const (
	MediaTypePing     = "application/vnd.lime.ping+json"
	MediaTypePresence = "application/vnd.lime.presence+json"
)

// Ping is an empty document used by the channel's liveness probe
// (see pkg/channel's remote-idle-timeout handling) and by the HTTP
// emulation listener's /commands/ping/ convenience route.
type Ping struct{}

// Presence reports a node's availability.
type Presence struct {
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}
