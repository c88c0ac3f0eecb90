package lime

import "fmt"

// Reason codes are grouped into ranges that the HTTP emulation layer maps
// to status codes (see pkg/httpemu/status.go).
const (
	ReasonCodeSessionTimeout      = 12
	ReasonCodeProtocolError       = 22
	ReasonCodeNoCompatibleOption  = 31
	ReasonCodeAuthenticationError = 33
)

// Reason is a structured error carried by Notification, Command, and
// Session envelopes.
type Reason struct {
	Code        int    `json:"code"`
	Description string `json:"description,omitempty"`
}

func (r *Reason) Error() string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("lime: reason %d: %s", r.Code, r.Description)
}

// NewReason builds a Reason with the given code and description.
func NewReason(code int, description string) *Reason {
	return &Reason{Code: code, Description: description}
}
