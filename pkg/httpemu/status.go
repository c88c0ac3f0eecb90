package httpemu

import (
	"net/http"

	"github.com/kinhtkblbp/limenode/pkg/lime"
)

// reasonToHTTPStatus maps a wire Reason code to the HTTP status the
// listener reports, per the code-range table: session errors (10-19)
// and authorization errors (30-39) surface as 401, validation errors
// (20-29) as 400, and anything outside those ranges as 403.
func reasonToHTTPStatus(reason *lime.Reason) int {
	if reason == nil {
		return http.StatusForbidden
	}
	switch {
	case reason.Code >= 10 && reason.Code < 20:
		return http.StatusUnauthorized
	case reason.Code >= 20 && reason.Code < 30:
		return http.StatusBadRequest
	case reason.Code >= 30 && reason.Code < 40:
		return http.StatusUnauthorized
	default:
		return http.StatusForbidden
	}
}

// notificationToHTTPStatus reports the status an await-notification
// request should complete with, and whether the notification is
// terminal for that request. Only dispatched and failed close the
// pending response; accepted/validated/authorized/received/consumed
// are intermediate lifecycle events the HTTP caller does not observe.
func notificationToHTTPStatus(n *lime.Notification) (status int, terminal bool) {
	switch n.Event {
	case lime.NotificationEventDispatched:
		return http.StatusCreated, true
	case lime.NotificationEventFailed:
		return reasonToHTTPStatus(n.Reason), true
	default:
		return 0, false
	}
}

// commandToHTTPStatus reports the status a command request should
// complete with. A pending status leaves the HTTP request open, since
// the resource is still being worked on.
func commandToHTTPStatus(c *lime.Command) (status int, terminal bool) {
	switch c.Status {
	case lime.CommandStatusSuccess:
		return http.StatusCreated, true
	case lime.CommandStatusFailure:
		return reasonToHTTPStatus(c.Reason), true
	default:
		return 0, false
	}
}
