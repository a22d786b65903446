package channel

import "github.com/qbane/websocketfs/pkg/sftperr"

// errorForCloseCode maps a WebSocket close code to the error taxonomy, per
// spec.md §4.B. established reports whether the channel had completed its
// WebSocket handshake before closing; per spec.md, a channel that never
// opened always surfaces ECONNREFUSED regardless of code.
func errorForCloseCode(code int, reason string, established bool) *sftperr.Error {
	if !established {
		return sftperr.Clone(sftperr.ErrConnRefused).WithContext("reason", reason)
	}

	switch code {
	case 1000:
		return nil
	case 1001:
		return sftperr.Clone(sftperr.ErrGoingAway).WithContext("reason", reason)
	case 1002:
		return sftperr.Clone(sftperr.ErrProtocolType).WithContext("reason", reason)
	case 1006:
		return sftperr.Clone(sftperr.ErrConnAborted).WithContext("reason", reason)
	case 1007:
		return sftperr.Clone(sftperr.ErrBadMessage).WithContext("reason", reason)
	case 1008:
		return sftperr.New("EPROHIBITED", -3, "prohibited message: %s", reason)
	case 1009:
		return sftperr.Clone(sftperr.ErrMessageTooLarge).WithContext("reason", reason)
	case 1010, 1011:
		e := sftperr.Clone(sftperr.ErrConnReset)
		e.Description = reason
		return e
	case 1015:
		return sftperr.Clone(sftperr.ErrSecureNeg).WithContext("reason", reason)
	default:
		return sftperr.Clone(sftperr.ErrFailure).WithContext("reason", reason).WithContext("closeCode", code)
	}
}
