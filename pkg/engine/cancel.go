package engine

import "time"

// CancelCheck is polled once per loop iteration. Returning true ends the
// stream the same way a cancelled context does.
type CancelCheck func() bool

func never() bool { return false }

// CancelOnClose fires once done is closed.
func CancelOnClose(done <-chan struct{}) CancelCheck {
	return func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

// CancelAfter fires once d has elapsed from the call.
func CancelAfter(d time.Duration) CancelCheck {
	deadline := time.Now().Add(d)
	return func() bool {
		return !time.Now().Before(deadline)
	}
}

// CancelAny fires when any of checks fires. Nil checks are skipped.
func CancelAny(checks ...CancelCheck) CancelCheck {
	return func() bool {
		for _, check := range checks {
			if check != nil && check() {
				return true
			}
		}
		return false
	}
}
