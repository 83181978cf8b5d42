package engine

import (
	"fmt"
	"time"
)

// DefaultTimeout is the receive wait window used when periodic work (probing
// or finish checks) exists and no explicit timeout is configured.
const DefaultTimeout = 15 * time.Second

// NoTimeout, passed to WithTimeout, explicitly requests an indefinitely
// blocking receive even when probing or finish tracking is configured.
const NoTimeout time.Duration = -1

// blockForever is the resolved timeout meaning "block until a message".
const blockForever time.Duration = 0

type timeoutSetting struct {
	set   bool
	value time.Duration
}

// resolveTimeout computes a session's receive wait window. The returned
// value is passed to bridge.Subscription.Receive, where zero blocks.
func resolveTimeout(explicit timeoutSetting, probing, tracked bool) (time.Duration, error) {
	if explicit.set {
		switch {
		case explicit.value == NoTimeout:
			return blockForever, nil
		case explicit.value == 0:
			return 0, &ConfigError{Field: "timeout", Reason: "must not be zero"}
		case explicit.value < 0:
			return 0, &ConfigError{Field: "timeout", Reason: fmt.Sprintf("must be positive, got %s", explicit.value)}
		}
		return explicit.value, nil
	}
	if probing || tracked {
		return DefaultTimeout, nil
	}
	return blockForever, nil
}
