package payloads

import (
	"encoding/json"
	"fmt"

	"github.com/souqly/settlements-backend/pkg/enums"
	"github.com/souqly/settlements-backend/pkg/outbox"
)

func decodeInto[T any](payload json.RawMessage) (interface{}, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode %T: %w", out, err)
	}
	return out, nil
}

// Decoders builds the registry covering every event this service emits at its
// current schema version. The publisher uses it to reject payloads that no
// consumer would be able to decode.
func Decoders() *outbox.DecoderRegistry {
	registry := outbox.NewDecoderRegistry()
	registry.Register(enums.EventAccountOpened, 1, decodeInto[AccountOpenedEvent])
	registry.Register(enums.EventAccountDeactivated, 1, decodeInto[AccountDeactivatedEvent])
	registry.Register(enums.EventEarningsCredited, 1, decodeInto[EarningsCreditedEvent])
	registry.Register(enums.EventEarningsReleased, 1, decodeInto[EarningsReleasedEvent])
	registry.Register(enums.EventPayoutRequested, 1, decodeInto[PayoutRequestedEvent])
	registry.Register(enums.EventPayoutProcessing, 1, decodeInto[PayoutProcessingEvent])
	registry.Register(enums.EventPayoutCompleted, 1, decodeInto[PayoutCompletedEvent])
	registry.Register(enums.EventPayoutRejected, 1, decodeInto[PayoutRejectedEvent])
	registry.Register(enums.EventCommissionRulePublished, 1, decodeInto[CommissionRulePublishedEvent])
	return registry
}
