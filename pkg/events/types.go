package events

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/scalarorg/kakarot-relayer/pkg/starknet"
)

const (
	EVENT_RELAY_SUBMITTED   = "Relay.Submitted"
	EVENT_RELAY_RESUBMITTED = "Relay.Resubmitted"
	EVENT_RELAY_REJECTED    = "Relay.Rejected"
	EVENT_RELAY_CONFIRMED   = "Relay.Confirmed"
	EVENT_RELAY_ABANDONED   = "Relay.Abandoned"
	EVENT_RELAY_CONFLICT    = "Relay.Conflict"

	// subscribes to every event type
	ALL_EVENTS = "*"
)

type EventEnvelope struct {
	EventType    string
	EthHash      common.Hash
	StarknetHash starknet.Felt
	Retries      uint8
	BlockNumber  uint64
	Reason       string
	Timestamp    time.Time
}
