package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RetryQueueItem is a record whose remote write failed and is waiting for a later pass.
// Payload carries one of the concrete record kinds; EntityType is the discriminant.
type RetryQueueItem struct {
	EntityType EntityType
	ID         string
	Payload    SyncableRecord
	AddedAt    time.Time
	RetryCount int
}

// Key identifies the queue slot of an item; at most one item exists per key.
func (i RetryQueueItem) Key() QueueKey {
	return QueueKey{EntityType: i.EntityType, ID: i.ID}
}

// QueueKey is the (entity type, id) pair the retry queue is keyed by.
type QueueKey struct {
	EntityType EntityType
	ID         string
}

func (k QueueKey) String() string {
	return string(k.EntityType) + ":" + k.ID
}

// retryQueueItemWire is the persisted JSON form of RetryQueueItem.
type retryQueueItemWire struct {
	EntityType EntityType      `json:"entity_type"`
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	AddedAt    time.Time       `json:"added_at"`
	RetryCount int             `json:"retry_count"`
}

func (i RetryQueueItem) MarshalJSON() ([]byte, error) {
	if i.Payload == nil {
		return nil, fmt.Errorf("queue item %s has no payload", i.Key())
	}
	payload, err := json.Marshal(i.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", i.EntityType, err)
	}
	return json.Marshal(retryQueueItemWire{
		EntityType: i.EntityType,
		ID:         i.ID,
		Payload:    payload,
		AddedAt:    i.AddedAt,
		RetryCount: i.RetryCount,
	})
}

func (i *RetryQueueItem) UnmarshalJSON(data []byte) error {
	var wire retryQueueItemWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.ID == "" {
		return fmt.Errorf("queue item of type %q has no id", wire.EntityType)
	}
	if wire.RetryCount < 0 {
		return fmt.Errorf("queue item %s:%s has negative retry_count", wire.EntityType, wire.ID)
	}
	rec, err := DecodeRecord(wire.EntityType, wire.Payload)
	if err != nil {
		return err
	}
	if rec.RecordID() != wire.ID {
		return fmt.Errorf("queue item %s:%s carries payload for id %q", wire.EntityType, wire.ID, rec.RecordID())
	}

	*i = RetryQueueItem{
		EntityType: wire.EntityType,
		ID:         wire.ID,
		Payload:    rec,
		AddedAt:    wire.AddedAt,
		RetryCount: wire.RetryCount,
	}
	return nil
}

// EncodeRetryQueue serializes the queue for a durable key-value slot.
func EncodeRetryQueue(items []RetryQueueItem) ([]byte, error) {
	if items == nil {
		items = []RetryQueueItem{}
	}
	return json.Marshal(items)
}

// DecodeRetryQueue parses a persisted queue. A blob that is not a JSON list yields
// ErrQueueCorrupt. Individual items that fail validation are skipped and counted in
// invalid; duplicate keys keep the first occurrence.
func DecodeRetryQueue(data []byte) (items []RetryQueueItem, invalid int, err error) {
	if len(data) == 0 {
		return nil, 0, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrQueueCorrupt, err)
	}

	seen := make(map[QueueKey]bool, len(raw))
	items = make([]RetryQueueItem, 0, len(raw))
	for _, r := range raw {
		var item RetryQueueItem
		if err := json.Unmarshal(r, &item); err != nil {
			invalid++
			continue
		}
		if seen[item.Key()] {
			invalid++
			continue
		}
		seen[item.Key()] = true
		items = append(items, item)
	}
	return items, invalid, nil
}
