package model

import "time"

// Record is one fact collected into the shared store. Records are keyed by
// (plugin, key); a collector writing an existing key overwrites the previous
// value.
type Record struct {
	Plugin      string    `json:"plugin"`
	Key         string    `json:"key"`
	Value       any       `json:"value"`
	CollectedAt time.Time `json:"collected_at"`
}
