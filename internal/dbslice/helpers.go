package dbslice

import "github.com/jorge882/dragonfly/internal/journal"

func journalEntry(dbIndex int, key string, payload []byte) journal.Entry {
	return journal.Entry{DbIndex: dbIndex, Key: key, Payload: payload}
}
