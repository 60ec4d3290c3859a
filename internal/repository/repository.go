// Package repository persists answer records keyed by request id.
package repository

import (
	"errors"
	"sort"

	"qa-pipeline/internal/domain"
)

// ErrNotFound is returned when no record exists for a request id. For a
// submitted request it means the answer is still pending.
var ErrNotFound = errors.New("repository: record not found")

// sortChronological orders records by timestamp, then request id.
func sortChronological(records []domain.AnswerRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp < records[j].Timestamp
		}
		return records[i].RequestID < records[j].RequestID
	})
}
