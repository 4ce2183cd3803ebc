package models

import "time"

// JournalKind classifies a journal entry.
type JournalKind string

const (
	JournalCharge JournalKind = "charge"
	JournalRefund JournalKind = "refund"
	JournalGrant  JournalKind = "grant"
)

// JournalEntry is one row in the charge journal. Tokens is the bucket-level
// charge; InputTokens and OutputTokens carry the model-level split when the
// entry came from a priced model call.
type JournalEntry struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	ModelID      string      `json:"model_id,omitempty"`
	Kind         JournalKind `json:"kind"`
	Tokens       int64       `json:"tokens"`
	InputTokens  int64       `json:"input_tokens,omitempty"`
	OutputTokens int64       `json:"output_tokens,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// JournalSummary aggregates journal entries by user, model, and kind.
type JournalSummary struct {
	UserID      string      `json:"user_id"`
	ModelID     string      `json:"model_id"`
	Kind        JournalKind `json:"kind"`
	EntryCount  int         `json:"entry_count"`
	TotalTokens int64       `json:"total_tokens"`
}
