// Package types provides shared type definitions used across shopops packages.
// This package exists to break import cycles between the store, the consumers and the assistant.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"time"
)

// =============================================================================
// PENDING ITEMS
// =============================================================================

// ItemKind identifies the work a pending item carries.
type ItemKind string

const (
	KindPrint   ItemKind = "print"
	KindMessage ItemKind = "message"
)

// ItemStatus is the processing status of a pending item.
// Transitions are monotonic: pending -> done | error.
type ItemStatus string

const (
	StatusPending ItemStatus = "pending"
	StatusDone    ItemStatus = "done"
	StatusError   ItemStatus = "error"
)

// Collection names in the shared document store.
const (
	CollectionPrintJobs = "print_jobs"
	CollectionMessages  = "outbound_messages"
	CollectionConfig    = "config"
	CollectionUsers     = "users"
	CollectionPrefs     = "preferences"
	CollectionPersonas  = "personas"
	CollectionActions   = "actions"
	CollectionInventory = "inventory"
	CommandDocumentID   = "commands"
)

// PendingItem is a store document representing queued work.
type PendingItem struct {
	ID           string         `json:"id"`
	Kind         ItemKind       `json:"kind"`
	Payload      map[string]any `json:"payload"`
	Status       ItemStatus     `json:"status"`
	CreatedAt    time.Time      `json:"createdAt"`
	ProcessedAt  *time.Time     `json:"processedAt,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	AckCode      int            `json:"ackCode,omitempty"`

	// Claim lease. A consumer claims an item before any side effect so a
	// redelivery after a reconnect is skipped.
	ClaimedBy      string     `json:"claimedBy,omitempty"`
	ClaimExpiresAt *time.Time `json:"claimExpiresAt,omitempty"`
}

// PrintPayload is the decoded payload of a print job.
type PrintPayload struct {
	Document    string // base64 encoded PDF
	Paper       string // paper-format hint
	Orientation string // optional: portrait | landscape
	Title       string // routing metadata, informational
}

// Attachment is an optional binary attachment on an outbound message.
type Attachment struct {
	Data     string // base64 encoded
	MimeType string
	Filename string
}

// MessagePayload is the decoded payload of an outbound message.
type MessagePayload struct {
	To         string
	Body       string
	Attachment *Attachment
}

// PrintPayload extracts the print payload fields. Missing fields are empty.
func (p *PendingItem) PrintPayload() PrintPayload {
	return PrintPayload{
		Document:    stringField(p.Payload, "document"),
		Paper:       stringField(p.Payload, "paper"),
		Orientation: stringField(p.Payload, "orientation"),
		Title:       stringField(p.Payload, "title"),
	}
}

// MessagePayload extracts the outbound message payload fields.
func (p *PendingItem) MessagePayload() MessagePayload {
	out := MessagePayload{
		To:   stringField(p.Payload, "to"),
		Body: stringField(p.Payload, "body"),
	}
	if raw, ok := p.Payload["attachment"].(map[string]any); ok {
		att := &Attachment{
			Data:     stringField(raw, "data"),
			MimeType: stringField(raw, "mimeType"),
			Filename: stringField(raw, "filename"),
		}
		if att.Data != "" {
			out.Attachment = att
		}
	}
	return out
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// =============================================================================
// ASSISTANT CONFIGURATION
// =============================================================================

// Persona is a named bundle of tone, system prompt and formatting attributes.
type Persona struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	SystemPrompt      string   `json:"systemPrompt"`
	FormattingRules   []string `json:"formattingRules"`
	IntelligenceLevel int      `json:"intelligenceLevel"` // 0..100
	Traits            []string `json:"traits"`
	ToolIDs           []string `json:"toolIds"`
	IsDefault         bool     `json:"isDefault"`
}

// ToolDefinition is a capability exposed to the model for function calling.
// ParametersSchema is the JSON schema of the arguments as stored.
type ToolDefinition struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	ParametersSchema map[string]any `json:"parameters"`
	Enabled          bool           `json:"enabled"`
}

// UserConfig is the resolved assistant configuration for one sender.
type UserConfig struct {
	Persona Persona
	Tools   []ToolDefinition
}

// =============================================================================
// CONTROL DOCUMENT
// =============================================================================

// CommandDocument is the singleton control record. Each flag is edge-triggered:
// the consumer resets it right after acting.
type CommandDocument struct {
	Restart     bool `json:"restart"`
	NukeSession bool `json:"nukeSession"`
}

// =============================================================================
// CONVERSATION
// =============================================================================

// Inbound is a message received from the messaging transport.
type Inbound struct {
	From       string
	Text       string
	Attachment *InlineData
}

// InlineData is binary content sent inline to the model.
type InlineData struct {
	MimeType string
	Data     []byte
}

// ConversationTurn is built per inbound message and discarded after the reply.
type ConversationTurn struct {
	Sender     string
	Text       string
	Attachment *InlineData
	Config     UserConfig
}

// Reply is the orchestrator's answer. Text is nil when processing failed and
// Error describes the failure.
type Reply struct {
	Text       *string `json:"reply"`
	Error      string  `json:"error,omitempty"`
	Model      string  `json:"-"`
	ToolCalled string  `json:"-"`
}

// TextReply builds a successful reply.
func TextReply(text string) *Reply {
	return &Reply{Text: &text}
}

// =============================================================================
// INVENTORY
// =============================================================================

// InventoryItem is a stock record read by the inventory search tool.
type InventoryItem struct {
	ID     string            `json:"id"`
	Title  string            `json:"title"`
	Specs  map[string]string `json:"specs"`
	Serial string            `json:"serial"`
	Price  float64           `json:"price"`
	Status string            `json:"status"`
}
