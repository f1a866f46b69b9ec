package logstore

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Category identifies one of the two entry collections.
type Category string

const (
	CategoryErrors  Category = "errors"
	CategoryAICalls Category = "ai_calls"
)

// Valid reports whether c is one of the two known categories. Callers that
// take a Category from the outside must check it before mutating state.
func (c Category) Valid() bool {
	return c == CategoryErrors || c == CategoryAICalls
}

// keyPrefix returns the persisted key prefix for the category.
func (c Category) keyPrefix() string {
	if c == CategoryAICalls {
		return "ailog"
	}
	return "errlog"
}

func (c Category) indexKey() string { return c.keyPrefix() + "_index" }

func (c Category) entryKey(id string) string { return c.keyPrefix() + "_" + id }

// MaxCapturedTextLen caps stored prompt/response text.
const MaxCapturedTextLen = 7500

const truncationMarker = "…[truncated]"

// AI call statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// TokenUsage holds token counts reported by an AI provider.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CaptureFlags records which AI-call fields may be captured. Each entry
// stores the flags that were active when it was written, so a later
// settings change never reinterprets what was captured.
type CaptureFlags struct {
	Prompts   bool `json:"prompts"`
	Responses bool `json:"responses"`
	Metadata  bool `json:"metadata"`
}

// SensitiveDataFlag annotates an entry whose payload matched sensitive-data
// patterns before capture.
type SensitiveDataFlag struct {
	Patterns   []string  `json:"patterns"`
	Location   string    `json:"location"`
	DetectedAt time.Time `json:"detected_at"`
}

// ErrorEntry records one failed HTTP call against a remote service.
type ErrorEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Method       string             `json:"method"`
	Endpoint     string             `json:"endpoint"`
	StatusCode   int                `json:"status_code,omitempty"`
	ErrorCode    string             `json:"error_code,omitempty"`
	ServiceID    string             `json:"service_id"`
	ServiceType  string             `json:"service_type,omitempty"`
	Operation    string             `json:"operation,omitempty"`
	Message      string             `json:"message"`
	NetworkError bool               `json:"network_error"`
	RetryCount   int                `json:"retry_count"`
	Context      map[string]any     `json:"context,omitempty"`
	Sensitive    *SensitiveDataFlag `json:"sensitive,omitempty"`

	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// AICallEntry records one AI-assistant invocation.
type AICallEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Provider          string       `json:"provider"`
	Model             string       `json:"model,omitempty"`
	Operation         string       `json:"operation"`
	Status            string       `json:"status"`
	Prompt            string       `json:"prompt,omitempty"`
	PromptTruncated   bool         `json:"prompt_truncated,omitempty"`
	Response          string       `json:"response,omitempty"`
	ResponseTruncated bool         `json:"response_truncated,omitempty"`
	Usage             *TokenUsage  `json:"usage,omitempty"`
	ErrorMessage      string       `json:"error_message,omitempty"`
	DurationMs        int64        `json:"duration_ms,omitempty"`
	ServiceID         string       `json:"service_id,omitempty"`
	Tags              []string     `json:"tags,omitempty"`
	Captured          CaptureFlags `json:"captured"`

	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// ToJSON serializes the entry.
func (e *ErrorEntry) ToJSON() ([]byte, error) { return json.Marshal(e) }

// ToJSON serializes the entry.
func (e *AICallEntry) ToJSON() ([]byte, error) { return json.Marshal(e) }

// ErrorEntryFromJSON deserializes a persisted error entry.
func ErrorEntryFromJSON(data []byte) (*ErrorEntry, error) {
	var e ErrorEntry
	err := json.Unmarshal(data, &e)
	return &e, err
}

// AICallEntryFromJSON deserializes a persisted AI-call entry.
func AICallEntryFromJSON(data []byte) (*AICallEntry, error) {
	var e AICallEntry
	err := json.Unmarshal(data, &e)
	return &e, err
}

// NewEntryID returns an id of the form <unix-millis>-<8 hex chars>. The
// millisecond prefix keeps ids roughly insertion-ordered; the random suffix
// guarantees uniqueness within the same millisecond.
func NewEntryID(t time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("%d-%s", t.UnixMilli(), hex.EncodeToString(u[:4]))
}

// capText enforces MaxCapturedTextLen, appending a marker when text was cut.
// The cut backs off to a rune boundary so the stored text stays valid UTF-8.
func capText(s string) (string, bool) {
	if len(s) <= MaxCapturedTextLen {
		return s, false
	}
	cut := MaxCapturedTextLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker, true
}
