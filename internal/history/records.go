package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"strings"
)

// Rollout files are JSONL: one log record per line. The first line carries
// session metadata, subsequent lines carry response items (messages, tool
// calls, tool outputs). Lines that fail to parse are skipped so a single
// corrupt record never poisons the rest of the file.

// RecordKind identifies the variant of a parsed rollout line.
type RecordKind int

const (
	RecordUnknown RecordKind = iota
	RecordSessionMeta
	RecordMessage
	RecordToolCall
	RecordToolOutput
)

// Message roles as they appear on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleDeveloper = "developer"
)

const (
	kindSessionMeta  = "session_meta"
	kindResponseItem = "response_item"

	itemMessage        = "message"
	itemFunctionCall   = "function_call"
	itemFunctionOutput = "function_call_output"
)

// SessionMeta is the metadata payload from a rollout file's first line.
// All fields may be empty when the line is missing or malformed.
type SessionMeta struct {
	ID            string `json:"id,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	CWD           string `json:"cwd,omitempty"`
	Originator    string `json:"originator,omitempty"`
	CLIVersion    string `json:"cliVersion,omitempty"`
	ModelProvider string `json:"modelProvider,omitempty"`
	Source        string `json:"source,omitempty"`
}

// MessageRecord is a user or assistant turn with its text parts already
// concatenated.
type MessageRecord struct {
	Role string
	Text string
}

// ToolCallRecord is a function invocation requested by the model.
type ToolCallRecord struct {
	Name      string
	CallID    string
	Arguments string
}

// ToolOutputRecord is the result fed back for an earlier tool call.
type ToolOutputRecord struct {
	CallID string
	Output string
}

// LogRecord is one parsed rollout line. Exactly one of the payload pointers
// is non-nil, matching Kind; RecordUnknown carries none.
type LogRecord struct {
	Kind       RecordKind
	Timestamp  string
	Meta       *SessionMeta
	Message    *MessageRecord
	ToolCall   *ToolCallRecord
	ToolOutput *ToolOutputRecord
}

// Wire envelope: {"kind": "...", "timestamp": "...", "payload": {...}}
type rolloutLine struct {
	Kind      string          `json:"kind"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type metaPayload struct {
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp"`
	CWD           string `json:"cwd"`
	Originator    string `json:"originator"`
	CLIVersion    string `json:"cli_version"`
	ModelProvider string `json:"model_provider"`
	Source        string `json:"source"`
}

type responseItemPayload struct {
	Type      string        `json:"type"`
	Role      string        `json:"role"`
	Content   []contentPart `json:"content"`
	Name      string        `json:"name"`
	CallID    string        `json:"call_id"`
	Arguments string        `json:"arguments"`
	Output    string        `json:"output"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// parseLogLine decodes one rollout line. ok is false when the line is not
// valid JSON or the envelope cannot be decoded; records with an unfamiliar
// kind or item type decode to RecordUnknown so callers can skip them without
// treating the line as corrupt.
func parseLogLine(line []byte) (LogRecord, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return LogRecord{}, false
	}

	var env rolloutLine
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return LogRecord{}, false
	}

	rec := LogRecord{Kind: RecordUnknown, Timestamp: env.Timestamp}

	switch env.Kind {
	case kindSessionMeta:
		var meta metaPayload
		if err := json.Unmarshal(env.Payload, &meta); err != nil {
			return LogRecord{}, false
		}
		rec.Kind = RecordSessionMeta
		rec.Meta = &SessionMeta{
			ID:            meta.ID,
			Timestamp:     meta.Timestamp,
			CWD:           meta.CWD,
			Originator:    meta.Originator,
			CLIVersion:    meta.CLIVersion,
			ModelProvider: meta.ModelProvider,
			Source:        meta.Source,
		}
		if rec.Timestamp == "" {
			rec.Timestamp = meta.Timestamp
		}

	case kindResponseItem:
		var item responseItemPayload
		if err := json.Unmarshal(env.Payload, &item); err != nil {
			return LogRecord{}, false
		}
		switch item.Type {
		case itemMessage:
			var sb strings.Builder
			for _, part := range item.Content {
				sb.WriteString(part.Text)
			}
			rec.Kind = RecordMessage
			rec.Message = &MessageRecord{Role: item.Role, Text: sb.String()}
		case itemFunctionCall:
			rec.Kind = RecordToolCall
			rec.ToolCall = &ToolCallRecord{Name: item.Name, CallID: item.CallID, Arguments: item.Arguments}
		case itemFunctionOutput:
			rec.Kind = RecordToolOutput
			rec.ToolOutput = &ToolOutputRecord{CallID: item.CallID, Output: item.Output}
		}
	}

	return rec, true
}

const (
	// Rollout lines can carry large pasted content; allow up to 10MB per line.
	scanInitialBuf = 64 * 1024
	scanMaxBuf     = 10 * 1024 * 1024
)

// rolloutScanner streams parsed records from a rollout file in a single
// forward pass. Unparseable lines are counted and skipped.
type rolloutScanner struct {
	f       *os.File
	scanner *bufio.Scanner
	rec     LogRecord
	line    int
	skipped int
}

func openRolloutScanner(path string) (*rolloutScanner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, scanInitialBuf), scanMaxBuf)
	return &rolloutScanner{f: f, scanner: scanner}, nil
}

// Scan advances to the next parseable record. It returns false at EOF or on
// a read error (see Err).
func (rs *rolloutScanner) Scan() bool {
	for rs.scanner.Scan() {
		rs.line++
		rec, ok := parseLogLine(rs.scanner.Bytes())
		if !ok {
			rs.skipped++
			continue
		}
		rs.rec = rec
		return true
	}
	return false
}

// Record returns the record produced by the last successful Scan.
func (rs *rolloutScanner) Record() LogRecord { return rs.rec }

// Line returns the 1-based line number of the last record.
func (rs *rolloutScanner) Line() int { return rs.line }

// Skipped returns how many lines failed to parse so far.
func (rs *rolloutScanner) Skipped() int { return rs.skipped }

// Err reports any read error other than EOF, including lines exceeding the
// buffer cap.
func (rs *rolloutScanner) Err() error { return rs.scanner.Err() }

func (rs *rolloutScanner) Close() error { return rs.f.Close() }
