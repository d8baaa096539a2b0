package app

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/domain"
)

// Inbound is a decoded client frame.
type Inbound struct {
	Type string
	// Payload is relayed verbatim: the "data" field when present, else the
	// type-specific field of a signaling message, else the whole frame.
	Payload json.RawMessage
	Target  string
	Fields  map[string]json.RawMessage
}

var signalField = map[string]string{
	domain.TypeOffer:        "offer",
	domain.TypeAnswer:       "answer",
	domain.TypeICECandidate: "candidate",
}

// DecodeInbound parses a client frame. Every failure wraps domain.ErrMalformed.
func DecodeInbound(raw []byte) (*Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", domain.ErrMalformed)
	}

	var typ string
	if err := json.Unmarshal(fields["type"], &typ); err != nil || typ == "" {
		return nil, fmt.Errorf("%w: missing type", domain.ErrMalformed)
	}

	in := &Inbound{Type: typ, Fields: fields}

	target, err := decodeTarget(fields["targetUserId"])
	if err != nil {
		return nil, err
	}
	in.Target = target

	switch data, ok := fields["data"]; {
	case ok:
		in.Payload = data
	case signalField[typ] != "":
		specific, ok := fields[signalField[typ]]
		if !ok || isNull(specific) {
			return nil, fmt.Errorf("%w: %s without %s", domain.ErrMalformed, typ, signalField[typ])
		}
		in.Payload = specific
	default:
		in.Payload = json.RawMessage(bytes.Clone(raw))
	}
	return in, nil
}

// targetUserId may arrive as a string or a number.
func decodeTarget(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: bad targetUserId", domain.ErrMalformed)
		}
		return s, nil
	}
	if _, err := strconv.ParseFloat(string(raw), 64); err != nil {
		return "", fmt.Errorf("%w: bad targetUserId", domain.ErrMalformed)
	}
	return string(raw), nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Envelope is an outbound frame. The session key is written under KeyField,
// so one type serves both the call ("callId") and chat ("groupId") routers.
type Envelope struct {
	Type         string
	Data         any
	KeyField     string
	Key          any
	SenderID     domain.UserID
	TargetUserID string
	Timestamp    time.Time
	// Extra fields written at the top level, e.g. the welcome message text.
	Extra map[string]any
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 6+len(e.Extra))
	for k, v := range e.Extra {
		out[k] = v
	}
	out["type"] = e.Type
	if e.Data != nil {
		out["data"] = e.Data
	}
	if e.KeyField != "" && e.Key != nil {
		out[e.KeyField] = e.Key
	}
	if e.SenderID != "" {
		out["senderId"] = e.SenderID
	}
	if e.TargetUserID != "" {
		out["targetUserId"] = e.TargetUserID
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	out["timestamp"] = ts.UnixMilli()
	return json.Marshal(out)
}

func (e Envelope) Frame() (core.Frame, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}

// Presence is the body of user-joined and user-left.
type Presence struct {
	UserID       domain.UserID `json:"userId"`
	Participants int           `json:"participants"`
}

func NewPresence(typ string, user domain.UserID, participants int) Envelope {
	return Envelope{
		Type:      typ,
		Data:      Presence{UserID: user, Participants: participants},
		SenderID:  user,
		Timestamp: time.Now(),
	}
}

func NewNotification(typ string, data any) Envelope {
	return Envelope{Type: typ, Data: data, Timestamp: time.Now()}
}

func NewError(code string, err error) Envelope {
	return Envelope{
		Type:      domain.TypeError,
		Extra:     map[string]any{"error": code, "message": err.Error()},
		Timestamp: time.Now(),
	}
}

// NewControl builds a frame addressed to one connection, e.g. pong or call_joined.
func NewControl(typ string, fields map[string]any) Envelope {
	return Envelope{Type: typ, Extra: fields, Timestamp: time.Now()}
}
