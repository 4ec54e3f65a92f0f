// Package wire implements the binary protocol spoken between agentlink and
// the graph engine.
//
// Every WebSocket frame carries exactly one MessagePack extension value
// ([ExtTypeMessage]) whose payload is a positional array rather than a map:
//
//	[type, id, src_loc, dest_locs, name, timestamp, properties, ...kind fields]
//
// The kind-specific tail is described by an explicit field-order table per
// [MessageType] (see schema.go). [Encode] and [Decode] walk the same table, so
// the order on the wire cannot drift between the two directions.
//
// Messages are plain structs. They are immutable once handed to a sender;
// construct a fresh value per send.
package wire

// MessageType is the discriminant stored in the first position of every
// encoded message.
type MessageType int

const (
	TypeInvalid MessageType = iota
	TypeCmd
	TypeCmdResult
	TypeCmdCloseApp
	TypeCmdStartGraph
	TypeCmdStopGraph
	TypeCmdTimer
	TypeCmdTimeout
	TypeData
	TypeVideoFrame
	TypeAudioFrame
)

// String returns the human-readable name of the message type.
func (t MessageType) String() string {
	switch t {
	case TypeCmd:
		return "cmd"
	case TypeCmdResult:
		return "cmd_result"
	case TypeCmdCloseApp:
		return "cmd_close_app"
	case TypeCmdStartGraph:
		return "cmd_start_graph"
	case TypeCmdStopGraph:
		return "cmd_stop_graph"
	case TypeCmdTimer:
		return "cmd_timer"
	case TypeCmdTimeout:
		return "cmd_timeout"
	case TypeData:
		return "data"
	case TypeVideoFrame:
		return "video_frame"
	case TypeAudioFrame:
		return "audio_frame"
	default:
		return "invalid"
	}
}

// IsCommand reports whether t is one of the command types.
func (t MessageType) IsCommand() bool {
	switch t {
	case TypeCmd, TypeCmdCloseApp, TypeCmdStartGraph, TypeCmdStopGraph, TypeCmdTimer, TypeCmdTimeout:
		return true
	}
	return false
}

// Location addresses a logical endpoint inside the engine's extension graph
// or the client itself. On the wire it is a 3-element array.
type Location struct {
	AppURI        string
	GraphID       string
	ExtensionName string
}

// IsZero reports whether all three address parts are empty.
func (l Location) IsZero() bool {
	return l.AppURI == "" && l.GraphID == "" && l.ExtensionName == ""
}

// Message is implemented by every message kind. The header holds the
// envelope fields shared by all kinds.
type Message interface {
	MessageHeader() *Header
}

// Header is the envelope carried by every message. A bare *Header is also
// what [Decode] returns for a message type it does not know.
type Header struct {
	ID   string
	Type MessageType

	// Src is the sender's address. Nil means "unspecified".
	Src *Location

	// Dest lists every recipient. Multiple entries fan out.
	Dest []Location

	// Name is the semantic name of the message (command name, data name, ...).
	Name string

	// Timestamp is the creation time in unix milliseconds.
	Timestamp int64

	// Properties is an open key/value bag. Numbers decode as int64, uint64
	// or float64.
	Properties map[string]any
}

// MessageHeader implements [Message].
func (h *Header) MessageHeader() *Header { return h }

// Property returns the named property and whether it was present.
func (h *Header) Property(key string) (any, bool) {
	if h.Properties == nil {
		return nil, false
	}
	v, ok := h.Properties[key]
	return v, ok
}

// SetProperty stores key=value, allocating the property map on first use.
func (h *Header) SetProperty(key string, value any) {
	if h.Properties == nil {
		h.Properties = make(map[string]any)
	}
	h.Properties[key] = value
}

// StringProperty returns the named property if it is a string.
func (h *Header) StringProperty(key string) string {
	v, _ := h.Property(key)
	s, _ := v.(string)
	return s
}

// IntProperty returns the named property as int64 if it holds any numeric
// type.
func (h *Header) IntProperty(key string) (int64, bool) {
	v, ok := h.Property(key)
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

// Data carries an opaque byte payload (text events, JSON blobs, ...).
type Data struct {
	Header
	Buf []byte
}

// NewData returns a Data message with the given name and payload.
func NewData(name string, buf []byte) *Data {
	return &Data{Header: Header{Type: TypeData, Name: name}, Buf: buf}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
