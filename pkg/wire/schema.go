package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// SchemaVersion identifies the field-order tables below. Bump it whenever a
// table changes in a way older peers cannot skip over.
const SchemaVersion = 1

// ExtTypeMessage is the MessagePack extension type wrapping every message.
const ExtTypeMessage int8 = 1

// field is one positional slot of the encoded array. Encode and Decode walk
// the same slice, so the order lives in exactly one place.
type field struct {
	name   string
	encode func(*msgpack.Encoder, Message) error
	decode func(*msgpack.Decoder, Message) error
}

// ── Header ───────────────────────────────────────────────────────────────────

var headerFields = []field{
	intField("type", func(m Message) *MessageType { return &m.MessageHeader().Type }),
	stringField("id", func(m Message) *string { return &m.MessageHeader().ID }),
	{
		name:   "src_loc",
		encode: func(e *msgpack.Encoder, m Message) error { return encodeLocation(e, m.MessageHeader().Src) },
		decode: func(d *msgpack.Decoder, m Message) (err error) {
			m.MessageHeader().Src, err = decodeLocation(d)
			return err
		},
	},
	{
		name:   "dest_locs",
		encode: func(e *msgpack.Encoder, m Message) error { return encodeLocations(e, m.MessageHeader().Dest) },
		decode: func(d *msgpack.Decoder, m Message) (err error) {
			m.MessageHeader().Dest, err = decodeLocations(d)
			return err
		},
	},
	stringField("name", func(m Message) *string { return &m.MessageHeader().Name }),
	intField("timestamp", func(m Message) *int64 { return &m.MessageHeader().Timestamp }),
	propsField("properties", func(m Message) *map[string]any { return &m.MessageHeader().Properties }),
}

// ── Kind tables ──────────────────────────────────────────────────────────────

var dataFields = []field{
	bytesField("buf", func(m *Data) *[]byte { return &m.Buf }),
}

var audioFrameFields = []field{
	intField("timestamp", func(m *AudioFrame) *int64 { return &m.FrameTimestamp }),
	intField("sample_rate", func(m *AudioFrame) *int { return &m.SampleRate }),
	intField("bits_per_sample", func(m *AudioFrame) *int { return &m.BitsPerSample }),
	intField("samples_per_channel", func(m *AudioFrame) *int { return &m.SamplesPerChannel }),
	intField("channel_count", func(m *AudioFrame) *int { return &m.ChannelCount }),
	uintField("channel_layout", func(m *AudioFrame) *uint64 { return &m.ChannelLayout }),
	intField("data_fmt", func(m *AudioFrame) *AudioDataFormat { return &m.DataFormat }),
	bytesField("buf", func(m *AudioFrame) *[]byte { return &m.Buf }),
	intField("line_size", func(m *AudioFrame) *int { return &m.LineSize }),
	boolField("is_eof", func(m *AudioFrame) *bool { return &m.IsEOF }),
}

var videoFrameFields = []field{
	intField("pixel_fmt", func(m *VideoFrame) *PixelFormat { return &m.PixelFormat }),
	intField("timestamp", func(m *VideoFrame) *int64 { return &m.FrameTimestamp }),
	intField("width", func(m *VideoFrame) *int { return &m.Width }),
	intField("height", func(m *VideoFrame) *int { return &m.Height }),
	boolField("is_eof", func(m *VideoFrame) *bool { return &m.IsEOF }),
	bytesField("data", func(m *VideoFrame) *[]byte { return &m.Data }),
}

var cmdIDField = stringField("cmd_id", func(m commander) *string { return &m.command().CmdID })

var commandFields = []field{cmdIDField}

var startGraphFields = []field{
	cmdIDField,
	boolField("long_running_mode", func(m *StartGraphCommand) *bool { return &m.LongRunningMode }),
	stringField("predefined_graph_name", func(m *StartGraphCommand) *string { return &m.PredefinedGraphName }),
	mapsField("extension_groups_info", func(m *StartGraphCommand) *[]map[string]any { return &m.ExtensionGroupsInfo }),
	mapsField("extensions_info", func(m *StartGraphCommand) *[]map[string]any { return &m.ExtensionsInfo }),
	stringField("graph_json", func(m *StartGraphCommand) *string { return &m.GraphJSON }),
}

var stopGraphFields = []field{
	cmdIDField,
	stringField("graph_id", func(m *StopGraphCommand) *string { return &m.GraphID }),
}

var commandResultFields = []field{
	stringField("original_cmd_id", func(m *CommandResult) *string { return &m.OriginalCmdID }),
	intField("original_cmd_type", func(m *CommandResult) *MessageType { return &m.OriginalCmdType }),
	stringField("original_cmd_name", func(m *CommandResult) *string { return &m.OriginalCmdName }),
	intField("status_code", func(m *CommandResult) *StatusCode { return &m.StatusCode }),
	boolField("is_final", func(m *CommandResult) *bool { return &m.IsFinal }),
	boolField("is_completed", func(m *CommandResult) *bool { return &m.IsCompleted }),
}

// schemas maps every known type to its full positional layout.
var schemas = map[MessageType][]field{
	TypeCmd:           withHeader(commandFields),
	TypeCmdCloseApp:   withHeader(commandFields),
	TypeCmdTimer:      withHeader(commandFields),
	TypeCmdTimeout:    withHeader(commandFields),
	TypeCmdStartGraph: withHeader(startGraphFields),
	TypeCmdStopGraph:  withHeader(stopGraphFields),
	TypeCmdResult:     withHeader(commandResultFields),
	TypeData:          withHeader(dataFields),
	TypeAudioFrame:    withHeader(audioFrameFields),
	TypeVideoFrame:    withHeader(videoFrameFields),
}

func withHeader(kind []field) []field {
	out := make([]field, 0, len(headerFields)+len(kind))
	out = append(out, headerFields...)
	return append(out, kind...)
}

// FieldNames returns the positional field names for t, header first. Unknown
// types report only the header.
func FieldNames(t MessageType) []string {
	fields, ok := schemas[t]
	if !ok {
		fields = headerFields
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}
	return names
}

// newMessage allocates the concrete value Decode fills for t.
func newMessage(t MessageType) (Message, bool) {
	switch t {
	case TypeCmd, TypeCmdCloseApp, TypeCmdTimer, TypeCmdTimeout:
		return &Command{}, true
	case TypeCmdStartGraph:
		return &StartGraphCommand{}, true
	case TypeCmdStopGraph:
		return &StopGraphCommand{}, true
	case TypeCmdResult:
		return &CommandResult{}, true
	case TypeData:
		return &Data{}, true
	case TypeAudioFrame:
		return &AudioFrame{}, true
	case TypeVideoFrame:
		return &VideoFrame{}, true
	}
	return &Header{}, false
}

// schemaFor checks that the Go type of m can carry its header type and
// returns the layout to encode it with.
func schemaFor(m Message) ([]field, error) {
	t := m.MessageHeader().Type
	var ok bool
	switch m.(type) {
	case *StartGraphCommand:
		ok = t == TypeCmdStartGraph
	case *StopGraphCommand:
		ok = t == TypeCmdStopGraph
	case *Command:
		ok = t == TypeCmd || t == TypeCmdCloseApp || t == TypeCmdTimer || t == TypeCmdTimeout
	case *CommandResult:
		ok = t == TypeCmdResult
	case *Data:
		ok = t == TypeData
	case *AudioFrame:
		ok = t == TypeAudioFrame
	case *VideoFrame:
		ok = t == TypeVideoFrame
	case *Header:
		return headerFields, nil
	}
	if !ok {
		return nil, fmt.Errorf("wire: type %s cannot be carried by %T", t, m)
	}
	return schemas[t], nil
}

// ── Field constructors ───────────────────────────────────────────────────────

type integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

func intField[M Message, I integer](name string, ptr func(M) *I) field {
	return field{
		name:   name,
		encode: func(e *msgpack.Encoder, m Message) error { return e.EncodeInt(int64(*ptr(m.(M)))) },
		decode: func(d *msgpack.Decoder, m Message) error {
			v, err := d.DecodeInt64()
			*ptr(m.(M)) = I(v)
			return err
		},
	}
}

func uintField[M Message](name string, ptr func(M) *uint64) field {
	return field{
		name:   name,
		encode: func(e *msgpack.Encoder, m Message) error { return e.EncodeUint(*ptr(m.(M))) },
		decode: func(d *msgpack.Decoder, m Message) error {
			v, err := d.DecodeUint64()
			*ptr(m.(M)) = v
			return err
		},
	}
}

func stringField[M Message](name string, ptr func(M) *string) field {
	return field{
		name:   name,
		encode: func(e *msgpack.Encoder, m Message) error { return e.EncodeString(*ptr(m.(M))) },
		decode: func(d *msgpack.Decoder, m Message) error {
			v, err := d.DecodeString()
			*ptr(m.(M)) = v
			return err
		},
	}
}

func boolField[M Message](name string, ptr func(M) *bool) field {
	return field{
		name:   name,
		encode: func(e *msgpack.Encoder, m Message) error { return e.EncodeBool(*ptr(m.(M))) },
		decode: func(d *msgpack.Decoder, m Message) error {
			v, err := d.DecodeBool()
			*ptr(m.(M)) = v
			return err
		},
	}
}

func bytesField[M Message](name string, ptr func(M) *[]byte) field {
	return field{
		name:   name,
		encode: func(e *msgpack.Encoder, m Message) error { return e.EncodeBytes(*ptr(m.(M))) },
		decode: func(d *msgpack.Decoder, m Message) error {
			v, err := d.DecodeBytes()
			if len(v) == 0 {
				v = nil
			}
			*ptr(m.(M)) = v
			return err
		},
	}
}

func propsField[M Message](name string, ptr func(M) *map[string]any) field {
	return field{
		name:   name,
		encode: func(e *msgpack.Encoder, m Message) error { return encodeProps(e, *ptr(m.(M))) },
		decode: func(d *msgpack.Decoder, m Message) error {
			v, err := decodeProps(d)
			*ptr(m.(M)) = v
			return err
		},
	}
}

func mapsField[M Message](name string, ptr func(M) *[]map[string]any) field {
	return field{
		name: name,
		encode: func(e *msgpack.Encoder, m Message) error {
			maps := *ptr(m.(M))
			if maps == nil {
				return e.EncodeNil()
			}
			if err := e.EncodeArrayLen(len(maps)); err != nil {
				return err
			}
			for _, p := range maps {
				if err := encodeProps(e, p); err != nil {
					return err
				}
			}
			return nil
		},
		decode: func(d *msgpack.Decoder, m Message) error {
			n, err := d.DecodeArrayLen()
			if err != nil {
				return err
			}
			if n <= 0 {
				*ptr(m.(M)) = nil
				return nil
			}
			maps := make([]map[string]any, n)
			for i := range maps {
				if maps[i], err = decodeProps(d); err != nil {
					return err
				}
			}
			*ptr(m.(M)) = maps
			return nil
		},
	}
}
