package wire

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrMalformed is wrapped by every error Decode returns for input that is
// not a well-formed message frame.
var ErrMalformed = errors.New("wire: malformed frame")

// Encode serialises m into a single MessagePack extension value.
func Encode(m Message) ([]byte, error) {
	if m == nil || m.MessageHeader() == nil {
		return nil, errors.New("wire: encode: nil message")
	}
	fields, err := schemaFor(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}

	var body bytes.Buffer
	enc := msgpack.NewEncoder(&body)
	if err := enc.EncodeArrayLen(len(fields)); err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	for _, f := range fields {
		if err := f.encode(enc, m); err != nil {
			return nil, fmt.Errorf("wire: encode %s field %q: %w", m.MessageHeader().Type, f.name, err)
		}
	}

	var frame bytes.Buffer
	frame.Grow(body.Len() + 6)
	if err := msgpack.NewEncoder(&frame).EncodeExtHeader(ExtTypeMessage, body.Len()); err != nil {
		return nil, fmt.Errorf("wire: encode ext header: %w", err)
	}
	frame.Write(body.Bytes())
	return frame.Bytes(), nil
}

// Decode parses one frame produced by [Encode] or by the engine.
//
// Unknown message types decode to a bare *[Header] and are logged, not
// rejected. Fields missing from the end of the array keep their zero value;
// surplus trailing fields are skipped.
func Decode(b []byte) (Message, error) {
	r := bytes.NewReader(b)
	extID, extLen, err := msgpack.NewDecoder(r).DecodeExtHeader()
	if err != nil {
		return nil, fmt.Errorf("%w: ext header: %v", ErrMalformed, err)
	}
	if extID != ExtTypeMessage {
		return nil, fmt.Errorf("%w: ext type %d, want %d", ErrMalformed, extID, ExtTypeMessage)
	}
	if extLen > r.Len() {
		return nil, fmt.Errorf("%w: ext payload truncated (%d of %d bytes)", ErrMalformed, r.Len(), extLen)
	}
	payload := b[len(b)-r.Len():][:extLen]

	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	dec.UseLooseInterfaceDecoding(true)

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: empty message array", ErrMalformed)
	}
	raw, err := dec.DecodeInt64()
	if err != nil {
		return nil, fmt.Errorf("%w: type: %v", ErrMalformed, err)
	}
	t := MessageType(raw)

	m, known := newMessage(t)
	fields := headerFields
	if known {
		fields = schemas[t]
	} else {
		slog.Warn("wire: unknown message type, decoding header only", "type", raw)
	}
	m.MessageHeader().Type = t

	for i := 1; i < n; i++ {
		if i >= len(fields) {
			if err := dec.Skip(); err != nil {
				return nil, fmt.Errorf("%w: skip field %d: %v", ErrMalformed, i, err)
			}
			continue
		}
		if err := fields[i].decode(dec, m); err != nil {
			return nil, fmt.Errorf("%w: %s field %q: %v", ErrMalformed, t, fields[i].name, err)
		}
	}
	return m, nil
}

// ── Composite values ─────────────────────────────────────────────────────────

func encodeLocation(e *msgpack.Encoder, loc *Location) error {
	if loc == nil {
		return e.EncodeNil()
	}
	if err := e.EncodeArrayLen(3); err != nil {
		return err
	}
	for _, s := range [3]string{loc.AppURI, loc.GraphID, loc.ExtensionName} {
		if err := e.EncodeString(s); err != nil {
			return err
		}
	}
	return nil
}

func decodeLocation(d *msgpack.Decoder) (*Location, error) {
	n, err := d.DecodeArrayLen()
	if err != nil || n < 0 {
		return nil, err
	}
	var parts [3]string
	for i := 0; i < n; i++ {
		if i >= len(parts) {
			if err := d.Skip(); err != nil {
				return nil, err
			}
			continue
		}
		if parts[i], err = d.DecodeString(); err != nil {
			return nil, err
		}
	}
	return &Location{AppURI: parts[0], GraphID: parts[1], ExtensionName: parts[2]}, nil
}

func encodeLocations(e *msgpack.Encoder, locs []Location) error {
	if err := e.EncodeArrayLen(len(locs)); err != nil {
		return err
	}
	for i := range locs {
		if err := encodeLocation(e, &locs[i]); err != nil {
			return err
		}
	}
	return nil
}

func decodeLocations(d *msgpack.Decoder) ([]Location, error) {
	n, err := d.DecodeArrayLen()
	if err != nil || n <= 0 {
		return nil, err
	}
	locs := make([]Location, 0, n)
	for i := 0; i < n; i++ {
		loc, err := decodeLocation(d)
		if err != nil {
			return nil, err
		}
		if loc != nil {
			locs = append(locs, *loc)
		}
	}
	return locs, nil
}

func encodeProps(e *msgpack.Encoder, props map[string]any) error {
	if props == nil {
		return e.EncodeNil()
	}
	if err := e.EncodeMapLen(len(props)); err != nil {
		return err
	}
	for k, v := range props {
		if err := e.EncodeString(k); err != nil {
			return err
		}
		if err := e.Encode(v); err != nil {
			return fmt.Errorf("property %q: %w", k, err)
		}
	}
	return nil
}

func decodeProps(d *msgpack.Decoder) (map[string]any, error) {
	n, err := d.DecodeMapLen()
	if err != nil || n <= 0 {
		return nil, err
	}
	props := make(map[string]any, n)
	for i := 0; i < n; i++ {
		k, err := d.DecodeString()
		if err != nil {
			return nil, err
		}
		v, err := d.DecodeInterfaceLoose()
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		props[k] = v
	}
	return props, nil
}
