package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/agentlink/pkg/wire"
)

// DataName is the name of Data messages carrying transcript text.
const DataName = "text_data"

// textData is the JSON payload of a text_data message.
type textData struct {
	Text         string `json:"text"`
	IsFinal      bool   `json:"is_final"`
	StreamID     int64  `json:"stream_id"`
	Role         string `json:"role"`
	TextTS       int64  `json:"text_ts"`
	EndOfSegment bool   `json:"end_of_segment"`
}

// HandleMessage ingests transcript Data messages and ignores everything
// else. It has the signature of a transport message handler.
func (s *Store) HandleMessage(msg wire.Message) {
	d, ok := msg.(*wire.Data)
	if !ok || d.Name != DataName {
		return
	}
	if _, err := s.Ingest(d); err != nil {
		slog.Warn("transcript: dropping text data", "id", d.ID, "err", err)
	}
}

// Ingest decodes one text_data payload and upserts it.
func (s *Store) Ingest(d *wire.Data) (Message, error) {
	var td textData
	if err := json.Unmarshal(d.Buf, &td); err != nil {
		return Message{}, fmt.Errorf("transcript: decode text data: %w", err)
	}

	role := Role(td.Role)
	if role == "" {
		// The agent speaks on stream 0; users have their own stream ids.
		role = RoleUser
		if td.StreamID == 0 {
			role = RoleAssistant
		}
	}

	ts := td.TextTS
	if ts == 0 {
		ts = s.openTimestamp(td.StreamID)
	}

	return s.Upsert(Message{
		StreamID: td.StreamID,
		Role:     role,
		Text:     td.Text,
		Final:    td.IsFinal || td.EndOfSegment,
		Time:     time.UnixMilli(ts),
	}), nil
}

// openTimestamp returns the timestamp of the stream's newest non-final
// message, or now when there is none.
func (s *Store) openTimestamp(stream int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		m := s.msgs[i]
		if m.StreamID != stream {
			continue
		}
		if !m.Final {
			return m.Time.UnixMilli()
		}
		break
	}
	return time.Now().UnixMilli()
}

func newID(stream, ts int64) string {
	return fmt.Sprintf("%d-%d", stream, ts)
}
