package wire

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ChunkPayload splits msg into one or more frames when the JSON encoding
// of its Args/Value exceeds maxBytes. Each fragment carries at most
// maxBytes of that encoding; the encoded fragment frame is larger by its
// envelope fields and string escaping. Every
// fragment repeats the full envelope header (Type, ID, Scope, Source,
// Path, Handle) so the receiver can route it without having already
// reassembled the payload.
//
// maxBytes <= 0 disables chunking: msg is returned as the single-element
// slice unchanged.
func ChunkPayload(msg *Message, maxBytes int) ([]*Message, error) {
	if maxBytes <= 0 {
		return []*Message{msg}, nil
	}

	payload, carriesPayload := payloadToChunk(msg)
	if !carriesPayload {
		return []*Message{msg}, nil
	}

	encoded, err := marshalValueJSON(payload)
	if err != nil {
		return nil, err
	}
	if len(encoded) <= maxBytes {
		return []*Message{msg}, nil
	}

	group := uuid.New().String()
	segments := splitRuneSafe(encoded, maxBytes)
	frames := make([]*Message, 0, len(segments))
	for i, seg := range segments {
		frame := *msg
		frame.Args = nil
		frame.Value = nil
		frame.ChunkGroup = group
		frame.ChunkIndex = i
		frame.ChunkTotal = len(segments)
		frame.ChunkPayload = seg
		frames = append(frames, &frame)
	}
	return frames, nil
}

// splitRuneSafe cuts encoded into segments of at most maxBytes, pulling
// each cut back to a rune boundary so no segment carries a torn multi-byte
// sequence. A torn rune would not survive a JSON string round trip inside
// the chunk frame.
func splitRuneSafe(encoded []byte, maxBytes int) []string {
	var segments []string
	for start := 0; start < len(encoded); {
		end := start + maxBytes
		if end >= len(encoded) {
			segments = append(segments, string(encoded[start:]))
			break
		}
		for end > start && encoded[end]&0xC0 == 0x80 {
			end--
		}
		if end == start {
			end = start + maxBytes
		}
		segments = append(segments, string(encoded[start:end]))
		start = end
	}
	return segments
}

// payloadToChunk returns the value that would need splitting for msg's
// type, and whether msg carries one at all (get/error/garbage_collect/ping
// never do).
func payloadToChunk(msg *Message) (any, bool) {
	switch msg.Type {
	case TypeApply:
		return msg.Args, true
	case TypeSet:
		return msg.Value, true
	default:
		return nil, false
	}
}

// Reassembler buffers chunk fragments by ChunkGroup until every fragment of
// a group has arrived, then reconstructs the original logical Message. One
// Reassembler is owned per endpoint.
type Reassembler struct {
	mu     sync.Mutex
	groups map[string]*pendingGroup
}

type pendingGroup struct {
	header   Message // header fields from fragment 0, payload fields blank
	parts    [][]byte
	received int
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{groups: make(map[string]*pendingGroup)}
}

// Add feeds one inbound frame to the reassembler. If frame is not a chunk
// fragment it is returned unchanged with complete=true. If it completes a
// group, the reconstructed Message is returned with complete=true. Otherwise
// complete is false and the caller has nothing to act on yet.
func (r *Reassembler) Add(frame *Message) (msg *Message, complete bool, err error) {
	if !frame.IsChunkFragment() {
		return frame, true, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[frame.ChunkGroup]
	if !ok {
		g = &pendingGroup{
			header: *frame,
			parts:  make([][]byte, frame.ChunkTotal),
		}
		g.header.ChunkGroup = ""
		g.header.ChunkIndex = 0
		g.header.ChunkTotal = 0
		g.header.ChunkPayload = ""
		r.groups[frame.ChunkGroup] = g
	}

	if frame.ChunkIndex < 0 || frame.ChunkIndex >= len(g.parts) {
		return nil, false, fmt.Errorf("chunk index %d out of range for group %s (total %d)", frame.ChunkIndex, frame.ChunkGroup, frame.ChunkTotal)
	}
	if g.parts[frame.ChunkIndex] == nil {
		g.received++
	}
	g.parts[frame.ChunkIndex] = []byte(frame.ChunkPayload)

	if g.received < len(g.parts) {
		return nil, false, nil
	}

	delete(r.groups, frame.ChunkGroup)

	var joined []byte
	for _, part := range g.parts {
		joined = append(joined, part...)
	}

	result := g.header
	var value any
	if err := unmarshalValueJSON(joined, &value); err != nil {
		return nil, false, NewError(KindCodecError, "reassemble chunk group %s: %v", frame.ChunkGroup, err)
	}
	switch result.Type {
	case TypeApply:
		args, _ := value.([]any)
		result.Args = args
	case TypeSet:
		result.Value = value
	}
	return &result, true, nil
}
