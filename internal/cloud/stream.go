// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxLineSize is the longest SSE line the decoder buffers. Longer lines are
// dropped up to their terminating newline.
const MaxLineSize = 1 << 20

// doneMarker terminates OpenAI-style streams.
const doneMarker = "[DONE]"

// =============================================================================
// FRAME TYPES
// =============================================================================

// ChunkDelta is the incremental part of a choice.
type ChunkDelta struct {
	Content string `json:"content"`
	Role    string `json:"role,omitempty"`
}

// ChunkChoice is one choice of a delta frame.
type ChunkChoice struct {
	Delta        ChunkDelta `json:"delta"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// StreamChunk is an OpenAI-style content delta frame.
type StreamChunk struct {
	ID      string        `json:"id,omitempty"`
	Model   string        `json:"model,omitempty"`
	Choices []ChunkChoice `json:"choices"`
}

// GetContent returns the content from the first choice's delta.
func (c *StreamChunk) GetContent() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// Metadata is the routing frame the backend sends before content.
type Metadata struct {
	Type             string `json:"type"`
	ActualModelUsed  string `json:"actualModelUsed"`
	ActualModelName  string `json:"actualModelName,omitempty"`
	CosmoSelected    bool   `json:"cosmoSelected"`
	DetectedCategory string `json:"detectedCategory,omitempty"`
}

// frameProbe peeks at the discriminator and the delta in one unmarshal.
type frameProbe struct {
	Type string `json:"type"`
	StreamChunk
}

// =============================================================================
// DECODER
// =============================================================================

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// OnDelta is called for every content delta with the delta and the full
// text accumulated so far.
func OnDelta(fn func(delta, full string)) DecoderOption {
	return func(d *Decoder) { d.onDelta = fn }
}

// OnMetadata is called once, for the first metadata frame.
func OnMetadata(fn func(Metadata)) DecoderOption {
	return func(d *Decoder) { d.onMetadata = fn }
}

// WithDecoderLogger sets the logger used for skipped frames.
func WithDecoderLogger(l zerolog.Logger) DecoderOption {
	return func(d *Decoder) { d.logger = l }
}

// Decoder reassembles SSE data frames from a byte stream that may be split at
// any position. It is not safe for concurrent use.
type Decoder struct {
	buf      []byte
	skipping bool
	closed   bool

	content  strings.Builder
	meta     Metadata
	haveMeta bool
	deltas   int
	skipped  int

	onDelta    func(delta, full string)
	onMetadata func(Metadata)
	logger     zerolog.Logger
}

// NewDecoder creates an empty decoder.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Write feeds raw bytes and processes every complete line. It never fails;
// malformed frames are logged and skipped.
func (d *Decoder) Write(p []byte) (int, error) {
	if d.closed {
		return len(p), nil
	}
	d.buf = append(d.buf, p...)

	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]

		if d.skipping {
			d.skipping = false
			continue
		}
		if len(line) > MaxLineSize {
			d.logger.Warn().Int("bytes", len(line)).Msg("dropping oversized SSE line")
			d.skipped++
			continue
		}
		d.processLine(line)
	}

	if len(d.buf) > MaxLineSize {
		d.logger.Warn().Int("bytes", len(d.buf)).Msg("dropping oversized SSE line")
		d.buf = d.buf[:0]
		d.skipping = true
		d.skipped++
	}

	// Compact so the buffer does not pin consumed bytes.
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return len(p), nil
}

// Close processes an unterminated trailing line once. Later writes are
// ignored.
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if len(d.buf) > 0 && !d.skipping {
		d.processLine(d.buf)
	}
	d.buf = nil
	return nil
}

func (d *Decoder) processLine(line []byte) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) == 0 || line[0] == ':' {
		return
	}

	payload, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		// event:, id:, retry: carry nothing the client needs.
		return
	}
	payload = bytes.TrimPrefix(payload, []byte(" "))
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || string(payload) == doneMarker {
		return
	}

	var probe frameProbe
	if err := json.Unmarshal(payload, &probe); err != nil {
		d.skipped++
		d.logger.Debug().Err(err).Int("bytes", len(payload)).Msg("skipping unparseable SSE frame")
		return
	}

	if probe.Type == "metadata" {
		d.handleMetadata(payload)
		return
	}

	delta := probe.GetContent()
	if delta == "" {
		return
	}
	d.deltas++
	d.content.WriteString(delta)
	if d.onDelta != nil {
		d.onDelta(delta, d.content.String())
	}
}

func (d *Decoder) handleMetadata(payload []byte) {
	if d.haveMeta {
		d.logger.Debug().Msg("ignoring repeated metadata frame")
		return
	}
	var meta Metadata
	if err := json.Unmarshal(payload, &meta); err != nil {
		d.skipped++
		d.logger.Debug().Err(err).Msg("skipping malformed metadata frame")
		return
	}
	d.meta = meta
	d.haveMeta = true
	if d.onMetadata != nil {
		d.onMetadata(meta)
	}
}

// Content returns the accumulated text.
func (d *Decoder) Content() string {
	return d.content.String()
}

// Metadata returns the first metadata frame, if one arrived.
func (d *Decoder) Metadata() (Metadata, bool) {
	return d.meta, d.haveMeta
}

// Deltas returns the number of non-empty content deltas seen.
func (d *Decoder) Deltas() int {
	return d.deltas
}

// Skipped returns the number of frames dropped as malformed or oversized.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// Result builds the stream result from what has been decoded.
func (d *Decoder) Result() model.StreamResult {
	r := model.StreamResult{Content: d.content.String()}
	if d.haveMeta {
		r.ActualModelUsed = d.meta.ActualModelUsed
		r.ActualModelName = d.meta.ActualModelName
		r.CosmoSelected = d.meta.CosmoSelected
		r.DetectedCategory = d.meta.DetectedCategory
	}
	return r
}

// =============================================================================
// ENCODING
// =============================================================================

// EncodeMetadata renders a metadata frame as an SSE data line.
func EncodeMetadata(m Metadata) ([]byte, error) {
	m.Type = "metadata"
	return encodeFrame(m)
}

// EncodeDelta renders a content delta as an SSE data line.
func EncodeDelta(id, modelID, content string) ([]byte, error) {
	return encodeFrame(StreamChunk{
		ID:      id,
		Model:   modelID,
		Choices: []ChunkChoice{{Delta: ChunkDelta{Content: content}}},
	})
}

// EncodeDone renders the stream terminator.
func EncodeDone() []byte {
	return []byte("data: " + doneMarker + "\n\n")
}

func encodeFrame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data)+8)
	out = append(out, "data: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out, nil
}
