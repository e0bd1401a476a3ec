// Package stream writes a coordinator.StreamEvent channel to an
// http.ResponseWriter as Server-Sent Events (spec.md section 6: "each
// event's data is a JSON chunk matching the function type; terminal event
// data: [DONE]").
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tzrouter/gateway/internal/content"
	"github.com/tzrouter/gateway/internal/coordinator"
)

// chunkWire is the per-event JSON shape: the inference/episode identity,
// whichever output blocks arrived since the last event, and usage — only
// populated on the terminal event, mirroring C6's "usage accumulates and is
// only meaningful once the stream is complete."
type chunkWire struct {
	InferenceID string               `json:"inference_id"`
	EpisodeID   string               `json:"episode_id"`
	VariantName string               `json:"variant_name"`
	Content     []content.OutputBlock `json:"content,omitempty"`
	Usage       *wireUsage            `json:"usage,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Write reads StreamEvents from the channel and writes them to w as SSE,
// flushing after every event so the client sees tokens arrive as they're
// produced. A mid-stream error is surfaced by returning it — the caller has
// no way to change the HTTP status at that point, since headers and a
// partial body have already been sent (spec.md 7: "streaming errors ...
// are emitted as an error frame in the stream, not as a rejected future").
func Write(w http.ResponseWriter, events <-chan coordinator.StreamEvent) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for ev := range events {
		if ev.Err != nil {
			if writeErr := writeEvent(w, flusher, errorChunk(ev.Err)); writeErr != nil {
				return writeErr
			}
			return ev.Err
		}

		chunk := chunkWire{
			InferenceID: ev.InferenceID.String(),
			EpisodeID:   ev.EpisodeID.String(),
			VariantName: ev.VariantName,
			Content:     ev.Blocks,
		}
		if ev.Usage != nil {
			chunk.Usage = &wireUsage{InputTokens: ev.Usage.InputTokens, OutputTokens: ev.Usage.OutputTokens}
		}

		if err := writeEvent(w, flusher, chunk); err != nil {
			return err
		}

		if ev.Done {
			break
		}
	}

	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("writing SSE done marker: %w", err)
	}
	flusher.Flush()
	return nil
}

func errorChunk(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, payload any) error {
	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling SSE chunk: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonBytes); err != nil {
		return fmt.Errorf("writing SSE event: %w", err)
	}
	flusher.Flush()
	return nil
}
