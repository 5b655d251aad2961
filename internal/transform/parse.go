package transform

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// RawChunk is one chunk object as emitted by the extraction model, before
// normalisation into a rag.Chunk.
type RawChunk struct {
	ChunkText string      `json:"chunk_text"`
	Metadata  RawMetadata `json:"metadata"`
}

// RawMetadata is the metadata object emitted by the extraction model.
type RawMetadata struct {
	Title     string   `json:"title"`
	PageRange []int    `json:"page_range"`
	Summary   string   `json:"summary"`
	Topics    []string `json:"topics"`
}

// ParseResult is the tagged outcome of parsing a model response: either a
// list of chunks, or a parse failure carrying the raw response. Callers
// branch on Err instead of recovering from panics or swallowing errors.
type ParseResult struct {
	// Chunks is the parsed chunk list. Empty when Err is non-nil.
	Chunks []RawChunk

	// Raw is the original model response, kept for failure records.
	Raw string

	// Err is the parse failure, or nil.
	Err error
}

// fencedBlock matches a ```json ... ``` (or bare ```) fenced code block; the
// model is asked for bare JSON but frequently fences it anyway.
var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ParseChunks parses the extraction model's response into chunk objects.
// A fenced code block, if present, is unwrapped first. A single object is
// promoted to a one-element list. Parse failures are returned as a tagged
// result, never raised.
func ParseChunks(response string) ParseResult {
	payload := strings.TrimSpace(response)
	if m := fencedBlock.FindStringSubmatch(payload); m != nil {
		payload = m[1]
	}

	var chunks []RawChunk
	if err := json.Unmarshal([]byte(payload), &chunks); err == nil {
		return ParseResult{Chunks: chunks, Raw: response}
	}

	var single RawChunk
	if err := json.Unmarshal([]byte(payload), &single); err != nil {
		return ParseResult{
			Raw: response,
			Err: fmt.Errorf("transform: response is not valid chunk JSON: %w", err),
		}
	}
	return ParseResult{Chunks: []RawChunk{single}, Raw: response}
}
