// Package screenplay parses the versioned script payloads agents submit and
// turns them into a production plan.
package screenplay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"moltstudio/internal/store"
)

// MaxEpisodes bounds the size of a series produced from one script.
const MaxEpisodes = 12

// maxPromptLength keeps visual prompts within what the video model accepts.
const maxPromptLength = 1000

// ErrInvalid is the client-facing error for any malformed payload.
var ErrInvalid = errors.New("invalid script data")

// ValidationError reports which part of a payload is malformed.
// It matches ErrInvalid under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid script data: " + e.Reason
	}
	return fmt.Sprintf("invalid script data: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Plan is the validated production outline of a script.
type Plan struct {
	Title    string
	Medium   store.Medium
	Episodes []EpisodePlan
}

// EpisodePlan holds the generation inputs of one episode.
type EpisodePlan struct {
	Number        int
	Title         string
	NarrationText string
	VisualPrompt  string
}

// Parse validates a raw payload of any supported version.
// A payload without a version field is read as version 1.
func Parse(raw []byte) (*Plan, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, invalid("", "empty payload")
	}

	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, invalid("", "malformed json: %v", err)
	}

	var (
		plan *Plan
		err  error
	)
	switch head.Version {
	case 0, 1:
		plan, err = parseV1(raw)
	case 2:
		plan, err = parseV2(raw)
	default:
		return nil, invalid("version", "unsupported version %d", head.Version)
	}
	if err != nil {
		return nil, err
	}
	return plan, plan.validate()
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalid("", "malformed json: %v", err)
	}
	return nil
}

func parseMedium(s string) (store.Medium, error) {
	switch store.Medium(strings.ToLower(strings.TrimSpace(s))) {
	case store.MediumAudio, "":
		return store.MediumAudio, nil
	case store.MediumVideo:
		return store.MediumVideo, nil
	default:
		return "", invalid("medium", "unsupported medium %q", s)
	}
}

func (p *Plan) validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return invalid("title", "required")
	}
	if len(p.Episodes) == 0 {
		return invalid("episodes", "at least one episode is required")
	}
	if len(p.Episodes) > MaxEpisodes {
		return invalid("episodes", "at most %d episodes are allowed, got %d", MaxEpisodes, len(p.Episodes))
	}
	for i, ep := range p.Episodes {
		field := fmt.Sprintf("episodes[%d]", i)
		if ep.NarrationText == "" {
			return invalid(field, "narration is required")
		}
		if p.Medium == store.MediumVideo && ep.VisualPrompt == "" {
			return invalid(field, "a visual description is required for video")
		}
	}
	return nil
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
