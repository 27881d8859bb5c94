// Package segmentation - Client for the remote instance-segmentation service.
package segmentation

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-cutout/common"
)

// wireCandidate is one element of the inference response. Fields are raw so
// missing and wrongly typed values can fall back to defaults.
type wireCandidate struct {
	Score json.RawMessage `json:"score"`
	Label json.RawMessage `json:"label"`
	Mask  json.RawMessage `json:"mask"`
}

type wireError struct {
	Error json.RawMessage `json:"error"`
}

// ParseResponse converts an inference response body into candidates.
//
// The body must be a JSON list of {score, label, mask} objects. A missing
// label becomes "object", a missing score becomes 0 and a mask that is absent
// or not valid base64 becomes nil, which makes the extractor skip it.
// A JSON object carrying "error" is reported as a segmentation failure; any
// other shape is malformed input.
//
// Arguments:
// - body: The raw response body.
//
// Returns:
// - []common.Candidate: Candidates in response order.
// - error: common.ErrSegmentation for service-reported errors, common.ErrExtraction
// for malformed bodies.
//
// @example
// cands, err := ParseResponse([]byte(`[{"score":0.9,"label":"cat","mask":"iVBOR..."}]`))
func ParseResponse(body []byte) ([]common.Candidate, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.Wrap(common.ErrExtraction, "empty segmentation response")
	}

	if trimmed[0] == '{' {
		var we wireError
		if err := json.Unmarshal(trimmed, &we); err == nil && len(we.Error) > 0 && string(we.Error) != "null" {
			return nil, errors.Wrapf(common.ErrSegmentation, "service error: %s", errorText(we.Error))
		}
		return nil, errors.Wrap(common.ErrExtraction, "segmentation response is not a list")
	}
	if trimmed[0] != '[' {
		return nil, errors.Wrapf(common.ErrExtraction, "unexpected segmentation response type: %.32s", trimmed)
	}

	var wire []wireCandidate
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, errors.Wrapf(common.ErrExtraction, "malformed segmentation response: %v", err)
	}

	cands := make([]common.Candidate, len(wire))
	for i, w := range wire {
		cands[i] = common.Candidate{
			Label: parseLabel(w.Label),
			Score: parseScore(w.Score),
			Mask:  parseMask(w.Mask),
		}
	}
	return cands, nil
}

func errorText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func parseLabel(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return common.DefaultLabel
	}
	return s
}

func parseScore(raw json.RawMessage) float64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	return f
}

func parseMask(raw json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return nil
	}
	data, err := DecodeBase64(s)
	if err != nil {
		return nil
	}
	return data
}

// DecodeBase64 decodes a standard base64 payload, optionally wrapped in a
// "data:<mime>;base64," URL as produced by canvas.toDataURL.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, errors.New("data URL without payload")
		}
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some encoders drop the padding.
		if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
			return raw, nil
		}
		return nil, errors.Wrap(err, "invalid base64")
	}
	return data, nil
}
