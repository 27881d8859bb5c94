package common

import (
	"fmt"
	"image"
	"strconv"
	"strings"
	"unicode"
)

// DefaultLabel is used for candidates that arrive without a label.
const DefaultLabel = "object"

// CutoutExt is the file extension of every persisted cutout.
const CutoutExt = ".png"

// maxLabelRunes keeps cutout names well inside file system name limits.
const maxLabelRunes = 64

// Candidate is one object proposed by the segmentation service.
type Candidate struct {
	// Label is the class name reported by the model.
	Label string `json:"label"`
	// Score is the model confidence in [0, 1]. It is advisory only.
	Score float64 `json:"score"`
	// Mask holds the encoded mask raster. Nil means the candidate had no mask.
	Mask []byte `json:"mask"`
}

// Cutout is a cropped, alpha-matted object extracted from a source image.
type Cutout struct {
	// Name is the stable identity of the cutout inside its session.
	Name string
	// Label is the sanitized candidate label.
	Label string
	// Ordinal is the 1-based position of the candidate in the input list.
	Ordinal int
	// Score is carried through from the candidate.
	Score float64
	// Bounds is the crop rectangle in source-image coordinates.
	Bounds BoundingBox
	// Image holds the cropped pixels, anchored at the origin.
	Image *image.NRGBA
}

// SanitizeLabel makes a model label safe to use as a file name component.
// Letters in any script, digits and spaces are kept. Path separators,
// unprintable runes and characters reserved on Windows become '_', and a run
// of dots collapses so the name cannot climb out of its directory. Leading
// and trailing spaces, dots and underscores are trimmed; an empty result
// falls back to DefaultLabel.
func SanitizeLabel(label string) string {
	s := strings.Map(func(r rune) rune {
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) || strings.ContainsRune(`/\:*?"<>|`, r) {
			return '_'
		}
		return r
	}, label)
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", "_")
	}
	if runes := []rune(s); len(runes) > maxLabelRunes {
		s = string(runes[:maxLabelRunes])
	}
	s = strings.Trim(s, " ._")
	if s == "" {
		return DefaultLabel
	}
	return s
}

// CutoutName builds the identity "{label}_{ordinal}.png".
//
// Arguments:
// - label: The raw candidate label. It is sanitized.
// - ordinal: The 1-based candidate position.
//
// Returns:
// - The cutout file name.
//
// @example
// name := CutoutName("traffic light", 3) // "traffic light_3.png"
func CutoutName(label string, ordinal int) string {
	return fmt.Sprintf("%s_%d%s", SanitizeLabel(label), ordinal, CutoutExt)
}

// ParseCutoutName splits a cutout name back into label and ordinal.
// ok is false when name does not follow the "{label}_{ordinal}.png" form.
func ParseCutoutName(name string) (label string, ordinal int, ok bool) {
	base, found := strings.CutSuffix(name, CutoutExt)
	if !found {
		return "", 0, false
	}
	i := strings.LastIndexByte(base, '_')
	if i <= 0 || i == len(base)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(base[i+1:])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return base[:i], n, true
}
