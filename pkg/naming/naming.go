// Package naming owns the filename contracts shared with downstream
// consumers: worker crop names, replay crop names, the painting filename
// parser and the source label resolver.
package naming

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/menta2k/painting-cropper/pkg/types"
)

// Source labels rendered into replay filenames
const (
	SourceFRCNN  = "FRCNN"
	SourceBING   = "BING"
	SourceRandom = "RANDOM"
)

// Fallbacks used when a painting filename cannot be parsed
const (
	UnknownName = "UNKNOWN"
	UnknownNum  = "0"
)

// CropsDir is the worker temp subdirectory holding raw crops
const CropsDir = "crops"

// NamingFunc produces the path (relative to an output directory) for a crop
type NamingFunc func(index int) string

// WorkerCropName returns the raw worker crop path for a proposal index
func WorkerCropName(base string, index int) string {
	return fmt.Sprintf("%s/%s_frcnn_temp_crop%d.jpg", CropsDir, base, index)
}

// WorkerNaming binds WorkerCropName to one painting
func WorkerNaming(base string) NamingFunc {
	return func(index int) string { return WorkerCropName(base, index) }
}

// ReplayCropName returns the curated crop filename. cropIdx is 0-based as
// stored in the combined table and rendered 1-based.
func ReplayCropName(id types.Identity, cropIdx int, source string, wrong bool) string {
	var b strings.Builder
	b.WriteString(id.FirstName)
	b.WriteByte('_')
	if id.LastName != "" {
		b.WriteString(id.LastName)
		b.WriteByte('_')
	}
	fmt.Fprintf(&b, "%s_crop%d_%s", id.Num, cropIdx+1, source)
	if wrong {
		b.WriteString("_WRONG")
	}
	b.WriteString(".jpg")
	return b.String()
}

// ComboCropName is the final aggregated crop filename for a painting
func ComboCropName(base string, cropIdx int) string {
	return fmt.Sprintf("%s_combo_crop%d.jpg", base, cropIdx)
}

// LowSaliencyCropName is the filename for a low-saliency background crop
func LowSaliencyCropName(base string, cropIdx int) string {
	return fmt.Sprintf("%s_lowsaliency_crop%d.jpg", base, cropIdx)
}

// BaseName strips directory and extension from a path
func BaseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// ParseFilename splits "<first>[_<last>]_<num>.<ext>" into its parts.
// Unexpected formats are logged and fall back to UnknownName/UnknownNum.
func ParseFilename(name string, logger *slog.Logger) types.Identity {
	if logger == nil {
		logger = slog.Default()
	}

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(stem, "_")
	if len(parts) < 2 {
		logger.Warn("unexpected painting filename format", "filename", name)
		return types.Identity{FirstName: UnknownName, LastName: UnknownName, Num: UnknownNum}
	}

	num := parts[len(parts)-1]
	if !isDigits(num) {
		logger.Warn("last part of painting filename is not a number, using 0", "filename", name, "part", num)
		return types.Identity{
			FirstName: strings.Join(parts[:len(parts)-1], "_"),
			LastName:  num,
			Num:       UnknownNum,
		}
	}

	if len(parts) == 2 {
		return types.Identity{FirstName: parts[0], Num: num}
	}
	return types.Identity{
		FirstName: strings.Join(parts[:len(parts)-2], "_"),
		LastName:  parts[len(parts)-2],
		Num:       num,
	}
}

// ResolveSourceLabel maps source flags to a label; FRCNN wins over BING
func ResolveSourceLabel(frcnn, bing bool) string {
	switch {
	case frcnn:
		return SourceFRCNN
	case bing:
		return SourceBING
	default:
		return SourceRandom
	}
}

// ParseFlag reads a table boolean, true only for a case-insensitive "TRUE"
func ParseFlag(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "TRUE")
}

// FormatFlag renders a boolean the way the combined table stores it
func FormatFlag(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

// IsWrongFile reports whether a painting filename carries the _WRONG marker
func IsWrongFile(name string) bool {
	return strings.Contains(strings.ToUpper(name), "_WRONG")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
