// Package quantization implements the agent's static knowledge of GGUF
// weight formats: which ones exist, how much memory each needs, and which
// one to recommend for a given amount of free RAM.
//
// The table and selection rules are carried over from the bartowski GGUF
// convention used by the original TitanCompute agent; nothing here performs
// I/O, so the package is safe to use from any goroutine without locking.
package quantization

import (
	"sort"
	"strings"
)

// Tier buckets available RAM into a coarse quality bracket. Tiers are
// ordered so that PREMIUM > HIGH > GOOD > EMERGENCY holds under plain
// integer comparison, which is what keeps TierFor monotonic.
type Tier int

const (
	Emergency Tier = iota
	Good
	High
	Premium
)

func (t Tier) String() string {
	switch t {
	case Premium:
		return "premium"
	case High:
		return "high"
	case Good:
		return "good"
	default:
		return "emergency"
	}
}

// tierThresholds maps a tier to the minimum free-RAM (MB) it requires.
// Walked from the richest tier down in TierFor.
var tierThresholds = []struct {
	tier      Tier
	threshold int
}{
	{Premium, 8192},
	{High, 6144},
	{Good, 4096},
	{Emergency, 0},
}

// Format describes one quantization scheme's resource/quality trade-off.
type Format struct {
	Name            string
	MemoryOverhead  int // MB, fixed cost layered on top of the quantized weights
	QualityScore    float64
	Description     string
	ARMOptimized    bool
}

// formats is the complete bartowski GGUF catalog this agent understands.
var formats = map[string]Format{
	"Q8_0":     {"Q8_0", 512, 0.95, "8-bit quantization, near original quality", false},
	"Q6_K_L":   {"Q6_K_L", 384, 0.90, "6-bit mixed precision, large model", false},
	"Q6_K":     {"Q6_K", 320, 0.88, "6-bit mixed precision", false},
	"Q5_K_M":   {"Q5_K_M", 256, 0.85, "5-bit mixed precision, medium", false},
	"Q4_K_M":   {"Q4_K_M", 192, 0.80, "4-bit mixed precision, medium (default)", false},
	"Q4_K_S":   {"Q4_K_S", 160, 0.78, "4-bit mixed precision, small", false},
	"IQ4_XS":   {"IQ4_XS", 128, 0.75, "4-bit improved quantization, extra small", false},
	"Q3_K_L":   {"Q3_K_L", 112, 0.70, "3-bit mixed precision, large", false},
	"IQ3_M":    {"IQ3_M", 96, 0.68, "3-bit improved quantization, medium", false},
	"Q2_K":     {"Q2_K", 64, 0.60, "2-bit quantization, minimal quality", false},
	"IQ2_M":    {"IQ2_M", 48, 0.55, "2-bit improved quantization, minimal", false},
	"Q4_0_4_4": {"Q4_0_4_4", 144, 0.76, "4-bit ARM optimization", true},
	"Q4_0_8_8": {"Q4_0_8_8", 160, 0.78, "4-bit ARM optimization, larger", true},
}

// tierFormats lists, per tier, the formats that belong to it before any
// ARM-specific additions. Order is not meaningful; Recommended re-sorts.
var tierFormats = map[Tier][]string{
	Premium:   {"Q8_0", "Q6_K_L", "Q6_K"},
	High:      {"Q5_K_M", "Q4_K_M", "Q4_K_S"},
	Good:      {"IQ4_XS", "Q3_K_L", "IQ3_M"},
	Emergency: {"Q2_K", "IQ2_M"},
}

// EmergencyFormat is the format used when nothing else fits in memory.
const EmergencyFormat = "Q2_K"

// Lookup returns the Format for a quantization name (case-insensitive) and
// whether it is known to the catalog.
func Lookup(name string) (Format, bool) {
	f, ok := formats[strings.ToUpper(name)]
	return f, ok
}

// TierFor returns the quality tier that `freeMB` of available RAM affords.
// Monotonic: freeMB1 >= freeMB2 implies TierFor(freeMB1) >= TierFor(freeMB2).
func TierFor(freeMB int) Tier {
	for _, t := range tierThresholds {
		if freeMB >= t.threshold {
			return t.tier
		}
	}
	return Emergency
}

// Recommended returns the best format name for baseModel given freeMB of
// available memory. When preferQuality is true (the default in practice),
// formats are ranked by quality score; otherwise by memory efficiency.
// On ARM, when the tier is HIGH or GOOD, the ARM-optimized formats are
// added to the candidate set before ranking. Ties break by lower memory
// overhead.
func Recommended(baseModel string, freeMB int, preferQuality bool, isARM bool) string {
	tier := TierFor(freeMB)
	candidates := append([]string(nil), tierFormats[tier]...)

	if isARM && (tier == High || tier == Good) {
		candidates = append(candidates, "Q4_0_4_4", "Q4_0_8_8")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := formats[candidates[i]], formats[candidates[j]]
		if preferQuality {
			if a.QualityScore != b.QualityScore {
				return a.QualityScore > b.QualityScore
			}
			return a.MemoryOverhead < b.MemoryOverhead
		}
		if a.MemoryOverhead != b.MemoryOverhead {
			return a.MemoryOverhead < b.MemoryOverhead
		}
		return a.QualityScore > b.QualityScore
	})

	return candidates[0]
}

// ListAvailable returns, for the tier reachable at freeMB and every tier
// below it, the formats a client could ask for — used for diagnostics and
// for GetStatus's capability reporting.
func ListAvailable(freeMB int, isARM bool) map[Tier][]string {
	current := TierFor(freeMB)
	result := make(map[Tier][]string)

	for _, t := range []Tier{Premium, High, Good, Emergency} {
		if t <= current || t == Emergency {
			fmts := append([]string(nil), tierFormats[t]...)
			if isARM && (t == High || t == Good) {
				fmts = append(fmts, "Q4_0_4_4", "Q4_0_8_8")
			}
			result[t] = fmts
		}
	}
	return result
}

// BuildVariantID builds the backend-visible model identifier for baseModel
// quantized with format. Mirrors the bartowski naming convention: a model
// that already carries a tag (":") has its tag replaced with the format in
// lowercase; a base model ending in "-GGUF" gets the format appended
// unmodified (uppercase), matching the repository naming bartowski GGUF
// uploads use; anything else gets the lowercase format appended after a
// new ":".
func BuildVariantID(baseModel, format string) string {
	if idx := strings.Index(baseModel, ":"); idx >= 0 {
		return baseModel[:idx] + ":" + strings.ToLower(format)
	}
	if strings.HasSuffix(baseModel, "-GGUF") {
		return baseModel + ":" + format
	}
	return baseModel + ":" + strings.ToLower(format)
}

// EstimateMemory estimates the total memory footprint (MB) of baseModel
// quantized with format: a size heuristic derived from the model name
// (matching "1b"/"7b"/"13b" case-insensitively, defaulting to 4096 MB)
// combined with the format's quality-derived compression ratio and its
// fixed overhead.
func EstimateMemory(baseModel, format string) int {
	f, ok := Lookup(format)
	if !ok {
		return 4096
	}

	baseSize := baseSizeEstimate(baseModel)
	quantized := int(float64(baseSize) * (1.0 - f.QualityScore + 0.2))
	return quantized + f.MemoryOverhead
}

func baseSizeEstimate(modelName string) int {
	lower := strings.ToLower(modelName)
	switch {
	case strings.Contains(lower, "1b"):
		return 2048
	case strings.Contains(lower, "7b"):
		return 6144
	case strings.Contains(lower, "13b"):
		return 10240
	default:
		return 4096
	}
}
