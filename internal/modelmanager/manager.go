// Package modelmanager selects, pulls, and drives inference against
// quantized model variants on an inference backend, picking the variant
// that best fits currently available memory.
package modelmanager

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"titancompute/internal/quantization"
	"titancompute/internal/telemetry"
	"titancompute/pkg/logger"
	tracing "titancompute/pkg/telemetry"
)

// Manager coordinates variant selection, on-demand pulls, and inference
// streaming against a Backend.
type Manager struct {
	backend  Backend
	registry *Registry
	probe    *telemetry.Probe
}

// NewManager builds a Manager. probe supplies the memory readings variant
// selection depends on.
func NewManager(backend Backend, registry *Registry, probe *telemetry.Probe) *Manager {
	if registry == nil {
		registry = NewRegistry(nil)
	}
	return &Manager{backend: backend, registry: registry, probe: probe}
}

// PreloadModels selects and pulls an optimal variant for each requested
// base model at startup. A failure preloading one model is logged and
// does not stop preloading of the rest.
func (m *Manager) PreloadModels(ctx context.Context, models []string) {
	for _, model := range models {
		logger.Info("preloading model", "model", model)

		variant, err := m.SelectOptimalVariant(ctx, model)
		if err != nil {
			logger.Error("failed to select variant for model", "model", model, "error", err)
			continue
		}

		if err := m.backend.PullModel(ctx, variant); err != nil {
			logger.Error("failed to preload model", "model", model, "variant", variant, "error", err)
			continue
		}

		m.registry.MarkLoaded(variant)
		if err := m.registry.Remember(ctx, model, variant); err != nil {
			logger.Warn("failed to persist variant mapping", "model", model, "variant", variant, "error", err)
		}
		logger.Info("preloaded model", "model", model, "variant", variant)
	}
}

// usableMemoryMB reserves headroom for the host OS and the backend
// process itself, keeping at most 80% of available RAM or all-but-1GB,
// whichever is larger.
func usableMemoryMB(availableMB int) int {
	reserved := availableMB - 1024
	proportional := int(float64(availableMB) * 0.8)
	if reserved > proportional {
		return reserved
	}
	return proportional
}

// SelectOptimalVariant picks the quantized variant of baseModel that best
// fits the currently available memory. If baseModel already names a
// known quantization it is returned unchanged. Otherwise an already
// loaded matching variant is preferred over downloading a new one.
func (m *Manager) SelectOptimalVariant(ctx context.Context, baseModel string) (string, error) {
	sample, err := m.probe.Collect()
	if err != nil {
		logger.Warn("failed to sample memory for variant selection, using base model", "model", baseModel, "error", err)
		return baseModel, nil
	}

	usable := usableMemoryMB(sample.FreeRAMMB)

	upper := strings.ToUpper(baseModel)
	for name := range knownFormats() {
		if strings.Contains(upper, name) {
			logger.Info("model already names a quantization, using as-is", "model", baseModel)
			return baseModel, nil
		}
	}

	if existing, ok, err := m.FindExistingQuantizedModel(ctx, baseModel); err == nil && ok {
		logger.Info("using existing quantized model, no download needed", "variant", existing)
		return existing, nil
	}

	format := quantization.Recommended(baseModel, usable, true, sample.IsARM)
	variant := quantization.BuildVariantID(baseModel, format)
	tier := quantization.TierFor(usable)

	tracing.SetAttributes(ctx, tracing.QuantizationAttributes(format, tier.String())...)

	logger.Info("no existing quantized model found, will download",
		"variant", variant, "format", format, "tier", tier.String())

	return variant, nil
}

// CanLoadModel reports whether at least 1GB would remain free after
// loading variant, given its estimated memory footprint.
func (m *Manager) CanLoadModel(variant string) bool {
	sample, err := m.probe.Collect()
	if err != nil {
		return false
	}

	estimated := m.estimateMemoryUsage(variant)
	return (sample.FreeRAMMB - estimated) > 1024
}

func (m *Manager) estimateMemoryUsage(variant string) int {
	base, format := splitVariant(variant)
	return quantization.EstimateMemory(base, format)
}

func splitVariant(variant string) (base, format string) {
	if idx := strings.LastIndex(variant, ":"); idx >= 0 {
		return variant[:idx], strings.ToUpper(variant[idx+1:])
	}
	return variant, "Q4_K_M"
}

// FindExistingQuantizedModel looks for a variant of baseModel already
// present on the backend that fits within the currently usable memory,
// scoring candidates by 0.6*quality + 0.4*memory-efficiency and returning
// the highest scorer.
func (m *Manager) FindExistingQuantizedModel(ctx context.Context, baseModel string) (string, bool, error) {
	available, err := m.backend.ListModels(ctx)
	if err != nil {
		return "", false, err
	}

	base := baseModel
	if idx := strings.Index(baseModel, ":"); idx >= 0 {
		base = baseModel[:idx]
	}

	sample, err := m.probe.Collect()
	if err != nil {
		return "", false, err
	}
	usable := usableMemoryMB(sample.FreeRAMMB)

	type candidate struct {
		name  string
		score float64
	}
	var scored []candidate

	for _, name := range available {
		if !strings.HasPrefix(name, base) {
			continue
		}

		if idx := strings.Index(name, ":"); idx >= 0 {
			format := strings.ToUpper(name[idx+1:])
			f, ok := quantization.Lookup(format)
			if !ok {
				continue
			}
			estimated := quantization.EstimateMemory(base, format)
			if estimated > usable {
				continue
			}
			efficiency := 1.0 - float64(estimated)/float64(usable)
			score := f.QualityScore*0.6 + efficiency*0.4
			scored = append(scored, candidate{name, score})
		} else {
			const fullModelEstimate = 8000
			if fullModelEstimate <= usable {
				scored = append(scored, candidate{name, 1.0})
			}
		}
	}

	if len(scored) == 0 {
		return "", false, nil
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	return scored[0].name, true, nil
}

// InferenceResult is one streamed token plus the variant it came from.
type InferenceResult struct {
	Chunk   GenerateChunk
	Variant string
}

// StreamInference ensures a loaded variant of model exists (selecting,
// falling back to an emergency quantization, and pulling as needed) then
// streams generation chunks for prompt against it.
func (m *Manager) StreamInference(ctx context.Context, model, prompt string, options map[string]any) (<-chan InferenceResult, error) {
	if strings.TrimSpace(model) == "" {
		loaded := m.registry.LoadedModels()
		if len(loaded) == 0 {
			return nil, fmt.Errorf("no model specified and no preloaded models available")
		}
		model = loaded[0]
		logger.Warn("empty model requested, using fallback", "fallback_model", model)
	}

	variant, err := m.ensureLoaded(ctx, model)
	if err != nil {
		return nil, err
	}

	chunks, err := m.backend.Generate(ctx, variant, prompt, options)
	if err != nil {
		return nil, err
	}

	out := make(chan InferenceResult)
	go func() {
		defer close(out)
		for chunk := range chunks {
			select {
			case out <- InferenceResult{Chunk: chunk, Variant: variant}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *Manager) ensureLoaded(ctx context.Context, model string) (string, error) {
	variant, ok := m.registry.Resolve(ctx, model)
	if !ok {
		variant = model
	}

	if m.registry.IsLoaded(variant) {
		return variant, nil
	}

	logger.Info("model not preloaded, selecting optimal variant", "model", model)

	if variant == model {
		selected, err := m.SelectOptimalVariant(ctx, model)
		if err != nil {
			return "", err
		}
		variant = selected
	}

	if !m.CanLoadModel(variant) {
		logger.Warn("insufficient memory, trying smaller quantization", "variant", variant)

		if existing, ok, err := m.FindExistingQuantizedModel(ctx, model); err == nil && ok {
			variant = existing
		} else {
			variant = quantization.BuildVariantID(model, quantization.EmergencyFormat)
		}
	}

	available, err := m.backend.ListModels(ctx)
	if err != nil {
		return "", err
	}

	if !contains(available, variant) {
		logger.Info("downloading model", "variant", variant)
		if err := m.registry.PullOnce(variant, func() error {
			return m.backend.PullModel(ctx, variant)
		}); err != nil {
			return "", err
		}
	} else {
		logger.Info("model already present on backend", "variant", variant)
	}

	m.registry.MarkLoaded(variant)
	if err := m.registry.Remember(ctx, model, variant); err != nil {
		logger.Warn("failed to persist variant mapping", "model", model, "variant", variant, "error", err)
	}

	return variant, nil
}

// GetModelInfo returns backend metadata for model, or ok=false if the
// backend could not provide it.
func (m *Manager) GetModelInfo(ctx context.Context, model string) (map[string]any, bool) {
	info, err := m.backend.ShowModel(ctx, model)
	if err != nil {
		logger.Warn("failed to get model info", "model", model, "error", err)
		return nil, false
	}
	return info, true
}

// ListModels lists every model currently present on the backend. Used for
// variant discovery (FindExistingQuantizedModel), not for reporting what
// this agent has itself loaded — GetStatus's model_loaded field wants
// LoadedVariants instead, since a shared backend can carry models this
// agent never selected or pulled.
func (m *Manager) ListModels(ctx context.Context) []string {
	names, err := m.backend.ListModels(ctx)
	if err != nil {
		logger.Error("failed to list models", "error", err)
		return nil
	}
	return names
}

// LoadedVariants returns the variants this agent has itself resolved and
// loaded, per the registry — the set GetStatus's model_loaded field
// reports.
func (m *Manager) LoadedVariants() []string {
	return m.registry.LoadedModels()
}

// SystemStatus summarizes memory, loaded models, and quantization
// recommendations for the GetStatus RPC.
type SystemStatus struct {
	TotalRAMMB        int
	AvailableRAMMB    int
	UsagePercent      float64
	LoadedModelCount  int
	IsARM             bool
	RecommendedTier   quantization.Tier
	AvailableFormats  map[quantization.Tier][]string
}

func (m *Manager) GetSystemStatus() (SystemStatus, error) {
	sample, err := m.probe.Collect()
	if err != nil {
		return SystemStatus{}, err
	}

	var usagePercent float64
	if sample.TotalRAMMB > 0 {
		usagePercent = float64(sample.TotalRAMMB-sample.FreeRAMMB) / float64(sample.TotalRAMMB) * 100
	}

	return SystemStatus{
		TotalRAMMB:       sample.TotalRAMMB,
		AvailableRAMMB:   sample.FreeRAMMB,
		UsagePercent:     usagePercent,
		LoadedModelCount: len(m.registry.LoadedModels()),
		IsARM:            sample.IsARM,
		RecommendedTier:  quantization.TierFor(sample.FreeRAMMB),
		AvailableFormats: quantization.ListAvailable(sample.FreeRAMMB, sample.IsARM),
	}, nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func knownFormats() map[string]struct{} {
	names := []string{
		"Q8_0", "Q6_K_L", "Q6_K", "Q5_K_M", "Q4_K_M", "Q4_K_S",
		"IQ4_XS", "Q3_K_L", "IQ3_M", "Q2_K", "IQ2_M", "Q4_0_4_4", "Q4_0_8_8",
	}
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}
