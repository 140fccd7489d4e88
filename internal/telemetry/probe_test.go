package telemetry

import "testing"

type fakeGPUProbe struct {
	free, total int
	temp        *int
	ok          bool
}

func (f fakeGPUProbe) Sample() (int, int, *int, bool) {
	return f.free, f.total, f.temp, f.ok
}

func TestCollectWithoutGPU(t *testing.T) {
	p := NewProbe(nil)

	s, err := p.Collect()
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if s.TotalRAMMB <= 0 {
		t.Errorf("TotalRAMMB = %d, want > 0", s.TotalRAMMB)
	}
	if s.FreeVRAMMB != 0 || s.TotalVRAMMB != 0 {
		t.Errorf("expected zero VRAM without a GPUProbe, got free=%d total=%d", s.FreeVRAMMB, s.TotalVRAMMB)
	}
	if s.GPUTemperature != nil {
		t.Errorf("expected nil GPUTemperature without a GPUProbe")
	}
}

func TestCollectWithGPU(t *testing.T) {
	temp := 62
	p := NewProbe(fakeGPUProbe{free: 2048, total: 8192, temp: &temp, ok: true})

	s, err := p.Collect()
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if s.FreeVRAMMB != 2048 || s.TotalVRAMMB != 8192 {
		t.Errorf("got free=%d total=%d, want free=2048 total=8192", s.FreeVRAMMB, s.TotalVRAMMB)
	}
	if s.GPUTemperature == nil || *s.GPUTemperature != 62 {
		t.Errorf("got GPUTemperature = %v, want 62", s.GPUTemperature)
	}
}

func TestCollectWithoutGPUSample(t *testing.T) {
	p := NewProbe(fakeGPUProbe{ok: false})

	s, err := p.Collect()
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if s.TotalVRAMMB != 0 {
		t.Errorf("expected zero VRAM when GPUProbe reports not-ok, got %d", s.TotalVRAMMB)
	}
}
