package pcm

import "testing"

func TestResample_SameRate(t *testing.T) {
	samples := []int16{100, 200, 300, 400, 500}
	result := Resample(samples, 48000, 48000)

	if len(result) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(result))
	}
	for i, s := range samples {
		if result[i] != s {
			t.Errorf("Sample %d: expected %d, got %d", i, s, result[i])
		}
	}
}

func TestResample_Upsample(t *testing.T) {
	// 16kHz -> 48kHz (1:3 ratio)
	samples := make([]int16, 320) // 20ms at 16kHz
	for i := range samples {
		samples[i] = int16(i * 10)
	}

	result := Resample(samples, 16000, 48000)
	if len(result) != 960 {
		t.Errorf("Expected 960 samples, got %d", len(result))
	}
}

func TestResample_Downsample(t *testing.T) {
	samples := make([]int16, 960)
	result := Resample(samples, 48000, 16000)
	if len(result) != 320 {
		t.Errorf("Expected 320 samples, got %d", len(result))
	}
}

func TestBytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	got := BytesToSamples(SamplesToBytes(samples))
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
	if n := len(BytesToSamples([]byte{1, 2, 3})); n != 1 {
		t.Errorf("odd byte input gave %d samples, want 1", n)
	}
}

func TestFramer(t *testing.T) {
	f := NewFramer(4)

	if frames := f.Write([]int16{1, 2, 3}); len(frames) != 0 {
		t.Fatalf("got %d frames from 3 samples", len(frames))
	}
	frames := f.Write([]int16{4, 5, 6, 7, 8, 9})
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[1][0] != 5 || frames[1][3] != 8 {
		t.Errorf("second frame = %v", frames[1])
	}
	if f.Buffered() != 1 {
		t.Errorf("Buffered = %d, want 1", f.Buffered())
	}

	last := f.Flush()
	if len(last) != 4 || last[0] != 9 || last[1] != 0 {
		t.Errorf("Flush = %v", last)
	}
	if f.Flush() != nil {
		t.Error("second Flush should be nil")
	}
}
