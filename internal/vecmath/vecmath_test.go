package vecmath

import (
	"errors"
	"math"
	"testing"
)

const epsilon = 1e-6

// TestNormalize tests L2 normalization.
func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    []float32
		wantNorm float64
	}{
		{
			name:     "unit vector stays unit",
			input:    []float32{1, 0, 0},
			wantNorm: 1.0,
		},
		{
			name:     "arbitrary vector normalizes to unit",
			input:    []float32{3, 4},
			wantNorm: 1.0,
		},
		{
			name:     "negative components",
			input:    []float32{-1, 2, -3},
			wantNorm: 1.0,
		},
		{
			name:     "zero vector stays zero",
			input:    []float32{0, 0, 0},
			wantNorm: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			if len(got) != len(tt.input) {
				t.Fatalf("expected dimension %d, got %d", len(tt.input), len(got))
			}
			if math.Abs(Norm(got)-tt.wantNorm) > epsilon {
				t.Errorf("expected norm %f, got %f", tt.wantNorm, Norm(got))
			}
		})
	}
}

// TestNormalizeDoesNotMutateInput verifies the input slice is untouched.
func TestNormalizeDoesNotMutateInput(t *testing.T) {
	in := []float32{3, 4}
	_ = Normalize(in)
	if in[0] != 3 || in[1] != 4 {
		t.Errorf("input was mutated: %v", in)
	}
}

// TestMean tests the element-wise mean.
func TestMean(t *testing.T) {
	tests := []struct {
		name    string
		input   [][]float32
		want    []float32
		wantErr error
	}{
		{
			name:  "single vector is its own mean",
			input: [][]float32{{1, 2, 3}},
			want:  []float32{1, 2, 3},
		},
		{
			name:  "two vectors average element-wise",
			input: [][]float32{{0, 2}, {2, 0}},
			want:  []float32{1, 1},
		},
		{
			name:    "empty input",
			input:   nil,
			wantErr: ErrEmptyInput,
		},
		{
			name:    "dimension mismatch",
			input:   [][]float32{{1, 2}, {1, 2, 3}},
			wantErr: ErrDimensionMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Mean(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected error %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i := range tt.want {
				if math.Abs(float64(got[i]-tt.want[i])) > epsilon {
					t.Errorf("index %d: expected %f, got %f", i, tt.want[i], got[i])
				}
			}
		})
	}
}

// TestCosine tests cosine similarity.
func TestCosine(t *testing.T) {
	tests := []struct {
		name    string
		a, b    []float32
		want    float64
		wantErr error
	}{
		{
			name: "identical direction",
			a:    []float32{1, 2, 3},
			b:    []float32{2, 4, 6},
			want: 1.0,
		},
		{
			name: "orthogonal",
			a:    []float32{1, 0},
			b:    []float32{0, 1},
			want: 0.0,
		},
		{
			name: "opposite direction",
			a:    []float32{1, 0},
			b:    []float32{-1, 0},
			want: -1.0,
		},
		{
			name: "zero vector yields zero similarity",
			a:    []float32{0, 0},
			b:    []float32{1, 1},
			want: 0.0,
		},
		{
			name:    "dimension mismatch",
			a:       []float32{1, 2},
			b:       []float32{1, 2, 3},
			wantErr: ErrDimensionMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected error %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > epsilon {
				t.Errorf("expected %f, got %f", tt.want, got)
			}
		})
	}
}

// TestAddScaled tests in-place scaled addition.
func TestAddScaled(t *testing.T) {
	dst := []float32{1, 1}
	if err := AddScaled(dst, []float32{2, 4}, 0.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dst[0] != 2 || dst[1] != 3 {
		t.Errorf("expected [2 3], got %v", dst)
	}

	if err := AddScaled(dst, []float32{1}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

// TestPackUnpackRoundTrip verifies the wire codec is a lossless round trip.
func TestPackUnpackRoundTrip(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, math.MaxFloat32, -3.25e-12}
	blob := Pack(in)
	if len(blob) != len(in)*4 {
		t.Fatalf("expected %d bytes, got %d", len(in)*4, len(blob))
	}
	out, err := Unpack(blob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("index %d: expected %v, got %v", i, in[i], out[i])
		}
	}
}

// TestUnpackMalformed verifies blobs of invalid length are rejected.
func TestUnpackMalformed(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{name: "empty blob", blob: nil},
		{name: "truncated blob", blob: []byte{1, 2, 3}},
		{name: "trailing bytes", blob: []byte{1, 2, 3, 4, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unpack(tt.blob); !errors.Is(err, ErrMalformedBlob) {
				t.Errorf("expected ErrMalformedBlob, got %v", err)
			}
		})
	}
}

// TestPackLittleEndian pins the wire format to little-endian float32.
func TestPackLittleEndian(t *testing.T) {
	blob := Pack([]float32{1.0})
	// IEEE 754 float32 for 1.0 is 0x3f800000; little-endian puts the low byte first.
	want := []byte{0x00, 0x00, 0x80, 0x3f}
	for i := range want {
		if blob[i] != want[i] {
			t.Fatalf("byte %d: expected %#02x, got %#02x", i, want[i], blob[i])
		}
	}
}
