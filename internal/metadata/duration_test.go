package metadata

import "testing"

func TestDurationSeconds(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"PT1H2M3S", 3723, false},
		{"PT45S", 45, false},
		{"PT10M", 600, false},
		{"P1DT2H", 93600, false},
		{"P0D", 0, false},
		{"P1W", 604800, false},
		{"PT1M30.5S", 90, false},
		{"", 0, true},
		{"1H", 0, true},
		{"PTX", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := durationSeconds(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("durationSeconds(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("durationSeconds(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
