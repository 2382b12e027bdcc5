package transcoder

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBuildHLSArgs(t *testing.T) {
	args := buildHLSArgs("/data/events/3/clip.mp4", "/hls/3/clip")

	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-i /data/events/3/clip.mp4",
		"-c:v libx264",
		"-crf 21",
		"-c:a aac",
		"-b:a 128k",
		"-hls_time 10",
		"-hls_list_size 0",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}

	if args[len(args)-1] != filepath.Join("/hls/3/clip", "index.m3u8") {
		t.Errorf("last arg = %q, want playlist path", args[len(args)-1])
	}

	segIdx := -1
	for i, a := range args {
		if a == "-hls_segment_filename" {
			segIdx = i
		}
	}
	if segIdx == -1 || segIdx+1 >= len(args) {
		t.Fatal("missing -hls_segment_filename")
	}
	if !strings.HasSuffix(args[segIdx+1], "segment_%03d.ts") {
		t.Errorf("segment pattern = %q", args[segIdx+1])
	}
}

func TestParseProbeDuration(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    float64
		wantErr bool
	}{
		{"plain", "12.5\n", 12.5, false},
		{"integer", "90\n", 90, false},
		{"garbage", "N/A\n", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProbeDuration(tt.out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseProbeDuration(%q) error = %v, wantErr %v", tt.out, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseProbeDuration(%q) = %v, want %v", tt.out, got, tt.want)
			}
		})
	}
}

func TestParseCreationTime(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want time.Time
	}{
		{"rfc3339", "2024-06-01T10:30:00Z\n", time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)},
		{"mp4 style", "2024-06-01T10:30:00.000000Z\n", time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)},
		{"empty", "\n", time.Time{}},
		{"garbage", "yesterday\n", time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCreationTime(tt.out)
			if !got.Equal(tt.want) {
				t.Errorf("parseCreationTime(%q) = %v, want %v", tt.out, got, tt.want)
			}
		})
	}
}
