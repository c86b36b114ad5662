package storage

import "testing"

func TestImageContentType(t *testing.T) {
	tests := []struct {
		ct, name, want string
	}{
		{"image/png", "a.bin", "image/png"},
		{"IMAGE/JPEG", "", "image/jpeg"},
		{"", "photo.JPG", "image/jpeg"},
		{"application/octet-stream", "photo.webp", "image/webp"},
		{"video/mp4", "clip.mp4", ""},
	}
	for _, tt := range tests {
		if got := ImageContentType(tt.ct, tt.name); got != tt.want {
			t.Errorf("ImageContentType(%q, %q) = %q, want %q", tt.ct, tt.name, got, tt.want)
		}
	}
}

func TestEventImageKey(t *testing.T) {
	if got := EventImageKey("e1", "abc", "image/png"); got != "events/e1/abc.png" {
		t.Errorf("unexpected key %q", got)
	}
}
