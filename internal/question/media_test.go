package question

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractMedia(t *testing.T) {
	tests := map[string]struct {
		text      string
		wantClean string
		wantURL   string
		wantType  string
	}{
		"plain text untouched": {
			text:      "Thủ đô của Việt Nam là gì?",
			wantClean: "Thủ đô của Việt Nam là gì?",
		},
		"editor artifact stripped": {
			text:      "Đây là gì? @https://cdn.example.com/photo.png data:image/png;base64",
			wantClean: "Đây là gì?",
			wantURL:   "https://cdn.example.com/photo.png",
			wantType:  "image",
		},
		"bare image url": {
			text:      "Nhận diện https://cdn.example.com/landmark.jpg",
			wantClean: "Nhận diện",
			wantURL:   "https://cdn.example.com/landmark.jpg",
			wantType:  "image",
		},
		"bare url with query string": {
			text:      "Xem hình https://cdn.example.com/a.webp?sig=abc123",
			wantClean: "Xem hình",
			wantURL:   "https://cdn.example.com/a.webp?sig=abc123",
			wantType:  "image",
		},
		"mp4 is video": {
			text:      "Đoạn phim @https://cdn.example.com/clip.mp4 data:image/png",
			wantClean: "Đoạn phim",
			wantURL:   "https://cdn.example.com/clip.mp4",
			wantType:  "video",
		},
		"plain http link is not media": {
			text:      "Đọc thêm tại https://example.com/article",
			wantClean: "Đọc thêm tại https://example.com/article",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			clean, url, mediaType := ExtractMedia(tt.text)
			assert.Equal(t, tt.wantClean, clean)
			assert.Equal(t, tt.wantURL, url)
			assert.Equal(t, tt.wantType, mediaType)
		})
	}
}
