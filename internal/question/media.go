package question

import (
	"regexp"
	"strings"
)

// Legacy content embeds media inline in the question text, either as the
// "@https://... data:image/..." editor artifact or as a bare asset URL.
// Extraction strips the artifact and reports the URL separately so clients
// never have to parse text.
var (
	editorMediaRE = regexp.MustCompile(`@(https://\S+)\s+data:image/\S+`)
	bareMediaRE   = regexp.MustCompile(`(?i)@?(https://\S+?\.(?:png|jpe?g|webp|gif|mp4)(?:\?\S+)?)`)
)

// ExtractMedia splits a raw question text into clean display text and its
// embedded media URL, if any.
func ExtractMedia(text string) (clean, url, mediaType string) {
	if m := editorMediaRE.FindStringSubmatch(text); m != nil {
		clean = strings.TrimSpace(editorMediaRE.ReplaceAllString(text, ""))
		return clean, m[1], mediaTypeOf(m[1])
	}
	if m := bareMediaRE.FindStringSubmatch(text); m != nil {
		clean = strings.TrimSpace(strings.Replace(text, m[0], "", 1))
		return clean, m[1], mediaTypeOf(m[1])
	}
	return text, "", ""
}

func mediaTypeOf(url string) string {
	if strings.Contains(strings.ToLower(url), ".mp4") {
		return "video"
	}
	return "image"
}
