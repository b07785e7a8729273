package classify

import (
	"path"
	"strings"

	"github.com/smoosense/smoosense/pkg/types"
)

var mediaExtensions = map[string]types.SemanticTag{
	".jpg": types.TagImage, ".jpeg": types.TagImage, ".png": types.TagImage,
	".gif": types.TagImage, ".webp": types.TagImage, ".bmp": types.TagImage,
	".svg": types.TagImage, ".tif": types.TagImage, ".tiff": types.TagImage,
	".avif": types.TagImage, ".heic": types.TagImage,

	".mp3": types.TagAudio, ".wav": types.TagAudio, ".flac": types.TagAudio,
	".ogg": types.TagAudio, ".m4a": types.TagAudio, ".aac": types.TagAudio,
	".opus": types.TagAudio,

	".mp4": types.TagVideo, ".webm": types.TagVideo, ".mov": types.TagVideo,
	".mkv": types.TagVideo, ".avi": types.TagVideo, ".m4v": types.TagVideo,
}

var urlSchemes = []string{"http://", "https://", "s3://", "gs://", "file://"}

// dominance is the share of samples that must agree on a media kind.
const dominance = 0.8

// MediaKind returns the media tag implied by a reference's extension, or
// "" when the extension is not a known media type. Query strings and
// fragments are ignored.
func MediaKind(ref string) types.SemanticTag {
	ref = strings.TrimSpace(ref)
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	return mediaExtensions[strings.ToLower(path.Ext(ref))]
}

// IsURL reports whether s starts with a supported scheme.
func IsURL(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	for _, scheme := range urlSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// sniff inspects sampled values. kind is the dominant media tag if any;
// allURLs is true when every sample carries a URL scheme.
func sniff(samples []string) (kind types.SemanticTag, allURLs bool) {
	counts := make(map[types.SemanticTag]int)
	total, urls := 0, 0
	for _, s := range samples {
		if strings.TrimSpace(s) == "" {
			continue
		}
		total++
		if IsURL(s) {
			urls++
		}
		if k := MediaKind(s); k != "" {
			counts[k]++
		}
	}
	if total == 0 {
		return "", false
	}
	for k, n := range counts {
		if float64(n) >= dominance*float64(total) {
			kind = k
		}
	}
	return kind, urls == total
}
