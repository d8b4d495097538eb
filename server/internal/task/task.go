package task

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind selects the download strategy for a task. The set is closed:
// anything else is rejected at submission.
type Kind string

const (
	KindDirectFile     Kind = "direct-file"
	KindMediaVideo     Kind = "media-video"
	KindMediaAudioOnly Kind = "media-audio-only"
)

func (k Kind) Valid() bool {
	switch k {
	case KindDirectFile, KindMediaVideo, KindMediaAudioOnly:
		return true
	}
	return false
}

// IsMedia reports whether the kind needs the external resolver.
func (k Kind) IsMedia() bool {
	return k == KindMediaVideo || k == KindMediaAudioOnly
}

const (
	DefaultVideoQuality = "1080p"
	DefaultAudioTier    = "high"
)

// videoHeights is the accepted video quality ladder. Labels such as
// "2160p (4K)" are accepted too, only the height prefix matters.
var videoHeights = map[string]int{
	"2160p": 2160,
	"1440p": 1440,
	"1080p": 1080,
	"720p":  720,
	"480p":  480,
	"360p":  360,
	"240p":  240,
	"144p":  144,
}

// audioBitrates maps an audio tier to its kbps ceiling.
var audioBitrates = map[string]int{
	"high":   160,
	"medium": 128,
	"low":    96,
}

// QualityHeight parses a video quality tag ("1080p", "2160p (4K)")
// into its pixel height.
func QualityHeight(quality string) (int, bool) {
	tag, _, _ := strings.Cut(strings.TrimSpace(quality), " ")
	if h, ok := videoHeights[tag]; ok {
		return h, true
	}
	// tolerate bare heights like "1080"
	if h, err := strconv.Atoi(strings.TrimSuffix(tag, "p")); err == nil {
		if _, ok := videoHeights[fmt.Sprintf("%dp", h)]; ok {
			return h, true
		}
	}
	return 0, false
}

// TierBitrate maps an audio tier tag to the highest acceptable
// average bitrate in kbps.
func TierBitrate(tier string) (int, bool) {
	br, ok := audioBitrates[strings.ToLower(strings.TrimSpace(tier))]
	return br, ok
}

// Request is what the presentation layer submits. Quality carries a
// ladder tag for media-video, an audio tier for media-audio-only and
// is ignored for direct files.
type Request struct {
	URL      string `json:"url"`
	Kind     Kind   `json:"kind"`
	Quality  string `json:"quality,omitempty"`
	Dir      string `json:"dir,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Task is the immutable descriptor of a single download. Once admitted
// nothing here changes; progress and outcome live elsewhere.
type Task struct {
	Id          string    `json:"id"`
	URL         string    `json:"url"`
	Kind        Kind      `json:"kind"`
	Quality     string    `json:"quality,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Filename    string    `json:"filename,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// New validates a request and mints a task descriptor from it. All
// checks are local, no network is touched here.
func New(req Request) (Task, error) {
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil {
		return Task{}, NewError(ErrInvalidInput, fmt.Errorf("unparsable url: %w", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Task{}, NewError(ErrInvalidInput, fmt.Errorf("unsupported url scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return Task{}, NewError(ErrInvalidInput, fmt.Errorf("url %q has no host", req.URL))
	}
	if !req.Kind.Valid() {
		return Task{}, NewError(ErrInvalidInput, fmt.Errorf("unknown kind %q", req.Kind))
	}

	quality := strings.TrimSpace(req.Quality)
	switch req.Kind {
	case KindMediaVideo:
		if quality == "" {
			quality = DefaultVideoQuality
		}
		if _, ok := QualityHeight(quality); !ok {
			return Task{}, NewError(ErrInvalidInput, fmt.Errorf("unknown video quality %q", req.Quality))
		}
	case KindMediaAudioOnly:
		if quality == "" {
			quality = DefaultAudioTier
		}
		if _, ok := TierBitrate(quality); !ok {
			return Task{}, NewError(ErrInvalidInput, fmt.Errorf("unknown audio tier %q", req.Quality))
		}
	default:
		quality = ""
	}

	return Task{
		Id:          uuid.NewString(),
		URL:         u.String(),
		Kind:        req.Kind,
		Quality:     quality,
		Destination: req.Dir,
		Filename:    req.Filename,
		SubmittedAt: time.Now(),
	}, nil
}
