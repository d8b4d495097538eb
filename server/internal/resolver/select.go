package resolver

import (
	"fmt"

	"github.com/justdownloadit/justdownloadit/server/internal/task"
)

// SelectVideo picks the video-only stream closest to the requested
// quality without exceeding it. Ties on height prefer mp4 containers,
// then the higher total bitrate, so the pick is deterministic.
func SelectVideo(streams []Stream, quality string) (Stream, error) {
	target, ok := task.QualityHeight(quality)
	if !ok {
		return Stream{}, task.NewError(task.ErrInvalidInput, fmt.Errorf("unknown video quality %q", quality))
	}

	var best Stream
	for _, s := range streams {
		if !s.HasVideo || s.HasAudio || s.Height <= 0 || s.Height > target {
			continue
		}
		if betterVideo(s, best) {
			best = s
		}
	}
	if best.Id == "" {
		return Stream{}, task.NewError(task.ErrUnresolvableSource,
			fmt.Errorf("no video stream at or below %s", quality))
	}
	return best, nil
}

func betterVideo(s, cur Stream) bool {
	if cur.Id == "" {
		return true
	}
	if s.Height != cur.Height {
		return s.Height > cur.Height
	}
	if (s.Container == "mp4") != (cur.Container == "mp4") {
		return s.Container == "mp4"
	}
	return s.Tbr > cur.Tbr
}

// SelectAudio picks the audio-only stream with the highest average
// bitrate within the tier's ceiling. Ties prefer m4a containers since
// they mux into mp4 without re-encoding.
func SelectAudio(streams []Stream, tier string) (Stream, error) {
	ceiling, ok := task.TierBitrate(tier)
	if !ok {
		return Stream{}, task.NewError(task.ErrInvalidInput, fmt.Errorf("unknown audio tier %q", tier))
	}

	var best Stream
	for _, s := range streams {
		if !s.HasAudio || s.HasVideo || s.Abr <= 0 || s.Abr > float64(ceiling) {
			continue
		}
		if betterAudio(s, best) {
			best = s
		}
	}
	if best.Id == "" {
		return Stream{}, task.NewError(task.ErrUnresolvableSource,
			fmt.Errorf("no audio stream at or below %dkbps", ceiling))
	}
	return best, nil
}

func betterAudio(s, cur Stream) bool {
	if cur.Id == "" {
		return true
	}
	if s.Abr != cur.Abr {
		return s.Abr > cur.Abr
	}
	if (s.Container == "m4a") != (cur.Container == "m4a") {
		return s.Container == "m4a"
	}
	return false
}
