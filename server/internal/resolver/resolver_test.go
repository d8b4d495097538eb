package resolver

import (
	"testing"

	"github.com/justdownloadit/justdownloadit/server/internal/task"
)

const sampleProbe = `{
	"_type": "video",
	"title": "Some Talk",
	"duration": 1800.5,
	"formats": [
		{"format_id": "140", "url": "https://cdn/a140", "ext": "m4a", "abr": 129.5, "vcodec": "none", "acodec": "mp4a.40.2", "format_note": "medium"},
		{"format_id": "251", "url": "https://cdn/a251", "ext": "webm", "abr": 158.2, "vcodec": "none", "acodec": "opus"},
		{"format_id": "136", "url": "https://cdn/v136", "ext": "mp4", "height": 720, "tbr": 1200, "vcodec": "avc1", "acodec": "none"},
		{"format_id": "247", "url": "https://cdn/v247", "ext": "webm", "height": 720, "tbr": 1100, "vcodec": "vp9", "acodec": "none"},
		{"format_id": "135", "url": "https://cdn/v135", "ext": "mp4", "height": 480, "tbr": 600, "vcodec": "avc1", "acodec": "none"},
		{"format_id": "18", "url": "https://cdn/muxed", "ext": "mp4", "height": 360, "tbr": 500, "vcodec": "avc1", "acodec": "mp4a.40.2"}
	]
}`

func TestParseInfo(t *testing.T) {
	info, err := parseInfo([]byte(sampleProbe))
	if err != nil {
		t.Fatal(err)
	}
	if info.Title != "Some Talk" {
		t.Fatalf("title = %q", info.Title)
	}
	if len(info.Streams) != 6 {
		t.Fatalf("streams = %d, want 6", len(info.Streams))
	}

	muxed := info.Streams[5]
	if !muxed.HasVideo || !muxed.HasAudio {
		t.Fatalf("muxed stream misclassified: %+v", muxed)
	}
	audio := info.Streams[0]
	if audio.HasVideo || !audio.HasAudio {
		t.Fatalf("audio stream misclassified: %+v", audio)
	}
}

func TestParseInfoGarbage(t *testing.T) {
	if _, err := parseInfo([]byte("not json")); err == nil {
		t.Fatal("garbage accepted")
	}
	if _, err := parseInfo([]byte("{}")); err == nil {
		t.Fatal("empty probe accepted")
	}
}

func TestSelectVideoClosestBelow(t *testing.T) {
	info, _ := parseInfo([]byte(sampleProbe))

	// only 720p and 480p exist, a 1080p request takes the 720p one
	got, err := SelectVideo(info.Streams, "1080p")
	if err != nil {
		t.Fatal(err)
	}
	if got.Height != 720 {
		t.Fatalf("picked %dp, want 720p", got.Height)
	}
	if got.Container != "mp4" {
		t.Fatalf("tie on height must prefer mp4, got %s (%s)", got.Container, got.Id)
	}

	got, err = SelectVideo(info.Streams, "480p")
	if err != nil || got.Id != "135" {
		t.Fatalf("exact match not honored: %+v, %v", got, err)
	}

	if _, err := SelectVideo(info.Streams, "144p"); !task.IsClassification(err, task.ErrUnresolvableSource) {
		t.Fatalf("nothing at or below request must be unresolvable, got %v", err)
	}

	if _, err := SelectVideo(info.Streams, "strange"); !task.IsClassification(err, task.ErrInvalidInput) {
		t.Fatalf("unknown ladder tag must be invalid-input, got %v", err)
	}
}

func TestSelectVideoIgnoresMuxed(t *testing.T) {
	info, _ := parseInfo([]byte(sampleProbe))
	got, err := SelectVideo(info.Streams, "360p")
	if !task.IsClassification(err, task.ErrUnresolvableSource) {
		t.Fatalf("muxed 360p must not satisfy a video-only pick, got %+v %v", got, err)
	}
}

func TestSelectAudio(t *testing.T) {
	info, _ := parseInfo([]byte(sampleProbe))

	got, err := SelectAudio(info.Streams, "high")
	if err != nil {
		t.Fatal(err)
	}
	if got.Id != "251" {
		t.Fatalf("high tier should take the 158kbps stream, got %s", got.Id)
	}

	got, err = SelectAudio(info.Streams, "low")
	if !task.IsClassification(err, task.ErrUnresolvableSource) {
		t.Fatalf("no stream under 96kbps, got %+v %v", got, err)
	}
}

func TestParsePlaylist(t *testing.T) {
	const sample = `{
		"_type": "playlist",
		"title": "Mix",
		"entries": [
			{"url": "https://youtube.com/watch?v=a", "title": "A"},
			{"url": "https://youtube.com/watch?v=b", "title": "B"},
			{"url": "https://youtube.com/watch?v=a", "title": "A again"},
			{"url": "https://youtube.com/playlist?list=nested", "title": "nested"}
		]
	}`

	entries, err := parsePlaylist([]byte(sample), "ignored")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 after dedup and nested-list drop", len(entries))
	}
	if entries[0].URL != "https://youtube.com/watch?v=a" || entries[1].URL != "https://youtube.com/watch?v=b" {
		t.Fatalf("order not preserved: %+v", entries)
	}
}

func TestParsePlaylistSingleVideo(t *testing.T) {
	entries, err := parsePlaylist([]byte(`{"_type": "video", "title": "solo"}`), "https://youtube.com/watch?v=solo")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].URL != "https://youtube.com/watch?v=solo" {
		t.Fatalf("single video must expand to itself: %+v", entries)
	}
}

func TestIsPlaylistURL(t *testing.T) {
	cases := map[string]bool{
		"https://youtube.com/watch?v=x&list=PLxyz": true,
		"https://youtube.com/playlist?list=PLxyz":  true,
		"https://music.site/playlist/123":          true,
		"https://youtube.com/watch?v=x":            false,
		"https://example.org/file.iso":             false,
	}
	for in, want := range cases {
		if got := IsPlaylistURL(in); got != want {
			t.Errorf("IsPlaylistURL(%q) = %v, want %v", in, got, want)
		}
	}
}
