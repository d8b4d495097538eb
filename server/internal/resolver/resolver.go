// Package resolver drives the external media resolver binary (yt-dlp
// compatible) to turn a page URL into concrete downloadable streams,
// and picks the streams matching a requested quality.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os/exec"
	"strings"
	"syscall"

	"github.com/justdownloadit/justdownloadit/server/internal/task"
)

// Stream is one candidate stream advertised by the source.
type Stream struct {
	Id        string  `json:"id"`
	URL       string  `json:"url,omitempty"`
	Container string  `json:"container"`
	Height    int     `json:"height,omitempty"`
	Tbr       float64 `json:"tbr,omitempty"`
	Abr       float64 `json:"abr,omitempty"`
	HasVideo  bool    `json:"has_video"`
	HasAudio  bool    `json:"has_audio"`
	Label     string  `json:"label,omitempty"`
	Filesize  int64   `json:"filesize,omitempty"`
}

// Info is the outcome of probing a single media URL.
type Info struct {
	Title    string   `json:"title"`
	Duration float64  `json:"duration,omitempty"`
	Streams  []Stream `json:"streams"`
}

// PlaylistEntry is one video of an expanded playlist.
type PlaylistEntry struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

type Resolver struct {
	binPath string
}

func New(binPath string) *Resolver {
	return &Resolver{binPath: binPath}
}

// Resolve probes url and returns its title and candidate streams.
func (r *Resolver) Resolve(ctx context.Context, mediaURL string) (*Info, error) {
	slog.Info("resolving media url", slog.String("url", mediaURL))

	out, err := r.run(ctx, mediaURL, "--no-playlist", "-J")
	if err != nil {
		return nil, err
	}

	info, err := parseInfo(out)
	if err != nil {
		return nil, task.NewError(task.ErrUnresolvableSource, err)
	}
	return info, nil
}

// ExpandPlaylist resolves url with flat playlist extraction and
// returns one entry per video, deduplicated, in playlist order. A URL
// that turns out not to be a playlist yields itself as single entry.
func (r *Resolver) ExpandPlaylist(ctx context.Context, playlistURL string) ([]PlaylistEntry, error) {
	slog.Info("expanding playlist", slog.String("url", playlistURL))

	out, err := r.run(ctx, playlistURL, "--flat-playlist", "-J")
	if err != nil {
		return nil, err
	}

	entries, err := parsePlaylist(out, playlistURL)
	if err != nil {
		return nil, task.NewError(task.ErrUnresolvableSource, err)
	}

	slog.Info("playlist expanded",
		slog.String("url", playlistURL),
		slog.Int("count", len(entries)),
	)
	return entries, nil
}

// run executes the resolver binary and returns its stdout. The child
// is spawned in its own process group so cancellation takes the whole
// subprocess tree down, helpers included.
func (r *Resolver) run(ctx context.Context, mediaURL string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.binPath, append([]string{mediaURL}, args...)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pgid, err := syscall.Getpgid(cmd.Process.Pid)
		if err != nil {
			return cmd.Process.Kill()
		}
		return syscall.Kill(-pgid, syscall.SIGTERM)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, task.NewError(task.ErrWorkerCrashed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, task.NewError(task.ErrWorkerCrashed, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, task.NewError(task.ErrUnresolvableSource, fmt.Errorf("starting resolver: %w", err))
	}

	var bufferedStderr bytes.Buffer
	go io.Copy(&bufferedStderr, stderr)

	out, readErr := io.ReadAll(stdout)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, task.NewError(task.ErrCancelled, context.Canceled)
		}
		return nil, task.NewError(task.ErrUnresolvableSource, errors.New(strings.TrimSpace(bufferedStderr.String())))
	}
	if readErr != nil {
		return nil, task.NewError(task.ErrUnresolvableSource, readErr)
	}

	return out, nil
}

// IsPlaylistURL is the submission-time heuristic for playlist links.
func IsPlaylistURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Query().Has("list") {
		return true
	}
	return strings.Contains(u.Path, "/playlist")
}

// raw shapes of the resolver's -J output

type rawInfo struct {
	Type     string      `json:"_type"`
	Title    string      `json:"title"`
	Duration float64     `json:"duration"`
	Formats  []rawFormat `json:"formats"`
	Entries  []rawEntry  `json:"entries"`
}

type rawFormat struct {
	FormatId   string  `json:"format_id"`
	URL        string  `json:"url"`
	Ext        string  `json:"ext"`
	Height     int     `json:"height"`
	Tbr        float64 `json:"tbr"`
	Abr        float64 `json:"abr"`
	Vcodec     string  `json:"vcodec"`
	Acodec     string  `json:"acodec"`
	FormatNote string  `json:"format_note"`
	Filesize   int64   `json:"filesize"`
}

type rawEntry struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

func parseInfo(data []byte) (*Info, error) {
	var raw rawInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("undecodable resolver output: %w", err)
	}
	if raw.Title == "" && len(raw.Formats) == 0 {
		return nil, errors.New("resolver returned no usable info")
	}

	info := &Info{
		Title:    raw.Title,
		Duration: raw.Duration,
		Streams:  make([]Stream, 0, len(raw.Formats)),
	}
	for _, f := range raw.Formats {
		info.Streams = append(info.Streams, Stream{
			Id:        f.FormatId,
			URL:       f.URL,
			Container: f.Ext,
			Height:    f.Height,
			Tbr:       f.Tbr,
			Abr:       f.Abr,
			HasVideo:  f.Vcodec != "" && f.Vcodec != "none",
			HasAudio:  f.Acodec != "" && f.Acodec != "none",
			Label:     f.FormatNote,
			Filesize:  f.Filesize,
		})
	}
	return info, nil
}

func parsePlaylist(data []byte, fallbackURL string) ([]PlaylistEntry, error) {
	var raw rawInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("undecodable resolver output: %w", err)
	}
	if raw.Type == "" {
		return nil, errors.New("probably not a valid URL")
	}

	if raw.Type != "playlist" {
		return []PlaylistEntry{{URL: fallbackURL, Title: raw.Title}}, nil
	}

	seen := make(map[string]bool, len(raw.Entries))
	entries := make([]PlaylistEntry, 0, len(raw.Entries))
	for _, e := range raw.Entries {
		// nested playlist links make no sense as queue entries
		if e.URL == "" || seen[e.URL] || strings.Contains(e.URL, "list=") {
			continue
		}
		seen[e.URL] = true
		entries = append(entries, PlaylistEntry{URL: e.URL, Title: e.Title})
	}
	if len(entries) == 0 {
		return nil, errors.New("playlist with no downloadable entries")
	}
	return entries, nil
}
