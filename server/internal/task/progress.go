package task

// Stage labels where a worker currently is in its pipeline.
type Stage string

const (
	StageResolving   Stage = "resolving"
	StageDownloading Stage = "downloading"
	StageMuxing      Stage = "muxing"
	StageFinalizing  Stage = "finalizing"
)

// Progress is a point-in-time snapshot emitted by a worker. BytesTotal
// is 0 while the source does not advertise a size. Speed is bytes/s
// measured since the previous report. Percent carries the muxing
// completion, which has no byte count to derive it from.
type Progress struct {
	Stage      Stage   `json:"stage"`
	BytesDone  int64   `json:"bytes_done"`
	BytesTotal int64   `json:"bytes_total,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	Percent    float64 `json:"percent,omitempty"`
}

// Percentage is 0..100 or 0 while the total is unknown.
func (p Progress) Percentage() float64 {
	if p.BytesTotal <= 0 {
		return 0
	}
	return float64(p.BytesDone) / float64(p.BytesTotal) * 100
}
