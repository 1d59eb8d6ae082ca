package models

import "time"

// Video lifecycle statuses. A record is created as StatusProcessing by the
// upload API before its job is enqueued and only the transcode pipeline moves
// it to a terminal status. StatusCompleted is monotonic: once set, later
// deliveries of the same job must not regress it.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// VideoRecord is the durable entity tracked per uploaded video. Renditions
// maps a rendition label to the relative output path of that rendition's
// artifact (a progressive MP4 or a segment playlist). MasterPlaylist is set
// only for HLS outputs.
type VideoRecord struct {
	ID             string            `json:"id"`
	OriginalName   string            `json:"originalName"`
	Filename       string            `json:"filename"`
	Status         string            `json:"status"`
	Renditions     map[string]string `json:"renditions,omitempty"`
	MasterPlaylist string            `json:"masterPlaylist,omitempty"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// TranscodeJob is the unit of work carried by the queue. It exists only for
// the duration of one delivery; the queue's own bookkeeping tracks Attempt
// across redeliveries.
type TranscodeJob struct {
	VideoID   string `json:"videoId"`
	InputPath string `json:"inputPath"`
	OutputDir string `json:"outputDir"`
	Attempt   int    `json:"attempt,omitempty"`
}

// TerminalStatus reports whether a status will never change again.
func TerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}
