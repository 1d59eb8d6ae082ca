package transcode

import (
	"fmt"
	"math"
)

// Preset describes one output profile in the encoding ladder. Bitrates are
// stored as integer kbps so the manifest bandwidth can be derived without
// string parsing; the ffmpeg argument forms are rendered on demand.
type Preset struct {
	Label     string
	Width     int
	Height    int
	VideoKbps int
	AudioKbps int
}

// Resolution renders the pixel dimensions as "WxH" for manifest metadata.
func (p Preset) Resolution() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// ScaleFilter renders the ffmpeg video filter for this preset.
func (p Preset) ScaleFilter() string {
	return fmt.Sprintf("scale=%d:%d", p.Width, p.Height)
}

// VideoBitrate renders the ffmpeg -b:v argument.
func (p Preset) VideoBitrate() string {
	return fmt.Sprintf("%dk", p.VideoKbps)
}

// AudioBitrate renders the ffmpeg -b:a argument.
func (p Preset) AudioBitrate() string {
	return fmt.Sprintf("%dk", p.AudioKbps)
}

// Bandwidth is the bits-per-second figure advertised in the master playlist.
func (p Preset) Bandwidth() int {
	return p.VideoKbps * 1000
}

// DefaultSourceHeight is assumed when probing cannot determine the source
// height, so a full ladder is always attempted.
const DefaultSourceHeight = 1080

// fixedLadder is the standard preset table ordered low to high. Plan copies
// from it; nothing mutates it.
var fixedLadder = [...]Preset{
	{Label: "360p", Width: 640, Height: 360, VideoKbps: 800, AudioKbps: 96},
	{Label: "480p", Width: 854, Height: 480, VideoKbps: 1400, AudioKbps: 128},
	{Label: "720p", Width: 1280, Height: 720, VideoKbps: 2800, AudioKbps: 128},
	{Label: "1080p", Width: 1920, Height: 1080, VideoKbps: 5000, AudioKbps: 192},
}

// FixedLadder returns a copy of the standard presets ordered low to high.
func FixedLadder() []Preset {
	out := make([]Preset, len(fixedLadder))
	copy(out, fixedLadder[:])
	return out
}

// StandardHeight reports whether a source height matches one of the fixed
// preset heights exactly.
func StandardHeight(height int) bool {
	for _, preset := range fixedLadder {
		if preset.Height == height {
			return true
		}
	}
	return false
}

// SynthesizePreset derives an ad hoc preset for a non-standard source height.
// The video bitrate scales linearly from the 1080p baseline above 1080 and
// falls back to fixed tiers below; the width assumes a 16:9 source.
func SynthesizePreset(height int) Preset {
	var videoKbps int
	switch {
	case height > 1080:
		videoKbps = int(math.Round(float64(height) / 1080 * 5000))
	case height <= 360:
		videoKbps = 800
	case height <= 480:
		videoKbps = 1400
	case height <= 720:
		videoKbps = 2800
	default:
		videoKbps = 5000
	}
	audioKbps := 128
	if height >= 720 {
		audioKbps = 192
	}
	return Preset{
		Label:     fmt.Sprintf("%dp", height),
		Width:     int(math.Round(float64(height) * 16 / 9)),
		Height:    height,
		VideoKbps: videoKbps,
		AudioKbps: audioKbps,
	}
}
