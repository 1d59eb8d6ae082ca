package transcode

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// SourceInfo holds the probed attributes of an uploaded source that the
// pipeline cares about. Height drives rendition planning and Duration drives
// progress estimation; both may be zero when the source omits them.
type SourceInfo struct {
	Width    int
	Height   int
	Duration time.Duration
	Codec    string
	Format   string
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type ffprobeStream struct {
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Duration  string `json:"duration"`
}

// ParseProbeJSON converts raw ffprobe JSON output into a SourceInfo. Exported
// for testing without a real ffprobe binary.
func ParseProbeJSON(data []byte) (SourceInfo, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return SourceInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	info := SourceInfo{Format: raw.Format.FormatName}
	info.Duration = parseSeconds(raw.Format.Duration)
	for _, stream := range raw.Streams {
		if stream.CodecType != "video" {
			continue
		}
		info.Width = stream.Width
		info.Height = stream.Height
		info.Codec = stream.CodecName
		if info.Duration == 0 {
			info.Duration = parseSeconds(stream.Duration)
		}
		break
	}
	return info, nil
}

func parseSeconds(value string) time.Duration {
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func probeFile(ctx context.Context, binary, path string) (SourceInfo, error) {
	cmd := exec.CommandContext(ctx, binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return SourceInfo{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return ParseProbeJSON(out)
}
