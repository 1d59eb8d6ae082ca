// Package transcode implements the VOD transcoding pipeline: planning a
// rendition ladder from the source's probed height, driving ffmpeg once per
// rendition (progressive MP4 or segmented HLS), assembling the master
// playlist, and moving the persisted video record through its lifecycle
// states.
package transcode
