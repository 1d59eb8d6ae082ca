package transcode

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MasterPlaylistName is the well-known filename of the master manifest inside
// a job's HLS output directory.
const MasterPlaylistName = "master.m3u8"

// BuildMasterManifest renders the master playlist referencing each rendition's
// segment playlist by relative path, in ladder order. The format is consumed
// byte-for-byte by players, so the layout here is deliberate.
func BuildMasterManifest(ladder []Preset) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n\n")
	for _, preset := range ladder {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s\n%s.m3u8\n\n",
			preset.Bandwidth(), preset.Resolution(), preset.Label)
	}
	return b.String()
}

// WriteMasterManifest writes the master playlist into dir via a temp file and
// rename so readers never observe a partial manifest. It returns the final
// path.
func WriteMasterManifest(dir string, ladder []Preset) (string, error) {
	path := filepath.Join(dir, MasterPlaylistName)
	tmp, err := os.CreateTemp(dir, "master-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create manifest temp file: %w", err)
	}
	if _, err := tmp.WriteString(BuildMasterManifest(ladder)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("flush manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("publish manifest: %w", err)
	}
	return path, nil
}
