package transcode

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildMasterManifestExactLayout(t *testing.T) {
	ladder := []Preset{
		{Label: "360p", Width: 640, Height: 360, VideoKbps: 800, AudioKbps: 96},
		{Label: "720p", Width: 1280, Height: 720, VideoKbps: 2800, AudioKbps: 128},
	}
	want := "#EXTM3U\n#EXT-X-VERSION:3\n\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360\n360p.m3u8\n\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720\n720p.m3u8\n\n"
	if got := BuildMasterManifest(ladder); got != want {
		t.Fatalf("manifest mismatch\ngot:\n%q\nwant:\n%q", got, want)
	}
}

func TestBuildMasterManifestEmptyLadder(t *testing.T) {
	want := "#EXTM3U\n#EXT-X-VERSION:3\n\n"
	if got := BuildMasterManifest(nil); got != want {
		t.Fatalf("manifest = %q, want header only", got)
	}
}

func TestBuildMasterManifestFollowsPlannerOrder(t *testing.T) {
	planner := Planner{Policy: PolicySourceCapped}
	ladder := planner.Plan(1080)
	manifest := BuildMasterManifest(ladder)
	order := []string{"360p.m3u8", "480p.m3u8", "720p.m3u8", "1080p.m3u8"}
	last := -1
	for _, name := range order {
		idx := strings.Index(manifest, name)
		if idx < 0 {
			t.Fatalf("manifest missing %s:\n%s", name, manifest)
		}
		if idx < last {
			t.Fatalf("manifest out of ladder order:\n%s", manifest)
		}
		last = idx
	}
}

func TestWriteMasterManifest(t *testing.T) {
	dir := t.TempDir()
	ladder := []Preset{{Label: "480p", Width: 854, Height: 480, VideoKbps: 1400, AudioKbps: 128}}

	path, err := WriteMasterManifest(dir, ladder)
	if err != nil {
		t.Fatalf("WriteMasterManifest: %v", err)
	}
	if filepath.Base(path) != MasterPlaylistName {
		t.Fatalf("manifest path = %q, want %s", path, MasterPlaylistName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if string(data) != BuildMasterManifest(ladder) {
		t.Fatalf("written manifest differs from rendered content")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestWriteMasterManifestMissingDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent")
	if _, err := WriteMasterManifest(missing, FixedLadder()); err == nil {
		t.Fatal("expected error writing into missing directory")
	}
}
