package queue

import (
	"encoding/json"
	"errors"
	"testing"

	redis "github.com/redis/go-redis/v9"

	"vodforge/internal/models"
)

func TestExtractPayload(t *testing.T) {
	fields := []interface{}{"payload", `{"videoId":"abc"}`, "other", "ignored"}
	if got := string(extractPayload(fields)); got != `{"videoId":"abc"}` {
		t.Fatalf("extractPayload = %q", got)
	}

	binary := []interface{}{[]byte("payload"), []byte("data")}
	if got := string(extractPayload(binary)); got != "data" {
		t.Fatalf("extractPayload binary = %q", got)
	}

	if got := extractPayload([]interface{}{"unrelated", "x"}); got != nil {
		t.Fatalf("extractPayload unrelated = %q", got)
	}
	if got := extractPayload(nil); got != nil {
		t.Fatalf("extractPayload nil = %q", got)
	}
}

func TestAsString(t *testing.T) {
	if v, ok := asString("plain"); !ok || v != "plain" {
		t.Fatalf("asString(string) = %q, %v", v, ok)
	}
	if v, ok := asString([]byte("bytes")); !ok || v != "bytes" {
		t.Fatalf("asString([]byte) = %q, %v", v, ok)
	}
	if _, ok := asString(42); ok {
		t.Fatal("asString(int) reported ok")
	}
}

func TestIsBusyGroup(t *testing.T) {
	if !isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")) {
		t.Fatal("BUSYGROUP not recognised")
	}
	if isBusyGroup(errors.New("connection refused")) {
		t.Fatal("unrelated error treated as busy group")
	}
	if isBusyGroup(nil) {
		t.Fatal("nil error treated as busy group")
	}
}

func TestIsNilReply(t *testing.T) {
	if !isNilReply(errors.New("redis: nil reply")) {
		t.Fatal("nil reply not recognised")
	}
	if !isNilReply(redis.Nil) {
		t.Fatal("redis.Nil not recognised")
	}
	if isNilReply(errors.New("i/o timeout")) {
		t.Fatal("network timeout treated as an empty read")
	}
	if isNilReply(errors.New("WRONGTYPE operation")) {
		t.Fatal("unrelated error treated as nil reply")
	}
}

func TestJobPayloadRoundTrip(t *testing.T) {
	job := models.TranscodeJob{
		VideoID:   "abc123",
		InputPath: "data/uploads/abc123.mp4",
		OutputDir: "data/output/abc123",
		Attempt:   1,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded models.TranscodeJob
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != job {
		t.Fatalf("round trip mismatch: %+v != %+v", decoded, job)
	}
}

func TestRandomConsumerID(t *testing.T) {
	first := randomConsumerID()
	second := randomConsumerID()
	if first == "" || first == second {
		t.Fatalf("consumer ids not unique: %q, %q", first, second)
	}
}
