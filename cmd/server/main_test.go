package main

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "value", "later"); got != "value" {
		t.Fatalf("firstNonEmpty = %q", got)
	}
	if got := firstNonEmpty("", "   "); got != "" {
		t.Fatalf("firstNonEmpty on blanks = %q", got)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" https://a.example.com , ,https://b.example.com ")
	want := []string{"https://a.example.com", "https://b.example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitAndTrim = %v, want %v", got, want)
	}
	if got := splitAndTrim("  "); got != nil {
		t.Fatalf("splitAndTrim on blank = %v", got)
	}
}

func TestResolveIntPrefersFlag(t *testing.T) {
	t.Setenv("VODFORGE_TEST_INT", "7")
	if got := resolveInt(3, "VODFORGE_TEST_INT"); got != 3 {
		t.Fatalf("resolveInt = %d, want flag value 3", got)
	}
	if got := resolveInt(0, "VODFORGE_TEST_INT"); got != 7 {
		t.Fatalf("resolveInt = %d, want env value 7", got)
	}
	t.Setenv("VODFORGE_TEST_INT", "not a number")
	if got := resolveInt(0, "VODFORGE_TEST_INT"); got != 0 {
		t.Fatalf("resolveInt on junk env = %d", got)
	}
}

func TestResolveDuration(t *testing.T) {
	t.Setenv("VODFORGE_TEST_DURATION", "90s")
	if got := resolveDuration(time.Minute, "VODFORGE_TEST_DURATION"); got != time.Minute {
		t.Fatalf("resolveDuration = %s, want flag value 1m", got)
	}
	if got := resolveDuration(0, "VODFORGE_TEST_DURATION"); got != 90*time.Second {
		t.Fatalf("resolveDuration = %s, want env value 90s", got)
	}
}

func TestBuildStoreDefaultsToJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := buildStore(storeOptions{DataPath: path})
	if err != nil {
		t.Fatalf("buildStore: %v", err)
	}
	defer store.Close(context.Background())
}

func TestBuildStoreRejectsPostgresWithoutDSN(t *testing.T) {
	if _, err := buildStore(storeOptions{Driver: "postgres"}); err == nil {
		t.Fatal("expected error for postgres without DSN")
	}
}

func TestBuildStoreRejectsUnknownDriver(t *testing.T) {
	if _, err := buildStore(storeOptions{Driver: "sqlite"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
