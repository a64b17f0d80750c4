package seeds

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func writeSeeds(t *testing.T, contents ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(contents))
	for i, c := range contents {
		paths[i] = filepath.Join(dir, string(rune('a'+i))+".bin")
		if err := os.WriteFile(paths[i], []byte(c), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return paths
}

func TestSource_NoSeedsReturnsDefault(t *testing.T) {
	src := NewSource(nil, ModeSequential, nil)

	data, path, err := src.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(data) != "PING" {
		t.Errorf("data = %q, want PING", data)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}

	// Callers may mutate the returned slice freely
	data[0] = 'X'
	again, _, _ := src.Next()
	if string(again) != "PING" {
		t.Errorf("default payload was modified: %q", again)
	}
}

func TestSource_SequentialWrapsAround(t *testing.T) {
	paths := writeSeeds(t, "one", "two", "three")
	src := NewSource(paths, ModeSequential, nil)

	if src.Len() != 3 {
		t.Errorf("Len() = %d, want 3", src.Len())
	}

	want := []string{"one", "two", "three", "one", "two"}
	for i, w := range want {
		data, path, err := src.Next()
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if string(data) != w {
			t.Errorf("Next %d = %q, want %q", i, data, w)
		}
		if path != paths[i%3] {
			t.Errorf("Next %d path = %q, want %q", i, path, paths[i%3])
		}
	}
}

func TestSource_RereadsFileEachTime(t *testing.T) {
	paths := writeSeeds(t, "before")
	src := NewSource(paths, ModeSequential, nil)

	data, _, _ := src.Next()
	if string(data) != "before" {
		t.Fatalf("data = %q", data)
	}

	if err := os.WriteFile(paths[0], []byte("after"), 0644); err != nil {
		t.Fatal(err)
	}
	data, _, _ = src.Next()
	if string(data) != "after" {
		t.Errorf("data = %q, want after", data)
	}
}

func TestSource_MissingFileFallsBack(t *testing.T) {
	src := NewSource([]string{filepath.Join(t.TempDir(), "gone.bin")}, ModeSequential, nil)

	data, path, err := src.Next()
	if err == nil {
		t.Error("expected read error")
	}
	if !bytes.Equal(data, DefaultPayload) {
		t.Errorf("data = %q, want default payload", data)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}
}

func TestSource_RandomMode(t *testing.T) {
	paths := writeSeeds(t, "a", "b", "c")
	src := NewSource(paths, ModeRandom, rand.NewSource(3))

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		data, _, err := src.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		seen[string(data)] = true
	}
	if len(seen) != 3 {
		t.Errorf("random mode visited %d seeds, want 3", len(seen))
	}
}

func TestSource_ConcurrentNext(t *testing.T) {
	paths := writeSeeds(t, "x", "y")
	src := NewSource(paths, ModeSequential, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, _, err := src.Next(); err != nil {
					t.Errorf("Next: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestResolve(t *testing.T) {
	got := Resolve([]string{"seeds/a.bin", "/abs/b.bin"}, "/etc/faultline")
	if got[0] != filepath.Join("/etc/faultline", "seeds/a.bin") {
		t.Errorf("got[0] = %q", got[0])
	}
	if got[1] != "/abs/b.bin" {
		t.Errorf("got[1] = %q", got[1])
	}

	same := Resolve([]string{"rel.bin"}, "")
	if same[0] != "rel.bin" {
		t.Errorf("empty base changed path: %q", same[0])
	}
}

func TestCheck(t *testing.T) {
	paths := writeSeeds(t, "ok")
	if err := Check(paths); err != nil {
		t.Errorf("Check: %v", err)
	}
	if err := Check([]string{filepath.Dir(paths[0])}); err == nil {
		t.Error("expected error for directory")
	}
	if err := Check([]string{filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMode_Valid(t *testing.T) {
	for _, m := range []Mode{"", ModeSequential, ModeRandom} {
		if !m.Valid() {
			t.Errorf("%q should be valid", m)
		}
	}
	if Mode("shuffle").Valid() {
		t.Error("shuffle should be invalid")
	}
}
