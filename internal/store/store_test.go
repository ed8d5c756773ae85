package store

import (
	"errors"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetAndGet(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set("octoplay.test.key", "value-1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok := s.Get("octoplay.test.key")
	if !ok || got != "value-1" {
		t.Errorf("Get() = (%q, %v), want (value-1, true)", got, ok)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := openTestStore(t)

	if got, ok := s.Get("octoplay.absent"); ok || got != "" {
		t.Errorf("Get() absent key = (%q, %v), want (\"\", false)", got, ok)
	}
}

func TestSetOverwrites(t *testing.T) {
	s := openTestStore(t)

	s.Set("octoplay.test.key", "old")
	s.Set("octoplay.test.key", "new")

	if got, _ := s.Get("octoplay.test.key"); got != "new" {
		t.Errorf("Get() = %q, want new", got)
	}
}

func TestSetRejectsForeignNamespace(t *testing.T) {
	s := openTestStore(t)

	tests := []string{"other.key", "", "octopla.key", "OCTOPLAY.key"}
	for _, key := range tests {
		err := s.Set(key, "v")
		if !errors.Is(err, ErrKeyNotWritable) {
			t.Errorf("Set(%q) error = %v, want ErrKeyNotWritable", key, err)
		}
	}
}

func TestSetRejectsOversizedValue(t *testing.T) {
	s := openTestStore(t)

	big := strings.Repeat("x", MaxValueSize+1)
	err := s.Set("octoplay.big", big)
	if !errors.Is(err, ErrValueTooLarge) {
		t.Errorf("Set() oversized error = %v, want ErrValueTooLarge", err)
	}

	exact := strings.Repeat("x", MaxValueSize)
	if err := s.Set("octoplay.exact", exact); err != nil {
		t.Errorf("Set() at cap error = %v, want nil", err)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)

	s.Set("octoplay.test.key", "v")
	if err := s.Delete("octoplay.test.key"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := s.Get("octoplay.test.key"); ok {
		t.Error("key still present after Delete()")
	}

	if err := s.Delete("octoplay.absent"); err != nil {
		t.Errorf("Delete() absent key error = %v, want nil", err)
	}
	if err := s.Delete("foreign.key"); !errors.Is(err, ErrKeyNotWritable) {
		t.Errorf("Delete() foreign key error = %v, want ErrKeyNotWritable", err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	s := openTestStore(t)

	type payload struct {
		Name  string   `json:"name"`
		Count int      `json:"count"`
		Tags  []string `json:"tags"`
	}
	in := payload{Name: "queue", Count: 3, Tags: []string{"a", "b"}}

	if err := s.SetJSON("octoplay.test.json", in); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}

	var out payload
	if !s.GetJSON("octoplay.test.json", &out) {
		t.Fatal("GetJSON() = false, want true")
	}
	if out.Name != in.Name || out.Count != in.Count || len(out.Tags) != 2 {
		t.Errorf("GetJSON() = %+v, want %+v", out, in)
	}
}

func TestGetJSONMissingOrCorrupt(t *testing.T) {
	s := openTestStore(t)

	var out map[string]string
	if s.GetJSON("octoplay.absent", &out) {
		t.Error("GetJSON() absent key = true, want false")
	}

	s.Set("octoplay.garbage", "{not json")
	if s.GetJSON("octoplay.garbage", &out) {
		t.Error("GetJSON() corrupt value = true, want false")
	}
}
