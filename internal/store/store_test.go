package store

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testRecord() *Record {
	return &Record{
		Tag:      bytes.Repeat([]byte{0xab}, TagSize),
		State:    StateLoneKey,
		ProxyKey: bytes.Repeat([]byte{0x01}, KeySize),
	}
}

func TestLoadAbsent(t *testing.T) {
	s := New(t.TempDir(), "v2")
	rec, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec != nil {
		t.Errorf("Load() with no file = %+v, want nil", rec)
	}
}

func TestStoreLoadRoundTrip(t *testing.T) {
	s := New(t.TempDir(), "v2")
	want := &Record{
		Tag:              bytes.Repeat([]byte{0xcd}, TagSize),
		State:            StateTwoKeys,
		ProxyKey:         bytes.Repeat([]byte{0x02}, KeySize),
		PreviousProxyKey: bytes.Repeat([]byte{0x03}, KeySize),
	}
	if err := s.Store(want); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !bytes.Equal(got.Tag, want.Tag) {
		t.Errorf("Tag = %x, want %x", got.Tag, want.Tag)
	}
	if got.State != want.State {
		t.Errorf("State = %q, want %q", got.State, want.State)
	}
	if !bytes.Equal(got.ProxyKey, want.ProxyKey) {
		t.Errorf("ProxyKey = %x, want %x", got.ProxyKey, want.ProxyKey)
	}
	if !bytes.Equal(got.PreviousProxyKey, want.PreviousProxyKey) {
		t.Errorf("PreviousProxyKey = %x, want %x", got.PreviousProxyKey, want.PreviousProxyKey)
	}
}

func TestStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", ".bali")
	s := New(dir, "v2")
	if err := s.Store(testRecord()); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if _, err := os.Stat(s.Path()); err != nil {
		t.Errorf("record file missing after Store(): %v", err)
	}
}

func TestFileNameCarriesProtocol(t *testing.T) {
	s := New("/tmp/x", "v2")
	if filepath.Base(s.Path()) != "HSMProxyv2.yaml" {
		t.Errorf("Path() = %s, want .../HSMProxyv2.yaml", s.Path())
	}
}

func TestStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "v2")
	if err := s.Store(testRecord()); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temporary file %s left behind", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}

func TestStoreReplacesAtomically(t *testing.T) {
	s := New(t.TempDir(), "v2")
	first := testRecord()
	if err := s.Store(first); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	second := first.Clone()
	second.PreviousProxyKey = second.ProxyKey
	second.ProxyKey = bytes.Repeat([]byte{0x09}, KeySize)
	second.State = StateTwoKeys
	if err := s.Store(second); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.State != StateTwoKeys {
		t.Errorf("State after replace = %q, want twoKeys", got.State)
	}
}

func TestDelete(t *testing.T) {
	s := New(t.TempDir(), "v2")
	if err := s.Store(testRecord()); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := s.Delete(); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Error("record file still exists after Delete()")
	}
	// Deleting again is not an error.
	if err := s.Delete(); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestStoreRejectsInvalidRecord(t *testing.T) {
	s := New(t.TempDir(), "v2")
	bad := &Record{
		Tag:   bytes.Repeat([]byte{0x01}, TagSize),
		State: StateKeyless,
		// keyless must not carry a key
		ProxyKey: bytes.Repeat([]byte{0x02}, KeySize),
	}
	if err := s.Store(bad); err == nil {
		t.Error("Store() accepted a record violating the state invariants")
	}
}

func TestLoadRejectsCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "v2")
	if err := os.WriteFile(s.Path(), []byte("state: loneKey\ntag: zz\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := s.Load(); err == nil {
		t.Error("Load() accepted a corrupt record")
	}

	if err := os.WriteFile(s.Path(), []byte("{unclosed"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := s.Load(); err == nil {
		t.Error("Load() accepted non-YAML content")
	}
}

func TestRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		rec     *Record
		wantErr bool
	}{
		{"keyless", &Record{Tag: make([]byte, TagSize), State: StateKeyless}, false},
		{"loneKey", testRecord(), false},
		{"twoKeys", &Record{
			Tag:              make([]byte, TagSize),
			State:            StateTwoKeys,
			ProxyKey:         make([]byte, KeySize),
			PreviousProxyKey: make([]byte, KeySize),
		}, false},
		{"short tag", &Record{Tag: make([]byte, 8), State: StateKeyless}, true},
		{"loneKey without key", &Record{Tag: make([]byte, TagSize), State: StateLoneKey}, true},
		{"loneKey with previous", &Record{
			Tag:              make([]byte, TagSize),
			State:            StateLoneKey,
			ProxyKey:         make([]byte, KeySize),
			PreviousProxyKey: make([]byte, KeySize),
		}, true},
		{"twoKeys missing previous", &Record{
			Tag:      make([]byte, TagSize),
			State:    StateTwoKeys,
			ProxyKey: make([]byte, KeySize),
		}, true},
		{"short key", &Record{
			Tag:      make([]byte, TagSize),
			State:    StateLoneKey,
			ProxyKey: make([]byte, 16),
		}, true},
		{"unknown state", &Record{Tag: make([]byte, TagSize), State: "halfKey"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	rec := testRecord()
	cp := rec.Clone()
	cp.ProxyKey[0] ^= 0xff
	if rec.ProxyKey[0] == cp.ProxyKey[0] {
		t.Error("Clone() shares key storage with the original")
	}
}
