package hash

import (
	"strings"
	"testing"
)

func TestKindSize(t *testing.T) {
	tests := []struct {
		kind Kind
		size int
		name string
	}{
		{SHA1, 20, "sha1"},
		{SHA256, 32, "sha256"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.kind.Size(); got != tt.size {
				t.Errorf("Size() = %d, want %d", got, tt.size)
			}
			if got := tt.kind.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
		})
	}
}

func TestKindFromName(t *testing.T) {
	tests := []struct {
		input   string
		want    Kind
		wantErr bool
	}{
		{"sha1", SHA1, false},
		{"sha256", SHA256, false},
		{"md5", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := KindFromName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("KindFromName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("KindFromName(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFromHex(t *testing.T) {
	tests := []struct {
		name    string
		hex     string
		kind    Kind
		wantErr bool
	}{
		{"valid sha1", "4b825dc642cb6eb9a060e54bf8d69288fbee4904", SHA1, false},
		{"valid sha256", strings.Repeat("ab", 32), SHA256, false},
		{"wrong length for kind", "4b825dc642cb6eb9a060e54bf8d69288fbee4904", SHA256, true},
		{"not hex", strings.Repeat("zz", 20), SHA1, true},
		{"empty", "", SHA1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := FromHex(tt.kind, tt.hex)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FromHex error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if h.String() != tt.hex {
				t.Errorf("String() = %q, want %q", h.String(), tt.hex)
			}
			if h.Kind() != tt.kind {
				t.Errorf("Kind() = %v, want %v", h.Kind(), tt.kind)
			}
		})
	}
}

func TestSumRoundtrip(t *testing.T) {
	data := []byte("hello, world\n")

	for _, kind := range []Kind{SHA1, SHA256} {
		t.Run(kind.String(), func(t *testing.T) {
			h := Sum(kind, data)
			if len(h.Bytes()) != kind.Size() {
				t.Fatalf("Bytes() length = %d, want %d", len(h.Bytes()), kind.Size())
			}
			back, err := FromBytes(kind, h.Bytes())
			if err != nil {
				t.Fatalf("FromBytes: %v", err)
			}
			if back != h {
				t.Errorf("FromBytes roundtrip mismatch: %s vs %s", back, h)
			}
			again, err := FromHex(kind, h.String())
			if err != nil {
				t.Fatalf("FromHex: %v", err)
			}
			if again != h {
				t.Errorf("FromHex roundtrip mismatch")
			}
		})
	}
}

func TestZeroAndIsZero(t *testing.T) {
	z := Zero(SHA1)
	if !z.IsZero() {
		t.Error("Zero(SHA1).IsZero() = false")
	}
	if z.String() != strings.Repeat("0", 40) {
		t.Errorf("Zero(SHA1).String() = %q", z.String())
	}

	h := Sum(SHA1, []byte("x"))
	if h.IsZero() {
		t.Error("Sum(...).IsZero() = true")
	}
}

func TestCompareAndLess(t *testing.T) {
	a := Sum(SHA1, []byte("a"))
	b := Sum(SHA1, []byte("b"))

	if a.Compare(a) != 0 {
		t.Error("Compare(self) != 0")
	}
	if a.Compare(b) == 0 {
		t.Error("distinct hashes compare equal")
	}
	if a.Less(b) == b.Less(a) {
		t.Error("Less is not a strict ordering")
	}
}

func TestShort(t *testing.T) {
	h, err := FromHex(SHA1, "4b825dc642cb6eb9a060e54bf8d69288fbee4904")
	if err != nil {
		t.Fatal(err)
	}
	if got := h.Short(); got != "4b825dc" {
		t.Errorf("Short() = %q, want %q", got, "4b825dc")
	}
}
