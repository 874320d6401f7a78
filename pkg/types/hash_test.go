package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestHash_Accessors(t *testing.T) {
	var zero Hash
	if !zero.IsZero() || zero.String() != strings.Repeat("0", 64) {
		t.Errorf("zero hash: IsZero() = %v, String() = %s", zero.IsZero(), zero)
	}

	h := Hash{0xab, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	h[HashSize-1] = 0xcd
	if h.IsZero() {
		t.Error("IsZero() = true for a non-zero hash")
	}
	if s := h.String(); len(s) != 2*HashSize || !strings.HasPrefix(s, "ab01") || !strings.HasSuffix(s, "cd") {
		t.Errorf("String() = %s", s)
	}
	if got := h.Short(); got != "ab01020304050607" {
		t.Errorf("Short() = %s, want ab01020304050607", got)
	}

	b := h.Bytes()
	b[0] = 0xff
	if h[0] != 0xab {
		t.Error("Bytes() should not alias the hash")
	}
}

func TestHash_Compare(t *testing.T) {
	lo, hi := Hash{0x01}, Hash{0x02}
	tests := []struct {
		a, b Hash
		want int
	}{
		{lo, hi, -1},
		{hi, lo, 1},
		{lo, lo, 0},
	}
	for _, tt := range tests {
		if got := tt.a.Compare(tt.b); got != tt.want {
			t.Errorf("%s.Compare(%s) = %d, want %d", tt.a.Short(), tt.b.Short(), got, tt.want)
		}
	}
}

func TestHexToHash(t *testing.T) {
	const spendID = "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"spend id", spendID, false},
		{"zero", strings.Repeat("0", 64), false},
		{"short", spendID[:62], true},
		{"long", spendID + "00", true},
		{"not hex", strings.Repeat("z", 64), true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := HexToHash(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("HexToHash(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && h.String() != tt.input {
				t.Errorf("HexToHash(%q).String() = %s", tt.input, h)
			}
		})
	}
}

func TestHash_JSON(t *testing.T) {
	type record struct {
		TxHash Hash `json:"tx_hash"`
	}
	in := record{TxHash: Hash{0xaa, 0xbb}}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if !strings.Contains(string(data), `"tx_hash":"aabb00`) {
		t.Errorf("Marshal() = %s, want hex string", data)
	}
	var out record
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if out != in {
		t.Errorf("Unmarshal() = %+v, want %+v", out, in)
	}

	out.TxHash = Hash{0x01}
	if err := json.Unmarshal([]byte(`{"tx_hash":""}`), &out); err != nil {
		t.Fatalf("Unmarshal(empty) error: %v", err)
	}
	if !out.TxHash.IsZero() {
		t.Error("empty string should decode to the zero hash")
	}
	if err := json.Unmarshal([]byte(`{"tx_hash":"abcd"}`), &out); err == nil {
		t.Error("Unmarshal() should reject a short hash")
	}
}
