package compose

import (
	"testing"

	"github.com/lvillar/pdfmark/reader"
)

func TestSaveDepth(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		open, surplus int
	}{
		{"empty", "", 0, 0},
		{"balanced", "q 1 0 0 1 10 10 cm Q", 0, 0},
		{"two open", "q q 0 0 1 rg", 2, 0},
		{"surplus restore", "Q Q q", 1, 2},
		{"surplus then transform", "Q 0.25 0 0 0.25 0 0 cm", 0, 1},
		{"surplus after balanced", "q Q Q q Q Q", 0, 2},
		{"string operand", "BT (q q q) Tj ET q", 1, 0},
		{"escaped paren", `BT (a \) q) Tj ET`, 0, 0},
		{"hex string", "BT <71> Tj ET", 0, 0},
		{"dictionary", "/P <</MCID 0>> BDC q EMC", 1, 0},
		{"name", "/q gs /Q Do", 0, 0},
		{"comment", "% q q\nq", 1, 0},
		{"inline image", "q BI /W 1 /H 1 ID \x00q\x00Q EI Q", 0, 0},
		{"glued operators", "q\nq\nQ", 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			open, surplus := saveDepth([]byte(tt.content))
			if open != tt.open || surplus != tt.surplus {
				t.Errorf("saveDepth(%q) = %d, %d, want %d, %d", tt.content, open, surplus, tt.open, tt.surplus)
			}
		})
	}
}

func TestFreeName(t *testing.T) {
	xobjects := reader.Dict{"Wm0": reader.Null{}, "Wm1": reader.Null{}, "Wm3": reader.Null{}}
	if got := freeName(xobjects); got != "Wm2" {
		t.Errorf("freeName = %q, want Wm2", got)
	}
	if got := freeName(nil); got != "Wm0" {
		t.Errorf("freeName(nil) = %q, want Wm0", got)
	}
}

func TestOutputVersion(t *testing.T) {
	tests := map[string]string{
		"":    "1.4",
		"1.3": "1.4",
		"1.4": "1.4",
		"1.7": "1.7",
		"2.0": "2.0",
		"x.y": "1.4",
	}
	for in, want := range tests {
		if got := outputVersion(in); got != want {
			t.Errorf("outputVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeRotate(t *testing.T) {
	tests := map[int]int{0: 0, 90: 90, -90: 270, 450: 90, 720: 0, -180: 180}
	for in, want := range tests {
		if got := normalizeRotate(in); got != want {
			t.Errorf("normalizeRotate(%d) = %d, want %d", in, got, want)
		}
	}
}
