package textutil_test

import (
	"testing"

	"warthog/internal/textutil"
)

func TestCleanDisplayName(t *testing.T) {
	cases := map[string]string{
		"M4A3\u00a0(105)":    "M4A3 (105)",
		"\u0422-34 (1942)":   "T-34 (1942)",
		"\"Tiger\"  H1":      "Tiger H1",
		"  Leopard 2A4  ":    "Leopard 2A4",
		"\u2582\u2583 Ki-43": "Ki-43",
		"\ue001Bf 109 F-4":   "Bf 109 F-4",
	}
	for input, want := range cases {
		if got := textutil.CleanDisplayName(input); got != want {
			t.Fatalf("CleanDisplayName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestMapKeyConvergesAcrossSources(t *testing.T) {
	inputs := []string{
		"levels/avg_stalingrad_factory.bin",
		"avg_stalingrad_factory",
		"AVG Stalingrad Factory",
		"  avg-stalingrad--factory ",
	}
	for _, input := range inputs {
		if got := textutil.MapKey(input); got != "avg_stalingrad_factory" {
			t.Fatalf("MapKey(%q) = %q", input, got)
		}
	}
	if got := textutil.MapKey("Île d'Oléron"); got != "ile_d_oleron" {
		t.Fatalf("expected accents folded, got %q", got)
	}
}

func TestDisplayMap(t *testing.T) {
	if got := textutil.DisplayMap("avg_stalingrad_factory"); got != "Avg Stalingrad Factory" {
		t.Fatalf("DisplayMap = %q", got)
	}
}

func TestSanitizeFileName(t *testing.T) {
	if got := textutil.SanitizeFileName(" 2.41.0.18/beta: ?"); got != "2.41.0.18-beta-" {
		t.Fatalf("SanitizeFileName = %q", got)
	}
}
