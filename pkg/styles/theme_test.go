package styles

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
)

// TestAdaptiveColorsHaveBothVariants verifies that all adaptive colors
// have both Light and Dark variants defined
func TestAdaptiveColorsHaveBothVariants(t *testing.T) {
	colors := map[string]lipgloss.AdaptiveColor{
		"ColorError":      ColorError,
		"ColorWarning":    ColorWarning,
		"ColorSuccess":    ColorSuccess,
		"ColorInfo":       ColorInfo,
		"ColorComment":    ColorComment,
		"ColorForeground": ColorForeground,
		"ColorBorder":     ColorBorder,
	}

	for name, color := range colors {
		t.Run(name, func(t *testing.T) {
			if color.Light == "" {
				t.Errorf("%s has empty Light variant", name)
			}
			if color.Dark == "" {
				t.Errorf("%s has empty Dark variant", name)
			}
			if color.Light == color.Dark {
				t.Errorf("%s has identical Light and Dark variants: %s", name, color.Light)
			}
		})
	}
}

// TestColorFormats verifies all color values are valid hex colors
func TestColorFormats(t *testing.T) {
	colors := map[string]lipgloss.AdaptiveColor{
		"ColorError":      ColorError,
		"ColorWarning":    ColorWarning,
		"ColorSuccess":    ColorSuccess,
		"ColorInfo":       ColorInfo,
		"ColorComment":    ColorComment,
		"ColorForeground": ColorForeground,
		"ColorBorder":     ColorBorder,
	}

	isValidHex := func(s string) bool {
		if len(s) != 7 {
			return false
		}
		if s[0] != '#' {
			return false
		}
		for _, c := range s[1:] {
			if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')) {
				return false
			}
		}
		return true
	}

	for name, color := range colors {
		t.Run(name+"_Light", func(t *testing.T) {
			if !isValidHex(color.Light) {
				t.Errorf("%s.Light is not a valid hex color: %s", name, color.Light)
			}
		})
		t.Run(name+"_Dark", func(t *testing.T) {
			if !isValidHex(color.Dark) {
				t.Errorf("%s.Dark is not a valid hex color: %s", name, color.Dark)
			}
		})
	}
}

// TestStylesRenderNonEmpty verifies that every style can render text without
// dropping it.
func TestStylesRenderNonEmpty(t *testing.T) {
	testText := "Hello World"

	tests := []struct {
		name  string
		style lipgloss.Style
	}{
		{"Error", Error},
		{"Warning", Warning},
		{"Success", Success},
		{"Info", Info},
		{"ListItem", ListItem},
		{"ListEnumerator", ListEnumerator},
		{"TableHeader", TableHeader},
		{"TableCell", TableCell},
		{"TableTotal", TableTotal},
		{"TableTitle", TableTitle},
		{"TableBorder", TableBorder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.style.Render(testText)
			if len(result) < len(testText) {
				t.Errorf("Style %s: rendered length %d is less than input length %d",
					tt.name, len(result), len(testText))
			}
		})
	}
}

// TestDarkColorsAreOriginalDracula verifies that dark variants match the original Dracula theme colors
func TestDarkColorsAreOriginalDracula(t *testing.T) {
	expectedDarkColors := map[string]string{
		"ColorError":      "#FF5555",
		"ColorWarning":    "#FFB86C",
		"ColorSuccess":    "#50FA7B",
		"ColorInfo":       "#8BE9FD",
		"ColorComment":    "#6272A4",
		"ColorForeground": "#F8F8F2",
		"ColorBorder":     "#44475A",
	}

	actualColors := map[string]lipgloss.AdaptiveColor{
		"ColorError":      ColorError,
		"ColorWarning":    ColorWarning,
		"ColorSuccess":    ColorSuccess,
		"ColorInfo":       ColorInfo,
		"ColorComment":    ColorComment,
		"ColorForeground": ColorForeground,
		"ColorBorder":     ColorBorder,
	}

	for name, expected := range expectedDarkColors {
		t.Run(name, func(t *testing.T) {
			actual := actualColors[name].Dark
			if actual != expected {
				t.Errorf("%s.Dark = %s, want %s (original Dracula color)", name, actual, expected)
			}
		})
	}
}
