package console

import (
	"strings"
	"testing"
)

func TestFormatSuccessMessage(t *testing.T) {
	output := FormatSuccessMessage("compilation completed")
	if !strings.Contains(output, "compilation completed") {
		t.Errorf("Expected output to contain message, got: %s", output)
	}
	if !strings.Contains(output, "✓") {
		t.Errorf("Expected output to contain checkmark, got: %s", output)
	}
}

func TestFormatInfoMessage(t *testing.T) {
	output := FormatInfoMessage("processing file")
	if !strings.Contains(output, "processing file") {
		t.Errorf("Expected output to contain message, got: %s", output)
	}
	if !strings.Contains(output, "ℹ") {
		t.Errorf("Expected output to contain info icon, got: %s", output)
	}
}

func TestFormatWarningMessage(t *testing.T) {
	output := FormatWarningMessage("deprecated syntax")
	if !strings.Contains(output, "deprecated syntax") {
		t.Errorf("Expected output to contain message, got: %s", output)
	}
	if !strings.Contains(output, "⚠") {
		t.Errorf("Expected output to contain warning icon, got: %s", output)
	}
}

func TestFormatErrorMessage(t *testing.T) {
	output := FormatErrorMessage("merge conflict")
	if !strings.Contains(output, "merge conflict") {
		t.Errorf("Expected output to contain message, got: %s", output)
	}
	if !strings.Contains(output, "✗") {
		t.Errorf("Expected output to contain error icon, got: %s", output)
	}
}

func TestRenderTable(t *testing.T) {
	tests := []struct {
		name     string
		config   TableConfig
		expected []string
	}{
		{
			name: "simple table",
			config: TableConfig{
				Headers: []string{"ID", "Name", "Status"},
				Rows: [][]string{
					{"1", "Test", "Active"},
					{"2", "Demo", "Inactive"},
				},
			},
			expected: []string{"ID", "Name", "Status", "Test", "Demo", "Active", "Inactive"},
		},
		{
			name: "table with title and total",
			config: TableConfig{
				Title:   "Workflow Results",
				Headers: []string{"Run", "Duration", "Cost"},
				Rows: [][]string{
					{"123", "5m", "$0.50"},
					{"456", "3m", "$0.30"},
				},
				ShowTotal: true,
				TotalRow:  []string{"TOTAL", "8m", "$0.80"},
			},
			expected: []string{"Workflow Results", "Run", "Duration", "Cost", "123", "456", "TOTAL", "8m", "$0.80"},
		},
		{
			name: "empty table",
			config: TableConfig{
				Headers: []string{},
				Rows:    [][]string{},
			},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := RenderTable(tt.config)

			if len(tt.expected) == 0 {
				if output != "" {
					t.Errorf("Expected empty output for empty table config, got: %s", output)
				}
				return
			}

			for _, expected := range tt.expected {
				if !strings.Contains(output, expected) {
					t.Errorf("Expected output to contain '%s', but got:\n%s", expected, output)
				}
			}
		})
	}
}

func TestRenderList(t *testing.T) {
	tests := []struct {
		name       string
		items      []string
		enumerator string
		expected   []string
	}{
		{
			name:       "bullet list",
			items:      []string{"Item 1", "Item 2", "Item 3"},
			enumerator: "bullet",
			expected:   []string{"Item 1", "Item 2", "Item 3"},
		},
		{
			name:       "dash list",
			items:      []string{"First", "Second", "Third"},
			enumerator: "dash",
			expected:   []string{"First", "Second", "Third"},
		},
		{
			name:       "arabic list",
			items:      []string{"Alpha", "Beta", "Gamma"},
			enumerator: "arabic",
			expected:   []string{"Alpha", "Beta", "Gamma"},
		},
		{
			name:       "empty list",
			items:      []string{},
			enumerator: "bullet",
			expected:   []string{},
		},
		{
			name:       "single item",
			items:      []string{"Only one"},
			enumerator: "bullet",
			expected:   []string{"Only one"},
		},
		{
			name:       "default to bullet when invalid enumerator",
			items:      []string{"Test"},
			enumerator: "invalid",
			expected:   []string{"Test"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := RenderList(tt.items, tt.enumerator)

			if len(tt.expected) == 0 {
				if output != "" {
					t.Errorf("Expected empty output for empty list, got: %s", output)
				}
				return
			}

			for _, expected := range tt.expected {
				if !strings.Contains(output, expected) {
					t.Errorf("Expected output to contain '%s', but got:\n%s", expected, output)
				}
			}
		})
	}
}
