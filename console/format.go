package console

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Formatter renders one event for machine-readable output.
type Formatter interface {
	Format(data any) string
}

// NewFormatter returns a Formatter for "json" or "yaml"; anything else is nil
// and means human-readable text.
func NewFormatter(format string) Formatter {
	switch strings.ToLower(format) {
	case "json":
		return &JSONFormatter{}
	case "yaml":
		return &YAMLFormatter{}
	}
	return nil
}

// JSONFormatter writes one compact JSON object per line.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(data any) string {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("{\"error\":%q}\n", "error formatting JSON: "+err.Error())
	}
	return string(b) + "\n"
}

// YAMLFormatter writes one YAML document per event.
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(data any) string {
	b, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Sprintf("error formatting YAML: %v\n", err)
	}
	return "---\n" + string(b)
}
