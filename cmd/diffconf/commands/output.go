package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/openfroyo/diffconf/pkg/policy"
	"gopkg.in/yaml.v3"
)

// render writes v as indented JSON when --json is set and as YAML otherwise.
func render(w io.Writer, v any) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// encodeDocument returns the YAML form of a resolved config, the form kept
// in the history database.
func encodeDocument(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	return string(data), nil
}

// printViolations writes one line per violation, blocking ones first.
func printViolations(w io.Writer, result *policy.PolicyResult) {
	if result == nil {
		return
	}
	for _, v := range result.All() {
		line := fmt.Sprintf("%-8s [%s]", strings.ToUpper(string(v.Severity)), v.Policy)
		if v.Path != "" {
			line += " " + v.Path + ":"
		}
		fmt.Fprintf(w, "%s %s\n", line, v.Message)
		if v.Remediation != "" {
			fmt.Fprintf(w, "         hint: %s\n", v.Remediation)
		}
	}
}

// printTable writes rows under header as borderless, left aligned columns.
func printTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows)
	table.Render()
}
