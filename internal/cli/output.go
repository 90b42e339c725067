package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/garyjia/procurement-workflow/internal/domain/entity"
)

// printer writes human or JSON output to one writer
type printer struct {
	out  io.Writer
	json bool
}

func (p *printer) JSON(data interface{}) error {
	encoder := json.NewEncoder(p.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (p *printer) Success(format string, args ...interface{}) {
	color.New(color.FgGreen, color.Bold).Fprintf(p.out, format+"\n", args...)
}

func (p *printer) Info(format string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(p.out, format+"\n", args...)
}

func (p *printer) Warning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(p.out, format+"\n", args...)
}

// Field prints an aligned "label: value" line
func (p *printer) Field(label string, value interface{}) {
	fmt.Fprintf(p.out, "%-14s %v\n", label+":", value)
}

// table is a simple column-aligned table
type table struct {
	headers []string
	rows    [][]string
	widths  []int
}

func newTable(headers ...string) *table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &table{headers: headers, widths: widths}
}

func (t *table) AddRow(row ...string) {
	for i, cell := range row {
		if i < len(t.widths) && len(cell) > t.widths[i] {
			t.widths[i] = len(cell)
		}
	}
	t.rows = append(t.rows, row)
}

func (t *table) Render(w io.Writer) {
	header := color.New(color.FgCyan, color.Bold)
	for i, h := range t.headers {
		header.Fprintf(w, "%-*s  ", t.widths[i], h)
	}
	fmt.Fprintln(w)

	for i := range t.headers {
		fmt.Fprint(w, strings.Repeat("-", t.widths[i]), "  ")
	}
	fmt.Fprintln(w)

	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(t.widths) {
				fmt.Fprintf(w, "%-*s  ", t.widths[i], cell)
			}
		}
		fmt.Fprintln(w)
	}
}

// formatStatus colours instance and step statuses
func formatStatus(status string) string {
	switch status {
	case entity.InstanceStatusApproved:
		return color.GreenString(status)
	case entity.InstanceStatusRejected:
		return color.RedString(status)
	case entity.InstanceStatusPending:
		return color.YellowString(status)
	default:
		return status
	}
}

func approverLabel(role, userID string) string {
	if role != "" {
		return "role:" + role
	}
	return "user:" + userID
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
