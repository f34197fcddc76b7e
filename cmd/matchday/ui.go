package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kimhsiao/matchday/backend/internal/models"
)

// printer renders command output. Colors are dropped automatically when w is
// not a terminal.
type printer struct {
	w      io.Writer
	title  lipgloss.Style
	label  lipgloss.Style
	pass   lipgloss.Style
	warn   lipgloss.Style
	fail   lipgloss.Style
	muted  lipgloss.Style
	indent lipgloss.Style
}

func newPrinter(w io.Writer) *printer {
	r := lipgloss.NewRenderer(w)
	return &printer{
		w:      w,
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		label:  r.NewStyle().Width(22),
		pass:   r.NewStyle().Foreground(lipgloss.Color("42")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("214")),
		fail:   r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		muted:  r.NewStyle().Foreground(lipgloss.Color("245")),
		indent: r.NewStyle().PaddingLeft(2),
	}
}

func (p *printer) heading(s string) {
	fmt.Fprintln(p.w, p.title.Render(s))
}

func (p *printer) field(name string, value interface{}) {
	fmt.Fprintln(p.w, p.indent.Render(p.label.Render(name+":")+fmt.Sprint(value)))
}

func (p *printer) line(s string) {
	fmt.Fprintln(p.w, p.indent.Render(s))
}

func (p *printer) ok(s string) {
	fmt.Fprintln(p.w, p.pass.Render("✓ "+s))
}

func (p *printer) warning(s string) {
	fmt.Fprintln(p.w, p.warn.Render("! "+s))
}

func (p *printer) failure(s string) {
	fmt.Fprintln(p.w, p.fail.Render("✗ "+s))
}

// count colors n by whether it signals trouble.
func (p *printer) count(n int, bad bool) string {
	s := fmt.Sprint(n)
	switch {
	case n == 0:
		return p.muted.Render(s)
	case bad:
		return p.warn.Render(s)
	}
	return p.pass.Render(s)
}

// tableCounts renders per-table counts in download order.
func (p *printer) tableCounts(counts map[models.TableKind]int) {
	for _, t := range models.AllTables {
		p.field(string(t), p.count(counts[t], false))
	}
	var extra []string
	for t := range counts {
		if !known(t) {
			extra = append(extra, string(t))
		}
	}
	sort.Strings(extra)
	for _, t := range extra {
		p.field(t, p.count(counts[models.TableKind(t)], false))
	}
}

func known(t models.TableKind) bool {
	for _, k := range models.AllTables {
		if k == t {
			return true
		}
	}
	return false
}

// queueRow renders one queued operation on a single line.
func (p *printer) queueRow(op models.QueuedOperation) {
	status := p.muted.Render(string(op.Status))
	if op.Status == models.QueueStatusDead {
		status = p.fail.Render(string(op.Status))
	}
	parts := []string{
		fmt.Sprintf("#%d", op.ID),
		string(op.Operation),
		string(op.TableName) + "/" + op.RecordID,
		status,
		fmt.Sprintf("attempts=%d", op.Attempts),
	}
	if op.LastError != "" {
		parts = append(parts, p.muted.Render(op.LastError))
	}
	p.line(strings.Join(parts, "  "))
}
