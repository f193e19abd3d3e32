package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	ansiReset = "\033[0m"
	ansiRed   = "\033[31m"
	ansiCyan  = "\033[36m"
	ansiGray  = "\033[90m"
	ansiBold  = "\033[1m"
)

// detailWidth is where Detail text is wrapped.
const detailWidth = 72

// Printer renders errors for a terminal.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter returns a Printer writing to w. Colors are used only when w is
// a terminal and NO_COLOR is unset.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, color: isTerminal(w) && os.Getenv("NO_COLOR") == ""}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func (p *Printer) paint(code, text string) string {
	if !p.color {
		return text
	}
	return code + text + ansiReset
}

// Print writes err. A NetsyncError gets its detail, hint and the chain of
// causes; any other error is printed on one line.
func (p *Printer) Print(err error) {
	fmt.Fprint(p.w, p.Format(err))
}

// Format renders err the way Print writes it.
func (p *Printer) Format(err error) string {
	var ne *NetsyncError
	if !stderrors.As(err, &ne) {
		return "\n" + p.paint(ansiRed+ansiBold, "ERROR:") + " " + err.Error() + "\n\n"
	}

	var b strings.Builder
	b.WriteString("\n")
	title := "ERROR"
	if ne.Code != "" {
		title += " " + ne.Code
	}
	fmt.Fprintf(&b, "%s %s\n\n", p.paint(ansiRed+ansiBold, title+":"), ne.Message)

	if lines := wrapWords(ne.Detail, detailWidth); len(lines) > 0 {
		for _, line := range lines {
			fmt.Fprintf(&b, "  %s\n", line)
		}
		b.WriteString("\n")
	}
	if ne.Suggestion != "" {
		fmt.Fprintf(&b, "  %s%s\n\n", p.paint(ansiCyan, "Hint: "), ne.Suggestion)
	}
	for _, cause := range causes(ne.Wrapped) {
		fmt.Fprintf(&b, "  %s%s\n", p.paint(ansiGray, "Caused by: "), cause)
	}
	return b.String()
}

// causes lists the messages of err and of every error it wraps, skipping
// the text an outer error already repeats from an inner one.
func causes(err error) []string {
	var out []string
	for err != nil {
		msg := err.Error()
		next := stderrors.Unwrap(err)
		if next != nil {
			msg = strings.TrimSuffix(strings.TrimSuffix(msg, next.Error()), ": ")
		}
		if msg != "" {
			out = append(out, msg)
		}
		err = next
	}
	return out
}

// wrapWords splits text into lines of at most width bytes. A single word
// longer than width gets a line of its own.
func wrapWords(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	lines := []string{words[0]}
	for _, w := range words[1:] {
		last := &lines[len(lines)-1]
		if len(*last)+1+len(w) > width {
			lines = append(lines, w)
			continue
		}
		*last += " " + w
	}
	return lines
}

type jsonError struct {
	Code       string   `json:"code,omitempty"`
	Category   Category `json:"category,omitempty"`
	Message    string   `json:"message"`
	Detail     string   `json:"detail,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
	Cause      string   `json:"cause,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *NetsyncError) MarshalJSON() ([]byte, error) {
	je := jsonError{
		Code:       e.Code,
		Category:   e.Category,
		Message:    e.Message,
		Detail:     e.Detail,
		Suggestion: e.Suggestion,
	}
	if e.Wrapped != nil {
		je.Cause = e.Wrapped.Error()
	}
	return json.Marshal(je)
}

// PrintError prints err to stderr.
func PrintError(err error) {
	NewPrinter(os.Stderr).Print(err)
}
