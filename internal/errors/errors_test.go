package errors

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{"config error", "E120", "Invalid netsync.json", CategoryConfig},
		{"host error", "E200", "Tick loop stopped", CategoryHost},
		{"capture error", "E300", "Capture upload failed", CategoryCapture},
		{"cli error", "E140", "Configuration file already exists", CategoryCLI},
		{"unknown error code", "E999", "Unknown error", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
			if err.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", err.Category, tt.wantCat)
			}
			if err.Code != tt.code {
				t.Errorf("Code = %q, want %q", err.Code, tt.code)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CategoryHost, "peer %d not found", 7)
	if err.Message != "peer 7 not found" || err.Code != "" {
		t.Errorf("got %+v", err)
	}
	if err.Error() != "peer 7 not found" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := New("E300").Wrap(cause)
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is does not reach the cause")
	}
	if !strings.Contains(err.Error(), "disk full") || !strings.HasPrefix(err.Error(), "E300: ") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil, "E200") != nil {
		t.Error("FromError(nil) != nil")
	}
	inner := New("E121").WithDetail("bad")
	wrapped := fmt.Errorf("loading: %w", inner)
	if got := FromError(wrapped, "E200"); got != inner {
		t.Errorf("FromError did not return the existing NetsyncError: %+v", got)
	}
	plain := fmt.Errorf("boom")
	got := FromError(plain, "E200")
	if got.Code != "E200" || got.Wrapped != plain {
		t.Errorf("FromError = %+v", got)
	}
}

func TestPrinterFormat(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	err := New("E121").
		WithDetail(`"tickRate" must be positive`).
		WithSuggestion(`Set tickRate to a duration such as "16ms"`).
		Wrap(fmt.Errorf("loading netsync.json: %w", stderrors.New("parse error")))
	p.Print(err)
	out := buf.String()
	for _, want := range []string{
		"ERROR E121: Invalid configuration value",
		`"tickRate" must be positive`,
		`Hint: Set tickRate to a duration such as "16ms"`,
		"Caused by: loading netsync.json\n",
		"Caused by: parse error",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("output to a buffer contains ANSI codes")
	}
}

func TestPrinterFormatPlainError(t *testing.T) {
	p := NewPrinter(io.Discard)
	got := p.Format(stderrors.New("boom"))
	if got != "\nERROR: boom\n\n" {
		t.Errorf("Format() = %q", got)
	}
}

func TestMarshalJSON(t *testing.T) {
	err := New("E122").WithSuggestion("use host:port").Wrap(stderrors.New("missing port"))
	raw, jerr := json.Marshal(err)
	if jerr != nil {
		t.Fatal(jerr)
	}
	var got map[string]string
	if jerr := json.Unmarshal(raw, &got); jerr != nil {
		t.Fatal(jerr)
	}
	want := map[string]string{
		"code":       "E122",
		"category":   "config",
		"message":    "Invalid listen address",
		"suggestion": "use host:port",
		"cause":      "missing port",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestWrapWords(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{"empty", "", 10, nil},
		{"fits", "a b c", 10, []string{"a b c"}},
		{"wraps", "alpha beta gamma delta", 11, []string{"alpha beta", "gamma delta"}},
		{"long word", "x supercalifragilistic y", 5, []string{"x", "supercalifragilistic", "y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapWords(tt.text, tt.width)
			if !slices.Equal(got, tt.want) {
				t.Errorf("wrapWords() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegisteredCodesHaveCategories(t *testing.T) {
	for code, tmpl := range registry {
		if tmpl.Category == "" || tmpl.Message == "" {
			t.Errorf("%s: incomplete template %+v", code, tmpl)
		}
		if _, ok := Lookup(code); !ok {
			t.Errorf("Lookup(%s) failed", code)
		}
	}
}
