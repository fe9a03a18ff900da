package template_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/herald-sh/herald/template"
)

func TestRender(t *testing.T) {
	t.Parallel()

	r := template.NewRenderer()
	if err := r.Register("welcome", "Hello {{.name}}, your plan is {{upper .plan}}."); err != nil {
		t.Fatalf("register: %v", err)
	}

	out, err := r.Render("welcome", map[string]any{"name": "Ada", "plan": "pro"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "Hello Ada, your plan is PRO." {
		t.Errorf("out = %q", out)
	}
}

func TestRenderUnknownName(t *testing.T) {
	t.Parallel()

	r := template.NewRenderer()
	_, err := r.Render("missing", nil)
	if !errors.Is(err, template.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRenderMissingKeyFails(t *testing.T) {
	t.Parallel()

	r := template.NewRenderer()
	if err := r.Register("alert", "Disk {{.disk}} at {{.pct}}%"); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := r.Render("alert", map[string]any{"disk": "/dev/sda1"})
	var rerr *template.RenderError
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want *RenderError", err)
	}
	if rerr.Name != "alert" {
		t.Errorf("RenderError.Name = %q", rerr.Name)
	}
}

func TestRegisterRejectsBadSyntax(t *testing.T) {
	t.Parallel()

	r := template.NewRenderer()
	if err := r.Register("broken", "{{.unclosed"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNoProcessAccessFromTemplates(t *testing.T) {
	t.Parallel()

	r := template.NewRenderer()
	for _, body := range []string{
		`{{exec "id"}}`,
		`{{readFile "/etc/passwd"}}`,
		`{{env "HOME"}}`,
		`{{shell "ls"}}`,
	} {
		if err := r.Register("evil", body); err == nil {
			t.Errorf("template %q should not parse", body)
		}
	}
}

func TestRenderIsPure(t *testing.T) {
	t.Parallel()

	r := template.NewRenderer()
	if err := r.Register("greet", "hi {{.who}}"); err != nil {
		t.Fatalf("register: %v", err)
	}

	for range 3 {
		out, err := r.Render("greet", map[string]any{"who": "there"})
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		if !strings.Contains(out, "there") {
			t.Errorf("out = %q", out)
		}
	}
}
