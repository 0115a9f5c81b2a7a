package persona_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bdobrica/nunu/internal/nunu/persona"
)

func TestDefault(t *testing.T) {
	p := persona.Default()
	if p.Name != persona.DefaultName {
		t.Errorf("Name = %q", p.Name)
	}
	if diff := cmp.Diff([]string{persona.DefaultGreeting}, p.Greetings); diff != "" {
		t.Errorf("Greetings (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{persona.DefaultFarewell}, p.Farewells); diff != "" {
		t.Errorf("Farewells (-want +got):\n%s", diff)
	}
	if p.Style != persona.DefaultStyle {
		t.Errorf("Style = %q", p.Style)
	}
	if len(p.Triggers) != 0 || len(p.Traits) != 0 {
		t.Errorf("expected empty triggers and traits, got %v / %v", p.Triggers, p.Traits)
	}
	if diff := cmp.Diff(persona.DefaultSubstitutions(), p.Substitutions); diff != "" {
		t.Errorf("Substitutions (-want +got):\n%s", diff)
	}
}

func TestParse_YAML(t *testing.T) {
	doc := `
name: Nunubu
style: playful, void-touched
traits:
  deity: Nymeia the Spinner
triggers: [Nunubu, "Soul Weeper"]
callsigns: [nunubu, nunuchan]
greetings:
  - Song for a soul!
farewells: []
`
	p, err := persona.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Name != "Nunubu" {
		t.Errorf("Name = %q", p.Name)
	}
	if diff := cmp.Diff([]string{"nunubu", "soul weeper", "nunuchan"}, p.Triggers); diff != "" {
		t.Errorf("Triggers (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{persona.DefaultFarewell}, p.Farewells); diff != "" {
		t.Errorf("empty farewells should fall back (-want +got):\n%s", diff)
	}
	if p.Traits["deity"] != "Nymeia the Spinner" {
		t.Errorf("Traits = %v", p.Traits)
	}
	if !p.HasTrigger("SOUL WEEPER") {
		t.Error("HasTrigger should ignore case")
	}
}

func TestParse_JSON(t *testing.T) {
	doc := `{"name": "Nunu", "greetings": ["Well met."], "substitutions": [{"find": "cat", "replace": "carbuncle"}]}`
	p, err := persona.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []persona.Substitution{{Find: "cat", Replace: "carbuncle"}}
	if diff := cmp.Diff(want, p.Substitutions); diff != "" {
		t.Errorf("Substitutions (-want +got):\n%s", diff)
	}
}

func TestParse_Punch(t *testing.T) {
	p, err := persona.Parse([]byte("punch: WAH!\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Punch != "WAH!" {
		t.Errorf("Punch = %q, want WAH!", p.Punch)
	}
	if persona.Default().Punch != "" {
		t.Error("default persona should have no punch")
	}
}

func TestParse_EmptySubstitutionsDisablesTable(t *testing.T) {
	p, err := persona.Parse([]byte("substitutions: []\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.Substitutions) != 0 {
		t.Errorf("Substitutions = %v, want empty", p.Substitutions)
	}
}

func TestParse_EmptyDocumentIsDefaults(t *testing.T) {
	p, err := persona.Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff(persona.Default(), p); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "name: [unclosed"},
		{"greetings not a list", "greetings: 5"},
		{"trait not a string", "traits:\n  level: [1, 2]"},
		{"substitution missing replace", "substitutions:\n  - find: x"},
		{"top level list", "- a\n- b"},
		{"punch not a string", "punch: [1]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := persona.Parse([]byte(tc.doc)); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tc.doc)
			}
		})
	}
}

func TestLoad_FallsBackToDefaults(t *testing.T) {
	p, err := persona.Load("")
	if !errors.Is(err, persona.ErrNoSource) {
		t.Errorf("err = %v, want ErrNoSource", err)
	}
	if p == nil || p.Name != persona.DefaultName {
		t.Fatalf("expected defaults, got %+v", p)
	}

	p, err = persona.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("expected error for missing file")
	}
	if p.Name != persona.DefaultName {
		t.Errorf("Name = %q, want default", p.Name)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("greetings: 5"), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err = persona.Load(bad)
	if err == nil {
		t.Error("expected validation error")
	}
	if p.Name != persona.DefaultName {
		t.Errorf("Name = %q, want default", p.Name)
	}
}

func TestEffectivePrompt(t *testing.T) {
	p := persona.Default()
	p.Description = "A bard."
	p.Traits = map[string]string{"weapon": "harp", "deity": "Nymeia"}

	rendered := p.Render()
	if !strings.HasPrefix(rendered, "You are Nunu. A bard.") {
		t.Errorf("Render = %q", rendered)
	}
	if strings.Index(rendered, "deity") > strings.Index(rendered, "weapon") {
		t.Errorf("traits should be sorted: %q", rendered)
	}

	if got := p.EffectivePrompt("Be brief.", true); got != rendered+"\n\nBe brief." {
		t.Errorf("onTop = %q", got)
	}
	if got := p.EffectivePrompt("Be brief.", false); got != "Be brief.\n\n"+rendered {
		t.Errorf("below = %q", got)
	}
	if got := p.EffectivePrompt("  ", true); got != rendered {
		t.Errorf("empty base = %q", got)
	}

	p.SystemPrompt = "Custom."
	if got := p.EffectivePrompt("", true); got != "Custom." {
		t.Errorf("explicit system prompt = %q", got)
	}
}
