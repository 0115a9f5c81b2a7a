package persona

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

// ErrNoSource is returned by Load when no persona path is configured. The
// accompanying profile is the all-defaults one.
var ErrNoSource = errors.New("persona: no source configured")

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("persona.schema.json", schemaJSON)
})

// document is the on-disk shape. Callsigns is accepted as an alias list and
// merged into Triggers.
type document struct {
	Profile
	Callsigns []string `json:"callsigns"`
}

// Parse decodes a persona document (YAML or JSON), validates it against the
// embedded schema and fills defaults for every missing field.
func Parse(data []byte) (*Profile, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse persona: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	js, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("parse persona: %w", err)
	}
	if err := validate(js); err != nil {
		return nil, fmt.Errorf("invalid persona: %w", err)
	}

	var doc document
	if err := json.Unmarshal(js, &doc); err != nil {
		return nil, fmt.Errorf("decode persona: %w", err)
	}
	p := doc.Profile
	p.Triggers = append(p.Triggers, doc.Callsigns...)
	p.applyDefaults(true)
	return &p, nil
}

func validate(js []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile persona schema: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return sch.Validate(v)
}

// Load reads and parses the persona at path. It never returns a nil
// profile: on a missing path, unreadable file or invalid document it returns
// Default() together with the error, which callers log as a warning.
func Load(path string) (*Profile, error) {
	p, _, err := load(path)
	return p, err
}

// load is Load plus a short content hash for logging.
func load(path string) (*Profile, string, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), "", ErrNoSource
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), "", fmt.Errorf("read persona file: %w", err)
	}
	h := sha256.Sum256(data)
	hash := hex.EncodeToString(h[:])[:12]

	p, err := Parse(data)
	if err != nil {
		return Default(), hash, err
	}
	return p, hash, nil
}
