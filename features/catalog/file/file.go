// Package file loads rule catalogs from YAML or JSON files. Documents are
// validated against an embedded JSON Schema before being converted, so
// structural mistakes are reported with their location in the file; semantic
// checks then run through rule.Catalog.Validate.
package file

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"goa.design/checkin/runtime/checkin"
	"goa.design/checkin/runtime/checkin/rule"
	"goa.design/checkin/runtime/checkin/signal"
)

// BaseName is the file name, without extension, Candidates looks for.
const BaseName = "checkin_rules"

//go:embed schema.json
var schemaJSON []byte

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

type (
	document struct {
		Rules []fileRule `json:"rules" yaml:"rules"`
	}

	fileRule struct {
		ID         string           `json:"id" yaml:"id"`
		Name       string           `json:"name,omitempty" yaml:"name,omitempty"`
		Type       string           `json:"type" yaml:"type"`
		Category   string           `json:"category,omitempty" yaml:"category,omitempty"`
		Priority   string           `json:"priority" yaml:"priority"`
		Enabled    bool             `json:"enabled" yaml:"enabled"`
		Conditions []fileCondition  `json:"conditions,omitempty" yaml:"conditions,omitempty"`
		Cooldown   string           `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`
		MaxPerDay  int              `json:"maxPerDay,omitempty" yaml:"maxPerDay,omitempty"`
		Window     *fileWindow      `json:"window,omitempty" yaml:"window,omitempty"`
		Title      string           `json:"title,omitempty" yaml:"title,omitempty"`
		Template   string           `json:"template" yaml:"template"`
		Actions    []checkin.Action `json:"actions,omitempty" yaml:"actions,omitempty"`
	}

	fileCondition struct {
		Signal string   `json:"signal" yaml:"signal"`
		Field  string   `json:"field,omitempty" yaml:"field,omitempty"`
		Op     string   `json:"op" yaml:"op"`
		Value  *float64 `json:"value,omitempty" yaml:"value,omitempty"`
		Upper  *float64 `json:"upper,omitempty" yaml:"upper,omitempty"`
		Text   string   `json:"text,omitempty" yaml:"text,omitempty"`
	}

	fileWindow struct {
		Start int `json:"start" yaml:"start"`
		End   int `json:"end" yaml:"end"`
	}
)

// Load reads and validates the catalog at path. The format is chosen from
// the extension: .yaml, .yml or .json.
func Load(path string) (rule.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var cat rule.Catalog
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		cat, err = ParseYAML(data)
	case ".json":
		cat, err = ParseJSON(data)
	default:
		return nil, fmt.Errorf("unsupported catalog extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// ParseYAML decodes and validates a YAML catalog.
func ParseYAML(data []byte) (rule.Catalog, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	// Re-encode so schema validation and decoding see JSON values.
	js, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert yaml: %w", err)
	}
	return ParseJSON(js)
}

// ParseJSON decodes and validates a JSON catalog.
func ParseJSON(data []byte) (rule.Catalog, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	sch, err := schema()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	cat, err := doc.catalog()
	if err != nil {
		return nil, err
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// MarshalYAML renders cat in the file format accepted by ParseYAML.
func MarshalYAML(cat rule.Catalog) ([]byte, error) {
	doc := document{Rules: make([]fileRule, 0, len(cat))}
	for _, r := range cat {
		doc.Rules = append(doc.Rules, fromRule(r))
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Candidates returns the catalog files present in dir, in extension
// preference order.
func Candidates(dir string) []string {
	var out []string
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		p := filepath.Join(dir, BaseName+ext)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			out = append(out, p)
		}
	}
	return out
}

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("checkin_rules.json", doc); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile("checkin_rules.json")
	})
	return compiled, compileErr
}

func (d document) catalog() (rule.Catalog, error) {
	cat := make(rule.Catalog, 0, len(d.Rules))
	var errs []error
	for _, fr := range d.Rules {
		r, err := fr.rule()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cat = append(cat, r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cat, nil
}

func (fr fileRule) rule() (rule.Rule, error) {
	r := rule.Rule{
		ID:        fr.ID,
		Name:      fr.Name,
		Type:      checkin.Kind(fr.Type),
		Category:  checkin.Category(fr.Category),
		Priority:  checkin.Priority(fr.Priority),
		Enabled:   fr.Enabled,
		MaxPerDay: fr.MaxPerDay,
		Title:     fr.Title,
		Template:  fr.Template,
		Actions:   fr.Actions,
	}
	if fr.Cooldown != "" {
		d, err := time.ParseDuration(fr.Cooldown)
		if err != nil {
			return rule.Rule{}, fmt.Errorf("rule %q: cooldown: %w", fr.ID, err)
		}
		r.Cooldown = d
	}
	if fr.Window != nil {
		r.Window = &rule.Window{StartHour: fr.Window.Start, EndHour: fr.Window.End}
	}
	for _, c := range fr.Conditions {
		r.Conditions = append(r.Conditions, rule.Condition{
			Signal: signal.Kind(c.Signal),
			Field:  c.Field,
			Op:     rule.Operator(c.Op),
			Value:  c.Value,
			Upper:  c.Upper,
			Text:   c.Text,
		})
	}
	return r, nil
}

func fromRule(r rule.Rule) fileRule {
	fr := fileRule{
		ID:        r.ID,
		Name:      r.Name,
		Type:      string(r.Type),
		Category:  string(r.Category),
		Priority:  string(r.Priority),
		Enabled:   r.Enabled,
		MaxPerDay: r.MaxPerDay,
		Title:     r.Title,
		Template:  r.Template,
		Actions:   r.Actions,
	}
	if r.Cooldown > 0 {
		fr.Cooldown = r.Cooldown.String()
	}
	if r.Window != nil {
		fr.Window = &fileWindow{Start: r.Window.StartHour, End: r.Window.EndHour}
	}
	for _, c := range r.Conditions {
		fr.Conditions = append(fr.Conditions, fileCondition{
			Signal: string(c.Signal),
			Field:  c.Field,
			Op:     string(c.Op),
			Value:  c.Value,
			Upper:  c.Upper,
			Text:   c.Text,
		})
	}
	return fr
}
