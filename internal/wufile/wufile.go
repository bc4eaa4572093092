// Package wufile implements the WorkUnit file codec (§3.1): the
// human-editable YAML representation persisted one file per WU, plus its
// JSON Schema validation gate used by the state machine's done-transition
// guard (§4.C) and the Transaction's validate step (§4.D).
package wufile

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/lumenflow-dev/lumenflow/internal/civildate"
	"github.com/lumenflow-dev/lumenflow/internal/errs"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed schemas/wu_schema.json
var wuSchemaJSON string

// Tests groups the optional manual/unit/e2e test references (§3.1).
type Tests struct {
	Manual []string `yaml:"manual,omitempty" json:"manual,omitempty"`
	Unit   []string `yaml:"unit,omitempty" json:"unit,omitempty"`
	E2E    []string `yaml:"e2e,omitempty" json:"e2e,omitempty"`
}

// WU is the on-disk representation of a Work Unit (§3.1).
type WU struct {
	WUID         string         `yaml:"wu_id" json:"wu_id"`
	Title        string         `yaml:"title" json:"title"`
	Lane         string         `yaml:"lane" json:"lane"`
	Type         string         `yaml:"type" json:"type"`
	Priority     string         `yaml:"priority" json:"priority"`
	Status       string         `yaml:"status" json:"status"`
	Initiative   string         `yaml:"initiative,omitempty" json:"initiative,omitempty"`
	Phase        string         `yaml:"phase,omitempty" json:"phase,omitempty"`
	CodePaths    []string       `yaml:"code_paths,omitempty" json:"code_paths,omitempty"`
	Acceptance   []string       `yaml:"acceptance,omitempty" json:"acceptance,omitempty"`
	Tests        Tests          `yaml:"tests,omitempty" json:"tests,omitempty"`
	BlockedBy    []string       `yaml:"blocked_by,omitempty" json:"blocked_by,omitempty"`
	Dependencies []string       `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Notes        string         `yaml:"notes,omitempty" json:"notes,omitempty"`
	Exposure     string         `yaml:"exposure,omitempty" json:"exposure,omitempty"`
	Plan         string         `yaml:"plan,omitempty" json:"plan,omitempty"`
	Created      civildate.Date `yaml:"created" json:"created"`
}

var wuIDPattern = regexp.MustCompile(`^WU-([0-9]+)$`)

// PathFor returns the canonical file path for wuID under dir, per §6's
// "WU files: <wu_dir>/WU-<n>.yaml".
func PathFor(dir, wuID string) string {
	return filepath.Join(dir, wuID+".yaml")
}

// Load reads and parses the WU file at path. It does not run schema
// validation; callers that need the done-completeness gate call Validate
// explicitly (§4.C keeps guard checks out of plain reads).
func Load(path string) (WU, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WU{}, errs.Wrap(errs.KindIO, "read WU file", err).WithContext("path", path)
	}
	var wu WU
	if err := yaml.Unmarshal(data, &wu); err != nil {
		return WU{}, errs.Wrap(errs.KindValidation, "parse WU file", err).WithContext("path", path)
	}
	return wu, nil
}

// Marshal renders wu as YAML bytes, ready to stage in a Transaction.
func Marshal(wu WU) ([]byte, error) {
	data, err := yaml.Marshal(wu)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "marshal WU file", err)
	}
	return data, nil
}

// Save writes wu to path. Callers inside the engine normally go through a
// Transaction instead of calling Save directly, since direct writes bypass
// the snapshot/rollback guarantee (§4.D).
func Save(path string, wu WU) error {
	data, err := Marshal(wu)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.KindIO, "write WU file", err).WithContext("path", path)
	}
	return nil
}

var (
	schemaOnce sync.Once
	compiled   *jsonschema.Schema
	compileErr error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(wuSchemaJSON), &doc); err != nil {
			compileErr = fmt.Errorf("parse WU schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		const url = "https://lumenflow.dev/schemas/wu.json"
		if err := compiler.AddResource(url, doc); err != nil {
			compileErr = fmt.Errorf("add WU schema resource: %w", err)
			return
		}
		compiled, compileErr = compiler.Compile(url)
	})
	return compiled, compileErr
}

// Validate runs the WU against the JSON Schema (which also covers the
// wu_id and lane formats) and then re-checks the wu_id format against
// wuIDPattern, per §4.D's "semantic preconditions" and §4.C's "schema
// validation ... pass" guard.
func Validate(wu WU) error {
	schema, err := compiledSchema()
	if err != nil {
		return errs.Wrap(errs.KindIO, "compile WU schema", err)
	}

	data, err := json.Marshal(wu)
	if err != nil {
		return errs.Wrap(errs.KindIO, "marshal WU for validation", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return errs.Wrap(errs.KindIO, "unmarshal WU for validation", err)
	}

	if err := schema.Validate(doc); err != nil {
		return errs.Wrap(errs.KindValidation, "WU schema validation failed", err).
			WithContext("wu_id", wu.WUID)
	}

	if !wuIDPattern.MatchString(wu.WUID) {
		return errs.New(errs.KindValidation, "wu_id must match WU-<positive integer>").
			WithContext("wu_id", wu.WUID)
	}

	return nil
}

// DoneCompleteness checks the subset of fields required specifically by
// the ready-for-done guard (§4.C): acceptance criteria present, and at
// least one test reference of any kind recorded.
func DoneCompleteness(wu WU) error {
	if len(wu.Acceptance) == 0 {
		return errs.New(errs.KindValidation, "WU has no acceptance criteria").
			WithContext("wu_id", wu.WUID)
	}
	if len(wu.Tests.Manual)+len(wu.Tests.Unit)+len(wu.Tests.E2E) == 0 {
		return errs.New(errs.KindValidation, "WU has no recorded tests").
			WithContext("wu_id", wu.WUID)
	}
	return nil
}

// NumericID extracts the integer portion of a WU-<n> identifier, used for
// ascending sort of WUs that exist on disk but not yet in the store (§4.F).
func NumericID(wuID string) (int, bool) {
	m := wuIDPattern.FindStringSubmatch(wuID)
	if m == nil {
		return 0, false
	}
	n := 0
	for _, c := range m[1] {
		n = n*10 + int(c-'0')
	}
	return n, true
}
