// Package initiative implements the Initiative soft-entity file (§3.1,
// §4.D "Initiative bidirectional update"): a small YAML file grouping WU
// IDs under a title, mutated in lockstep with a WU's `initiative` field so
// the old initiative loses the WU and the new one gains it, staged inside
// the same Transaction as the WU edit rather than as separate unguarded
// writes (§9 "Initiative bidirectional edit" redesign note).
package initiative

import (
	"os"
	"sort"

	"github.com/lumenflow-dev/lumenflow/internal/errs"
	"github.com/lumenflow-dev/lumenflow/internal/txn"
	"gopkg.in/yaml.v3"
)

// Initiative is the on-disk shape of one initiative grouping file.
type Initiative struct {
	Title string   `yaml:"title"`
	WUs   []string `yaml:"wus"`
}

// Load reads the initiative file at path. A missing file yields a zero
// Initiative rather than an error, so a brand-new initiative can be
// created by simply adding its first WU.
func Load(path string) (Initiative, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Initiative{}, nil
		}
		return Initiative{}, errs.Wrap(errs.KindIO, "read initiative file", err).WithContext("path", path)
	}
	var init Initiative
	if err := yaml.Unmarshal(data, &init); err != nil {
		return Initiative{}, errs.Wrap(errs.KindValidation, "parse initiative file", err).WithContext("path", path)
	}
	return init, nil
}

// Marshal renders init back to YAML bytes.
func Marshal(init Initiative) ([]byte, error) {
	data, err := yaml.Marshal(init)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "marshal initiative file", err)
	}
	return data, nil
}

// AddWU returns init with wuID present in WUs, sorted and deduplicated.
func AddWU(init Initiative, wuID string) Initiative {
	set := map[string]bool{wuID: true}
	for _, id := range init.WUs {
		set[id] = true
	}
	init.WUs = sortedKeys(set)
	return init
}

// RemoveWU returns init with wuID absent from WUs.
func RemoveWU(init Initiative, wuID string) Initiative {
	set := map[string]bool{}
	for _, id := range init.WUs {
		if id != wuID {
			set[id] = true
		}
	}
	init.WUs = sortedKeys(set)
	return init
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// StageBidirectionalUpdate stages, inside t, the removal of wuID from the
// initiative file at oldPath (if non-empty) and its addition to the
// initiative file at newPath (if non-empty). Both edits land together as
// part of t's single commit, or neither does (§4.D). oldPath == newPath is
// a no-op: the WU stayed in the same initiative.
func StageBidirectionalUpdate(t *txn.Transaction, oldPath, newPath, wuID string) error {
	if oldPath != "" && oldPath != newPath {
		old, err := Load(oldPath)
		if err != nil {
			return err
		}
		data, err := Marshal(RemoveWU(old, wuID))
		if err != nil {
			return err
		}
		t.Stage(oldPath, data, "remove "+wuID+" from initiative "+oldPath)
	}

	if newPath != "" && newPath != oldPath {
		next, err := Load(newPath)
		if err != nil {
			return err
		}
		data, err := Marshal(AddWU(next, wuID))
		if err != nil {
			return err
		}
		t.Stage(newPath, data, "add "+wuID+" to initiative "+newPath)
	}

	return nil
}
