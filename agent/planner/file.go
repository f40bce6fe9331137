package planner

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kardolus/shellpilot/agent/risk"
	"github.com/kardolus/shellpilot/agent/types"
	"github.com/kardolus/shellpilot/internal/fsio"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a hand-written plan. Files ending in .json are decoded as
// JSON, everything else as YAML.
func LoadFile(r fsio.Reader, path string, classifier risk.Classifier) (types.Plan, error) {
	data, err := r.ReadFile(path)
	if err != nil {
		return types.Plan{}, fmt.Errorf("failed to read plan file %s: %w", path, err)
	}

	var p proposal
	if isJSON(path) {
		err = json.Unmarshal(data, &p)
	} else {
		err = yaml.Unmarshal(data, &p)
	}
	if err != nil {
		return types.Plan{}, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}
	return buildPlan(p, classifier)
}

// SaveFile writes plan in the format LoadFile reads back.
func SaveFile(w fsio.Writer, path string, plan types.Plan) error {
	p := toProposal(plan)

	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(p, "", "  ")
	} else {
		data, err = yaml.Marshal(p)
	}
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := w.MkdirAll(dir); err != nil {
			return err
		}
	}
	return w.WriteFile(path, data)
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
