package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/talgya/urbansim/internal/config"
	"github.com/talgya/urbansim/internal/engine"
	"github.com/talgya/urbansim/internal/persistence"
	"github.com/talgya/urbansim/internal/runner"
)

// execute runs the root command with args and returns stdout. Logs go to a
// separate buffer so JSON output stays decodable.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("URBANSIM_LOG_LEVEL", "error")
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, version) {
		t.Errorf("version output = %q", out)
	}
}

func TestCities(t *testing.T) {
	out, err := execute(t, "cities", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var cities []cityInfo
	if err := json.Unmarshal([]byte(out), &cities); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	var keys []string
	for _, c := range cities {
		keys = append(keys, c.Key)
		if c.Cells != 37 {
			t.Errorf("%s: cells = %d, want 37", c.Key, c.Cells)
		}
	}
	if strings.Join(keys, ",") != "berlin,leipzig,munich" {
		t.Errorf("cities = %v", keys)
	}
}

func TestValidateDefaults(t *testing.T) {
	out, err := execute(t, "validate")
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "configuration valid") {
		t.Errorf("output = %q", out)
	}

	if _, err := execute(t, "validate", "--city", "atlantis"); err == nil {
		t.Error("unknown city should fail validation")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urbansim.yaml")
	if _, err := execute(t, "config", "--out", path); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if err := config.Validate(cfg).Err(); err != nil {
		t.Errorf("written config invalid: %v", err)
	}

	out, err := execute(t, "validate", "--config", path)
	if err != nil || !strings.Contains(out, "configuration valid") {
		t.Errorf("validate --config: %v\n%s", err, out)
	}
}

func TestRunStoresAndLists(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "results.db")

	out, err := execute(t, "run", "--db", dbPath, "--city", "leipzig",
		"--timesteps", "12", "--seed", "7", "--policy", "rent_control", "--json")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	var res runner.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode result: %v\n%s", err, out)
	}
	if res.Status != engine.StatusCompleted || res.Seed != 7 || res.Stats.Timestep != 12 {
		t.Errorf("result = %+v", res)
	}

	out, err = execute(t, "runs", "--db", dbPath, "--json")
	if err != nil {
		t.Fatal(err)
	}
	var runs []persistence.Run
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode runs: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0].RunID != res.RunID || runs[0].Status != "completed" {
		t.Fatalf("runs = %+v", runs)
	}

	out, err = execute(t, "runs", "show", res.RunID, "--db", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "leipzig") || !strings.Contains(out, "GENTRIFICATION") {
		t.Errorf("show output = %q", out)
	}
	// Checkpoints at 10 and the final timestep.
	if strings.Count(out, "\n10 ") != 1 || strings.Count(out, "\n12 ") != 1 {
		t.Errorf("expected rows for timesteps 10 and 12:\n%s", out)
	}
}

func TestRunWithoutStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "unused.db")
	out, err := execute(t, "run", "--db", dbPath, "--no-store", "--city", "berlin", "--timesteps", "3", "--seed", "1")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "completed") || !strings.Contains(out, "berlin") {
		t.Errorf("output = %q", out)
	}

	out, err = execute(t, "runs", "--db", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "no runs stored") {
		t.Errorf("--no-store wrote a run: %q", out)
	}
}

func TestRunRejectsBadRequest(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "results.db")
	if _, err := execute(t, "run", "--db", dbPath, "--city", "atlantis", "--seed", "1"); err == nil {
		t.Error("unknown city should fail")
	}
	if _, err := execute(t, "run", "--db", dbPath, "--policy", "free_lunch", "--seed", "1"); err == nil {
		t.Error("unknown policy should fail")
	}
}

func TestShowUnknownRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "results.db")
	_, err := execute(t, "runs", "show", "missing", "--db", dbPath)
	if err == nil {
		t.Fatal("expected not found")
	}
}
