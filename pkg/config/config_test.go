package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"brachyeval/pkg/constraint"
)

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"BLADDER":           "Bladder",
		"Rectum [cm3]":      "Rectum",
		"  sigmoid (wall) ": "Sigmoid",
		"CTV-HR":            "Ctv-hr",
		"Bowel [cm3] (old)": "Bowel",
		"":                  "",
		"éclat":             "Éclat",
	}
	for in, expected := range tests {
		if got := NormalizeName(in); got != expected {
			t.Errorf("NormalizeName(%q): expected %q, got %q", in, expected, got)
		}
	}
}

func TestDefaultProtocol(t *testing.T) {
	p, err := DefaultConfig().Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	alphaBeta := map[string]float64{
		"Bladder [cm3]": 3,
		"HRCTV":         8,
		"ctv-hr":        8,
		"GTV":           10,
		"Femoral head":  3,
	}
	for organ, expected := range alphaBeta {
		if got := p.AlphaBeta(organ); got != expected {
			t.Errorf("AlphaBeta(%q): expected %g, got %g", organ, expected, got)
		}
	}

	bladder := p.ConstraintsFor("BLADDER")
	if len(bladder) != 1 {
		t.Fatalf("Expected 1 bladder constraint, got %d", len(bladder))
	}
	c := bladder[0]
	if c.Metric.Name != "D2cc" || c.Quantity != constraint.EQD2 || c.Direction != constraint.Max || c.Limit != 80 {
		t.Errorf("Unexpected bladder constraint %s", c)
	}
	if c.Warning == nil || *c.Warning != 75 {
		t.Errorf("Expected bladder warning level 75")
	}

	if got := len(p.ConstraintsFor("HR-CTV")); got != 2 {
		t.Errorf("Expected 2 CTV-HR constraints via alias, got %d", got)
	}
	if len(p.Metrics) != 9 {
		t.Errorf("Expected the 9 default metrics, got %d", len(p.Metrics))
	}
	if organs := p.Organs(); len(organs) != 6 || organs[0] != "Bladder" {
		t.Errorf("Unexpected organ list %v", organs)
	}
}

func TestCompileErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Protocol.Constraints = append(cfg.Protocol.Constraints, ConstraintSpec{Organ: "Bladder", Metric: "D2cc", Quantity: "gray"})
	if _, err := cfg.Compile(); err == nil {
		t.Errorf("Expected error for unknown quantity")
	}

	cfg = DefaultConfig()
	cfg.Protocol.Constraints = []ConstraintSpec{{Organ: "Rectum", Metric: "V7Gy", Limit: 2}}
	if _, err := cfg.Compile(); err == nil {
		t.Errorf("Expected error for a volume metric limit")
	}

	cfg = DefaultConfig()
	cfg.Protocol.Constraints = []ConstraintSpec{{Organ: "Rectum", Metric: "D2cc", Direction: "max", Limit: 70, Warning: limit(72)}}
	if _, err := cfg.Compile(); err == nil {
		t.Errorf("Expected error for a warning level beyond the limit")
	}

	cfg = DefaultConfig()
	delete(cfg.Protocol.AlphaBeta, DefaultOrgan)
	if _, err := cfg.Compile(); err == nil {
		t.Errorf("Expected error without a Default alpha/beta")
	}

	cfg = DefaultConfig()
	cfg.Protocol.AlphaBeta["Rectum"] = 0
	if _, err := cfg.Compile(); err == nil {
		t.Errorf("Expected error for zero alpha/beta")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Protocol.Name != DefaultConfig().Protocol.Name {
		t.Errorf("Expected default protocol, got %q", cfg.Protocol.Name)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	defaults := DefaultConfig()
	if len(cfg.Protocol.Constraints) != len(defaults.Protocol.Constraints) {
		t.Errorf("Expected %d constraints, got %d", len(defaults.Protocol.Constraints), len(cfg.Protocol.Constraints))
	}
	if cfg.ExternalBeam != nil {
		t.Errorf("Expected no external beam by default, got %+v", cfg.ExternalBeam)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "# externalBeam:") {
		t.Errorf("Expected a commented external beam example in the generated file")
	}
	if _, err := cfg.Compile(); err != nil {
		t.Errorf("Compile of saved config failed: %v", err)
	}
}

func TestLoadConfigReplacesTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
protocol:
  name: Prostate HDR
  alphaBeta:
    Prostate: 1.5
    Default: 3
  constraints:
    - organ: Urethra
      metric: D0.1cc
      quantity: Dose
      direction: max
      limit: 12
externalBeam: null
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Protocol.AlphaBeta) != 2 {
		t.Errorf("Expected the file's alpha/beta table only, got %v", cfg.Protocol.AlphaBeta)
	}
	if cfg.ExternalBeam != nil {
		t.Errorf("Expected no external beam")
	}

	p, err := cfg.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if p.AlphaBeta("prostate") != 1.5 {
		t.Errorf("Expected prostate alpha/beta 1.5, got %g", p.AlphaBeta("prostate"))
	}
	if len(p.Constraints) != 1 || p.Constraints[0].Quantity != constraint.Dose {
		t.Errorf("Unexpected constraints %v", p.Constraints)
	}
}

func TestLoadPriorCourse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prior.yaml")
	data := []byte(`
BLADDER [cm3]:
  d2cc: 12.4
  D0.1cc: 15
HR-CTV:
  D90: 30
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	prior, err := LoadPriorCourse(path)
	if err != nil {
		t.Fatalf("LoadPriorCourse failed: %v", err)
	}
	p, _ := DefaultConfig().Compile()

	if v := prior.EQD2(p, "Bladder", "D2cc"); v == nil || *v != 12.4 {
		t.Errorf("Expected bladder D2cc 12.4, got %v", v)
	}
	if v := prior.EQD2(p, "CTV-HR", "D90"); v == nil || *v != 30 {
		t.Errorf("Expected CTV-HR D90 30 via alias, got %v", v)
	}
	if v := prior.EQD2(p, "Rectum", "D2cc"); v != nil {
		t.Errorf("Expected no rectum entry, got %v", *v)
	}

	var none PriorCourse
	if none.EQD2(p, "Bladder", "D2cc") != nil {
		t.Errorf("Nil prior course should have no entries")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("Bladder:\n  D2cc: -1\n"), 0644)
	if _, err := LoadPriorCourse(bad); err == nil {
		t.Errorf("Expected error for negative EQD2")
	}
}

func TestMatchPoint(t *testing.T) {
	p, _ := DefaultConfig().Compile()

	tests := map[string]string{
		"RV Point":           "RV Point",
		"rv pt":              "RV Point",
		"Cylinder tip":       "Prescription Point",
		"Point A left":       "Point A",
		"Pt A (R)":           "Point A",
		"prescription point": "Prescription Point",
	}
	for desc, expected := range tests {
		pc, ok := p.MatchPoint(desc)
		if !ok || pc.Name != expected {
			t.Errorf("MatchPoint(%q): expected %q, got %q (ok=%v)", desc, expected, pc.Name, ok)
		}
	}

	for _, desc := range []string{"Cervix", "", "Bladder point"} {
		if pc, ok := p.MatchPoint(desc); ok {
			t.Errorf("MatchPoint(%q): expected no match, got %q", desc, pc.Name)
		}
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	if got := GetEnvOrDefault(EnvLogLevel, "info"); got != "debug" {
		t.Errorf("Expected debug, got %q", got)
	}
	t.Setenv(EnvLogLevel, "")
	if got := GetEnvOrDefault(EnvLogLevel, "info"); got != "info" {
		t.Errorf("Expected info, got %q", got)
	}
}
