package policy

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

var (
	importLine     = regexp.MustCompile(`^\s*import\s+(.+)$`)
	fromImportLine = regexp.MustCompile(`^\s*from\s+([A-Za-z_][\w.]*)\s+import\b`)
)

type compiledRule struct {
	re     *regexp.Regexp
	reason string
}

// Detector checks code against regex rules and an import denylist.
type Detector struct {
	mu     sync.RWMutex
	rules  []compiledRule
	denied map[string]bool
}

// fileConfig is the policy file layout.
type fileConfig struct {
	MaliciousCode struct {
		Rules          []Rule   `yaml:"rules"`
		DeniedImports  []string `yaml:"denied_imports"`
		AllowedImports []string `yaml:"allowed_imports"`
	} `yaml:"malicious_code"`
}

// New creates a detector with the default rules.
func New() *Detector {
	d := &Detector{denied: make(map[string]bool)}
	for _, r := range DefaultRules {
		// Defaults are constant and covered by tests.
		_ = d.addRule(r)
	}
	for _, m := range DefaultDeniedImports {
		d.denied[m] = true
	}
	return d
}

// Load creates a detector with the defaults plus the overrides in a YAML
// policy file.
func Load(path string) (*Detector, error) {
	d := New()
	if err := d.LoadConfig(path); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Detector) addRule(r Rule) error {
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return fmt.Errorf("compile rule %q: %w", r.Pattern, err)
	}
	reason := r.Reason
	if reason == "" {
		reason = "Matches policy rule " + r.Pattern
	}
	d.rules = append(d.rules, compiledRule{re: re, reason: reason})
	return nil
}

// AddRule adds a regex rule.
func (d *Detector) AddRule(r Rule) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addRule(r)
}

// DenyImport adds a module to the denylist.
func (d *Detector) DenyImport(module string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.denied[module] = true
}

// AllowImport removes a module from the denylist.
func (d *Detector) AllowImport(module string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.denied, module)
}

// LoadConfig merges a YAML policy file into the detector.
func (d *Detector) LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse policy %s: %w", path, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range cfg.MaliciousCode.Rules {
		if err := d.addRule(r); err != nil {
			return err
		}
	}
	for _, m := range cfg.MaliciousCode.DeniedImports {
		d.denied[m] = true
	}
	for _, m := range cfg.MaliciousCode.AllowedImports {
		delete(d.denied, m)
	}
	return nil
}

// Check reports whether code is malicious and why.
func (d *Detector) Check(code string) (bool, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, module := range importedModules(code) {
		if d.denied[module] {
			return true, "Import of denied module: " + module
		}
	}

	for _, r := range d.rules {
		if r.re.MatchString(code) {
			return true, r.reason
		}
	}
	return false, ""
}

// importedModules returns the top-level module of every import statement.
func importedModules(code string) []string {
	var modules []string
	for _, line := range strings.Split(code, "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}

		if m := fromImportLine.FindStringSubmatch(line); m != nil {
			modules = append(modules, topLevel(m[1]))
			continue
		}
		if m := importLine.FindStringSubmatch(line); m != nil {
			for _, part := range strings.Split(m[1], ",") {
				fields := strings.Fields(part)
				if len(fields) > 0 {
					modules = append(modules, topLevel(fields[0]))
				}
			}
		}
	}
	return modules
}

func topLevel(module string) string {
	if i := strings.Index(module, "."); i >= 0 {
		return module[:i]
	}
	return module
}
