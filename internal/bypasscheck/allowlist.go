package bypasscheck

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// Allowlist names every call site permitted to use the row-security
// bypass. Any call outside this list fails the check: bypass disables
// tenant isolation for a transaction and must stay deliberate.
type Allowlist struct {
	Version   int        `yaml:"version"`
	CallSites []CallSite `yaml:"call_sites"`
}

type CallSite struct {
	File     string `yaml:"file"`
	Function string `yaml:"function"`
}

func ParseAllowlistYAML(b []byte) (Allowlist, error) {
	var a Allowlist
	if err := yaml.Unmarshal(b, &a); err != nil {
		return Allowlist{}, err
	}
	if a.Version != 1 {
		return Allowlist{}, errors.New("bypasscheck: unsupported allowlist version")
	}
	return a, nil
}

func LoadAllowlist(path string) (Allowlist, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Allowlist{}, err
	}
	return ParseAllowlistYAML(b)
}

func (a Allowlist) permits(site CallSite) bool {
	for _, s := range a.CallSites {
		if s.File == site.File && s.Function == site.Function {
			return true
		}
	}
	return false
}
