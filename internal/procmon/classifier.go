package procmon

import "strings"

// defaultTargets are lowercase fragments of IDE executable names. Matching is
// an unanchored substring test, so "idea" also matches "my-idea-notes.txt".
var defaultTargets = []string{
	"cursor",
	"trae",
	"qoder",
	"kiro",
	"code",
	"devenv",
	"idea",
	"pycharm",
	"webstorm",
	"clion",
}

// Classifier decides whether a process name belongs to a tracked IDE.
type Classifier struct {
	targets []string
}

// NewClassifier returns a classifier for the default IDE list plus any extra
// name fragments. Extras are lowercased; blank and duplicate ones are ignored.
func NewClassifier(extra ...string) *Classifier {
	seen := make(map[string]bool, len(defaultTargets)+len(extra))
	targets := make([]string, 0, len(defaultTargets)+len(extra))
	for _, t := range append(append([]string{}, defaultTargets...), extra...) {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		targets = append(targets, t)
	}
	return &Classifier{targets: targets}
}

// IsTracked reports whether name contains any target, ignoring case.
func (c *Classifier) IsTracked(name string) bool {
	lower := strings.ToLower(name)
	for _, t := range c.targets {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// Targets returns a copy of the fragments the classifier matches against.
func (c *Classifier) Targets() []string {
	out := make([]string, len(c.targets))
	copy(out, c.targets)
	return out
}

var defaultClassifier = NewClassifier()
