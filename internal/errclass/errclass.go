// Package errclass maps raw failure text onto the three classes that drive
// retry policy. Matching is a keyword heuristic; misclassification is an
// accepted limitation and the keyword table is intentionally left as is.
package errclass

import "strings"

// Class is the retry-relevant category of a failure.
type Class int

const (
	Generic Class = iota
	NetworkTransient
	Critical
)

func (c Class) String() string {
	switch c {
	case NetworkTransient:
		return "network"
	case Critical:
		return "critical"
	default:
		return "generic"
	}
}

// Level is the notification level shown to the user for this class.
func (c Class) Level() string {
	switch c {
	case Critical:
		return "critical"
	case NetworkTransient:
		return "warning"
	default:
		return "error"
	}
}

// Rule is one keyword entry. Rules are evaluated in order; first match wins.
type Rule struct {
	Keyword string
	Class   Class
}

var rules = []Rule{
	{"authentication failure", Critical},
	{"banned", Critical},
	{"invalid session", Critical},
	{"protocol error", Critical},
	{"unauthorized", Critical},
	{"not found", Critical},

	{"network error", NetworkTransient},
	{"connection refused", NetworkTransient},
	{"timeout", NetworkTransient},
	{"socket hang up", NetworkTransient},
	{"enotfound", NetworkTransient},
	{"dns", NetworkTransient},
	{"connection timed out", NetworkTransient},
}

// Rules returns a copy of the ordered rule table.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Classify classifies err by its message. nil is Generic.
func Classify(err error) Class {
	if err == nil {
		return Generic
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage classifies a raw failure message.
func ClassifyMessage(msg string) Class {
	lower := strings.ToLower(msg)
	for _, r := range rules {
		if strings.Contains(lower, r.Keyword) {
			return r.Class
		}
	}
	return Generic
}

// Parse maps the String form back to a Class. Unknown names are Generic.
func Parse(s string) Class {
	switch s {
	case "critical":
		return Critical
	case "network":
		return NetworkTransient
	}
	return Generic
}
