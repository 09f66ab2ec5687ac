package domain

import (
	"regexp"
	"strings"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9_\-]+$`)

// InternalNamespacePrefix marks codes of system-managed property types and vocabularies.
const InternalNamespacePrefix = "$"

// ValidCode reports whether code matches the entity code format.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// NormalizeCode trims and upper-cases a code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// SplitNamespace strips the internal namespace prefix from a code and reports
// whether it was present.
func SplitNamespace(code string) (string, bool) {
	if strings.HasPrefix(code, InternalNamespacePrefix) {
		return strings.TrimPrefix(code, InternalNamespacePrefix), true
	}
	return code, false
}

// JoinNamespace renders a code with the internal namespace prefix when internal is set.
func JoinNamespace(code string, internal bool) string {
	if internal {
		return InternalNamespacePrefix + code
	}
	return code
}

// QualifyCode normalizes a code that may carry the internal namespace prefix.
func QualifyCode(code string) string {
	bare, internal := SplitNamespace(strings.TrimSpace(code))
	return JoinNamespace(NormalizeCode(bare), internal)
}

// SpaceIdentifier renders "/SPACE".
func SpaceIdentifier(space string) string { return "/" + space }

// ProjectIdentifier renders "/SPACE/PROJECT".
func ProjectIdentifier(space, project string) string { return "/" + space + "/" + project }

// ExperimentIdentifier renders "/SPACE/PROJECT/EXPERIMENT".
func ExperimentIdentifier(space, project, experiment string) string {
	return ProjectIdentifier(space, project) + "/" + experiment
}

// SampleIdentifier renders "/SPACE/CODE", or "/CODE" when space is empty.
func SampleIdentifier(space, code string) string {
	if space == "" {
		return "/" + code
	}
	return "/" + space + "/" + code
}

// ParseProjectIdentifier splits "/SPACE/PROJECT".
func ParseProjectIdentifier(identifier string) (space, project string, ok bool) {
	parts := splitIdentifier(identifier)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ParseExperimentIdentifier splits "/SPACE/PROJECT/EXPERIMENT".
func ParseExperimentIdentifier(identifier string) (space, project, experiment string, ok bool) {
	parts := splitIdentifier(identifier)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// ParseSampleIdentifier splits "/SPACE/CODE" or "/CODE".
func ParseSampleIdentifier(identifier string) (space, code string, ok bool) {
	parts := splitIdentifier(identifier)
	switch len(parts) {
	case 1:
		return "", parts[0], true
	case 2:
		return parts[0], parts[1], true
	default:
		return "", "", false
	}
}

func splitIdentifier(identifier string) []string {
	identifier = strings.TrimSpace(identifier)
	if !strings.HasPrefix(identifier, "/") {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(identifier, "/"), "/")
	for i, p := range parts {
		if p == "" {
			return nil
		}
		parts[i] = strings.ToUpper(p)
	}
	return parts
}
