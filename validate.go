package lattix

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// zeroWidthChars are Unicode zero-width and invisible characters stripped
// before validation so obfuscated input cannot slip past the predicates.
var zeroWidthChars = strings.NewReplacer(
	"\u200b", "", // zero-width space
	"\u200c", "", // zero-width non-joiner
	"\u200d", "", // zero-width joiner
	"\ufeff", "", // zero-width no-break space (BOM)
	"\u2060", "", // word joiner
	"\u00ad", "", // soft hyphen
)

// Sanitize strips zero-width characters and applies NFKC normalization
// (fullwidth Latin, ligatures, mathematical alphanumerics fold to ASCII).
// Applied to user-supplied URLs and branch names before validation.
func Sanitize(s string) string {
	return norm.NFKC.String(zeroWidthChars.Replace(strings.TrimSpace(s)))
}

var branchCharset = regexp.MustCompile(`^[A-Za-z0-9/_.-]+$`)

// ValidateBranch checks a git branch name: allowed charset, length at most
// 200, no leading or trailing '.' or '/', no "//", no ".lock" suffix.
// Every accepted name is safe to pass to `git clone --branch`.
func ValidateBranch(branch string) error {
	b := Sanitize(branch)
	switch {
	case b == "":
		return &ErrValidation{Field: "branch", Reason: "must not be empty"}
	case len(b) > 200:
		return &ErrValidation{Field: "branch", Reason: "must be at most 200 characters"}
	case !branchCharset.MatchString(b):
		return &ErrValidation{Field: "branch", Reason: "contains characters outside [A-Za-z0-9/_.-]"}
	case strings.HasPrefix(b, ".") || strings.HasSuffix(b, "."):
		return &ErrValidation{Field: "branch", Reason: "must not start or end with '.'"}
	case strings.HasPrefix(b, "/") || strings.HasSuffix(b, "/"):
		return &ErrValidation{Field: "branch", Reason: "must not start or end with '/'"}
	case strings.Contains(b, "//"):
		return &ErrValidation{Field: "branch", Reason: "must not contain '//'"}
	case strings.HasSuffix(b, ".lock"):
		return &ErrValidation{Field: "branch", Reason: "must not end with '.lock'"}
	}
	return nil
}

// shellMeta are characters that would let a URL escape into a shell or git
// argument injection. URLs containing any of them are rejected outright.
const shellMeta = ";|&$`<>(){}[]\\\"'"

// ValidateRepoURL checks a repository URL: scheme allow-list (https, git@,
// ssh), no shell metacharacters, and a deny-list of dangerous schemes.
func ValidateRepoURL(rawURL string) error {
	u := Sanitize(rawURL)
	if u == "" {
		return &ErrValidation{Field: "repo_url", Reason: "must not be empty"}
	}
	lower := strings.ToLower(u)
	for _, scheme := range []string{"file://", "javascript:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return &ErrValidation{Field: "repo_url", Reason: "scheme " + scheme + " is not allowed"}
		}
	}
	if !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "git@") && !strings.HasPrefix(u, "ssh://") {
		return &ErrValidation{Field: "repo_url", Reason: "must begin with https://, git@, or ssh://"}
	}
	if strings.ContainsAny(u, shellMeta) || strings.ContainsAny(u, " \t\n\r") {
		return &ErrValidation{Field: "repo_url", Reason: "contains forbidden characters"}
	}
	return nil
}

// refSuffixes are the provider path segments stripped during normalization.
// GitLab uses the "/-/tree/" form.
var refSuffixes = []string{"/-/tree/", "/tree/", "/blob/"}

// NormalizeRepoURL strips branch suffixes (/tree/<ref>, /blob/<ref>,
// /-/tree/<ref>), query strings, and trailing slashes. Idempotent:
// NormalizeRepoURL(NormalizeRepoURL(x)) == NormalizeRepoURL(x).
func NormalizeRepoURL(rawURL string) string {
	u := Sanitize(rawURL)
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	for _, suffix := range refSuffixes {
		if i := strings.Index(u, suffix); i >= 0 {
			u = u[:i]
		}
	}
	u = strings.TrimSuffix(u, "/")
	return strings.TrimSuffix(u, ".git")
}

// BranchFromURL extracts the branch from a /tree/<ref> segment: the first
// path component after it. Without such a segment, returns defaultBranch.
func BranchFromURL(rawURL, defaultBranch string) string {
	u := Sanitize(rawURL)
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	for _, marker := range []string{"/-/tree/", "/tree/"} {
		i := strings.Index(u, marker)
		if i < 0 {
			continue
		}
		rest := u[i+len(marker):]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			rest = rest[:j]
		}
		if rest != "" {
			return rest
		}
	}
	return defaultBranch
}
