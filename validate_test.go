package lattix

import (
	"strings"
	"testing"
)

func TestNormalizeRepoURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://github.com/acme/pay", "https://github.com/acme/pay"},
		{"https://github.com/acme/pay.git", "https://github.com/acme/pay"},
		{"https://github.com/acme/pay/tree/develop", "https://github.com/acme/pay"},
		{"https://github.com/acme/pay/tree/develop/src/main", "https://github.com/acme/pay"},
		{"https://github.com/acme/pay/blob/main/README.md", "https://github.com/acme/pay"},
		{"https://gitlab.com/acme/pay/-/tree/develop", "https://gitlab.com/acme/pay"},
		{"https://github.com/acme/pay?tab=readme", "https://github.com/acme/pay"},
		{"https://github.com/acme/pay/", "https://github.com/acme/pay"},
	}
	for _, c := range cases {
		if got := NormalizeRepoURL(c.in); got != c.want {
			t.Errorf("NormalizeRepoURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeRepoURLIdempotent(t *testing.T) {
	inputs := []string{
		"https://github.com/acme/pay/tree/develop?x=1",
		"https://gitlab.com/acme/pay/-/tree/v2.0",
		"git@github.com:acme/pay.git",
	}
	for _, in := range inputs {
		once := NormalizeRepoURL(in)
		if twice := NormalizeRepoURL(once); twice != once {
			t.Errorf("not idempotent: %q → %q → %q", in, once, twice)
		}
	}
}

func TestBranchFromURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://github.com/acme/pay/tree/develop", "develop"},
		{"https://github.com/acme/pay/tree/feature/x", "feature"},
		{"https://gitlab.com/acme/pay/-/tree/v2.0", "v2.0"},
		{"https://github.com/acme/pay", "main"},
		{"https://github.com/acme/pay/tree/develop?files=1", "develop"},
	}
	for _, c := range cases {
		if got := BranchFromURL(c.in, "main"); got != c.want {
			t.Errorf("BranchFromURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestValidateBranch(t *testing.T) {
	valid := []string{"main", "develop", "feature/login-fix", "v2.0", "release_1", "hot-fix.2"}
	for _, b := range valid {
		if err := ValidateBranch(b); err != nil {
			t.Errorf("ValidateBranch(%q) = %v, want nil", b, err)
		}
	}

	invalid := []string{
		"",
		"main; rm -rf /",
		"../../etc/passwd",
		".hidden",
		"branch.",
		"/leading",
		"trailing/",
		"double//slash",
		"branch.lock",
		"spaces not allowed",
		"tab\tchar",
		strings.Repeat("a", 201),
	}
	for _, b := range invalid {
		if err := ValidateBranch(b); err == nil {
			t.Errorf("ValidateBranch(%q) = nil, want error", b)
		}
	}
}

func TestValidateRepoURL(t *testing.T) {
	valid := []string{
		"https://github.com/acme/pay",
		"git@github.com:acme/pay.git",
		"ssh://git@github.com/acme/pay",
	}
	for _, u := range valid {
		if err := ValidateRepoURL(u); err != nil {
			t.Errorf("ValidateRepoURL(%q) = %v, want nil", u, err)
		}
	}

	invalid := []string{
		"",
		"http://github.com/acme/pay",
		"file:///etc/passwd",
		"javascript:alert(1)",
		"data:text/html;base64,xx",
		"https://github.com/acme/pay;rm -rf /",
		"https://github.com/acme/$(whoami)",
		"https://github.com/acme/pay|cat",
		`https://github.com/acme/"pay"`,
		"https://github.com/acme/pay`id`",
	}
	for _, u := range invalid {
		if err := ValidateRepoURL(u); err == nil {
			t.Errorf("ValidateRepoURL(%q) = nil, want error", u)
		}
	}
}

func TestSanitizeStripsObfuscation(t *testing.T) {
	// Zero-width characters must not smuggle content past validation.
	if got := Sanitize("ma\u200bin"); got != "main" {
		t.Fatalf("Sanitize = %q, want %q", got, "main")
	}
	// NFKC folds fullwidth Latin to ASCII.
	if got := Sanitize("ｍａｉｎ"); got != "main" {
		t.Fatalf("Sanitize fullwidth = %q, want %q", got, "main")
	}
}
