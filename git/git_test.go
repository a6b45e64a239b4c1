package git

import "testing"

func TestExtractRepoName(t *testing.T) {
	c := New()
	cases := []struct {
		in, want string
	}{
		{"https://github.com/acme/pay", "pay"},
		{"https://github.com/acme/pay.git", "pay"},
		{"https://github.com/acme/pay/tree/develop", "pay"},
		{"git@github.com:acme/pay.git", "pay"},
		{"git@github.com:pay.git", "pay"},
		{"ssh://git@github.com/acme/pay", "pay"},
		{"https://gitlab.com/group/sub/pay/-/tree/main", "pay"},
	}
	for _, tc := range cases {
		if got := c.ExtractRepoName(tc.in); got != tc.want {
			t.Errorf("ExtractRepoName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidRepoMissingDir(t *testing.T) {
	c := New()
	if c.ValidRepo(t.TempDir()) {
		t.Fatal("an empty directory is not a valid checkout")
	}
	if c.ValidRepo("/nonexistent/path/xyz") {
		t.Fatal("a missing directory is not a valid checkout")
	}
}
