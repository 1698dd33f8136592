package gitmirror

import (
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// upstream is a clone-able git repo for tests, with a working tree to
// make commits in and a bare repo the mirror clones from.
type upstream struct {
	t    *testing.T
	work string
	bare string
}

func newUpstream(t *testing.T) (*upstream, func()) {
	base, err := ioutil.TempDir("", "datadirsync-test")
	if err != nil {
		t.Fatal(err)
	}
	cleanup := func() { os.RemoveAll(base) }

	u := &upstream{
		t:    t,
		work: filepath.Join(base, "work"),
		bare: filepath.Join(base, "upstream.git"),
	}

	if err := os.Mkdir(u.work, 0755); err != nil {
		cleanup()
		t.Fatal(err)
	}
	u.git("-C", u.work, "init")
	u.git("-C", u.work, "symbolic-ref", "HEAD", "refs/heads/main")
	u.git("-C", u.work, "config", "--local", "user.email", "example@example.com")
	u.git("-C", u.work, "config", "--local", "user.name", "example")
	u.commitFile("README.md", "test fixture\n")
	u.git("clone", "--bare", u.work, u.bare)

	return u, cleanup
}

func (u *upstream) url() string {
	return "file://" + u.bare
}

func (u *upstream) git(args ...string) {
	u.t.Helper()
	c := exec.Command("git", args...)
	out, err := c.CombinedOutput()
	if err != nil {
		u.t.Fatalf("git %s: %s\n%s", strings.Join(args, " "), err, out)
	}
}

// commitFile writes (or overwrites) a file in the working tree and
// commits it. Call push() to make it visible to the mirror.
func (u *upstream) commitFile(path, content string) {
	u.t.Helper()
	full := filepath.Join(u.work, path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		u.t.Fatal(err)
	}
	if err := ioutil.WriteFile(full, []byte(content), 0644); err != nil {
		u.t.Fatal(err)
	}
	u.git("-C", u.work, "add", "--", path)
	u.git("-C", u.work, "commit", "-m", "update "+path)
}

func (u *upstream) removeFile(path string) {
	u.t.Helper()
	u.git("-C", u.work, "rm", "--", path)
	u.git("-C", u.work, "commit", "-m", "remove "+path)
}

func (u *upstream) push() {
	u.t.Helper()
	u.git("-C", u.work, "push", u.bare, "main:main")
}

func (u *upstream) headRevision() string {
	u.t.Helper()
	c := exec.Command("git", "-C", u.work, "rev-parse", "HEAD")
	out, err := c.Output()
	if err != nil {
		u.t.Fatal(err)
	}
	return strings.TrimSpace(string(out))
}
