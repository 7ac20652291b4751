package version

import "testing"

// setBuild overrides the ldflags variables for one test.
func setBuild(t *testing.T, version, commit, buildTime string) {
	t.Helper()
	prev := [3]string{Version, Commit, BuildTime}
	t.Cleanup(func() { Version, Commit, BuildTime = prev[0], prev[1], prev[2] })
	Version, Commit, BuildTime = version, commit, buildTime
}

func TestString(t *testing.T) {
	setBuild(t, "1.2.3", "abc1234", "2024-01-15T10:00:00Z")

	want := "1.2.3 (abc1234) built 2024-01-15T10:00:00Z"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestCurrent(t *testing.T) {
	setBuild(t, "2.0.0", "def5678", "2025-06-01T00:00:00Z")

	want := Info{Version: "2.0.0", Commit: "def5678", BuildTime: "2025-06-01T00:00:00Z"}
	if got := Current(); got != want {
		t.Errorf("Current() = %+v, want %+v", got, want)
	}
}
