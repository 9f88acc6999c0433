package version

import (
	"strings"
	"testing"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	if info.Version != Version {
		t.Errorf("Version = %q, want %q", info.Version, Version)
	}
	if info.GoVersion == "" {
		t.Error("GoVersion is empty")
	}
	if !strings.Contains(info.Platform, "/") {
		t.Errorf("Platform = %q, want os/arch format", info.Platform)
	}
}

func TestString(t *testing.T) {
	s := String()
	if !strings.HasPrefix(s, ApplicationName) {
		t.Errorf("String() = %q, want prefix %q", s, ApplicationName)
	}
	if !strings.Contains(s, Version) {
		t.Errorf("String() = %q, want it to contain %q", s, Version)
	}
}

func TestShort(t *testing.T) {
	s := Short()
	if !strings.HasPrefix(s, ApplicationName+" ") {
		t.Errorf("Short() = %q, want prefix %q", s, ApplicationName+" ")
	}
}

func TestShortWithCommit(t *testing.T) {
	origCommit := Commit
	defer func() { Commit = origCommit }()

	Commit = "abcdef1234567890"
	s := Short()
	if !strings.Contains(s, "abcdef12") {
		t.Errorf("Short() = %q, want short commit abcdef12", s)
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	want := ApplicationName + "/" + Version
	if ua != want {
		t.Errorf("UserAgent() = %q, want %q", ua, want)
	}
}
