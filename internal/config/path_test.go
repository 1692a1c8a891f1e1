package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultDataDirXDGOverride(t *testing.T) {
	originalXDG := os.Getenv("XDG_DATA_HOME")
	t.Cleanup(func() {
		if originalXDG != "" {
			os.Setenv("XDG_DATA_HOME", originalXDG)
		} else {
			os.Unsetenv("XDG_DATA_HOME")
		}
	})
	os.Setenv("XDG_DATA_HOME", "/custom/data")

	if got := DefaultDataDir(); got != "/custom/data/mcptap" {
		t.Errorf("expected /custom/data/mcptap, got %s", got)
	}
}

func TestDefaultDataDirCrossPlatform(t *testing.T) {
	result := DefaultDataDir()
	if result == "" {
		t.Fatal("DefaultDataDir should not return empty string")
	}
	if !filepath.IsAbs(result) && !strings.HasPrefix(result, "./") {
		t.Errorf("expected absolute path or ./ prefix, got %s", result)
	}
	if !strings.Contains(strings.ToLower(result), "mcptap") && result != "./data" {
		t.Errorf("expected 'mcptap' in path, got %s", result)
	}
}

func TestIsDir(t *testing.T) {
	if !isDir(".") {
		t.Error("current directory should be a dir")
	}
	if isDir("/non/existent/path/that/does/not/exist") {
		t.Error("missing path should not be a dir")
	}
}
