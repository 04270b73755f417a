package server

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sshd.yaml")
	contents := "host: 127.0.0.1\nport: \"2222\"\nshell: /bin/sh\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if c.Host != "127.0.0.1" || c.Port != "2222" || c.Shell != "/bin/sh" {
		t.Fatalf("got %+v", c)
	}
}

func TestLoadConfigFileRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sshd.yaml")
	if err := os.WriteFile(path, []byte("bogus-key: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}
