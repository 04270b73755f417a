package channel

import "testing"

func TestSetEnvAddsAndReplaces(t *testing.T) {
	env := []string{"PATH=/bin"}
	env = setEnv(env, "TERM", "xterm")
	if len(env) != 2 {
		t.Fatalf("got %v", env)
	}
	env = setEnv(env, "TERM", "vt100")
	if len(env) != 2 || env[1] != "TERM=vt100" {
		t.Fatalf("got %v", env)
	}
}

func TestHasEnvKey(t *testing.T) {
	env := []string{"PATH=/bin", "TERM=xterm"}
	if !hasEnvKey(env, "TERM") {
		t.Fatal("expected TERM to be present")
	}
	if hasEnvKey(env, "HOME") {
		t.Fatal("expected HOME to be absent")
	}
}

func TestSubsystemNamePayload(t *testing.T) {
	payload := []byte{0, 0, 0, 4, 's', 'f', 't', 'p'}
	name, err := subsystemName(payload)
	if err != nil {
		t.Fatal(err)
	}
	if name != "sftp" {
		t.Fatalf("got %q", name)
	}
	if _, err := subsystemName([]byte{0, 0, 0, 5, 's', 'f', 't', 'p'}); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestCommandLinePayload(t *testing.T) {
	payload := []byte{0, 0, 0, 2, 'l', 's'}
	line, err := commandLine(payload)
	if err != nil {
		t.Fatal(err)
	}
	if line != "ls" {
		t.Fatalf("got %q", line)
	}
}
