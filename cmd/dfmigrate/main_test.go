package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/leapstack-labs/dfmigrate/internal/cli"
)

func TestVersionCommand(t *testing.T) {
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Errorf("version command error = %v", err)
	}

	if !strings.Contains(buf.String(), "dfmigrate") {
		t.Errorf("version output should contain 'dfmigrate', got: %s", buf.String())
	}
}

func TestHelpCommand(t *testing.T) {
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Errorf("help command error = %v", err)
	}

	output := buf.String()
	for _, expected := range []string{"migrate", "plan", "history", "version", "--output-mode", "--state"} {
		if !strings.Contains(output, expected) {
			t.Errorf("help output should contain '%s', got: %s", expected, output)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"seed"})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if code := cli.ExitCode(err); code != 1 {
		t.Errorf("ExitCode = %d, want 1", code)
	}
}
