package logging

import (
	"bytes"
	"strings"
	"testing"

	clog "github.com/charmbracelet/log"
)

func TestSetDebugGatesDebugOutput(t *testing.T) {
	var buf bytes.Buffer
	old := L
	L = clog.NewWithOptions(&buf, clog.Options{ReportTimestamp: false})
	defer func() { L = old }()

	SetDebug(false)
	Debugf("hidden %d", 1)
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("debug output emitted while disabled: %q", buf.String())
	}

	SetDebug(true)
	Debugf("visible %d", 2)
	if !strings.Contains(buf.String(), "visible 2") {
		t.Fatalf("expected debug output after SetDebug(true), got: %q", buf.String())
	}
}

func TestInfofAlwaysEmits(t *testing.T) {
	var buf bytes.Buffer
	old := L
	L = clog.NewWithOptions(&buf, clog.Options{ReportTimestamp: false})
	defer func() { L = old }()

	SetDebug(false)
	Infof("hello %s", "world")
	if !strings.Contains(buf.String(), "hello world") {
		t.Fatalf("expected info output, got: %q", buf.String())
	}
}
