package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInfoPrintsMessageVerbatim(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })

	Infof("\r  [%d/%d] done", 1, 2)
	Infoln("next")

	if got, want := buf.String(), "\r  [1/2] done"+"next\n"; got != want {
		t.Fatalf("output=%q want=%q", got, want)
	}
}

func TestDebugGatedByVerbose(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetVerbose(false)
		SetOutput(nil)
	})

	Debugf("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug output written while not verbose: %q", buf.String())
	}

	SetVerbose(true)
	WithFields(logrus.Fields{"phase": "plan", "a": 1}).Debugf("shown")
	got := buf.String()
	if !strings.HasPrefix(got, "[debug] shown") {
		t.Fatalf("unexpected debug line: %q", got)
	}
	if !strings.Contains(got, " a=1 phase=plan") {
		t.Fatalf("fields not rendered in sorted order: %q", got)
	}
}
