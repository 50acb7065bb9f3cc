package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug":  logrus.DebugLevel,
		"warn":   logrus.WarnLevel,
		"error":  logrus.ErrorLevel,
		"silent": logrus.PanicLevel,
		"info":   logrus.InfoLevel,
		"bogus":  logrus.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONComponentField(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "info", "json")
	Component(l, "bot").WithField("chat", "123@c.us").Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf.String())
	}
	if entry["component"] != "bot" {
		t.Errorf("component = %v, want bot", entry["component"])
	}
	if entry["chat"] != "123@c.us" {
		t.Errorf("chat = %v", entry["chat"])
	}
	if entry["msg"] != "hello" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "info", "text")
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected no output for debug at info level, got %q", buf.String())
	}
}
