package logrus

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/regioncache"
)

func TestLogrusLogger(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.InfoLevel)
	l := New(base)

	l.Debug("hidden", nil)
	l.Warn("self-healed entry", regioncache.Fields{"region": "users", "reason": "corrupt"})

	if len(hook.AllEntries()) != 1 {
		t.Fatalf("got %d entries", len(hook.AllEntries()))
	}
	e := hook.LastEntry()
	if e.Level != logrus.WarnLevel || e.Message != "self-healed entry" || e.Data["reason"] != "corrupt" {
		t.Fatalf("entry %+v", e)
	}
}
