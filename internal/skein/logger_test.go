package skein

import "testing"

type recordingLogger struct {
	NopLogger
	attrs []any
}

func (r *recordingLogger) With(args ...any) Logger {
	return &recordingLogger{attrs: append(append([]any{}, r.attrs...), args...)}
}

func TestOrNop(t *testing.T) {
	if _, ok := OrNop(nil).(*NopLogger); !ok {
		t.Error("OrNop(nil) is not a NopLogger")
	}
	l := &recordingLogger{}
	if OrNop(l) != Logger(l) {
		t.Error("OrNop() replaced a non-nil logger")
	}
}

func TestComponentLogger(t *testing.T) {
	scoped, ok := ComponentLogger(&recordingLogger{}, "gateway").(*recordingLogger)
	if !ok {
		t.Fatal("ComponentLogger() did not derive from the given logger")
	}
	if len(scoped.attrs) != 2 || scoped.attrs[0] != "component" || scoped.attrs[1] != "gateway" {
		t.Errorf("attrs = %v, want [component gateway]", scoped.attrs)
	}

	if _, ok := ComponentLogger(nil, "fast").(*NopLogger); !ok {
		t.Error("ComponentLogger(nil) is not a NopLogger")
	}
}
