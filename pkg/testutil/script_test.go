package testutil

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseScript(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		wantGlobals []Global
		wantEvents  []Event
		wantErr     bool
	}{
		{
			name: "full session",
			data: `
globals:
  - {name: 1, interface: wl_seat, version: 9}
  - {name: 2, interface: ext_idle_notifier_v1, version: 1}
events: [idled, resumed, sever]
`,
			wantGlobals: []Global{
				{Name: 1, Interface: "wl_seat", Version: 9},
				{Name: 2, Interface: "ext_idle_notifier_v1", Version: 1},
			},
			wantEvents: []Event{EventIdled, EventResumed, EventSever},
		},
		{
			name:        "no globals",
			data:        "events: [sever]\n",
			wantGlobals: nil,
			wantEvents:  []Event{EventSever},
		},
		{
			name:    "unknown event",
			data:    "events: [paused]\n",
			wantErr: true,
		},
		{
			name:    "global without interface",
			data:    "globals:\n  - {name: 1, version: 1}\n",
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			data:    "globals: [\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseScript([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseScript() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !reflect.DeepEqual(s.Globals, tt.wantGlobals) {
				t.Errorf("Globals = %v, want %v", s.Globals, tt.wantGlobals)
			}
			if !reflect.DeepEqual(s.Events, tt.wantEvents) {
				t.Errorf("Events = %v, want %v", s.Events, tt.wantEvents)
			}
		})
	}
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	data := "globals:\n  - {name: 7, interface: wl_seat, version: 1}\nevents: [idled]\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := LoadScript(path)
	if err != nil {
		t.Fatalf("LoadScript() error = %v", err)
	}

	c := s.Compositor()
	if len(c.Globals) != 1 || c.Globals[0].Name != 7 {
		t.Errorf("Globals = %v", c.Globals)
	}

	if _, err := LoadScript(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(err) {
		t.Errorf("LoadScript() on missing file error = %v, want not-exist", err)
	}
}
