package storage

import (
	"errors"
	"testing"
)

const testCheckpointJSON = `{
  "creation_time": "2024-05-01T10:00:00.5Z",
  "request_queue": [
    [
      "req-c1",
      "root-1"
    ]
  ],
  "resultobjects": {
    "root-1": {
      "request_0": {
        "request_id": "root-1",
        "request": {
          "request": {
            "quantity": "degradationEOL",
            "methods": [
              "degradation_workflow"
            ],
            "parameters": {
              "degradation_workflow": {
                "volume": 1.50
              }
            }
          },
          "uuid": "root-1"
        },
        "result": null
      },
      "capacity": {
        "fan_out": true,
        "request": {
          "req-c1": {
            "quantity": "capacity"
          }
        },
        "result": {}
      }
    }
  },
  "stalled_requests": []
}`

func TestCheckpointRoundTrip(t *testing.T) {
	c, err := Unmarshal([]byte(testCheckpointJSON))
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(c.Instances), 1; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if have, want := c.Queue[0].Owner, "root-1"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := c.Created.Nanosecond(), 500000000; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	b, err := Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := string(b), testCheckpointJSON; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestUnmarshalInvalid(t *testing.T) {
	for _, test := range []struct {
		name string
		in   string
	}{
		{"notjson", `{`},
		{"array", `[]`},
		{"time", `{"creation_time":"yesterday"}`},
		{"pair", `{"request_queue":[["a"]]}`},
		{"emptyowner", `{"request_queue":[["a",""]]}`},
		{"noroot", `{"resultobjects":{"r":{"x":{"request_id":"a"}}}}`},
		{"stalled", `{"stalled_requests":[{"instance_id":"r"}]}`},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(test.in))
			if !errors.Is(err, ErrInvalidCheckpoint) {
				t.Errorf("have: %v, want: %v", err, ErrInvalidCheckpoint)
			}
		})
	}
}

func TestKindValid(t *testing.T) {
	if !WorkflowArchive.Valid() || !FailedArchive.Valid() {
		t.Error("expected valid kinds")
	}
	if err := CheckArchiveArgs(Kind("x"), "n"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("have: %v, want: %v", err, ErrUnknownKind)
	}
}

func TestCheckArchiveName(t *testing.T) {
	for _, name := range []string{"..", "../escape.json", "2024-05-01_a/b.json", `a\b.json`} {
		if err := CheckArchiveArgs(WorkflowArchive, name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("%q: have: %v, want: %v", name, err, ErrInvalidName)
		}
	}
	if err := CheckArchiveArgs(WorkflowArchive, "2024-05-01_root-1.json"); err != nil {
		t.Error(err)
	}
}
