package app

import (
	"errors"
	"testing"
	"time"
)

func TestNewOperation(t *testing.T) {
	started := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	op := NewOperation("op-1", "create", started)

	if op.ID != "op-1" {
		t.Errorf("ID = %q, want %q", op.ID, "op-1")
	}
	if op.Command != "create" {
		t.Errorf("Command = %q, want %q", op.Command, "create")
	}
	if op.Status != "success" {
		t.Errorf("Status = %q, want %q", op.Status, "success")
	}
	if got := op.Elapsed(started.Add(1500 * time.Millisecond)); got != 1500*time.Millisecond {
		t.Errorf("Elapsed() = %v, want 1.5s", got)
	}
}

func TestOperation_Track(t *testing.T) {
	tests := []struct {
		name string
		errs []error
		want string
	}{
		{name: "no error", errs: []error{nil}, want: "success"},
		{name: "error", errs: []error{errors.New("boom")}, want: "error"},
		{name: "error is sticky", errs: []error{errors.New("boom"), nil}, want: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation("op", "remove", time.Now())
			for _, err := range tt.errs {
				if got := op.Track(err); got != err {
					t.Errorf("Track() returned %v, want %v", got, err)
				}
			}
			if op.Status != tt.want {
				t.Errorf("Status = %q, want %q", op.Status, tt.want)
			}
		})
	}
}
