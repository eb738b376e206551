package asset_test

import (
	"errors"
	"testing"

	"github.com/closetspace/asset-api/internal/domain/asset"
)

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status asset.Status
		want   bool
	}{
		{asset.StatusPending, false},
		{asset.StatusProcessing, false},
		{asset.StatusCompleted, true},
		{asset.StatusFailed, true},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
			if got := tt.status.IsActive(); got == tt.want {
				t.Errorf("IsActive() = %v, want %v", got, !tt.want)
			}
		})
	}
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from asset.Status
		to   asset.Status
		want bool
	}{
		{"pending starts processing", asset.StatusPending, asset.StatusProcessing, true},
		{"pending completes directly on alpha skip", asset.StatusPending, asset.StatusCompleted, true},
		{"processing completes", asset.StatusProcessing, asset.StatusCompleted, true},
		{"processing fails", asset.StatusProcessing, asset.StatusFailed, true},
		{"double submit re-enters processing", asset.StatusProcessing, asset.StatusProcessing, true},
		{"completed restarts via regeneration", asset.StatusCompleted, asset.StatusProcessing, true},
		{"failed restarts via regeneration", asset.StatusFailed, asset.StatusProcessing, true},
		{"completed cannot fail in place", asset.StatusCompleted, asset.StatusFailed, false},
		{"failed cannot complete in place", asset.StatusFailed, asset.StatusCompleted, false},
		{"completed cannot revert to pending", asset.StatusCompleted, asset.StatusPending, false},
		{"unknown status has no transitions", asset.Status("archived"), asset.StatusProcessing, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStatus_TransitionTo(t *testing.T) {
	got, err := asset.StatusProcessing.TransitionTo(asset.StatusCompleted)
	if err != nil {
		t.Fatalf("TransitionTo() error = %v", err)
	}
	if got != asset.StatusCompleted {
		t.Errorf("TransitionTo() = %v, want %v", got, asset.StatusCompleted)
	}

	got, err = asset.StatusCompleted.TransitionTo(asset.StatusFailed)
	if !errors.Is(err, asset.ErrInvalidTransition) {
		t.Errorf("TransitionTo() error = %v, want ErrInvalidTransition", err)
	}
	if got != asset.StatusCompleted {
		t.Errorf("TransitionTo() on invalid transition = %v, want unchanged %v", got, asset.StatusCompleted)
	}
}
