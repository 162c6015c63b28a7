package config

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestError_Is(t *testing.T) {
	err := NewMissingRequiredError("train.batch_size")

	if !errors.Is(err, ErrMissingRequired) {
		t.Error("expected match on kind sentinel")
	}
	if !errors.Is(err, &Error{Kind: KindMissingRequired, Path: "train.batch_size"}) {
		t.Error("expected match on kind and path")
	}
	if errors.Is(err, &Error{Kind: KindMissingRequired, Path: "train.accum"}) {
		t.Error("unexpected match on a different path")
	}
	if errors.Is(err, ErrValidation) {
		t.Error("unexpected match on a different kind")
	}
}

func TestError_WrappedAndJoined(t *testing.T) {
	joined := errors.Join(
		NewMissingRequiredError("dataset.name"),
		NewValidationError("model.dropout", "must be at most 1, got 2", nil),
	)
	wrapped := fmt.Errorf("resolve: %w", joined)

	if !IsMissingRequired(wrapped) {
		t.Error("expected missing-required in chain")
	}
	if !IsValidation(wrapped) {
		t.Error("expected validation in chain")
	}
	if IsStructural(wrapped) || IsNotFound(wrapped) {
		t.Error("unexpected kinds in chain")
	}
	if got := KindOf(wrapped); got != KindMissingRequired {
		t.Errorf("KindOf() = %q, want %q", got, KindMissingRequired)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
}

func TestError_Message(t *testing.T) {
	err := NewNotFoundError("conf/train.yaml", fs.ErrNotExist)

	want := "[not_found] config file is not found (file=conf/train.yaml): file does not exist"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("expected underlying error to be reachable")
	}

	structural := NewStructuralError("model", "saved config has no model section").WithFile("saved.yaml")
	want = "[structural] model: saved config has no model section (file=saved.yaml)"
	if got := structural.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
