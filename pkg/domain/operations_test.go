package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestOperationDetailsCopiesInputs(t *testing.T) {
	in := OperationDetailsInput{
		RegistrationID: "reg-1",
		UserID:         "alice",
		Samples: []NewSample{{
			Code:       "S1",
			Type:       "CELL",
			Parents:    []string{"/SPACE/P"},
			Properties: []PropertyInput{{Code: "NAME", Value: "a"}},
		}},
		Materials: map[string][]NewMaterial{"GENE": {{Code: "GFP"}}},
	}
	details := NewAtomicEntityOperationDetails(in)

	in.Samples[0].Code = "MUTATED"
	in.Samples[0].Parents[0] = "MUTATED"
	in.Samples[0].Properties[0].Value = "MUTATED"
	in.Materials["GENE"][0].Code = "MUTATED"
	in.Materials["VIRUS"] = []NewMaterial{{Code: "X"}}

	samples := details.Samples()
	if samples[0].Code != "S1" || samples[0].Parents[0] != "/SPACE/P" || samples[0].Properties[0].Value != "a" {
		t.Fatalf("construction must copy input: %+v", samples[0])
	}
	samples[0].Properties[0].Value = "changed"
	if details.Samples()[0].Properties[0].Value != "a" {
		t.Fatalf("accessor must return copies")
	}
	materials := details.Materials()
	if len(materials) != 1 || materials["GENE"][0].Code != "GFP" {
		t.Fatalf("materials must be copied: %+v", materials)
	}
	if details.RegistrationID() != "reg-1" || details.UserID() != "alice" {
		t.Fatalf("identity fields lost")
	}
}

func TestOperationDetailsMaterialTypeOrder(t *testing.T) {
	details := NewAtomicEntityOperationDetails(OperationDetailsInput{Materials: map[string][]NewMaterial{
		"VIRUS":     {{Code: "V1"}},
		"BACTERIUM": {{Code: "B1"}},
		"GENE":      {{Code: "G1"}},
	}})
	got := fmt.Sprint(details.MaterialTypeCodes())
	if got != "[BACTERIUM GENE VIRUS]" {
		t.Fatalf("material types out of order: %s", got)
	}
}

func TestOperationDetailsEmpty(t *testing.T) {
	if !NewAtomicEntityOperationDetails(OperationDetailsInput{}).Empty() {
		t.Fatalf("expected empty batch")
	}
	if NewAtomicEntityOperationDetails(OperationDetailsInput{Materials: map[string][]NewMaterial{"GENE": {{Code: "G"}}}}).Empty() {
		t.Fatalf("materials count as operations")
	}
}

func TestResultDefaultsToZero(t *testing.T) {
	var res AtomicEntityOperationResult
	if res.Total() != 0 {
		t.Fatalf("expected zero counts")
	}
	res.SpacesCreated = 1
	res.DataSetsUpdated = 2
	if res.Total() != 3 {
		t.Fatalf("total: %d", res.Total())
	}
}

func TestErrorKindMatching(t *testing.T) {
	err := NewError(KindUnknownTerm, "term %s not in %s", "GREEN", "COLOR").At(KindSample, 2).WithField("COLOR")
	wrapped := fmt.Errorf("register: %w", err)
	if !errors.Is(wrapped, ErrUnknownTerm) {
		t.Fatalf("expected UnknownTerm match")
	}
	if errors.Is(wrapped, ErrUnknownMaterial) {
		t.Fatalf("unexpected kind match")
	}
	if KindOf(wrapped) != KindUnknownTerm {
		t.Fatalf("KindOf: %q", KindOf(wrapped))
	}
	var de *Error
	if !errors.As(wrapped, &de) || de.Position != 2 || de.Entity != KindSample || de.Field != "COLOR" {
		t.Fatalf("context lost: %+v", de)
	}
	want := "UnknownTerm: sample #2 field COLOR: term GREEN not in COLOR"
	if err.Error() != want {
		t.Fatalf("message: %q", err.Error())
	}
	if IsRetryable(err) {
		t.Fatalf("only commit conflicts are retryable")
	}
	if !IsRetryable(NewError(KindCommitConflict, "stale")) {
		t.Fatalf("commit conflict must be retryable")
	}
	mismatch := NewError(KindCommitConflict, "sample /LAB/S1 is at version 2, not 1")
	mismatch.Err = ErrStaleExpectedVersion
	if IsRetryable(fmt.Errorf("perform: %w", mismatch)) || !errors.Is(mismatch, ErrCommitConflict) {
		t.Fatalf("stale expected version must be a non-retryable commit conflict")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors have no kind")
	}
}

func TestErrorMaterialPosition(t *testing.T) {
	err := NewError(KindDuplicateCode, "exists").At(KindMaterial, 0)
	err.MaterialType = "GENE"
	if err.Error() != "DuplicateCode: material [GENE] #0: exists" {
		t.Fatalf("message: %q", err.Error())
	}
}
