package fusion

import (
	"context"
	"reflect"
	"testing"

	"github.com/doujins-org/compkit/vision"
)

func result(id string, entities []vision.Entity, objects []vision.Object) vision.Result {
	return vision.Result{ProviderID: id, Entities: entities, Objects: objects}
}

func failed(id string) vision.Result {
	return vision.Result{ProviderID: id, Err: &vision.ProviderError{Provider: id, Kind: vision.ErrorKindUnavailable}}
}

func TestVoting_AgreementRaisesConfidence(t *testing.T) {
	t.Parallel()

	v := NewVoting(VotingConfig{})
	attrs, err := v.Synthesize(context.Background(), []vision.Result{
		result("a", []vision.Entity{{Label: "Acme", Score: 0.7}}, nil),
		result("b", []vision.Entity{{Label: "acme", Score: 0.6}}, nil),
		result("c", []vision.Entity{{Label: "Other", Score: 0.9}}, nil),
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if attrs.Brand != "Acme" && attrs.Brand != "acme" {
		t.Fatalf("expected brand acme, got %q", attrs.Brand)
	}
	if got := attrs.FieldConfidence[FieldBrand]; got < 0.85 {
		t.Fatalf("expected agreement confidence >= 0.85, got %v", got)
	}
	if got := attrs.Provenance[FieldBrand]; !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("expected provenance [a b], got %v", got)
	}
}

func TestVoting_ConfidenceNonDecreasingWithAgreement(t *testing.T) {
	t.Parallel()

	v := NewVoting(VotingConfig{})
	two, err := v.Synthesize(context.Background(), []vision.Result{
		result("a", []vision.Entity{{Label: "Acme", Score: 0.7}}, nil),
		result("b", []vision.Entity{{Label: "acme", Score: 0.6}}, nil),
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	three, err := v.Synthesize(context.Background(), []vision.Result{
		result("a", []vision.Entity{{Label: "Acme", Score: 0.7}}, nil),
		result("b", []vision.Entity{{Label: "acme", Score: 0.6}}, nil),
		result("c", []vision.Entity{{Label: "ACME", Score: 0.5}}, nil),
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if three.FieldConfidence[FieldBrand] < two.FieldConfidence[FieldBrand] {
		t.Fatalf("confidence decreased with more agreement: %v -> %v",
			two.FieldConfidence[FieldBrand], three.FieldConfidence[FieldBrand])
	}
}

func TestVoting_SingleSourceStaysBelowPointSeven(t *testing.T) {
	t.Parallel()

	v := NewVoting(VotingConfig{})
	attrs, err := v.Synthesize(context.Background(), []vision.Result{
		result("a", []vision.Entity{{Label: "Acme", Score: 1.0}}, nil),
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	conf := attrs.FieldConfidence[FieldBrand]
	if conf < 0.4 || conf >= 0.7 {
		t.Fatalf("expected single-source confidence in [0.4,0.7), got %v", conf)
	}
}

func TestVoting_DisagreementUsesPriorityAndCapsConfidence(t *testing.T) {
	t.Parallel()

	v := NewVoting(VotingConfig{
		FieldPriority: map[Field][]string{FieldBrand: {"entities-svc"}},
	})
	attrs, err := v.Synthesize(context.Background(), []vision.Result{
		result("entities-svc", []vision.Entity{{Label: "Acme", Score: 1.0}}, nil),
		result("other-svc", []vision.Entity{{Label: "Bcme", Score: 1.0}}, nil),
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if attrs.Brand != "Acme" {
		t.Fatalf("expected priority provider to win, got %q", attrs.Brand)
	}
	if conf := attrs.FieldConfidence[FieldBrand]; conf > 0.6 {
		t.Fatalf("expected disagreement confidence <= 0.6, got %v", conf)
	}
	if got := attrs.Provenance[FieldBrand]; !reflect.DeepEqual(got, []string{"entities-svc"}) {
		t.Fatalf("expected provenance [entities-svc], got %v", got)
	}
}

func TestVoting_CategoryFromObjects(t *testing.T) {
	t.Parallel()

	v := NewVoting(VotingConfig{})
	attrs, err := v.Synthesize(context.Background(), []vision.Result{
		result("a", nil, []vision.Object{{Label: "Sneakers", Score: 0.9}}),
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if attrs.Category != "Sneakers" {
		t.Fatalf("expected category Sneakers, got %q", attrs.Category)
	}
	if attrs.Brand != "" || attrs.ProductName != "" {
		t.Fatalf("expected no brand/product, got %+v", attrs)
	}
}

func TestVoting_ErroredProvidersExcluded(t *testing.T) {
	t.Parallel()

	v := NewVoting(VotingConfig{})
	attrs, err := v.Synthesize(context.Background(), []vision.Result{
		failed("a"),
		failed("b"),
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !attrs.Empty() || attrs.Confidence != 0 {
		t.Fatalf("expected empty attribute set, got %+v", attrs)
	}
}

func TestVoting_Deterministic(t *testing.T) {
	t.Parallel()

	results := []vision.Result{
		result("a", []vision.Entity{{Label: "Acme Runner 95", Score: 0.8}, {Label: "Acme", Score: 0.7}}, []vision.Object{{Label: "Shoe", Score: 0.9}}),
		result("b", []vision.Entity{{Label: "acme runner 95", Score: 0.75}}, []vision.Object{{Label: "Sneakers", Score: 0.8}}),
		failed("c"),
	}

	v := NewVoting(VotingConfig{})
	first, err := v.Synthesize(context.Background(), results)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := v.Synthesize(context.Background(), results)
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("synthesis not deterministic:\nfirst: %+v\nagain: %+v", first, again)
		}
	}
}

func TestVoting_SecondaryAttributes(t *testing.T) {
	t.Parallel()

	v := NewVoting(VotingConfig{})
	attrs, err := v.Synthesize(context.Background(), []vision.Result{
		result("a",
			[]vision.Entity{{Label: "Acme", Score: 0.9}, {Label: "Leather", Score: 0.8}, {Label: "noise", Score: 0.1}},
			[]vision.Object{{Label: "Sneakers", Score: 0.9}}),
		result("b",
			[]vision.Entity{{Label: "acme", Score: 0.8}, {Label: "leather", Score: 0.6}},
			nil),
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !reflect.DeepEqual(attrs.Secondary, []string{"leather"}) {
		t.Fatalf("expected secondary [leather], got %v", attrs.Secondary)
	}
}

// The two-of-three agreement scenario: brand and category fuse from the
// agreeing pair; the dissenting provider contributes nothing fatal.
func TestVoting_TwoOfThreeScenario(t *testing.T) {
	t.Parallel()

	v := NewVoting(VotingConfig{})
	attrs, err := v.Synthesize(context.Background(), []vision.Result{
		result("a", []vision.Entity{{Label: "Acme", Score: 0.9}}, []vision.Object{{Label: "Sneakers", Score: 0.9}}),
		result("b", []vision.Entity{{Label: "acme", Score: 0.8}}, []vision.Object{{Label: "sneakers", Score: 0.85}}),
		result("c", []vision.Entity{{Label: "Unrelated", Score: 0.3}}, []vision.Object{{Label: "Boot", Score: 0.4}}),
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got := attrs.FieldConfidence[FieldBrand]; got < 0.85 {
		t.Fatalf("expected brand confidence >= 0.85, got %v", got)
	}
	if norm := attrs.Category; norm != "Sneakers" && norm != "sneakers" {
		t.Fatalf("expected category sneakers, got %q", attrs.Category)
	}
	if attrs.Confidence < 0.85 {
		t.Fatalf("expected overall confidence >= 0.85, got %v", attrs.Confidence)
	}
}
