package proof_test

import (
	"testing"

	"rewardline/internal/domain"
	"rewardline/internal/proof"
)

func f64(v float64) *float64 { return &v }

func TestNilConfigRequiresNonEmptyPayload(t *testing.T) {
	if err := proof.Validate(nil, domain.ProofPayload{}); err == nil {
		t.Fatal("empty payload should fail without a config")
	}
	if err := proof.Validate(nil, domain.ProofPayload{Description: "done"}); err != nil {
		t.Fatalf("non-empty payload: %v", err)
	}
}

func TestPhotoRequirements(t *testing.T) {
	cfg := &domain.ProofConfig{Photo: &domain.PhotoRequirement{Enabled: true, Count: 2}}

	if err := proof.Validate(cfg, domain.ProofPayload{}); err == nil {
		t.Fatal("missing photos should fail")
	}
	one := domain.ProofPayload{Photos: []domain.ProofFile{{URL: "https://cdn.example/a.jpg"}}}
	if err := proof.Validate(cfg, one); err == nil {
		t.Fatal("one photo should fail a count of 2")
	}
	blank := domain.ProofPayload{Photos: []domain.ProofFile{
		{URL: "https://cdn.example/a.jpg"},
		{URL: "   "},
	}}
	if err := proof.Validate(cfg, blank); err == nil {
		t.Fatal("blank photo url should fail")
	}
	ok := domain.ProofPayload{Photos: []domain.ProofFile{
		{URL: "https://cdn.example/a.jpg", Hash: "abc"},
		{URL: "https://cdn.example/b.jpg"},
	}}
	if err := proof.Validate(cfg, ok); err != nil {
		t.Fatalf("two photos: %v", err)
	}
}

func TestGPSRequirements(t *testing.T) {
	cfg := &domain.ProofConfig{GPS: &domain.GPSRequirement{Enabled: true}}

	if err := proof.Validate(cfg, domain.ProofPayload{}); err == nil {
		t.Fatal("missing gps should fail")
	}
	if err := proof.Validate(cfg, domain.ProofPayload{GPS: &domain.GPSPoint{Latitude: f64(25.0)}}); err == nil {
		t.Fatal("missing longitude should fail")
	}
	if err := proof.Validate(cfg, domain.ProofPayload{GPS: &domain.GPSPoint{Latitude: f64(95.0), Longitude: f64(121.5)}}); err == nil {
		t.Fatal("latitude out of range should fail")
	}
	if err := proof.Validate(cfg, domain.ProofPayload{GPS: &domain.GPSPoint{Latitude: f64(25.03), Longitude: f64(121.56)}}); err != nil {
		t.Fatalf("valid point: %v", err)
	}
}

func TestDescriptionCharCount(t *testing.T) {
	cfg := &domain.ProofConfig{Description: &domain.DescriptionRequirement{Enabled: true, MinChars: 20}}

	if err := proof.Validate(cfg, domain.ProofPayload{Description: "ten chars."}); err == nil {
		t.Fatal("10 chars should fail a minimum of 20")
	}
	// Runes, not bytes: 20 CJK characters pass even though they are 60 bytes.
	cjk := "種樹二十棵已完成拍照留存請查收謝謝再確認"
	if err := proof.Validate(cfg, domain.ProofPayload{Description: cjk}); err != nil {
		t.Fatalf("20 cjk chars: %v", err)
	}
	if err := proof.Validate(cfg, domain.ProofPayload{Description: "planted twenty oak saplings"}); err != nil {
		t.Fatalf("long description: %v", err)
	}
}

func TestDescriptionMinimumFloor(t *testing.T) {
	// Enabled with no explicit minimum still demands at least one character.
	cfg := &domain.ProofConfig{Description: &domain.DescriptionRequirement{Enabled: true}}
	if err := proof.Validate(cfg, domain.ProofPayload{Description: "   "}); err == nil {
		t.Fatal("whitespace-only description should fail")
	}
	if err := proof.Validate(cfg, domain.ProofPayload{Description: "x"}); err != nil {
		t.Fatalf("single char: %v", err)
	}
}

func TestCombinedRequirements(t *testing.T) {
	cfg := &domain.ProofConfig{
		Photo:       &domain.PhotoRequirement{Enabled: true, Count: 1},
		GPS:         &domain.GPSRequirement{Enabled: true},
		Description: &domain.DescriptionRequirement{Enabled: true, MinChars: 5},
	}
	payload := domain.ProofPayload{
		Photos:      []domain.ProofFile{{URL: "https://cdn.example/a.jpg"}},
		GPS:         &domain.GPSPoint{Latitude: f64(25.03), Longitude: f64(121.56), Accuracy: f64(8)},
		Description: "all trees planted",
	}
	if err := proof.Validate(cfg, payload); err != nil {
		t.Fatalf("full payload: %v", err)
	}
	payload.GPS = nil
	if err := proof.Validate(cfg, payload); err == nil {
		t.Fatal("dropping gps should fail")
	}
}
