package model

import "testing"

func TestTaxonomy(t *testing.T) {
	tax := SkinLesions
	if tax.Len() != 7 {
		t.Fatalf("Len = %d", tax.Len())
	}
	cancerous := map[int]bool{0: true, 1: true, 4: true}
	for i := 0; i < tax.Len(); i++ {
		if got := tax.IsCancerous(i); got != cancerous[i] {
			t.Errorf("IsCancerous(%d) = %v", i, got)
		}
	}
	if tax.Name(2) != "Benign keratosis" || tax.Name(7) != "" || tax.Name(-1) != "" {
		t.Errorf("Name lookups wrong: %q %q %q", tax.Name(2), tax.Name(7), tax.Name(-1))
	}
	if err := tax.Check(nil, ""); err != nil {
		t.Errorf("Check(empty) = %v", err)
	}
	if err := tax.Check(tax.Labels, tax.Version); err != nil {
		t.Errorf("Check(self) = %v", err)
	}
	reordered := append([]string(nil), tax.Labels...)
	reordered[0], reordered[1] = reordered[1], reordered[0]
	if err := tax.Check(reordered, ""); err == nil {
		t.Error("Check(reordered) = nil")
	}
}

func TestResolveNormalization(t *testing.T) {
	tests := []struct {
		meta, cfg Normalization
		want      Normalization
		wantErr   bool
	}{
		{"", "", NormalizationCaffe, false},
		{NormalizationUnit, "", NormalizationUnit, false},
		{"", NormalizationUnit, NormalizationUnit, false},
		{NormalizationCaffe, NormalizationCaffe, NormalizationCaffe, false},
		{NormalizationCaffe, NormalizationUnit, "", true},
	}
	for _, tt := range tests {
		got, err := resolveNormalization(tt.meta, tt.cfg)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("resolveNormalization(%q, %q) = %q, %v", tt.meta, tt.cfg, got, err)
		}
	}
}

func TestMetadataDefaultsAndLayout(t *testing.T) {
	var m Metadata
	m.applyDefaults(SkinLesions)
	if err := m.validate(SkinLesions); err != nil {
		t.Fatalf("validate defaults: %v", err)
	}
	if m.ChannelsFirst() {
		t.Error("default layout should be NHWC")
	}

	chw := Metadata{InputShape: []int64{-1, 3, 224, 224}, Normalization: "UNIT"}
	chw.applyDefaults(SkinLesions)
	if chw.ImageSize != 224 {
		t.Errorf("ImageSize = %d", chw.ImageSize)
	}
	if err := chw.validate(SkinLesions); err != nil {
		t.Fatalf("validate NCHW: %v", err)
	}
	if !chw.ChannelsFirst() {
		t.Error("NCHW not detected")
	}
	if chw.Normalization != NormalizationUnit {
		t.Errorf("Normalization = %q", chw.Normalization)
	}
	if got := chw.BatchInputShape(); got[0] != 1 {
		t.Errorf("BatchInputShape = %v", got)
	}
	if chw.InputShape[0] != -1 {
		t.Error("BatchInputShape mutated the metadata")
	}
}
