package classify

import "testing"

func TestClassifyBoundaryInclusive(t *testing.T) {
	v := Classify(0.70, true)
	if v.Label != AIGenerated {
		t.Fatalf("classify(0.70, true) = %s, want AI_GENERATED", v.Label)
	}
	if !v.Persistent {
		t.Fatal("AI verdict must be persistent")
	}
}

func TestClassifyJustBelowThreshold(t *testing.T) {
	v := Classify(0.6999, true)
	if v.Label != Unknown {
		t.Fatalf("classify(0.6999, true) = %s, want UNKNOWN", v.Label)
	}
	if v.Persistent {
		t.Fatal("UNKNOWN verdict must not be persistent")
	}
}

func TestClassifyConfidentHuman(t *testing.T) {
	v := Classify(0.95, false)
	if v.Label != HumanGenerated {
		t.Fatalf("classify(0.95, false) = %s, want HUMAN_GENERATED", v.Label)
	}
	if v.Persistent {
		t.Fatal("human verdict must not be persistent")
	}
	if v.ConfidencePercent != 95 {
		t.Fatalf("confidence percent = %d, want 95", v.ConfidencePercent)
	}
}

func TestClassifyLowConfidenceIgnoresFlag(t *testing.T) {
	forTrue := Classify(0.40, true)
	forFalse := Classify(0.40, false)
	if forTrue.Label != Unknown || forFalse.Label != Unknown {
		t.Fatalf("low confidence must be UNKNOWN regardless of flag: %s / %s", forTrue.Label, forFalse.Label)
	}
}

func TestUnknownDwellsLongerThanHuman(t *testing.T) {
	human := Classify(0.9, false)
	unknown := Classify(0.1, false)
	if unknown.ExpiresAfter <= human.ExpiresAfter {
		t.Fatalf("UNKNOWN expiry (%v) should exceed HUMAN expiry (%v)", unknown.ExpiresAfter, human.ExpiresAfter)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	a := Classify(0.731, true)
	b := Classify(0.731, true)
	if a != b {
		t.Fatalf("identical inputs produced different verdicts: %+v vs %+v", a, b)
	}
}
