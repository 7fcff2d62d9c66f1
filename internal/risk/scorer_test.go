package risk

import (
	"math"
	"testing"

	"github.com/ssuyashhhh/H2K/internal/catalog"
)

func TestAssessEstablishedProtocolIsSafe(t *testing.T) {
	scorer := NewScorer(catalog.Default(), 0)

	assessment := scorer.Assess("Aave")
	if !assessment.Safe {
		t.Fatalf("Aave should score below the threshold: %+v", assessment)
	}
	// age 4/5 and tvl 8B/10B leave 0.2 shortfall each, audits are full.
	if math.Abs(assessment.RiskScore-1.0) > 1e-9 {
		t.Fatalf("unexpected Aave score: %g", assessment.RiskScore)
	}
	if assessment.Threshold != DefaultThreshold {
		t.Fatalf("unexpected threshold: %g", assessment.Threshold)
	}
}

func TestAssessHackedProtocolClipsAtMaxScore(t *testing.T) {
	scorer := NewScorer(catalog.Default(), 0)

	assessment := scorer.Assess("Yearn")
	if assessment.Safe {
		t.Fatalf("Yearn carries a hack and thin TVL, must be unsafe: %+v", assessment)
	}
	if assessment.RiskScore != MaxScore {
		t.Fatalf("expected score clipped to %g, got %g", MaxScore, assessment.RiskScore)
	}
}

func TestAssessUnknownProtocol(t *testing.T) {
	scorer := NewScorer(catalog.Default(), 0)

	assessment := scorer.Assess("RugPullFinance")
	if assessment.Safe {
		t.Fatalf("unknown protocol must be treated as unsafe")
	}
	if assessment.RiskScore != MaxScore {
		t.Fatalf("unknown protocol should take the maximum score, got %g", assessment.RiskScore)
	}
	if assessment.Note == "" {
		t.Fatalf("unknown protocol assessment should carry a note")
	}
}

func TestAssessIsDeterministicAndBounded(t *testing.T) {
	scorer := NewScorer(catalog.Default(), 0)

	for _, name := range catalog.Default().Names() {
		first := scorer.Assess(name)
		second := scorer.Assess(name)
		if first.RiskScore != second.RiskScore || first.Safe != second.Safe {
			t.Fatalf("assessment of %s is not deterministic", name)
		}
		if first.RiskScore < 0 || first.RiskScore > MaxScore {
			t.Fatalf("score of %s out of bounds: %g", name, first.RiskScore)
		}
	}
}

func TestAssessFactorSigns(t *testing.T) {
	scorer := NewScorer(catalog.Default(), 0)

	assessment := scorer.Assess("Yearn")
	for name, value := range assessment.Factors {
		if name == "hack_history_impact" {
			if value <= 0 {
				t.Fatalf("hack history should increase risk, got %g", value)
			}
			continue
		}
		if value > 0 {
			t.Fatalf("factor %s should be non-positive, got %g", name, value)
		}
	}
}

func TestCustomThreshold(t *testing.T) {
	scorer := NewScorer(catalog.Default(), 0.5)

	// Aave scores 1.0, so a 0.5 threshold flips it to unsafe.
	assessment := scorer.Assess("Aave")
	if assessment.Safe {
		t.Fatalf("tighter threshold should reject Aave: %+v", assessment)
	}
	if scorer.Threshold() != 0.5 {
		t.Fatalf("unexpected threshold: %g", scorer.Threshold())
	}
}
