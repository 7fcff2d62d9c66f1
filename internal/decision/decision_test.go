package decision

import (
	"testing"

	"github.com/ssuyashhhh/H2K/internal/state"
)

func TestSnapshotCarriesPortfolioAndArtifacts(t *testing.T) {
	st := state.New("p1", "e1", "optimize my yield", "0xabc", 1)
	st.Balances["USDC"] = 10000
	st.Balances["ETH"] = 2
	st.Positions["Aave"] = state.Position{Amount: 10000, APY: 0.05}
	st.Proposal = &state.Proposal{
		Action:      state.ActionMigrate,
		Source:      "Aave",
		Destination: "Yearn",
		Asset:       "USDC",
		Amount:      100,
		CurrentAPY:  0.05,
		NewAPY:      0.12,
		APYGain:     0.07,
	}
	st.RiskAssessment = &state.Assessment{
		Protocol:  "Yearn",
		RiskScore: 10,
		Safe:      false,
		Factors:   map[string]float64{"hack_history_impact": 6},
	}
	st.Forecast = &state.Forecast{Trend: "stable", Volatility: "low", Confidence: 0.85}

	dc := Snapshot(st)

	if dc.Balances["USDC"] != 10000 || dc.Balances["ETH"] != 2 {
		t.Fatalf("balances missing from the context: %v", dc.Balances)
	}
	if pos, ok := dc.Positions["Aave"]; !ok || pos.Amount != 10000 || pos.APY != 0.05 {
		t.Fatalf("positions missing from the context: %v", dc.Positions)
	}
	if dc.Proposal == nil || dc.Proposal.Destination != "Yearn" || dc.Proposal.Amount != 100 {
		t.Fatalf("proposal view incomplete: %+v", dc.Proposal)
	}
	if dc.Assessment == nil || dc.Assessment.RiskScore != 10 || dc.Assessment.Factors["hack_history_impact"] != 6 {
		t.Fatalf("assessment view incomplete: %+v", dc.Assessment)
	}
	if dc.Forecast == nil || dc.Forecast.Trend != "stable" {
		t.Fatalf("forecast view incomplete: %+v", dc.Forecast)
	}
	// The booleans stay in sync with the views.
	if !dc.HasProposal || dc.ProposalAction != "migrate" || !dc.HasAssessment || dc.AssessmentSafe || !dc.HasForecast {
		t.Fatalf("summary flags out of sync: %+v", dc)
	}
}

func TestSnapshotCopiesMutableCollections(t *testing.T) {
	st := state.New("p1", "e1", "input", "0xabc", 1)
	st.Balances["USDC"] = 10000
	st.Positions["Aave"] = state.Position{Amount: 10000, APY: 0.05}
	st.RiskAssessment = &state.Assessment{
		Protocol: "Aave",
		Safe:     true,
		Factors:  map[string]float64{"tvl_trust": 0.5},
	}

	dc := Snapshot(st)
	dc.Balances["USDC"] = 1
	dc.Positions["Aave"] = PositionView{Amount: 1, APY: 0}
	dc.Assessment.Factors["tvl_trust"] = 9

	if st.Balances["USDC"] != 10000 {
		t.Fatalf("snapshot shares the balances map")
	}
	if st.Positions["Aave"].Amount != 10000 {
		t.Fatalf("snapshot shares the positions map")
	}
	if st.RiskAssessment.Factors["tvl_trust"] != 0.5 {
		t.Fatalf("snapshot shares the risk factors map")
	}
}
