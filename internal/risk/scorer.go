package risk

import (
	"github.com/ssuyashhhh/H2K/internal/catalog"
	"github.com/ssuyashhhh/H2K/internal/state"
)

const (
	// MaxScore 是风险评分的上界，未知协议直接取该值。
	MaxScore = 10.0
	// DefaultThreshold 是判定安全的默认阈值。
	DefaultThreshold = 3.0

	// 各项亏缺因子的归一化基准。
	matureAgeYears = 5.0
	deepTVL        = 10_000_000_000
	fullAudits     = 5.0
)

// Scorer 依据协议画像计算有界的风险评分及可解释的因子贡献。
// 评分是确定性的：同一份画像永远得到同一个分数。
type Scorer struct {
	catalog   *catalog.Catalog
	threshold float64
}

// NewScorer 构造 Scorer。threshold <= 0 时使用默认阈值。
func NewScorer(c *catalog.Catalog, threshold float64) *Scorer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Scorer{catalog: c, threshold: threshold}
}

// Threshold 返回安全阈值。
func (s *Scorer) Threshold() float64 {
	return s.threshold
}

// Assess 对协议进行风险评估。
// 评分为四个有界子因子的加权和：协议年龄、TVL 深度、审计数量的亏缺比例
// （下界截断为 0），以及与事故次数成线性的被黑历史惩罚，最终截断到 [0,10]。
// 目录中不存在的协议按"未知即不安全"取最高分。
func (s *Scorer) Assess(protocol string) *state.Assessment {
	facts, ok := s.catalog.Lookup(protocol)
	if !ok {
		return &state.Assessment{
			Protocol:  protocol,
			RiskScore: MaxScore,
			Safe:      false,
			Threshold: s.threshold,
			Note:      "unrecognized protocol",
		}
	}

	ageFactor := clampZero(1.0 - facts.AgeYears/matureAgeYears)
	tvlFactor := clampZero(1.0 - facts.TVL/deepTVL)
	auditFactor := clampZero(1.0 - float64(facts.Audits)/fullAudits)
	hackFactor := float64(facts.Hacks) * 2.0

	score := ageFactor*2.0 + tvlFactor*3.0 + auditFactor*2.0 + hackFactor*3.0
	if score > MaxScore {
		score = MaxScore
	}

	// 因子贡献沿用可解释模型的习惯：负值代表降低风险。
	factors := map[string]float64{
		"protocol_age_impact": -ageFactor,
		"tvl_impact":          -tvlFactor * 0.5,
		"audit_impact":        -auditFactor * 0.8,
		"hack_history_impact": hackFactor,
	}

	return &state.Assessment{
		Protocol:  protocol,
		RiskScore: score,
		Safe:      score < s.threshold,
		Threshold: s.threshold,
		Factors:   factors,
	}
}

func clampZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
