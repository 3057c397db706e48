// Package leveling adapts the configured XP curve to the progress engine.
// The engine only calls Rules; the curve itself is configuration.
package leveling

import (
	"learnhub_backend/internal/config"
	"sort"
)

type Rules interface {
	// LevelForXP must be deterministic and non-decreasing in xp.
	LevelForXP(xp int) int
	CoinsForLevel(level int) int
}

// Curve 等级从 1 开始。Thresholds[i] 为到达第 i+2 级所需的累计经验
type Curve struct {
	xpPerLevel    int
	thresholds    []int
	coinsPerLevel int
}

func NewCurve(cfg config.LevelingConfig) *Curve {
	thresholds := append([]int(nil), cfg.Thresholds...)
	sort.Ints(thresholds)
	xpPerLevel := cfg.XPPerLevel
	if xpPerLevel <= 0 {
		xpPerLevel = 100
	}
	return &Curve{
		xpPerLevel:    xpPerLevel,
		thresholds:    thresholds,
		coinsPerLevel: cfg.CoinsPerLevel,
	}
}

func (c *Curve) LevelForXP(xp int) int {
	if xp < 0 {
		xp = 0
	}
	if len(c.thresholds) > 0 {
		// 达到阈值即升级，因此查找第一个严格大于 xp 的位置
		return 1 + sort.Search(len(c.thresholds), func(i int) bool {
			return c.thresholds[i] > xp
		})
	}
	return 1 + xp/c.xpPerLevel
}

func (c *Curve) CoinsForLevel(level int) int {
	if level <= 1 {
		return 0
	}
	return level * c.coinsPerLevel
}

// NextLevelXP 返回升到下一级所需的累计经验；表头之外返回 -1
func (c *Curve) NextLevelXP(level int) int {
	if level < 1 {
		level = 1
	}
	if len(c.thresholds) > 0 {
		if level-1 < len(c.thresholds) {
			return c.thresholds[level-1]
		}
		return -1
	}
	return level * c.xpPerLevel
}
