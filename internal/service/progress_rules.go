package service

import (
	"fmt"
	"learnhub_backend/internal/config"
	"learnhub_backend/internal/leveling"
	"learnhub_backend/internal/model"
	"learnhub_backend/internal/util"
)

// Settings 为进度引擎的可热更新参数
type Settings struct {
	PassingThresholdPercent int
	DefaultLessonXP         int
	DefaultQuizXP           int
	Rules                   leveling.Rules
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		PassingThresholdPercent: cfg.Progress.PassingThresholdPercent,
		DefaultLessonXP:         cfg.Progress.DefaultLessonXP,
		DefaultQuizXP:           cfg.Progress.DefaultQuizXP,
		Rules:                   leveling.NewCurve(cfg.Leveling),
	}
}

// computeProgress 返回四舍五入到整数并限制在 [0,100] 的百分比，课程没有课时时为 0
func computeProgress(completed, total int) int {
	if total <= 0 {
		return 0
	}
	p := (completed*200 + total) / (2 * total)
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

type reward struct {
	XP        int
	OldLevel  int
	NewLevel  int
	LeveledUp bool
	Coins     int
}

// applyReward 在用户副本上记经验；等级只升不降，升级时按新等级发放金币
func applyReward(u *model.User, xp int, rules leveling.Rules) reward {
	r := reward{XP: xp, OldLevel: u.Level}
	if r.OldLevel < 1 {
		r.OldLevel = 1
	}
	u.XP += xp

	r.NewLevel = rules.LevelForXP(u.XP)
	if r.NewLevel < r.OldLevel {
		r.NewLevel = r.OldLevel
	}
	u.Level = r.NewLevel

	if r.NewLevel > r.OldLevel {
		r.LeveledUp = true
		r.Coins = rules.CoinsForLevel(r.NewLevel)
		u.Coins += r.Coins
		u.TotalCoinsEarned += r.Coins
	}
	return r
}

type quizScore struct {
	Correct      int
	Total        int
	ScorePercent int
	Passed       bool
}

// gradeQuiz 未作答的题目记为错误；未知的题目或选项视为非法提交
func gradeQuiz(questions []model.Question, answers map[string]string, thresholdPercent int) (quizScore, error) {
	if len(answers) == 0 {
		return quizScore{}, util.Validation(util.ErrInvalidAnswers, "answers must not be empty")
	}

	correctOption := make(map[string]map[string]bool, len(questions))
	for _, q := range questions {
		opts := make(map[string]bool, len(q.Options))
		for _, o := range q.Options {
			opts[o.ID] = o.IsCorrect
		}
		correctOption[q.ID] = opts
	}

	score := quizScore{Total: len(questions)}
	for questionID, optionID := range answers {
		opts, ok := correctOption[questionID]
		if !ok {
			return quizScore{}, util.Validation(util.ErrInvalidAnswers, fmt.Sprintf("unknown question %q", questionID))
		}
		isCorrect, ok := opts[optionID]
		if !ok {
			return quizScore{}, util.Validation(util.ErrInvalidAnswers, fmt.Sprintf("unknown option %q for question %q", optionID, questionID))
		}
		if isCorrect {
			score.Correct++
		}
	}

	score.ScorePercent = computeProgress(score.Correct, score.Total)
	// 整数比较避免浮点误差：correct/total >= threshold/100
	score.Passed = score.Correct*100 >= thresholdPercent*score.Total
	return score, nil
}
