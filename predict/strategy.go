package predict

import (
	"fmt"
	"strconv"
	"strings"

	"qsointel/pileup"
)

// GetStrategy produces call/wait/try-later advice for the target. Competition
// text like "High (5)" from a remote reporter is merged with the locally
// observed pileup size; the larger of the two drives the advice. Reasons are
// collected in priority order (path, competition, own rank, pattern, rate)
// and bounded to the most salient few.
func (p *Predictor) GetStrategy(target string, path PathStatus, competitionText string) StrategyRecommendation {
	info, hasInfo := p.session.GetPileupInfo()
	behavior, hasBehavior := p.session.GetTargetBehavior()
	status := p.session.GetYourStatus()

	rec := StrategyRecommendation{
		TargetCall:        target,
		RecommendedAction: ActionCallNow,
	}
	reasons := make([]string, 0, 8)

	switch path {
	case PathNone:
		rec.RecommendedAction = ActionTryLater
		reasons = append(reasons, "No path or no TX")
	case PathConnected:
		reasons = append(reasons, "Target hears you!")
	case PathOpen:
		reasons = append(reasons, "Path is open")
	}

	localSize := 0
	if hasInfo {
		localSize = info.Size
	}
	targetCount := ParseCompetitionCount(competitionText)
	effective := localSize
	if targetCount > effective {
		effective = targetCount
	}

	if rec.RecommendedAction != ActionTryLater {
		switch {
		case effective == 0:
			reasons = append(reasons, "No competition")
		case effective > 10:
			reasons = append(reasons, fmt.Sprintf("Heavy pileup (%d stations)", effective))
			if path != PathConnected {
				rec.RecommendedAction = ActionWait
			}
		case effective >= 4:
			if targetCount > localSize {
				reasons = append(reasons, fmt.Sprintf("Hidden pileup at target (%d stations)", targetCount))
			} else {
				reasons = append(reasons, fmt.Sprintf("Moderate competition (%d stations)", effective))
			}
		default:
			if targetCount > localSize {
				reasons = append(reasons, fmt.Sprintf("Competition at target (%d)", targetCount))
			} else {
				reasons = append(reasons, fmt.Sprintf("Light competition (%d)", effective))
			}
		}

		switch status.Rank.Kind {
		case pileup.RankUnknown:
			reasons = append(reasons, "You're calling")
		case pileup.RankKnown:
			switch rank := status.Rank.Position; {
			case rank == 1:
				reasons = append(reasons, "You're the loudest signal")
			case rank <= 3:
				reasons = append(reasons, fmt.Sprintf("You're #%d by signal strength", rank))
			default:
				reasons = append(reasons, fmt.Sprintf("You're #%d/%d - consider waiting", rank, localSize))
			}
		}
	}

	if hasBehavior && behavior.HasPattern && rec.RecommendedAction != ActionTryLater {
		switch pattern := behavior.Pattern; pattern.Style {
		case pileup.StyleLoudestFirst:
			reasons = append(reasons, "Target picks loudest first")
			if status.Rank.Kind == pileup.RankKnown && status.Rank.Position > 3 {
				reasons = append(reasons, "Consider QSYing when conditions improve")
			}

		case pileup.StyleMethodicalLowHi, pileup.StyleMethodicalHiLow:
			reasons = append(reasons, "Target working "+strings.ReplaceAll(string(pattern.Style), "_", " "))
			if hasInfo && info.HasRange {
				if pattern.Style == pileup.StyleMethodicalLowHi {
					rec.RecommendedFreqHz = info.FreqLow - 60
					reasons = append(reasons, "Position at lower frequency")
				} else {
					rec.RecommendedFreqHz = info.FreqHigh + 60
					reasons = append(reasons, "Position at higher frequency")
				}
			}

		case pileup.StyleRandom:
			reasons = append(reasons, "No clear pattern - persistence helps")
		}
	}

	if hasBehavior && rec.RecommendedAction != ActionTryLater && behavior.QSORate > 0 {
		switch rate := behavior.QSORate; {
		case rate >= 2.0:
			reasons = append(reasons, fmt.Sprintf("Fast QSO rate (%.1f/min)", rate))
		case rate >= 1.0:
			reasons = append(reasons, fmt.Sprintf("Steady QSO rate (%.1f/min)", rate))
		default:
			reasons = append(reasons, fmt.Sprintf("Slow QSO rate (%.1f/min)", rate))
		}
	}

	if len(reasons) > maxReasons {
		reasons = reasons[:maxReasons]
	}
	rec.Reasons = reasons
	return rec
}

// ParseCompetitionCount extracts the station count from reporter strings of
// the form "High (5)". Anything unparseable counts as zero.
func ParseCompetitionCount(s string) int {
	open := strings.Index(s, "(")
	if open < 0 {
		return 0
	}
	end := strings.Index(s[open:], ")")
	if end < 0 {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(s[open+1 : open+end]))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
