package main

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	// FinalRankingMarker introduces the machine-readable part of a ranking.
	FinalRankingMarker = "FINAL RANKING:"

	labelPrefix = "Response "

	// RankingUnavailable is how an empty aggregate ranking is rendered.
	RankingUnavailable = "ranking unavailable"
)

// rankingEntryPattern matches one "1. Response A" entry anywhere in the ranking
// section, tolerating markdown emphasis.
var rankingEntryPattern = regexp.MustCompile(`\d+\.\s*\**\s*Response ([A-Z])\b`)

// LabelKey formats a bare label ("A") as the key used in label-to-model maps ("Response A").
func LabelKey(label string) string {
	return labelPrefix + label
}

// ParseRankingFromText extracts the ranking from a model's response text.
// Only text after the first "FINAL RANKING:" marker is considered; every
// "<n>. Response <X>" entry yields X in document order, whether the entries sit
// on separate lines or share one. Without a marker the result is empty.
// Duplicate or unknown letters are passed through as-is.
func ParseRankingFromText(rankingText string) []string {
	labels := []string{}

	idx := strings.Index(rankingText, FinalRankingMarker)
	if idx < 0 {
		return labels
	}

	section := rankingText[idx+len(FinalRankingMarker):]
	for _, m := range rankingEntryPattern.FindAllStringSubmatch(section, -1) {
		labels = append(labels, m[1])
	}

	return labels
}

// CalculateAggregateRankings combines every parseable ranking into one ordering.
//
// Each ranker that produced at least one known label contributes a position
// (1 = best) for every candidate. Labels it left out score len(labelToModel), the
// worst possible position. Unknown letters are ignored and repeated letters count
// at their first position. Rankers with nothing usable are excluded entirely.
// AverageRank is the mean over contributing rankers; ties keep label order.
func CalculateAggregateRankings(stage2Results []Stage2Ranking, labelToModel map[string]string) []AggregateRanking {
	labels := sortedLabels(labelToModel)
	aggregate := make([]AggregateRanking, 0, len(labels))
	if len(labels) == 0 {
		return aggregate
	}

	penalty := len(labels)
	totals := make(map[string]int, len(labels))
	counts := make(map[string]int, len(labels))
	rankers := 0

	for _, ranking := range stage2Results {
		positions := rankPositions(ranking.ParsedRanking, labelToModel)
		if len(positions) == 0 {
			continue
		}
		rankers++

		for _, label := range labels {
			if pos, ok := positions[label]; ok {
				totals[label] += pos
				counts[label]++
			} else {
				totals[label] += penalty
			}
		}
	}

	if rankers == 0 {
		return aggregate
	}

	for _, label := range labels {
		aggregate = append(aggregate, AggregateRanking{
			Model:         labelToModel[LabelKey(label)],
			Label:         label,
			AverageRank:   float64(totals[label]) / float64(rankers),
			RankingsCount: counts[label],
		})
	}

	// labels are already in label order, so a stable sort breaks ties by it
	sort.SliceStable(aggregate, func(i, j int) bool {
		return aggregate[i].AverageRank < aggregate[j].AverageRank
	})

	return aggregate
}

// rankPositions maps each known label in parsed to its 1-based position among
// the known, first-seen labels.
func rankPositions(parsed []string, labelToModel map[string]string) map[string]int {
	positions := make(map[string]int, len(parsed))
	for _, label := range parsed {
		if _, ok := labelToModel[LabelKey(label)]; !ok {
			continue
		}
		if _, seen := positions[label]; seen {
			continue
		}
		positions[label] = len(positions) + 1
	}
	return positions
}

func sortedLabels(labelToModel map[string]string) []string {
	labels := make([]string, 0, len(labelToModel))
	for key := range labelToModel {
		labels = append(labels, strings.TrimPrefix(key, labelPrefix))
	}
	sort.Strings(labels)
	return labels
}

// FormatAggregateRankings renders the consensus ordering for humans.
func FormatAggregateRankings(rankings []AggregateRanking) string {
	if len(rankings) == 0 {
		return RankingUnavailable
	}

	var b strings.Builder
	for i, r := range rankings {
		fmt.Fprintf(&b, "%d. %s (average rank %.2f, ranked by %d)\n", i+1, r.Model, r.AverageRank, r.RankingsCount)
	}
	return strings.TrimRight(b.String(), "\n")
}
