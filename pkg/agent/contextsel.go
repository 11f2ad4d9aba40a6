package agent

import (
	"sort"
	"strings"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/utils"
)

// ContextItem is one unit of recallable context presented to the LLM.
type ContextItem struct {
	ID      string  `json:"id"`
	Type    string  `json:"type,omitempty"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// ContextSelector ranks and prunes context items against a task
// description under a token budget.
type ContextSelector struct {
	// MinRelevanceScore drops items scoring below it (0 keeps everything).
	MinRelevanceScore float64

	// MaxTokens bounds the estimated token size of a selection.
	MaxTokens int

	// PreserveTypes lists item types never pruned for budget reasons.
	PreserveTypes []string
}

// ScoreRelevance computes a 0..1 token-overlap score between an item and
// the task description.
func (s *ContextSelector) ScoreRelevance(item ContextItem, description string) float64 {
	itemTokens := wordSet(item.Content)
	taskTokens := wordSet(description)
	if len(taskTokens) == 0 || len(itemTokens) == 0 {
		return 0
	}
	overlap := 0
	for token := range taskTokens {
		if itemTokens[token] {
			overlap++
		}
	}
	return float64(overlap) / float64(len(taskTokens))
}

// GetRelevantContext scores all items, keeps those at or above the
// relevance floor, sorts by descending score, and prunes to the token
// budget. Scores are written back onto the returned items.
func (s *ContextSelector) GetRelevantContext(items []ContextItem, description string) []ContextItem {
	var selected []ContextItem
	for _, item := range items {
		item.Score = s.ScoreRelevance(item, description)
		if item.Score >= s.MinRelevanceScore {
			selected = append(selected, item)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Score > selected[j].Score
	})
	return s.PruneContext(selected)
}

// PruneContext enforces the token budget by dropping the lowest-scoring
// items first. Items whose type is in PreserveTypes are never dropped, even
// when the preserved set alone exceeds the budget.
func (s *ContextSelector) PruneContext(items []ContextItem) []ContextItem {
	if s.MaxTokens <= 0 || s.estimate(items) <= s.MaxTokens {
		return items
	}

	// Drop candidates by ascending score until within budget.
	candidates := make([]int, 0, len(items))
	for i, item := range items {
		if !s.preserved(item.Type) {
			candidates = append(candidates, i)
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return items[candidates[a]].Score < items[candidates[b]].Score
	})

	dropped := make(map[int]bool)
	for _, idx := range candidates {
		if s.estimateExcept(items, dropped) <= s.MaxTokens {
			break
		}
		dropped[idx] = true
	}

	kept := make([]ContextItem, 0, len(items)-len(dropped))
	for i, item := range items {
		if !dropped[i] {
			kept = append(kept, item)
		}
	}
	return kept
}

func (s *ContextSelector) preserved(itemType string) bool {
	for _, t := range s.PreserveTypes {
		if t == itemType {
			return true
		}
	}
	return false
}

func (s *ContextSelector) estimate(items []ContextItem) int {
	total := 0
	for _, item := range items {
		total += utils.EstimateTokens(item.Content)
	}
	return total
}

func (s *ContextSelector) estimateExcept(items []ContextItem, dropped map[int]bool) int {
	total := 0
	for i, item := range items {
		if !dropped[i] {
			total += utils.EstimateTokens(item.Content)
		}
	}
	return total
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,:;!?\"'()[]{}")
		if word != "" {
			set[word] = true
		}
	}
	return set
}
