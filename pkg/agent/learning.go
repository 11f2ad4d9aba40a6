package agent

import (
	"sort"
	"sync"
	"time"
)

// Experience is one recorded task outcome used for approach
// recommendation. The store is append-only per agent.
type Experience struct {
	TaskType      string        `json:"task_type"`
	Success       bool          `json:"success"`
	ExecutionTime time.Duration `json:"execution_time"`
	QualityScore  float64       `json:"quality_score,omitempty"`
	Approach      string        `json:"approach"`
	ToolsUsed     []string      `json:"tools_used,omitempty"`
	ErrorType     string        `json:"error_type,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	RecordedAt    time.Time     `json:"recorded_at"`
}

// Recommendation is the outcome of querying the store for a task type.
type Recommendation struct {
	Approach    string  `json:"approach"`
	SuccessRate float64 `json:"success_rate"`
	Confidence  float64 `json:"confidence"`
	Samples     int     `json:"samples"`
}

// Insights summarizes the whole store.
type Insights struct {
	TotalExperiences int                `json:"total_experiences"`
	OverallSuccess   float64            `json:"overall_success_rate"`
	ByTaskType       map[string]float64 `json:"success_rate_by_task_type"`
	TopTools         []string           `json:"top_tools"`
}

// LearningStore records experiences and recommends approaches.
type LearningStore struct {
	mu          sync.Mutex
	experiences []Experience
}

// NewLearningStore creates an empty store.
func NewLearningStore() *LearningStore {
	return &LearningStore{}
}

// RecordExperience appends one experience, stamping RecordedAt when unset.
func (s *LearningStore) RecordExperience(exp Experience) {
	if exp.RecordedAt.IsZero() {
		exp.RecordedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.experiences = append(s.experiences, exp)
}

// Experiences returns a copy of all recorded experiences.
func (s *LearningStore) Experiences() []Experience {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Experience, len(s.experiences))
	copy(out, s.experiences)
	return out
}

// GetRecommendedApproach picks, for a task type, the approach with the
// highest success rate; ties break toward lower mean execution time.
// Confidence is success_rate scaled by sample coverage, saturating at five
// samples. Returns ok=false when the task type has no history.
func (s *LearningStore) GetRecommendedApproach(taskType string) (Recommendation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type stats struct {
		total     int
		successes int
		totalTime time.Duration
	}
	byApproach := make(map[string]*stats)
	for _, exp := range s.experiences {
		if exp.TaskType != taskType {
			continue
		}
		st := byApproach[exp.Approach]
		if st == nil {
			st = &stats{}
			byApproach[exp.Approach] = st
		}
		st.total++
		st.totalTime += exp.ExecutionTime
		if exp.Success {
			st.successes++
		}
	}
	if len(byApproach) == 0 {
		return Recommendation{}, false
	}

	approaches := make([]string, 0, len(byApproach))
	for approach := range byApproach {
		approaches = append(approaches, approach)
	}
	sort.Strings(approaches)

	best := Recommendation{SuccessRate: -1}
	var bestMean time.Duration
	for _, approach := range approaches {
		st := byApproach[approach]
		rate := float64(st.successes) / float64(st.total)
		mean := st.totalTime / time.Duration(st.total)
		if rate > best.SuccessRate || (rate == best.SuccessRate && mean < bestMean) {
			coverage := float64(st.total) / 5.0
			if coverage > 1 {
				coverage = 1
			}
			best = Recommendation{
				Approach:    approach,
				SuccessRate: rate,
				Confidence:  rate * coverage,
				Samples:     st.total,
			}
			bestMean = mean
		}
	}
	return best, true
}

// GetLearningInsights summarizes success rates and tool usage.
func (s *LearningStore) GetLearningInsights() Insights {
	s.mu.Lock()
	defer s.mu.Unlock()

	insights := Insights{ByTaskType: make(map[string]float64)}
	insights.TotalExperiences = len(s.experiences)
	if len(s.experiences) == 0 {
		return insights
	}

	successes := 0
	perType := make(map[string][2]int) // successes, total
	toolUse := make(map[string]int)
	for _, exp := range s.experiences {
		if exp.Success {
			successes++
		}
		counts := perType[exp.TaskType]
		if exp.Success {
			counts[0]++
		}
		counts[1]++
		perType[exp.TaskType] = counts
		for _, tool := range exp.ToolsUsed {
			toolUse[tool]++
		}
	}

	insights.OverallSuccess = float64(successes) / float64(len(s.experiences))
	for taskType, counts := range perType {
		insights.ByTaskType[taskType] = float64(counts[0]) / float64(counts[1])
	}

	tools := make([]string, 0, len(toolUse))
	for tool := range toolUse {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool {
		if toolUse[tools[i]] != toolUse[tools[j]] {
			return toolUse[tools[i]] > toolUse[tools[j]]
		}
		return tools[i] < tools[j]
	})
	if len(tools) > 5 {
		tools = tools[:5]
	}
	insights.TopTools = tools
	return insights
}

// AdaptStrategy returns the approach to use for a task type, falling back
// to the provided default when history is absent or confidence is low.
func (s *LearningStore) AdaptStrategy(taskType, defaultApproach string) string {
	rec, ok := s.GetRecommendedApproach(taskType)
	if !ok || rec.Confidence < 0.5 {
		return defaultApproach
	}
	return rec.Approach
}
