package repair

import (
	"fmt"
	"strings"

	"github.com/mmdatafocus/recipe_integrity/models"
)

const (
	MatchExact      = "exact"
	MatchSubstring  = "substring"
	MatchSimilarity = "similarity"

	maxListedTemplates = 10
)

type Match struct {
	Template models.RecipeTemplate
	Method   string
	Score    float64
}

// NoMatchError lists up to ten active template names an operator could link by hand.
type NoMatchError struct {
	Name      string
	Available []string
}

func (e *NoMatchError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("no template matches %q; no active templates available", e.Name)
	}
	return fmt.Sprintf("no template matches %q; available: %s", e.Name, strings.Join(e.Available, ", "))
}

// FindMatch picks the template for name among the active ones: exact (case-insensitive),
// then substring containment in either direction, then best similarity >= threshold.
// Within a tier the highest similarity wins, then the lowest id.
func FindMatch(name string, templates []models.RecipeTemplate, threshold float64) (*Match, error) {
	want := normalize(name)
	var active []models.RecipeTemplate
	for _, t := range templates {
		if t.Active() && normalize(t.Name) != "" {
			active = append(active, t)
		}
	}
	if want == "" {
		return nil, noMatch(name, active)
	}

	var exact, substring, similar *Match
	for _, t := range active {
		candidate := normalize(t.Name)
		score := Similarity(want, candidate)
		switch {
		case candidate == want:
			exact = better(exact, &Match{Template: t, Method: MatchExact, Score: 1})
		case strings.Contains(candidate, want) || strings.Contains(want, candidate):
			substring = better(substring, &Match{Template: t, Method: MatchSubstring, Score: score})
		case score >= threshold:
			similar = better(similar, &Match{Template: t, Method: MatchSimilarity, Score: score})
		}
	}
	for _, m := range []*Match{exact, substring, similar} {
		if m != nil {
			return m, nil
		}
	}
	return nil, noMatch(name, active)
}

func better(cur, next *Match) *Match {
	if cur == nil || next.Score > cur.Score || (next.Score == cur.Score && next.Template.ID < cur.Template.ID) {
		return next
	}
	return cur
}

func noMatch(name string, active []models.RecipeTemplate) *NoMatchError {
	err := &NoMatchError{Name: name}
	for _, t := range active {
		if len(err.Available) == maxListedTemplates {
			break
		}
		err.Available = append(err.Available, t.Name)
	}
	return err
}
