package kgraph

import (
	"strconv"
	"strings"
)

// ProximityMatch records where a proximity search matched within one
// entity.
type ProximityMatch struct {
	Field     string // "name" or "observation:<i>", i the 0-based observation index
	Positions map[string]int
	Distance  int
}

// ProximitySearch implements §4.4's proximity search: all terms must
// appear in the same field (name, or a single observation) within
// maximum token distance d. Score = 1/(1+minDistance); distance 0
// never matches since adjacent terms are distance 1.
func ProximitySearch(g *Graph, terms []string, d int, f *Filter, page Page) (SearchResult, []ProximityMatch) {
	if len(terms) == 0 {
		return SearchResult{}, nil
	}
	lowerTerms := make([]string, len(terms))
	for i, t := range terms {
		lowerTerms[i] = strings.ToLower(t)
	}

	var matchedEntities []*Entity
	var matches []ProximityMatch
	for _, e := range g.Entities {
		fields := append([]string{e.Name}, e.Observations...)
		bestDist := -1
		bestField := ""
		var bestPositions map[string]int
		for fi, field := range fields {
			tokens := tokenize(field)
			positions := make(map[string]int)
			for ti, tok := range tokens {
				for _, term := range lowerTerms {
					if tok == term {
						if _, exists := positions[term]; !exists {
							positions[term] = ti
						}
					}
				}
			}
			if len(positions) != len(lowerTerms) {
				continue
			}
			minPos, maxPos := -1, -1
			for _, pos := range positions {
				if minPos == -1 || pos < minPos {
					minPos = pos
				}
				if maxPos == -1 || pos > maxPos {
					maxPos = pos
				}
			}
			dist := maxPos - minPos
			if dist > d {
				continue
			}
			if bestDist == -1 || dist < bestDist {
				bestDist = dist
				bestPositions = positions
				if fi == 0 {
					bestField = "name"
				} else {
					bestField = observationFieldName(fi - 1)
				}
			}
		}
		if bestDist >= 0 {
			matchedEntities = append(matchedEntities, e)
			matches = append(matches, ProximityMatch{Field: bestField, Positions: bestPositions, Distance: bestDist})
		}
	}

	filtered := FilterEntities(matchedEntities, f)
	paged := page.Apply(filtered)
	return SearchResult{Entities: paged, Relations: relationsAmong(g, namesSet(paged))}, matches
}

func observationFieldName(i int) string {
	return "observation:" + strconv.Itoa(i)
}

// proximityScore converts a minimum token distance into the [0,1]
// score named in §4.4: adjacent terms (distance 1) score 0.5.
func proximityScore(minDistance int) float64 {
	return 1.0 / float64(1+minDistance)
}
