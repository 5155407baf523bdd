package model

// BuildKeywordGraph returns the NextKeyword additions that link every strict
// prefix of each keyword (of at least minLength runes) to the next longer
// prefix. Indexing the result alongside the keywords enables prefix search
// through keyword-to-keyword indirection.
func BuildKeywordGraph(keywords []Keyword, minLength int) map[string][]IndexedValue {
	if minLength < 1 {
		minLength = 1
	}
	graph := make(map[string][]IndexedValue)
	for _, kw := range keywords {
		runes := []rune(string(kw))
		for l := minLength; l < len(runes); l++ {
			from := string(runes[:l])
			to := Keyword(string(runes[:l+1]))
			if containsNextKeyword(graph[from], to) {
				continue
			}
			graph[from] = append(graph[from], IndexNextKeyword(to))
		}
	}
	return graph
}

func containsNextKeyword(values []IndexedValue, kw Keyword) bool {
	target := IndexNextKeyword(kw)
	for _, v := range values {
		if v.Equal(target) {
			return true
		}
	}
	return false
}
