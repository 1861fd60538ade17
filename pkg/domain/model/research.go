package model

// ResearchRound is one query-search-evaluate cycle. Rounds are owned by a single
// research session and are never persisted individually.
type ResearchRound struct {
	Number          int
	Query           string
	Objective       string
	Documents       []*Document
	Analysis        string
	Missing         string
	NeedsMoreInfo   bool
	Confidence      int
	EvaluatorParsed bool
	OfficialCount   int
}

// RoundDocuments flattens the documents of all rounds, deduplicated by URL
func RoundDocuments(rounds []*ResearchRound) []*Document {
	var docs []*Document
	for _, r := range rounds {
		docs = append(docs, r.Documents...)
	}
	return DedupDocuments(docs)
}
