package factcheck

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/secmon-lab/themis/pkg/domain/model"
)

// ReferenceKind is the kind of legal instrument a reference points to
type ReferenceKind string

const (
	ReferenceArticle  ReferenceKind = "artículo"
	ReferenceLaw      ReferenceKind = "Ley"
	ReferenceDecree   ReferenceKind = "Decreto"
	ReferenceSentence ReferenceKind = "Sentencia"
)

// Reference is a legal citation found in text
type Reference struct {
	Kind   ReferenceKind
	Number string
	Year   string
	// Court is the ruling type of a sentence (C, T, SU)
	Court string
	// Disclaimed is set when the surrounding sentence states the text was not found
	Disclaimed bool
}

func (r Reference) String() string {
	switch r.Kind {
	case ReferenceArticle:
		return fmt.Sprintf("artículo %s", r.Number)
	case ReferenceSentence:
		return fmt.Sprintf("Sentencia %s-%s/%s", r.Court, r.Number, r.Year)
	default:
		if r.Year != "" {
			return fmt.Sprintf("%s %s de %s", r.Kind, r.Number, r.Year)
		}
		return fmt.Sprintf("%s %s", r.Kind, r.Number)
	}
}

// FoundIn reports whether corpus, as built by buildCorpus, mentions r
func (r Reference) FoundIn(corpus string) bool {
	var pattern string
	num := regexp.QuoteMeta(strings.ToLower(r.Number))
	switch r.Kind {
	case ReferenceArticle:
		// statutes often write ordinals as "ARTÍCULO 5o." or "Artículo 5º"
		pattern = `art(?:[íi]culo|\.)?s?\s*(?:no\.?\s*)?` + num + `(?:o|º|°)?(?:[^0-9a-z]|$)`
	case ReferenceLaw:
		pattern = `ley\s*(?:no\.?\s*)?` + num + `\b`
	case ReferenceDecree:
		pattern = `decreto\s*(?:ley\s*|legislativo\s*)?(?:no\.?\s*)?` + num + `\b`
	case ReferenceSentence:
		pattern = `\b` + strings.ToLower(r.Court) + `\s*-?\s*0*` + num + `\b`
	default:
		return false
	}
	return regexp.MustCompile(pattern).MatchString(corpus)
}

var (
	// plural forms may list several numbers: "artículos 98, 99 y 100"
	articleRef  = regexp.MustCompile(`(?i)\b(art[íi]culos?|arts?\.)\s*(?:no\.?\s*)?(\d+[a-z]?)\b((?:\s*(?:,|\by\b|\be\b)\s*\d+[a-z]?\b)*)`)
	articleNum  = regexp.MustCompile(`(?i)\d+[a-z]?`)
	lawRef      = regexp.MustCompile(`(?i)\bley\s+(?:no\.?\s*)?(\d+)(?:\s+de\s+(\d{4}))?\b`)
	decreeRef   = regexp.MustCompile(`(?i)\bdecreto\s+(?:ley\s+|legislativo\s+)?(?:no\.?\s*)?(\d+)(?:\s+de\s+(\d{4}))?\b`)
	sentenceRef = regexp.MustCompile(`(?i)\bsentencia\s+(su|c|t)\s*-\s*(\d+)\s*(?:/|de\s+)\s*(\d{2,4})\b`)

	disclaimers = []string{
		"no se encontró",
		"no se encontraron",
		"no fue posible encontrar",
		"no se halló",
		"no está disponible",
		"no aparece en las fuentes",
	}

	// clauseBreaks end the reach of a disclaimer within a sentence
	clauseBreaks = []string{";", ":", " aunque ", " pero ", " sin embargo", " no obstante", " mientras que "}
)

// disclaimerWindow is how far from a reference, in bytes, a disclaimer may sit
const disclaimerWindow = 60

// ExtractReferences returns the legal references cited in text, deduplicated
// and in order of appearance
func ExtractReferences(text string) []Reference {
	type hit struct {
		pos int
		ref Reference
	}
	var hits []hit

	for _, m := range articleRef.FindAllStringSubmatchIndex(text, -1) {
		hits = append(hits, hit{m[0], Reference{
			Kind:       ReferenceArticle,
			Number:     strings.ToLower(text[m[4]:m[5]]),
			Disclaimed: disclaimed(text, m[4]),
		}})
		if !strings.HasSuffix(strings.TrimSuffix(strings.ToLower(text[m[2]:m[3]]), "."), "s") {
			continue
		}
		for _, n := range articleNum.FindAllStringIndex(text[m[6]:m[7]], -1) {
			pos := m[6] + n[0]
			hits = append(hits, hit{pos, Reference{
				Kind:       ReferenceArticle,
				Number:     strings.ToLower(text[pos : m[6]+n[1]]),
				Disclaimed: disclaimed(text, pos),
			}})
		}
	}
	for _, m := range lawRef.FindAllStringSubmatchIndex(text, -1) {
		hits = append(hits, hit{m[0], Reference{
			Kind:       ReferenceLaw,
			Number:     text[m[2]:m[3]],
			Year:       group(text, m, 2),
			Disclaimed: disclaimed(text, m[0]),
		}})
	}
	for _, m := range decreeRef.FindAllStringSubmatchIndex(text, -1) {
		hits = append(hits, hit{m[0], Reference{
			Kind:       ReferenceDecree,
			Number:     text[m[2]:m[3]],
			Year:       group(text, m, 2),
			Disclaimed: disclaimed(text, m[0]),
		}})
	}
	for _, m := range sentenceRef.FindAllStringSubmatchIndex(text, -1) {
		hits = append(hits, hit{m[0], Reference{
			Kind:       ReferenceSentence,
			Court:      strings.ToUpper(text[m[2]:m[3]]),
			Number:     text[m[4]:m[5]],
			Year:       text[m[6]:m[7]],
			Disclaimed: disclaimed(text, m[0]),
		}})
	}

	// stable order of appearance
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}

	seen := make(map[string]int)
	var refs []Reference
	for _, h := range hits {
		key := h.ref.String()
		if idx, ok := seen[key]; ok {
			// a reference is disclaimed only if every mention is
			refs[idx].Disclaimed = refs[idx].Disclaimed && h.ref.Disclaimed
			continue
		}
		seen[key] = len(refs)
		refs = append(refs, h.ref)
	}
	return refs
}

// UnsupportedReferences lists references cited in answer that no document mentions.
// References inside a sentence declaring the text was not found are ignored.
func UnsupportedReferences(answer string, docs []*model.Document) []string {
	refs := ExtractReferences(answer)
	if len(refs) == 0 {
		return nil
	}

	corpus := buildCorpus(docs)
	var out []string
	for _, ref := range refs {
		if ref.Disclaimed || ref.FoundIn(corpus) {
			continue
		}
		out = append(out, ref.String())
	}
	return out
}

// buildCorpus joins every searchable field of docs into one lower-cased text
func buildCorpus(docs []*model.Document) string {
	var sb strings.Builder
	for _, d := range docs {
		sb.WriteString(d.Title)
		sb.WriteString("\n")
		// URLs often encode the instrument, e.g. ley_1258_2008.html
		sb.WriteString(strings.NewReplacer("_", " ", "/", " ").Replace(d.URL))
		sb.WriteString("\n")
		sb.WriteString(d.Snippet)
		sb.WriteString("\n")
		sb.WriteString(d.Content)
		sb.WriteString("\n")
	}
	return strings.ToLower(sb.String())
}

func group(text string, m []int, n int) string {
	if m[2*n] < 0 {
		return ""
	}
	return text[m[2*n]:m[2*n+1]]
}

// disclaimed reports whether a disclaimer governs the reference at pos: it
// must sit in the same clause and within disclaimerWindow bytes of it
func disclaimed(text string, pos int) bool {
	start := strings.LastIndexAny(text[:pos], "\n.!?")
	for start > 0 && text[start] == '.' && endsWithAbbrev(text[:start+1]) {
		start = strings.LastIndexAny(text[:start], "\n.!?")
	}
	end := len(text)
	for i := pos; i < len(text); i++ {
		c := text[i]
		if c == '\n' {
			end = i
			break
		}
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 < len(text) && text[i+1] != ' ' && text[i+1] != '\n' {
			continue
		}
		if endsWithAbbrev(text[:i+1]) {
			continue
		}
		end = i
		break
	}

	sentence := strings.ToLower(text[start+1 : end])
	rel := min(pos-(start+1), len(sentence))

	from, to := 0, len(sentence)
	for _, b := range clauseBreaks {
		if i := strings.LastIndex(sentence[:rel], b); i >= 0 && i+len(b) > from {
			from = i + len(b)
		}
		if i := strings.Index(sentence[rel:], b); i >= 0 && rel+i < to {
			to = rel + i
		}
	}
	from = max(from, rel-disclaimerWindow)
	to = min(to, rel+disclaimerWindow)

	clause := sentence[from:to]
	for _, d := range disclaimers {
		if strings.Contains(clause, d) {
			return true
		}
	}
	return false
}

func endsWithAbbrev(s string) bool {
	s = strings.ToLower(s)
	return strings.HasSuffix(s, "art.") || strings.HasSuffix(s, "arts.")
}
