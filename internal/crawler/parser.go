package crawler

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/user/examslots/internal/model"
	"golang.org/x/net/html"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// BlockSelector matches one listing fragment on a results page
	BlockSelector = ".js_dogodekBox.dogodek"

	bannerSelector = ".zelena_pasica, .lessImportant.green"
)

var (
	spacePattern  = regexp.MustCompile(`\s+`)
	timePattern   = regexp.MustCompile(`(?i)Začetek ob\s*(\d{1,2}[:.]\d{2})`)
	clockPattern  = regexp.MustCompile(`^\d{1,2}[:.]\d{2}$`)
	regionPattern = regexp.MustCompile(`(?i)Območje\s+(\d+)\s*,?\s*([^,]*)`)
	placesPattern = regexp.MustCompile(`(?i)Še\s+(\d+)\s+prost`)
	catPattern    = regexp.MustCompile(`(?i)Kategorij[ae]\s*:\s*(.*)`)
	datePattern   = regexp.MustCompile(`(\d{1,2})\s*\.\s*(\d{1,2})\s*\.\s*(\d{4})`)
)

// KnownTowns lists the exam centre towns per region
var KnownTowns = map[int][]string{
	1: {"Ajdovščina", "Idrija", "Ilirska Bistrica", "Koper", "Nova Gorica", "Postojna", "Sežana", "Tolmin"},
	2: {"Domžale", "Ig", "Jesenice", "Kranj", "Ljubljana", "Vrhnika"},
	3: {"Celje", "Laško", "Ločica ob Savinji", "Ravne na Koroškem", "Slovenske Konjice",
		"Slovenj Gradec", "Šentjur", "Šmarje pri Jelšah", "Trbovlje", "Velenje"},
	4: {"Brežice", "Črnomelj", "Kočevje", "Krško", "Novo mesto", "Sevnica"},
	5: {"Maribor", "Murska Sobota", "Ormož", "Ptuj", "Slovenska Bistrica"},
}

// words that end a free-form town name
var townStopWords = map[string]bool{
	"ulica": true, "cesta": true, "trg": true, "naselje": true, "center": true,
	"testirnica": true, "voznja": true, "zacetek": true, "kategorija": true,
	"kategorije": true, "tolmac": true, "preverjanje": true,
}

// ParseBlock extracts a slot draft from one listing fragment.
// It returns nil when the date or start time is missing.
func ParseBlock(block *goquery.Selection, page int) *model.SlotDraft {
	dateStr := parseDateLabel(block)
	content := block.Find(".contentOpomnik").First()
	contentText := textOf(content)
	timeStr := parseStartTime(block, contentText)
	if dateStr == "" || timeStr == "" {
		return nil
	}

	draft := &model.SlotDraft{
		DateStr:       dateStr,
		TimeStr:       timeStr,
		HasTranslator: strings.Contains(fold(contentText), "tolmac"),
		Categories:    parseCategories(content, contentText),
		PlacesLeft:    parsePlacesLeft(block),
		ExamType:      parseExamType(contentText),
		SourcePage:    page,
	}

	regionText := contentText
	if upper := content.Find(".upperOpomnikDiv").First(); upper.Length() > 0 {
		regionText = textOf(upper)
	}
	draft.Region, draft.Town = parseRegionAndTown(regionText)

	return draft
}

// ParseSlotDate parses a "D. M. YYYY" portal date
func ParseSlotDate(s string) (time.Time, bool) {
	m := datePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

// NormalizeCategories upper-cases category codes and joins them with commas.
// Tokens longer than three characters end the list.
func NormalizeCategories(s string) string {
	var cats []string
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '/' || unicode.IsSpace(r)
	}) {
		tok = strings.ToUpper(strings.Trim(tok, " .|"))
		if tok == "" {
			continue
		}
		if len(tok) > 3 {
			break
		}
		cats = append(cats, tok)
	}
	return strings.Join(cats, ",")
}

func parseDateLabel(block *goquery.Selection) string {
	cal := block.Find("div.calendarBox").First()
	if cal.Length() == 0 {
		return ""
	}
	if label, ok := cal.Attr("aria-label"); ok {
		if label = normalizeSpace(label); label != "" {
			return label
		}
	}
	if sr := cal.Find(".sr-only").First(); sr.Length() > 0 {
		if text := textOf(sr); text != "" {
			return text
		}
	}
	return textOf(cal)
}

func parseStartTime(block *goquery.Selection, contentText string) string {
	var found string
	block.Find("span.bold").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		prev := textOf(s.Prev())
		parent := textOf(s.Parent())
		if !strings.Contains(prev, "Začetek ob") && !strings.Contains(parent, "Začetek ob") {
			return true
		}
		if t := textOf(s); clockPattern.MatchString(t) {
			found = t
			return false
		}
		return true
	})
	if found == "" {
		if m := timePattern.FindStringSubmatch(contentText); m != nil {
			found = m[1]
		}
	}
	return strings.Replace(found, ".", ":", 1)
}

func parseRegionAndTown(text string) (*int, *string) {
	m := regionPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, nil
	}
	region, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, nil
	}
	return &region, canonicalTown(region, m[2])
}

func canonicalTown(region int, raw string) *string {
	padded := " " + strings.Join(strings.FieldsFunc(fold(raw), func(r rune) bool {
		return !unicode.IsLetter(r)
	}), " ") + " "

	// the slot's own region first, then the rest
	regions := []int{region, 1, 2, 3, 4, 5}
	for _, r := range regions {
		for _, town := range KnownTowns[r] {
			if strings.Contains(padded, " "+fold(town)+" ") {
				t := town
				return &t
			}
		}
	}
	return cleanTown(raw)
}

func cleanTown(raw string) *string {
	var parts []string
	for _, tok := range strings.Fields(strings.Trim(raw, " ,.")) {
		first := []rune(tok)[0]
		if unicode.IsDigit(first) || unicode.IsLower(first) || townStopWords[fold(strings.Trim(tok, ",.:"))] {
			break
		}
		parts = append(parts, tok)
	}
	town := strings.Join(parts, " ")
	if r := []rune(town); len(r) > model.MaxTownLen {
		town = string(r[:model.MaxTownLen])
	}
	town = strings.Trim(town, " ,.")
	if town == "" {
		return nil
	}
	return &town
}

func parseExamType(contentText string) *model.ExamType {
	folded := fold(contentText)
	var t model.ExamType
	switch {
	case strings.Contains(folded, "voznj"):
		t = model.ExamTypeDriving
	case strings.Contains(folded, "teorij"):
		t = model.ExamTypeTheory
	default:
		return nil
	}
	return &t
}

func parsePlacesLeft(block *goquery.Selection) *int {
	banner := block.Find(bannerSelector).First()
	if banner.Length() == 0 {
		return nil
	}
	m := placesPattern.FindStringSubmatch(textOf(banner))
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

func parseCategories(content *goquery.Selection, contentText string) string {
	var cats []string
	content.Find("div").EachWithBreak(func(_ int, d *goquery.Selection) bool {
		if d.Find("div").Length() > 0 || !strings.Contains(textOf(d), "Kategorij") {
			return true
		}
		d.Find("span.bold").Each(func(_ int, s *goquery.Selection) {
			if c := NormalizeCategories(textOf(s)); c != "" {
				cats = append(cats, c)
			}
		})
		return false
	})
	if len(cats) > 0 {
		return strings.Join(cats, ",")
	}

	m := catPattern.FindStringSubmatch(contentText)
	if m == nil {
		return ""
	}
	return NormalizeCategories(m[1])
}

// textOf returns the whitespace-collapsed text of a selection.
// Text nodes are joined with spaces so adjacent elements stay separated.
func textOf(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return normalizeSpace(b.String())
}

func normalizeSpace(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

// fold lower-cases s and strips diacritics
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
