package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"github.com/lueurxax/newspipe/internal/platform/htmlutils"
)

const (
	earliestPlausibleYear = 2000
	maxFutureSkew         = 48 * time.Hour
	visibleDateScanRunes  = 4000
)

var ruMonths = map[string]time.Month{
	"января":   time.January,
	"февраля":  time.February,
	"марта":    time.March,
	"апреля":   time.April,
	"мая":      time.May,
	"июня":     time.June,
	"июля":     time.July,
	"августа":  time.August,
	"сентября": time.September,
	"октября":  time.October,
	"ноября":   time.November,
	"декабря":  time.December,
}

var (
	ruDateRegex     = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(января|февраля|марта|апреля|мая|июня|июля|августа|сентября|октября|ноября|декабря)\s+(\d{4})`)
	isoDateRegex    = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2})?(?:Z|[+-]\d{2}:?\d{2})?)?`)
	dottedDateRegex = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{4})\b`)
	enDateRegex     = regexp.MustCompile(`(?i)\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}\b`)
)

// extractDate resolves the publication date: JSON-LD, then the published-time
// meta tag, then time elements, then dates written in the visible text.
func extractDate(page *pageContext) *time.Time {
	if sd := page.structured(); sd.published != nil {
		return sd.published
	}

	if t := metaDate(page.doc); t != nil {
		return t
	}

	if t := timeElementDate(page.doc); t != nil {
		return t
	}

	return visibleDate(page.html)
}

func metaDate(doc *goquery.Document) *time.Time {
	return parseWhen(metaContent(doc, "article:published_time"))
}

func timeElementDate(doc *goquery.Document) *time.Time {
	var found *time.Time

	doc.Find("time[datetime]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		found = parseWhen(sel.AttrOr("datetime", ""))
		return found == nil
	})

	return found
}

// visibleDate hunts for a date in the page's visible text. Russian genitive
// dates and dd.mm.yyyy are assembled directly because dateparse misreads
// both; everything else goes through dateparse.
func visibleDate(htmlSrc string) *time.Time {
	text := clipRunes(htmlutils.VisibleText(htmlSrc), visibleDateScanRunes)

	if m := ruDateRegex.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[3])
		month := ruMonths[strings.ToLower(m[2])]

		if day >= 1 && day <= 31 && month != 0 {
			return sanitizeDate(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
		}
	}

	if m := isoDateRegex.FindString(text); m != "" {
		if t := parseWhen(m); t != nil {
			return t
		}
	}

	if m := dottedDateRegex.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])

		if day >= 1 && day <= 31 && month >= 1 && month <= 12 {
			return sanitizeDate(time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC))
		}
	}

	if m := enDateRegex.FindString(text); m != "" {
		if t := parseWhen(m); t != nil {
			return t
		}
	}

	return nil
}

func parseWhen(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return nil
	}

	return sanitizeDate(t)
}

// sanitizeDate rejects dates that cannot be real publication times: ancient
// placeholder years and anything meaningfully in the future.
func sanitizeDate(t time.Time) *time.Time {
	if t.Year() < earliestPlausibleYear || t.After(time.Now().Add(maxFutureSkew)) {
		return nil
	}

	utc := t.UTC()

	return &utc
}
