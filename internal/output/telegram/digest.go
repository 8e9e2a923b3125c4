package telegram

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lueurxax/newspipe/internal/platform/htmlutils"
	db "github.com/lueurxax/newspipe/internal/storage"
)

const (
	// messageLimit stays under Telegram's 4096 unit cap.
	messageLimit = 4000

	// partOverhead reserves room for the part header and the stats footer
	// added around each split body.
	partOverhead = 200
)

// BuildDigestMessages assembles the digest from stored category summaries
// and splits it into sendable parts. Categories with more articles come
// first. Every part opens with the date header, numbered when there is
// more than one; the stats footer rides on the last part only.
func BuildDigestMessages(date time.Time, summaries []db.DailySummary) []string {
	if len(summaries) == 0 {
		return nil
	}

	ordered := append([]db.DailySummary(nil), summaries...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ArticlesCount > ordered[j].ArticlesCount
	})

	var (
		body          strings.Builder
		totalArticles int
	)

	for i, s := range ordered {
		if i > 0 {
			body.WriteString("\n")
		}

		body.WriteString(htmlutils.SectionStart)
		body.WriteString("<b>")
		body.WriteString(htmlutils.EscapeHTML(s.Category))
		body.WriteString("</b>\n")
		body.WriteString(htmlutils.EscapeHTML(strings.TrimSpace(s.SummaryText)))
		body.WriteString("\n")
		body.WriteString(htmlutils.SectionEnd)

		totalArticles += s.ArticlesCount
	}

	dateText := date.Format("02.01.2006")
	footer := fmt.Sprintf("📊 Всего: %d новостей в %d категориях", totalArticles, len(ordered))

	parts := htmlutils.SplitHTML(body.String(), messageLimit-partOverhead)
	messages := make([]string, 0, len(parts))

	for i, part := range parts {
		header := fmt.Sprintf("<b>Сводка новостей за %s</b>", dateText)
		if len(parts) > 1 {
			header = fmt.Sprintf("<b>Сводка новостей за %s (часть %d/%d)</b>", dateText, i+1, len(parts))
		}

		text := header + "\n\n" + strings.TrimSpace(htmlutils.StripSectionMarkers(part))
		if i == len(parts)-1 {
			text += "\n\n" + footer
		}

		messages = append(messages, text)
	}

	return messages
}
