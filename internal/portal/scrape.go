package portal

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"mydylms-backend/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// The scrape functions turn portal html into raw string fields, validating
// and typing those fields is left to the caller.

// Fields is one scraped row keyed by field name.
type Fields map[string]string

// SemesterFields is a semester block of the landing page.
type SemesterFields struct {
	Name  string
	Links []htmlutil.Anchor
}

func parse(page string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// IsLoggedInPage reports whether page is something only a logged in student sees.
func IsLoggedInPage(page string) bool {
	return strings.Contains(page, "Academic Status") ||
		strings.Contains(page, "Dashboard") ||
		strings.Contains(page, "My courses")
}

// IsLandingPage reports whether page is the logged in landing page.
func IsLandingPage(page string) bool {
	return strings.Contains(page, "Academic Status")
}

var sesskeyRegex = regexp.MustCompile(`sesskey["'=:\s>]+([a-zA-Z0-9]{8,})`)

func ScrapeSesskey(page string) string {
	groups := sesskeyRegex.FindStringSubmatch(page)
	if len(groups) < 2 {
		return ""
	}
	return groups[1]
}

var userIdRegex = regexp.MustCompile(`/user/profile\.php\?id=(\d+)`)

func ScrapeUserId(page string) string {
	groups := userIdRegex.FindStringSubmatch(page)
	if len(groups) < 2 {
		return ""
	}
	return groups[1]
}

var apiKeyRegex = regexp.MustCompile(`^[a-fA-F0-9]{32}$`)

// ScrapeApiKeys returns the web service tokens of the token management page in page order.
func ScrapeApiKeys(page string) ([]string, error) {
	doc, err := parse(page)
	if err != nil {
		return nil, err
	}
	var keys []string
	doc.Find("table.generaltable tbody tr td.cell.c0").Each(func(_ int, cell *goquery.Selection) {
		text := strings.TrimSpace(cell.Text())
		if apiKeyRegex.MatchString(text) {
			keys = append(keys, text)
		}
	})
	return keys, nil
}

var semesterNameRegex = regexp.MustCompile(`(?i)^Semester\s+[IVX0-9]+$`)

// IsSemesterName reports whether name looks like "Semester IV" or "Semester 4".
func IsSemesterName(name string) bool {
	return semesterNameRegex.MatchString(name)
}

// ScrapeSemesters reads the semester blocks of the landing page with the
// links of their subjects, base resolves relative links.
func ScrapeSemesters(ctx context.Context, page string, base *url.URL) ([]SemesterFields, error) {
	doc, err := parse(page)
	if err != nil {
		return nil, err
	}

	var out []SemesterFields
	doc.Find("li.type_course").Each(func(_ int, li *goquery.Selection) {
		span := li.Find("span.usdimmed_text").First()
		if span.Length() == 0 {
			return
		}
		name := htmlutil.SelectionText(span)
		if !IsSemesterName(name) {
			return
		}

		list := span.ParentsFiltered("p").First().NextAllFiltered("ul").First()
		if list.Length() == 0 {
			list = li.Find("ul").First()
		}
		if list.Length() == 0 {
			return
		}

		var anchors []htmlutil.Anchor
		list.ChildrenFiltered("li").Each(func(_ int, item *goquery.Selection) {
			anchors = append(anchors, htmlutil.GetAnchors(ctx, item.Find("a[href]").First(), base)...)
		})
		out = append(out, SemesterFields{Name: name, Links: anchors})
	})
	return out, nil
}

// ScrapeAttendance reads the rows of the academic status attendance table.
// Fields: subject, total_classes, present, absent, percentage, alt_id.
func ScrapeAttendance(page string) ([]Fields, error) {
	doc, err := parse(page)
	if err != nil {
		return nil, err
	}

	var out []Fields
	doc.Find("tbody > tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		if cells.Length() < 5 {
			return
		}
		cell := func(i int) string {
			return htmlutil.SelectionText(cells.Eq(i))
		}

		altId, ok := cells.Eq(2).Find("p").Attr("attenid")
		if !ok {
			altId, _ = cells.Eq(3).Find("p").Attr("attenid")
		}

		out = append(out, Fields{
			"subject":       cell(0),
			"total_classes": cell(1),
			"present":       strings.ReplaceAll(cell(2), "--", ""),
			"absent":        strings.ReplaceAll(cell(3), "--", ""),
			"percentage":    strings.ReplaceAll(cell(4), "--", ""),
			"alt_id":        strings.TrimSpace(altId),
		})
	})
	return out, nil
}

// ScrapeCourseAttendance reads the per lecture rows of a course attendance report.
// Fields: class_no, subject, date, time, status.
func ScrapeCourseAttendance(page string) ([]Fields, error) {
	doc, err := parse(page)
	if err != nil {
		return nil, err
	}

	var out []Fields
	doc.Find("tbody > tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		if cells.Length() < 5 {
			return
		}
		status := cells.Eq(4)
		if span := status.Find("span").First(); span.Length() > 0 {
			status = span
		}
		out = append(out, Fields{
			"class_no": htmlutil.SelectionText(cells.Eq(0)),
			"subject":  htmlutil.SelectionText(cells.Eq(1)),
			"date":     htmlutil.SelectionText(cells.Eq(2)),
			"time":     htmlutil.SelectionText(cells.Eq(3)),
			"status":   htmlutil.SelectionText(status),
		})
	})
	return out, nil
}

var schoolInfoFields = []struct {
	key      string
	selector string
}{
	{"mob_no", ".profile_details"},
	{"email_id", ".profile_details a"},
	{"coll_name", ".profile_details"},
	{"degree_name", ".profile_details"},
}

// ProfileFields are the personal table rows of the profile page in order.
var ProfileFields = []string{
	"user_name",
	"roll_no",
	"gender",
	"dob",
	"postal_code",
	"city",
	"country",
	"religion",
	"category",
	"father_name",
	"mother_name",
	"pmob_no",
	"femail_id",
	"address",
}

// ScrapeProfile reads the profile page, absent fields are left out.
func ScrapeProfile(page string) (Fields, error) {
	doc, err := parse(page)
	if err != nil {
		return nil, err
	}

	out := Fields{}
	schoolRows := doc.Find(".profile_parts .userprofilebox .myinfo .schoolinfo tr")
	for i, field := range schoolInfoFields {
		if i >= schoolRows.Length() {
			break
		}
		value := schoolRows.Eq(i).Find(field.selector).First()
		if value.Length() == 0 {
			continue
		}
		out[field.key] = htmlutil.SelectionText(value)
	}

	personalRows := doc.Find(".left_info_1 table").First().Find("tr")
	personalRows.Each(func(i int, row *goquery.Selection) {
		if i >= len(ProfileFields) {
			return
		}
		value := row.Find(".profile_td2").First()
		if value.Length() == 0 {
			return
		}
		out[ProfileFields[i]] = htmlutil.SelectionText(value)
	})
	return out, nil
}
