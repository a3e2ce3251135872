package content

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"mydylms-backend/internal/portal"

	"github.com/PuerkitoBio/purell"
)

// Every parse function either returns a complete record or the reason the
// row was rejected, callers decide what a batch of rejections means.

var errMissingField = errors.New("missing required field")

func fieldError(field string, err error) error {
	return fmt.Errorf("%s: %w", field, err)
}

func optionalInt(fields portal.Fields, key string) (*int, error) {
	raw := strings.TrimSpace(fields[key])
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fieldError(key, err)
	}
	return &n, nil
}

func optionalInt64(fields portal.Fields, key string) (*int64, error) {
	raw := strings.TrimSpace(fields[key])
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fieldError(key, err)
	}
	return &n, nil
}

func optionalFloat(fields portal.Fields, key string) (*float64, error) {
	raw := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(fields[key]), "%"))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fieldError(key, err)
	}
	return &n, nil
}

// ParseSemester keeps the links of a semester block that point at a course,
// a semester without any is rejected.
func ParseSemester(raw portal.SemesterFields) (Semester, error) {
	if !portal.IsSemesterName(raw.Name) {
		return Semester{}, fmt.Errorf("not a semester: %q", raw.Name)
	}

	out := Semester{Name: raw.Name}
	for _, link := range raw.Links {
		if link.Href == nil || !strings.Contains(link.Href.Path, "/course/view.php") {
			continue
		}
		id, err := strconv.ParseInt(link.Href.Query().Get("id"), 10, 64)
		if err != nil {
			continue
		}
		out.Subjects = append(out.Subjects, Subject{Id: id, Name: link.Name})
	}
	if len(out.Subjects) == 0 {
		return Semester{}, fmt.Errorf("semester %q has no subjects", raw.Name)
	}
	return out, nil
}

// ParseAttendanceRecord accepts a row with a subject and integer counts,
// an empty total counts as zero.
func ParseAttendanceRecord(fields portal.Fields) (AttendanceRecord, error) {
	out := AttendanceRecord{Subject: strings.TrimSpace(fields["subject"])}
	if out.Subject == "" {
		return out, fieldError("subject", errMissingField)
	}

	total, err := optionalInt(fields, "total_classes")
	if err != nil {
		return out, err
	}
	if total != nil {
		out.TotalClasses = *total
	}
	if out.Present, err = optionalInt(fields, "present"); err != nil {
		return out, err
	}
	if out.Absent, err = optionalInt(fields, "absent"); err != nil {
		return out, err
	}
	if out.Percentage, err = optionalFloat(fields, "percentage"); err != nil {
		return out, err
	}
	if out.AltId, err = optionalInt64(fields, "alt_id"); err != nil {
		return out, err
	}
	return out, nil
}

// Summarize totals the records, the percentage is rounded to 2 decimals.
func Summarize(records []AttendanceRecord) AttendanceSummary {
	out := AttendanceSummary{Records: records}
	for _, r := range records {
		out.OverallTotalClasses += r.TotalClasses
		if r.Present != nil {
			out.OverallPresent += *r.Present
		}
	}
	if out.OverallTotalClasses > 0 {
		percentage := float64(out.OverallPresent) / float64(out.OverallTotalClasses) * 100
		out.OverallPercentage = math.Round(percentage*100) / 100
	}
	return out
}

var attendanceDetailFields = []string{"class_no", "subject", "date", "time", "status"}

func ParseAttendanceDetail(fields portal.Fields) (AttendanceDetail, error) {
	for _, key := range attendanceDetailFields {
		if strings.TrimSpace(fields[key]) == "" {
			return AttendanceDetail{}, fieldError(key, errMissingField)
		}
	}
	return AttendanceDetail{
		ClassNo: fields["class_no"],
		Subject: fields["subject"],
		Date:    fields["date"],
		Time:    fields["time"],
		Status:  fields["status"],
	}, nil
}

// ParseProfile rejects a profile page that yielded no fields at all.
func ParseProfile(userId int64, fields portal.Fields) (Profile, error) {
	if len(fields) == 0 {
		return Profile{}, errors.New("profile page has no recognizable fields")
	}
	return Profile{
		UserId:     userId,
		MobNo:      fields["mob_no"],
		EmailId:    fields["email_id"],
		CollName:   fields["coll_name"],
		DegreeName: fields["degree_name"],
		UserName:   fields["user_name"],
		RollNo:     fields["roll_no"],
		Gender:     fields["gender"],
		Dob:        fields["dob"],
		PostalCode: fields["postal_code"],
		City:       fields["city"],
		Country:    fields["country"],
		Religion:   fields["religion"],
		Category:   fields["category"],
		FatherName: fields["father_name"],
		MotherName: fields["mother_name"],
		PmobNo:     fields["pmob_no"],
		FemailId:   fields["femail_id"],
		Address:    fields["address"],
	}, nil
}

// ApiError is the error object the web service returns instead of data.
type ApiError struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("web service error %s: %s", e.ErrorCode, e.Message)
}

// ErrNotAList means the web service answered with something other than a list of sections.
var ErrNotAList = errors.New("course contents are not a list")

type moodleContent struct {
	Type         string  `json:"type"`
	Filename     *string `json:"filename"`
	Filesize     *int64  `json:"filesize"`
	Fileurl      string  `json:"fileurl"`
	Timemodified *int64  `json:"timemodified"`
}

type moodleModule struct {
	Id       int64           `json:"id"`
	Name     string          `json:"name"`
	Modname  string          `json:"modname"`
	Contents []moodleContent `json:"contents"`
}

type moodleSection struct {
	Name    *string        `json:"name"`
	Modules []moodleModule `json:"modules"`
}

var docIdRegex = regexp.MustCompile(`pluginfile\.php/(\d+)/`)

// DocumentUrl holds the pluginfile prefix course document urls are normalized against.
type DocumentUrl struct {
	// Pluginfile is the absolute url of the web service pluginfile endpoint.
	Pluginfile string
}

// Normalize extracts the doc id of a web service file url and rewrites it to
// the cookie authenticated form. Urls outside the pluginfile endpoint keep a
// nil doc id and are only normalized.
func (d DocumentUrl) Normalize(raw string) (string, *int64) {
	var docId *int64
	if raw != "" && d.Pluginfile != "" && strings.HasPrefix(raw, d.Pluginfile) {
		if groups := docIdRegex.FindStringSubmatch(raw); len(groups) == 2 {
			id, err := strconv.ParseInt(groups[1], 10, 64)
			if err == nil {
				docId = &id
			}
		}
		raw = strings.Replace(raw, "webservice/", "", 1)
		raw = strings.TrimSuffix(raw, "?forcedownload=1")
	}
	return normalizeAuthority(raw), docId
}

const authorityFlags = purell.FlagLowercaseScheme | purell.FlagLowercaseHost | purell.FlagRemoveDefaultPort

// normalizeAuthority lowercases the scheme and host and drops a default
// port. The rest of the url is kept byte for byte, purell re-escapes the
// decoded path and would turn %2F or %26 in a filename into separators.
func normalizeAuthority(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil {
		return raw
	}
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return raw
	}
	rest := raw[idx+3:]
	tail := ""
	if end := strings.IndexAny(rest, "/?#"); end >= 0 {
		tail = rest[end:]
	}

	authority, err := purell.NormalizeURLString(u.Scheme+"://"+u.Host, authorityFlags)
	if err != nil {
		return raw
	}
	return authority + tail
}

// ParseCourseContents decodes a core_course_get_contents answer. Sections
// that are not objects are skipped, the second return value counts them.
func (d DocumentUrl) ParseCourseContents(body []byte) ([]CourseSection, int, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var apiErr ApiError
		err := json.Unmarshal(trimmed, &apiErr)
		if err == nil && apiErr.Exception != "" {
			return nil, 0, &apiErr
		}
		return nil, 0, ErrNotAList
	}

	var rawSections []json.RawMessage
	err := json.Unmarshal(trimmed, &rawSections)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrNotAList, err)
	}

	skipped := 0
	sections := make([]CourseSection, 0, len(rawSections))
	for _, rawSection := range rawSections {
		var section moodleSection
		err := json.Unmarshal(rawSection, &section)
		if err != nil || bytes.HasPrefix(bytes.TrimSpace(rawSection), []byte("null")) {
			skipped++
			continue
		}

		out := CourseSection{Week: section.Name, Docs: []CourseDocument{}}
		for _, module := range section.Modules {
			for _, c := range module.Contents {
				docUrl, docId := d.Normalize(c.Fileurl)
				out.Docs = append(out.Docs, CourseDocument{
					ViewId:  module.Id,
					DocId:   docId,
					Module:  module.Name,
					Mod:     module.Modname,
					Type:    c.Type,
					DocName: c.Filename,
					DocSize: c.Filesize,
					DocUrl:  docUrl,
					Time:    c.Timemodified,
				})
			}
		}
		sections = append(sections, out)
	}
	return sections, skipped, nil
}
