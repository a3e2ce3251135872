package portal

import (
	"context"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const landingFixture = `<html><body>
<script>M.cfg = {"sesskey":"Ab12Cd34Ef","wwwroot":"x"};</script>
<a href="https://portal.example/rait/user/profile.php?id=9876">me</a>
<h2>Academic Status</h2>
<ul>
	<li class="type_course">
		<p><span class="usdimmed_text"> Semester IV </span></p>
		<ul>
			<li><a href="https://portal.example/rait/course/view.php?id=101">Compilers</a></li>
			<li><a href="/rait/course/view.php?id=102">Networks</a></li>
			<li><span>no link</span></li>
		</ul>
	</li>
	<li class="type_course">
		<span class="usdimmed_text">Semester 3</span>
		<ul><li><a href="/rait/mod/forum/view.php?id=5">Forum</a></li></ul>
	</li>
	<li class="type_course">
		<p><span class="usdimmed_text">Announcements</span></p>
		<ul><li><a href="/rait/course/view.php?id=1">News</a></li></ul>
	</li>
</ul>
</body></html>`

func TestScrapeLanding(t *testing.T) {
	require.Equal(t, "Ab12Cd34Ef", ScrapeSesskey(landingFixture))
	require.Equal(t, "9876", ScrapeUserId(landingFixture))
	require.True(t, IsLandingPage(landingFixture))
	require.Equal(t, "", ScrapeSesskey("<html>sesskey=short</html>"))

	base, err := url.Parse("https://portal.example/rait/my/")
	require.NoError(t, err)
	semesters, err := ScrapeSemesters(context.Background(), landingFixture, base)
	require.NoError(t, err)
	require.Len(t, semesters, 2)

	require.Equal(t, "Semester IV", semesters[0].Name)
	require.Len(t, semesters[0].Links, 2)
	require.Equal(t, "Compilers", semesters[0].Links[0].Name)
	require.Equal(t, "https://portal.example/rait/course/view.php?id=102", semesters[0].Links[1].Href.String())

	require.Equal(t, "Semester 3", semesters[1].Name)
	require.Len(t, semesters[1].Links, 1)
}

func TestIsSemesterName(t *testing.T) {
	cases := map[string]bool{
		"Semester IV":     true,
		"semester 12":     true,
		"Semester  VII":   true,
		"Semester":        false,
		"Semester IV (a)": false,
		"Year II":         false,
	}
	for in, expected := range cases {
		require.Equal(t, expected, IsSemesterName(in), in)
	}
}

func TestScrapeApiKeys(t *testing.T) {
	page := `<table class="generaltable"><tbody>
		<tr><td class="cell c0">0123456789abcdef0123456789abcdef</td><td class="cell c1">Moodle mobile</td></tr>
		<tr><td class="cell c0">not-a-key</td></tr>
		<tr><td class="cell c0"> FEDCBA9876543210FEDCBA9876543210 </td></tr>
	</tbody></table>`
	keys, err := ScrapeApiKeys(page)
	require.NoError(t, err)
	require.Equal(t, []string{
		"0123456789abcdef0123456789abcdef",
		"FEDCBA9876543210FEDCBA9876543210",
	}, keys)
}

func TestScrapeAttendance(t *testing.T) {
	page := `<table><tbody>
		<tr><td>Compilers</td><td>20</td><td><p attenid="77">15</p></td><td><p>5</p></td><td>75.00</td></tr>
		<tr><td>Networks</td><td></td><td>--</td><td><p attenid="78">--</p></td><td>--</td></tr>
		<tr><td>short</td><td>1</td></tr>
	</tbody></table>`
	rows, err := ScrapeAttendance(page)
	require.NoError(t, err)

	expected := []Fields{
		{"subject": "Compilers", "total_classes": "20", "present": "15", "absent": "5", "percentage": "75.00", "alt_id": "77"},
		{"subject": "Networks", "total_classes": "", "present": "", "absent": "", "percentage": "", "alt_id": "78"},
	}
	if diff := cmp.Diff(expected, rows); diff != "" {
		t.Fatal(diff)
	}
}

func TestScrapeCourseAttendance(t *testing.T) {
	page := `<table><tbody>
		<tr><td>1</td><td>Compilers</td><td>01-07-2024</td><td>10:00</td><td><span class="badge">Present</span> (marked)</td></tr>
		<tr><td>2</td><td>Compilers</td><td>02-07-2024</td><td>10:00</td><td>Absent</td></tr>
	</tbody></table>`
	rows, err := ScrapeCourseAttendance(page)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Present", rows[0]["status"])
	require.Equal(t, "Absent", rows[1]["status"])
	require.Equal(t, "02-07-2024", rows[1]["date"])
}

func TestScrapeProfile(t *testing.T) {
	page := `<div class="profile_parts"><div class="userprofilebox"><div class="myinfo"><table class="schoolinfo">
		<tr><td class="profile_details">9999999999</td></tr>
		<tr><td class="profile_details"><a href="mailto:x">student@example.edu</a></td></tr>
		<tr><td class="profile_details">Institute of Technology</td></tr>
	</table></div></div></div>
	<div class="left_info_1"><table>
		<tr><td>Name</td><td class="profile_td2">A Student</td></tr>
		<tr><td>Roll</td><td class="profile_td2">21CE1001</td></tr>
		<tr><td>Gender</td></tr>
	</table></div>`
	fields, err := ScrapeProfile(page)
	require.NoError(t, err)

	expected := Fields{
		"mob_no":    "9999999999",
		"email_id":  "student@example.edu",
		"coll_name": "Institute of Technology",
		"user_name": "A Student",
		"roll_no":   "21CE1001",
	}
	if diff := cmp.Diff(expected, fields); diff != "" {
		t.Fatal(diff)
	}
}
