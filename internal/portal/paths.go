package portal

// Portal paths relative to the base url.
const (
	PathLogin            = "login/index.php"
	PathLogout           = "login/logout.php"
	PathLanding          = "my/"
	PathProfile          = "user/profile.php"
	PathTokens           = "user/managetoken.php"
	PathWebService       = "webservice/rest/server.php"
	PathAttendance       = "blocks/academic_status/ajax.php"
	PathCourseAttendance = "local/attendance/studentreport.php"
	PathPluginfile       = "webservice/pluginfile.php"
)
