package content

type Subject struct {
	Id   int64  `json:"id"`
	Name string `json:"name"`
}

type Semester struct {
	Name     string    `json:"semester"`
	Subjects []Subject `json:"subjects"`
}

type CourseDocument struct {
	ViewId int64 `json:"view_id"`
	// DocId is only set for files served from the portal's pluginfile endpoint.
	DocId   *int64  `json:"doc_id"`
	Module  string  `json:"module"`
	Mod     string  `json:"mod"`
	Type    string  `json:"type"`
	DocName *string `json:"doc_name"`
	DocSize *int64  `json:"doc_size"`
	DocUrl  string  `json:"doc_url"`
	Time    *int64  `json:"time"`
}

type CourseSection struct {
	Week *string          `json:"week"`
	Docs []CourseDocument `json:"docs"`
}

type AttendanceRecord struct {
	Subject      string   `json:"subject"`
	TotalClasses int      `json:"total_classes"`
	Present      *int     `json:"present"`
	Absent       *int     `json:"absent"`
	Percentage   *float64 `json:"percentage"`
	AltId        *int64   `json:"alt_id"`
}

type AttendanceSummary struct {
	OverallTotalClasses int                `json:"overall_total_classes"`
	OverallPresent      int                `json:"overall_present"`
	OverallPercentage   float64            `json:"overall_percentage"`
	Records             []AttendanceRecord `json:"records"`
}

type AttendanceDetail struct {
	ClassNo string `json:"class_no"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Time    string `json:"time"`
	Status  string `json:"status"`
}

type CourseAttendance struct {
	AltId      int64              `json:"alt_id"`
	Attendance []AttendanceDetail `json:"attendance"`
}

type Profile struct {
	UserId     int64  `json:"user_id"`
	MobNo      string `json:"mob_no,omitempty"`
	EmailId    string `json:"email_id,omitempty"`
	CollName   string `json:"coll_name,omitempty"`
	DegreeName string `json:"degree_name,omitempty"`
	UserName   string `json:"user_name,omitempty"`
	RollNo     string `json:"roll_no,omitempty"`
	Gender     string `json:"gender,omitempty"`
	Dob        string `json:"dob,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	City       string `json:"city,omitempty"`
	Country    string `json:"country,omitempty"`
	Religion   string `json:"religion,omitempty"`
	Category   string `json:"category,omitempty"`
	FatherName string `json:"father_name,omitempty"`
	MotherName string `json:"mother_name,omitempty"`
	PmobNo     string `json:"pmob_no,omitempty"`
	FemailId   string `json:"femail_id,omitempty"`
	Address    string `json:"address,omitempty"`
}
