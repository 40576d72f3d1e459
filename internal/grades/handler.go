package grades

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/schoolhub/portal/internal/attendance"
	"github.com/schoolhub/portal/internal/backend"
	"github.com/schoolhub/portal/internal/school"
	"github.com/schoolhub/portal/internal/screen"
)

// Handler serves the grade screens for teachers and students.
type Handler struct {
	kit    *screen.Kit
	grades *Service
	roster *attendance.Service
	now    func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(kit *screen.Kit, grades *Service, roster *attendance.Service) *Handler {
	return &Handler{kit: kit, grades: grades, roster: roster, now: time.Now}
}

// MountTeacher registers routes under /teacher.
func (h *Handler) MountTeacher(r chi.Router) {
	r.Get("/students", h.listStudents)
	r.Get("/students/{studentID}/grades/new", h.showGradeForm)
	r.Post("/students/{studentID}/grades", h.addGrade)
}

// MountStudent registers routes under /student.
func (h *Handler) MountStudent(r chi.Router) {
	r.Get("/grades", h.showReport)
}

type studentRow struct {
	Student    school.Student
	Attendance int
	Recent     *school.GradeEntry
	Variant    string
}

type studentsPage struct {
	Classes  []school.ClassAssignment
	Class    string
	Query    string
	Rows     []studentRow
	Statuses []school.AttendanceStatus
	Today    string
}

func rosterKey(class string) screen.Key {
	return screen.Key{Screen: "teacher.students", Filter: url.Values{"class": {class}}}
}

func (h *Handler) fetchRoster(ctx context.Context, class string) (attendance.Roster, bool, error) {
	return screen.Fetch(ctx, h.kit, rosterKey(class), "Failed to load students", func(ctx context.Context) (attendance.Roster, error) {
		return h.roster.Roster(ctx, class)
	})
}

func (h *Handler) listStudents(w http.ResponseWriter, r *http.Request) {
	class := r.URL.Query().Get("class")
	query := strings.TrimSpace(r.URL.Query().Get("q"))

	roster, stale, err := h.fetchRoster(r.Context(), class)
	if err != nil {
		h.kit.Fail(w, r, err, "Failed to load students", "/teacher")
		return
	}

	page := studentsPage{
		Classes:  roster.AssignedClasses,
		Class:    class,
		Query:    query,
		Statuses: school.AttendanceStatuses,
		Today:    h.now().Format(attendance.DateLayout),
	}
	for _, st := range Search(roster.Students, query) {
		row := studentRow{Student: st, Attendance: attendance.Percentage(st.Attendance)}
		if g, ok := st.LatestGrade(); ok {
			row.Recent = &g
			row.Variant = Variant(g.Grade)
		}
		page.Rows = append(page.Rows, row)
	}
	h.kit.Render(w, r, screen.Page{Name: "pages/teacher/students.html", Title: "My Students", Stale: stale, Data: page})
}

// Search keeps students whose name or student id contains q, ignoring case.
func Search(students []school.Student, q string) []school.Student {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return students
	}
	out := make([]school.Student, 0, len(students))
	for _, st := range students {
		if strings.Contains(strings.ToLower(st.User.Name), q) || strings.Contains(strings.ToLower(st.StudentID), q) {
			out = append(out, st)
		}
	}
	return out
}

type gradeForm struct {
	Subject  string `form:"subject" validate:"required,max=60"`
	Marks    string `form:"marks" validate:"required,numeric"`
	MaxMarks string `form:"maxMarks" validate:"required,numeric"`
	Semester string `form:"semester" validate:"omitempty,oneof=1 2 annual"`
}

type gradeScore struct {
	Marks    float64 `form:"marks" validate:"gte=0,ltefield=MaxMarks"`
	MaxMarks float64 `form:"maxMarks" validate:"gt=0"`
}

type gradeFormPage struct {
	Student   school.Student
	Class     string
	Form      gradeForm
	Errors    map[string]string
	Subjects  []string
	Semesters []Semester
}

func (h *Handler) listPath(class string) string {
	if class == "" {
		return "/teacher/students"
	}
	return "/teacher/students?" + url.Values{"class": {class}}.Encode()
}

func (h *Handler) findStudent(ctx context.Context, class, id string) (school.Student, error) {
	roster, _, err := h.fetchRoster(ctx, class)
	if err != nil {
		return school.Student{}, err
	}
	for _, st := range roster.Students {
		if st.ID == id {
			return st, nil
		}
	}
	return school.Student{}, &backend.APIError{Status: http.StatusNotFound, Message: "Student not found", Path: "/teacher/students"}
}

func (h *Handler) showGradeForm(w http.ResponseWriter, r *http.Request) {
	class := r.URL.Query().Get("class")
	student, err := h.findStudent(r.Context(), class, chi.URLParam(r, "studentID"))
	if err != nil {
		h.kit.Fail(w, r, err, "Failed to load student", h.listPath(class))
		return
	}
	h.renderGradeForm(w, r, http.StatusOK, gradeFormPage{Student: student, Class: class, Form: gradeForm{MaxMarks: "100"}})
}

func (h *Handler) renderGradeForm(w http.ResponseWriter, r *http.Request, status int, page gradeFormPage) {
	page.Subjects = Subjects
	page.Semesters = Semesters
	h.kit.Render(w, r, screen.Page{
		Name:   "pages/teacher/grade_form.html",
		Title:  "Add Grade for " + page.Student.User.Name,
		Status: status,
		Data:   page,
	})
}

func (h *Handler) addGrade(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	studentID := chi.URLParam(r, "studentID")
	class := r.PostFormValue("class")
	form := gradeForm{
		Subject:  strings.TrimSpace(r.PostFormValue("subject")),
		Marks:    strings.TrimSpace(r.PostFormValue("marks")),
		MaxMarks: strings.TrimSpace(r.PostFormValue("maxMarks")),
		Semester: r.PostFormValue("semester"),
	}
	score := gradeScore{Marks: screen.FloatValue(form.Marks), MaxMarks: screen.FloatValue(form.MaxMarks)}
	errs := h.kit.Forms().Check(form)
	if len(errs) == 0 {
		errs = h.kit.Forms().Check(score)
	}

	page := gradeFormPage{Student: school.Student{ID: studentID}, Class: class, Form: form, Errors: errs}
	if name := r.PostFormValue("studentName"); name != "" {
		page.Student.User.Name = name
	}
	if len(errs) > 0 {
		h.renderGradeForm(w, r, http.StatusUnprocessableEntity, page)
		return
	}

	grade := NewGrade{Subject: form.Subject, Marks: score.Marks, MaxMarks: score.MaxMarks, Semester: form.Semester}
	if err := h.grades.Add(r.Context(), studentID, grade); err != nil {
		page.Subjects, page.Semesters = Subjects, Semesters
		h.kit.Invalid(w, r, err, "Failed to add grade", screen.Page{
			Name:  "pages/teacher/grade_form.html",
			Title: "Add Grade for " + page.Student.User.Name,
			Data:  page,
		})
		return
	}
	h.kit.Done(w, r, h.listPath(class), "Grade added successfully")
}

type gradeRow struct {
	Entry   school.GradeEntry
	Variant string
}

type subjectCard struct {
	Subject string
	Average float64
	Tone    string
	Rows    []gradeRow
}

type reportPage struct {
	Semester  string
	Semesters []Semester
	Overall   float64
	Subjects  []subjectCard
	Best      string
	Scale     []Band
}

func (h *Handler) showReport(w http.ResponseWriter, r *http.Request) {
	semester := r.URL.Query().Get("semester")
	if !ValidSemester(semester) {
		semester = ""
	}
	key := screen.Key{Screen: "student.grades", Filter: url.Values{"semester": {semester}}}
	report, stale, err := screen.Fetch(r.Context(), h.kit, key, "Failed to load grades", func(ctx context.Context) (Report, error) {
		return h.grades.Report(ctx, semester)
	})
	if err != nil {
		h.kit.Fail(w, r, err, "Failed to load grades", "/student")
		return
	}

	page := reportPage{
		Semester:  semester,
		Semesters: Semesters,
		Overall:   report.OverallAverage.Float(),
		Scale:     Scale,
	}
	if best, ok := Best(report.GradesBySubject); ok {
		page.Best = best.Subject
	}
	for _, sg := range report.GradesBySubject {
		card := subjectCard{Subject: sg.Subject, Average: sg.Average.Float(), Tone: Tone(sg.Average.Float())}
		for _, g := range sg.Grades {
			letter := g.Grade
			if letter == "" {
				letter = Letter(float64(g.Percent()))
				g.Grade = letter
			}
			card.Rows = append(card.Rows, gradeRow{Entry: g, Variant: Variant(letter)})
		}
		page.Subjects = append(page.Subjects, card)
	}
	h.kit.Render(w, r, screen.Page{Name: "pages/student/grades.html", Title: "My Grades", Stale: stale, Data: page})
}
