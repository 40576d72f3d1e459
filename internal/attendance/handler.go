package attendance

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/schoolhub/portal/internal/school"
	"github.com/schoolhub/portal/internal/screen"
)

// Handler serves the teacher attendance sheet and the student history.
type Handler struct {
	kit     *screen.Kit
	service *Service
	now     func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(kit *screen.Kit, service *Service) *Handler {
	return &Handler{kit: kit, service: service, now: time.Now}
}

// MountTeacher registers routes under /teacher.
func (h *Handler) MountTeacher(r chi.Router) {
	r.Get("/attendance", h.showSheet)
	r.Post("/attendance", h.submitSheet)
	r.Post("/students/{studentID}/attendance", h.markOne)
}

// MountStudent registers routes under /student.
func (h *Handler) MountStudent(r chi.Router) {
	r.Get("/attendance", h.showHistory)
}

type sheetRow struct {
	Student  school.Student
	Status   school.AttendanceStatus
	Recorded bool
}

type sheetPage struct {
	Classes  []school.ClassAssignment
	Class    string
	Date     string
	Rows     []sheetRow
	Summary  Summary
	Statuses []school.AttendanceStatus
	Errors   map[string]string
}

type sheetForm struct {
	Class string `form:"class"`
	Date  string `form:"date" validate:"required,datetime=2006-01-02"`
}

func (h *Handler) sheetKey(class, date string) screen.Key {
	return screen.Key{Screen: "teacher.attendance", Filter: url.Values{"class": {class}, "date": {date}}}
}

func (h *Handler) showSheet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	class := q.Get("class")
	date := q.Get("date")
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		day = h.now()
		date = day.Format(DateLayout)
	}

	roster, stale, err := screen.Fetch(r.Context(), h.kit, h.sheetKey(class, date), "Failed to load students", func(ctx context.Context) (Roster, error) {
		return h.service.Roster(ctx, class)
	})
	if err != nil {
		h.kit.Fail(w, r, err, "Failed to load students", "/teacher")
		return
	}

	page := sheetPage{Classes: roster.AssignedClasses, Class: class, Date: date, Statuses: school.AttendanceStatuses}
	statuses := make([]school.AttendanceStatus, 0, len(roster.Students))
	for _, st := range roster.Students {
		status, recorded := StatusOn(st.Attendance, day)
		if !recorded {
			status = school.Present
		}
		page.Rows = append(page.Rows, sheetRow{Student: st, Status: status, Recorded: recorded})
		statuses = append(statuses, status)
	}
	page.Summary = Summarize(statuses)
	h.kit.Render(w, r, screen.Page{Name: "pages/teacher/attendance.html", Title: "Attendance", Stale: stale, Data: page})
}

func (h *Handler) submitSheet(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := sheetForm{Class: r.PostFormValue("class"), Date: r.PostFormValue("date")}
	errs := h.kit.Forms().Check(form)

	ids := r.PostForm["student"]
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		status := school.AttendanceStatus(r.PostFormValue("status[" + id + "]"))
		if !status.Valid() {
			if errs == nil {
				errs = map[string]string{}
			}
			errs["status"] = "Choose a status for every student"
			status = school.Present
		}
		records = append(records, Record{StudentID: id, Status: status})
	}
	if len(records) == 0 {
		if errs == nil {
			errs = map[string]string{}
		}
		errs["general"] = "There are no students to mark"
	}

	back := "/teacher/attendance?" + url.Values{"class": {form.Class}, "date": {form.Date}}.Encode()
	if len(errs) > 0 {
		h.rerender(w, r, form, records, errs, http.StatusUnprocessableEntity, nil)
		return
	}

	day, _ := time.Parse(DateLayout, form.Date)
	if err := h.service.MarkBulk(r.Context(), day, records); err != nil {
		h.rerender(w, r, form, records, nil, 0, err)
		return
	}
	h.kit.Done(w, r, back, "Attendance saved successfully")
}

// rerender shows the sheet again with the submitted marks so nothing is lost.
func (h *Handler) rerender(w http.ResponseWriter, r *http.Request, form sheetForm, records []Record, errs map[string]string, status int, cause error) {
	roster, _, fetchErr := screen.Fetch(r.Context(), h.kit, h.sheetKey(form.Class, form.Date), "Failed to load students", func(ctx context.Context) (Roster, error) {
		return h.service.Roster(ctx, form.Class)
	})
	if fetchErr != nil {
		h.kit.Fail(w, r, fetchErr, "Failed to load students", "/teacher")
		return
	}
	chosen := make(map[string]school.AttendanceStatus, len(records))
	for _, rec := range records {
		chosen[rec.StudentID] = rec.Status
	}
	page := sheetPage{Classes: roster.AssignedClasses, Class: form.Class, Date: form.Date, Statuses: school.AttendanceStatuses, Errors: errs}
	statuses := make([]school.AttendanceStatus, 0, len(roster.Students))
	for _, st := range roster.Students {
		mark, ok := chosen[st.ID]
		if !ok {
			mark = school.Present
		}
		page.Rows = append(page.Rows, sheetRow{Student: st, Status: mark})
		statuses = append(statuses, mark)
	}
	page.Summary = Summarize(statuses)
	p := screen.Page{Name: "pages/teacher/attendance.html", Title: "Attendance", Status: status, Data: page}
	if cause != nil {
		h.kit.Invalid(w, r, cause, "Failed to save attendance", p)
		return
	}
	h.kit.Render(w, r, p)
}

type markForm struct {
	Date    string `form:"date" validate:"required,datetime=2006-01-02"`
	Status  string `form:"status" validate:"required,oneof=present absent late excused"`
	Remarks string `form:"remarks" validate:"max=200"`
}

func (h *Handler) markOne(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	back := "/teacher/students"
	if class := r.PostFormValue("class"); class != "" {
		back += "?" + url.Values{"class": {class}}.Encode()
	}
	form := markForm{
		Date:    r.PostFormValue("date"),
		Status:  r.PostFormValue("status"),
		Remarks: strings.TrimSpace(r.PostFormValue("remarks")),
	}
	if form.Date == "" {
		form.Date = h.now().Format(DateLayout)
	}
	if errs := h.kit.Forms().Check(form); len(errs) > 0 {
		h.kit.Reject(w, r, back, screen.FirstError(errs))
		return
	}
	mark := Mark{Date: form.Date, Status: school.AttendanceStatus(form.Status), Remarks: form.Remarks}
	if err := h.service.Mark(r.Context(), chi.URLParam(r, "studentID"), mark); err != nil {
		h.kit.Fail(w, r, err, "Failed to mark attendance", back)
		return
	}
	h.kit.Done(w, r, back, "Attendance marked")
}

type historyPage struct {
	Month      string
	Entries    []school.AttendanceEntry
	Summary    Summary
	Percentage int
}

func (h *Handler) showHistory(w http.ResponseWriter, r *http.Request) {
	month := r.URL.Query().Get("month")
	if _, err := time.Parse("2006-01", month); err != nil {
		month = ""
	}
	history, stale, err := screen.Fetch(r.Context(), h.kit, screen.Key{Screen: "student.attendance", Filter: url.Values{"month": {month}}},
		"Failed to load attendance", func(ctx context.Context) (History, error) {
			return h.service.History(ctx, month)
		})
	if err != nil {
		h.kit.Fail(w, r, err, "Failed to load attendance", "/student")
		return
	}
	page := historyPage{
		Month:      month,
		Entries:    history.Attendance,
		Summary:    SummarizeHistory(history.Attendance),
		Percentage: Percentage(history.Attendance),
	}
	h.kit.Render(w, r, screen.Page{Name: "pages/student/attendance.html", Title: "My Attendance", Stale: stale, Data: page})
}
