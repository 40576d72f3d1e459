package dashboard

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/schoolhub/portal/internal/auth"
	"github.com/schoolhub/portal/internal/grades"
	"github.com/schoolhub/portal/internal/screen"
)

// Handler serves the three role dashboards and the teacher timetable.
type Handler struct {
	kit     *screen.Kit
	service *Service
	now     func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(kit *screen.Kit, service *Service) *Handler {
	return &Handler{kit: kit, service: service, now: time.Now}
}

// MountAdmin registers routes under /admin.
func (h *Handler) MountAdmin(r chi.Router) {
	r.Get("/", h.admin)
}

// MountTeacher registers routes under /teacher.
func (h *Handler) MountTeacher(r chi.Router) {
	r.Get("/", h.teacher)
	r.Get("/schedule", h.schedule)
}

// MountStudent registers routes under /student.
func (h *Handler) MountStudent(r chi.Router) {
	r.Get("/", h.student)
}

type greeting struct {
	FirstName string
	Today     time.Time
}

func (h *Handler) greet(r *http.Request) greeting {
	g := greeting{Today: h.now()}
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		g.FirstName = id.FirstName()
	}
	return g
}

type adminPage struct {
	greeting
	Summary Admin
}

func (h *Handler) admin(w http.ResponseWriter, r *http.Request) {
	summary, stale, err := screen.Fetch(r.Context(), h.kit, screen.Key{Screen: "admin.dashboard"}, "Failed to load dashboard", h.service.Admin)
	if err != nil {
		h.kit.Fail(w, r, err, "Failed to load dashboard", auth.LoginPath)
		return
	}
	h.kit.Render(w, r, screen.Page{
		Name:  "pages/admin/dashboard.html",
		Title: "Dashboard",
		Stale: stale,
		Data:  adminPage{greeting: h.greet(r), Summary: summary},
	})
}

type teacherPage struct {
	greeting
	Summary Teacher
	Periods []Period
}

func (h *Handler) teacher(w http.ResponseWriter, r *http.Request) {
	var (
		summary             Teacher
		timetable           Schedule
		staleSum, staleTime bool
	)
	ctx := r.Context()
	var g errgroup.Group
	g.Go(func() error {
		var err error
		summary, staleSum, err = screen.Fetch(ctx, h.kit, screen.Key{Screen: "teacher.dashboard"}, "Failed to load dashboard", h.service.Teacher)
		return err
	})
	g.Go(func() error {
		var err error
		timetable, staleTime, err = screen.Fetch(ctx, h.kit, screen.Key{Screen: "teacher.schedule"}, "Failed to load schedule", h.service.Schedule)
		return err
	})
	if err := g.Wait(); err != nil {
		h.kit.Fail(w, r, err, "Failed to load dashboard", auth.LoginPath)
		return
	}
	page := teacherPage{greeting: h.greet(r), Summary: summary, Periods: timetable.On(h.now())}
	h.kit.Render(w, r, screen.Page{
		Name:  "pages/teacher/dashboard.html",
		Title: "Dashboard",
		Stale: staleSum || staleTime,
		Data:  page,
	})
}

type schedulePage struct {
	Week  []Day
	Today string
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	timetable, stale, err := screen.Fetch(r.Context(), h.kit, screen.Key{Screen: "teacher.schedule"}, "Failed to load schedule", h.service.Schedule)
	if err != nil {
		h.kit.Fail(w, r, err, "Failed to load schedule", "/teacher")
		return
	}
	h.kit.Render(w, r, screen.Page{
		Name:  "pages/teacher/schedule.html",
		Title: "Schedule",
		Stale: stale,
		Data:  schedulePage{Week: timetable.Week(), Today: h.now().Weekday().String()},
	})
}

type studentPage struct {
	greeting
	Summary    Student
	Attendance int
	Recent     []recentGrade
}

type recentGrade struct {
	Subject string
	Marks   float64
	Max     float64
	Percent int
	Letter  string
	Variant string
	Date    time.Time
}

func (h *Handler) student(w http.ResponseWriter, r *http.Request) {
	summary, stale, err := screen.Fetch(r.Context(), h.kit, screen.Key{Screen: "student.dashboard"}, "Failed to load dashboard", h.service.Student)
	if err != nil {
		h.kit.Fail(w, r, err, "Failed to load dashboard", auth.LoginPath)
		return
	}
	page := studentPage{greeting: h.greet(r), Summary: summary, Attendance: summary.AttendancePercent()}
	for _, g := range summary.Recent() {
		letter := g.Grade
		if letter == "" {
			letter = grades.Letter(float64(g.Percent()))
		}
		page.Recent = append(page.Recent, recentGrade{
			Subject: g.Subject,
			Marks:   g.Marks,
			Max:     g.MaxMarks,
			Percent: g.Percent(),
			Letter:  letter,
			Variant: grades.Variant(letter),
			Date:    g.Date,
		})
	}
	h.kit.Render(w, r, screen.Page{
		Name:  "pages/student/dashboard.html",
		Title: "Dashboard",
		Stale: stale,
		Data:  page,
	})
}

