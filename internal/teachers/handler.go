package teachers

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/schoolhub/portal/internal/backend"
	"github.com/schoolhub/portal/internal/school"
	"github.com/schoolhub/portal/internal/screen"
	"github.com/schoolhub/portal/internal/students"
)

// Subjects offered by the teacher form.
var Subjects = []string{
	"Mathematics", "Physics", "Chemistry", "Biology", "English",
	"History", "Geography", "Computer Science", "Physical Education",
	"Art", "Music", "Economics", "Accountancy",
}

// blankAssignments is the number of empty rows offered on the assignment form.
const blankAssignments = 2

// Handler serves /admin/teachers.
type Handler struct {
	kit     *screen.Kit
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(kit *screen.Kit, service *Service) *Handler {
	return &Handler{kit: kit, service: service}
}

// MountRoutes registers routes under /admin.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/teachers", h.list)
	r.Get("/teachers/new", h.showCreate)
	r.Post("/teachers", h.create)
	r.Get("/teachers/{id}/edit", h.showEdit)
	r.Post("/teachers/{id}", h.update)
	r.Post("/teachers/{id}/delete", h.remove)
	r.Get("/teachers/{id}/classes", h.showAssign)
	r.Post("/teachers/{id}/classes", h.assign)
}

type listPage struct {
	Search   string
	Page     int
	Teachers []school.Teacher
	List     List
	PageBase string
}

// Filter keeps teachers whose name, email or staff id contains q, ignoring case.
func Filter(teachers []school.Teacher, q string) []school.Teacher {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return teachers
	}
	var out []school.Teacher
	for _, t := range teachers {
		if strings.Contains(strings.ToLower(t.DisplayName()), q) ||
			strings.Contains(strings.ToLower(t.User.Email), q) ||
			strings.Contains(strings.ToLower(t.TeacherID), q) {
			out = append(out, t)
		}
	}
	return out
}

func (h *Handler) fetch(ctx context.Context, page int) (List, bool, error) {
	key := screen.Key{Screen: "admin.teachers", Filter: url.Values{"page": {strconv.Itoa(page)}}}
	return screen.Fetch(ctx, h.kit, key, "Failed to load teachers", func(ctx context.Context) (List, error) {
		return h.service.List(ctx, page)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page := screen.IntParam(r.URL.Query(), "page", 1)
	search := strings.TrimSpace(r.URL.Query().Get("search"))
	list, stale, err := h.fetch(r.Context(), page)
	if err != nil {
		h.kit.Fail(w, r, err, "Failed to load teachers", "/admin")
		return
	}
	filter := url.Values{}
	if search != "" {
		filter.Set("search", search)
	}
	data := listPage{
		Search:   search,
		Page:     page,
		Teachers: Filter(list.Teachers, search),
		List:     list,
		PageBase: screen.PageBase("/admin/teachers", filter),
	}
	h.kit.Render(w, r, screen.Page{Name: "pages/admin/teachers.html", Title: "Teachers", Stale: stale, Data: data})
}

func backTo(page string) string {
	if n, err := strconv.Atoi(page); err == nil && n > 1 {
		return "/admin/teachers?page=" + strconv.Itoa(n)
	}
	return "/admin/teachers"
}

// find locates a teacher on the given list page.
func (h *Handler) find(ctx context.Context, id string, page int) (school.Teacher, error) {
	list, err := h.service.List(ctx, page)
	if err != nil {
		return school.Teacher{}, err
	}
	for _, t := range list.Teachers {
		if t.ID == id {
			return t, nil
		}
	}
	return school.Teacher{}, &backend.APIError{Status: http.StatusNotFound, Message: "Teacher not found"}
}

type teacherForm struct {
	Name          string   `form:"name" validate:"required,max=100"`
	Email         string   `form:"email" validate:"required,email"`
	Password      string   `form:"password" validate:"omitempty,min=6"`
	Phone         string   `form:"phone" validate:"omitempty,max=20"`
	Subjects      []string `form:"subjects" validate:"min=1,dive,required"`
	Qualification string   `form:"qualification" validate:"omitempty,max=100"`
	Experience    string   `form:"experience" validate:"omitempty,numeric"`
	Salary        string   `form:"salary" validate:"omitempty,numeric"`
	Address       string   `form:"address" validate:"omitempty,max=300"`
}

func (f teacherForm) input() Input {
	return Input{
		Name:          f.Name,
		Email:         f.Email,
		Password:      f.Password,
		Phone:         f.Phone,
		Subjects:      f.Subjects,
		Qualification: f.Qualification,
		Experience:    screen.FloatValue(f.Experience),
		Salary:        screen.FloatValue(f.Salary),
		Address:       f.Address,
	}
}

func formFromRequest(r *http.Request) teacherForm {
	get := func(k string) string { return strings.TrimSpace(r.PostFormValue(k)) }
	return teacherForm{
		Name:          get("name"),
		Email:         get("email"),
		Password:      r.PostFormValue("password"),
		Phone:         get("phone"),
		Subjects:      r.PostForm["subjects"],
		Qualification: get("qualification"),
		Experience:    get("experience"),
		Salary:        get("salary"),
		Address:       get("address"),
	}
}

func formFromTeacher(t school.Teacher) teacherForm {
	f := teacherForm{
		Name:          t.DisplayName(),
		Email:         t.User.Email,
		Phone:         t.User.Phone,
		Subjects:      t.Subjects,
		Qualification: t.Qualification,
		Address:       t.Address,
	}
	if t.Experience > 0 {
		f.Experience = strconv.FormatFloat(t.Experience, 'f', -1, 64)
	}
	if t.Salary > 0 {
		f.Salary = strconv.FormatFloat(t.Salary, 'f', -1, 64)
	}
	return f
}

type formPage struct {
	ID       string
	Page     string
	Form     teacherForm
	Errors   map[string]string
	Subjects []string
}

// Chosen reports whether subject is selected on the form.
func (p formPage) Chosen(subject string) bool {
	return slices.Contains(p.Form.Subjects, subject)
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, status int, page formPage, cause error) {
	page.Subjects = Subjects
	page.Form.Password = ""
	title := "Add New Teacher"
	if page.ID != "" {
		title = "Edit Teacher"
	}
	p := screen.Page{Name: "pages/admin/teacher_form.html", Title: title, Status: status, Data: page}
	if cause != nil {
		h.kit.Invalid(w, r, cause, "Operation failed", p)
		return
	}
	h.kit.Render(w, r, p)
}

func (h *Handler) showCreate(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, http.StatusOK, formPage{Page: r.URL.Query().Get("page")}, nil)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := formFromRequest(r)
	errs := h.kit.Forms().Check(form)
	if form.Password == "" {
		if errs == nil {
			errs = map[string]string{}
		}
		errs["password"] = "Password is required"
	}
	page := formPage{Form: form, Errors: subjectMessage(errs), Page: r.PostFormValue("page")}
	if len(errs) > 0 {
		h.renderForm(w, r, http.StatusUnprocessableEntity, page, nil)
		return
	}
	if err := h.service.Create(r.Context(), form.input()); err != nil {
		h.renderForm(w, r, 0, page, err)
		return
	}
	h.kit.Done(w, r, backTo(page.Page), "Teacher created successfully")
}

// subjectMessage replaces the generic message for an empty subject list.
func subjectMessage(errs map[string]string) map[string]string {
	if _, ok := errs["subjects"]; ok {
		errs["subjects"] = "Select at least one subject"
	}
	return errs
}

func (h *Handler) showEdit(w http.ResponseWriter, r *http.Request) {
	page := r.URL.Query().Get("page")
	t, err := h.find(r.Context(), chi.URLParam(r, "id"), screen.IntParam(r.URL.Query(), "page", 1))
	if err != nil {
		h.kit.Fail(w, r, err, "Failed to load teacher", backTo(page))
		return
	}
	h.renderForm(w, r, http.StatusOK, formPage{ID: t.ID, Page: page, Form: formFromTeacher(t)}, nil)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	form := formFromRequest(r)
	errs := subjectMessage(h.kit.Forms().Check(form))
	page := formPage{ID: id, Form: form, Errors: errs, Page: r.PostFormValue("page")}
	if len(errs) > 0 {
		h.renderForm(w, r, http.StatusUnprocessableEntity, page, nil)
		return
	}
	if err := h.service.Update(r.Context(), id, form.input()); err != nil {
		h.renderForm(w, r, 0, page, err)
		return
	}
	h.kit.Done(w, r, backTo(page.Page), "Teacher updated successfully")
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	back := backTo(r.FormValue("page"))
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.kit.Fail(w, r, err, "Failed to delete teacher", back)
		return
	}
	h.kit.Done(w, r, back, "Teacher deleted successfully")
}

type assignRow struct {
	Class   string
	Section string
	Subject string
}

type assignPage struct {
	ID       string
	Name     string
	Page     string
	Rows     []assignRow
	Subjects []string
	Classes  []string
	Sections []string
	Errors   []string
}

func (h *Handler) renderAssign(w http.ResponseWriter, r *http.Request, status int, page assignPage, cause error) {
	for i := 0; i < blankAssignments; i++ {
		page.Rows = append(page.Rows, assignRow{Section: "A"})
	}
	page.Classes = students.Classes
	page.Sections = students.Sections
	if len(page.Subjects) == 0 {
		page.Subjects = Subjects
	}
	p := screen.Page{Name: "pages/admin/teacher_classes.html", Title: "Assign Classes", Status: status, Data: page}
	if cause != nil {
		h.kit.Invalid(w, r, cause, "Failed to assign classes", p)
		return
	}
	h.kit.Render(w, r, p)
}

func (h *Handler) showAssign(w http.ResponseWriter, r *http.Request) {
	page := r.URL.Query().Get("page")
	t, err := h.find(r.Context(), chi.URLParam(r, "id"), screen.IntParam(r.URL.Query(), "page", 1))
	if err != nil {
		h.kit.Fail(w, r, err, "Failed to load teacher", backTo(page))
		return
	}
	data := assignPage{ID: t.ID, Name: t.DisplayName(), Page: page, Subjects: t.Subjects}
	for _, a := range t.AssignedClasses {
		data.Rows = append(data.Rows, assignRow{Class: a.Class.String(), Section: a.Section, Subject: a.Subject})
	}
	h.renderAssign(w, r, http.StatusOK, data, nil)
}

// ParseAssignments pairs the parallel class, section and subject fields.
// Rows without a class are dropped; a row with a class but no subject is an error.
func ParseAssignments(form url.Values) ([]school.ClassAssignment, []string) {
	classes, sections, subjects := form["class"], form["section"], form["subject"]
	var (
		out  []school.ClassAssignment
		errs []string
	)
	for i, class := range classes {
		class = strings.TrimSpace(class)
		if class == "" {
			continue
		}
		a := school.ClassAssignment{Class: school.Text(class)}
		if i < len(sections) {
			a.Section = strings.TrimSpace(sections[i])
		}
		if i < len(subjects) {
			a.Subject = strings.TrimSpace(subjects[i])
		}
		if a.Subject == "" {
			errs = append(errs, "Choose a subject for class "+class)
			continue
		}
		out = append(out, a)
	}
	return out, errs
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	assignments, errs := ParseAssignments(r.PostForm)
	data := assignPage{ID: id, Name: r.PostFormValue("name"), Page: r.PostFormValue("page"), Errors: errs}
	for _, a := range assignments {
		data.Rows = append(data.Rows, assignRow{Class: a.Class.String(), Section: a.Section, Subject: a.Subject})
	}
	if len(errs) > 0 {
		h.renderAssign(w, r, http.StatusUnprocessableEntity, data, nil)
		return
	}
	if err := h.service.AssignClasses(r.Context(), id, assignments); err != nil {
		h.renderAssign(w, r, 0, data, err)
		return
	}
	h.kit.Done(w, r, backTo(data.Page), "Classes assigned successfully")
}
