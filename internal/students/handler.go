package students

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/schoolhub/portal/internal/backend"
	"github.com/schoolhub/portal/internal/school"
	"github.com/schoolhub/portal/internal/screen"
)

// Handler serves /admin/students.
type Handler struct {
	kit     *screen.Kit
	service *Service
	now     func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(kit *screen.Kit, service *Service) *Handler {
	return &Handler{kit: kit, service: service, now: time.Now}
}

// MountRoutes registers routes under /admin.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/students", h.list)
	r.Get("/students/export.xlsx", h.export)
	r.Get("/students/new", h.showCreate)
	r.Post("/students", h.create)
	r.Get("/students/{id}/edit", h.showEdit)
	r.Post("/students/{id}", h.update)
	r.Post("/students/{id}/delete", h.remove)
}

type listPage struct {
	Query    Query
	List     List
	Classes  []string
	PageBase string
}

func listKey(q Query) screen.Key {
	return screen.Key{Screen: "admin.students", Filter: q.Values()}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := QueryFrom(r.URL.Query())
	list, stale, err := screen.Fetch(r.Context(), h.kit, listKey(q), "Failed to load students", func(ctx context.Context) (List, error) {
		return h.service.List(ctx, q)
	})
	if err != nil {
		h.kit.Fail(w, r, err, "Failed to load students", "/admin")
		return
	}
	filter := filterValues(q)
	page := listPage{
		Query:    q,
		List:     list,
		Classes:  Classes,
		PageBase: screen.PageBase("/admin/students", filter),
	}
	h.kit.Render(w, r, screen.Page{Name: "pages/admin/students.html", Title: "Students", Stale: stale, Data: page})
}

// filterValues is the browser-facing filter without the page number.
func filterValues(q Query) url.Values {
	v := url.Values{}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Class != "" {
		v.Set("class", q.Class)
	}
	return v
}

func (h *Handler) back(r *http.Request) string {
	q := QueryFrom(r.URL.Query())
	if ret := r.FormValue("return"); ret != "" {
		if parsed, err := url.ParseQuery(ret); err == nil {
			q = QueryFrom(parsed)
		}
	}
	v := filterValues(q)
	if q.Page > 1 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if len(v) == 0 {
		return "/admin/students"
	}
	return "/admin/students?" + v.Encode()
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	q := QueryFrom(r.URL.Query())
	all, err := h.service.All(r.Context(), q)
	if err != nil {
		h.kit.Fail(w, r, err, "Failed to export students", h.back(r))
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="students-`+h.now().Format("20060102")+`.xlsx"`)
	if err := WriteRoster(w, all); err != nil {
		h.kit.Logger().Error("write roster export", slog.Any("error", err))
	}
}

type studentForm struct {
	Name        string `form:"name" validate:"required,max=100"`
	Email       string `form:"email" validate:"required,email"`
	Password    string `form:"password" validate:"omitempty,min=6"`
	Phone       string `form:"phone" validate:"omitempty,max=20"`
	Class       string `form:"class" validate:"required"`
	Section     string `form:"section" validate:"omitempty,max=5"`
	RollNumber  string `form:"rollNumber" validate:"omitempty,max=10"`
	DateOfBirth string `form:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	Gender      string `form:"gender" validate:"omitempty,oneof=male female other"`
	ParentName  string `form:"parentName" validate:"omitempty,max=100"`
	ParentPhone string `form:"parentPhone" validate:"omitempty,max=20"`
	Address     string `form:"address" validate:"omitempty,max=300"`
	TotalFee    string `form:"totalFee" validate:"omitempty,numeric"`
}

func formFromRequest(r *http.Request) studentForm {
	get := func(k string) string { return strings.TrimSpace(r.PostFormValue(k)) }
	return studentForm{
		Name:        get("name"),
		Email:       get("email"),
		Password:    r.PostFormValue("password"),
		Phone:       get("phone"),
		Class:       get("class"),
		Section:     get("section"),
		RollNumber:  get("rollNumber"),
		DateOfBirth: get("dateOfBirth"),
		Gender:      get("gender"),
		ParentName:  get("parentName"),
		ParentPhone: get("parentPhone"),
		Address:     get("address"),
		TotalFee:    get("totalFee"),
	}
}

func formFromStudent(st school.Student) studentForm {
	f := studentForm{
		Name:        st.User.Name,
		Email:       st.User.Email,
		Phone:       st.User.Phone,
		Class:       st.Class.String(),
		Section:     st.Section,
		RollNumber:  st.RollNumber.String(),
		Gender:      st.Gender,
		ParentName:  st.ParentName,
		ParentPhone: st.ParentPhone,
		Address:     st.Address,
	}
	if !st.DateOfBirth.IsZero() {
		f.DateOfBirth = st.DateOfBirth.Format("2006-01-02")
	}
	if st.TotalFee > 0 {
		f.TotalFee = strconv.FormatFloat(st.TotalFee, 'f', -1, 64)
	}
	return f
}

func (f studentForm) input() Input {
	return Input{
		Name:        f.Name,
		Email:       f.Email,
		Password:    f.Password,
		Phone:       f.Phone,
		Class:       f.Class,
		Section:     f.Section,
		RollNumber:  f.RollNumber,
		DateOfBirth: f.DateOfBirth,
		Gender:      f.Gender,
		ParentName:  f.ParentName,
		ParentPhone: f.ParentPhone,
		Address:     f.Address,
		TotalFee:    screen.FloatValue(f.TotalFee),
	}
}

type formPage struct {
	ID       string
	Form     studentForm
	Errors   map[string]string
	Return   string
	Classes  []string
	Sections []string
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, status int, page formPage, cause error) {
	page.Classes, page.Sections = Classes, Sections
	title := "Add New Student"
	if page.ID != "" {
		title = "Edit Student"
	}
	p := screen.Page{Name: "pages/admin/student_form.html", Title: title, Status: status, Data: page}
	if cause != nil {
		h.kit.Invalid(w, r, cause, "Operation failed", p)
		return
	}
	h.kit.Render(w, r, p)
}

func (h *Handler) showCreate(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, http.StatusOK, formPage{Return: r.URL.RawQuery, Form: studentForm{Section: "A"}}, nil)
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
	page := formPage{Form: form, Errors: errs, Return: r.PostFormValue("return")}
	if len(errs) > 0 {
		page.Form.Password = ""
		h.renderForm(w, r, http.StatusUnprocessableEntity, page, nil)
		return
	}
	if err := h.service.Create(r.Context(), form.input()); err != nil {
		page.Form.Password = ""
		h.renderForm(w, r, 0, page, err)
		return
	}
	h.kit.Done(w, r, h.back(r), "Student created successfully")
}

func (h *Handler) showEdit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := QueryFrom(r.URL.Query())
	list, err := h.service.List(r.Context(), q)
	if err != nil {
		h.kit.Fail(w, r, err, "Failed to load student", h.back(r))
		return
	}
	for _, st := range list.Students {
		if st.ID == id {
			h.renderForm(w, r, http.StatusOK, formPage{ID: id, Form: formFromStudent(st), Return: r.URL.RawQuery}, nil)
			return
		}
	}
	h.kit.Fail(w, r, &backend.APIError{Status: http.StatusNotFound, Message: "Student not found"}, "Student not found", h.back(r))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	form := formFromRequest(r)
	errs := h.kit.Forms().Check(form)
	page := formPage{ID: id, Form: form, Errors: errs, Return: r.PostFormValue("return")}
	page.Form.Password = ""
	if len(errs) > 0 {
		h.renderForm(w, r, http.StatusUnprocessableEntity, page, nil)
		return
	}
	if err := h.service.Update(r.Context(), id, form.input()); err != nil {
		h.renderForm(w, r, 0, page, err)
		return
	}
	h.kit.Done(w, r, h.back(r), "Student updated successfully")
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.kit.Fail(w, r, err, "Failed to delete student", h.back(r))
		return
	}
	h.kit.Done(w, r, h.back(r), "Student deleted successfully")
}
