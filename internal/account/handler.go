package account

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/schoolhub/portal/internal/auth"
	"github.com/schoolhub/portal/internal/school"
	"github.com/schoolhub/portal/internal/screen"
)

// Paths served by the account shell.
const (
	PasswordPath = "/account/password"
	ProfilePath  = "/account/profile"
)

// Handler serves the account pages.
type Handler struct {
	kit     *screen.Kit
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(kit *screen.Kit, service *Service) *Handler {
	return &Handler{kit: kit, service: service}
}

// MountRoutes registers routes under /account.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/password", h.showPassword)
	r.Post("/password", h.changePassword)
	r.Get("/profile", h.showProfile)
	r.Post("/profile", h.updateProfile)
}

type passwordForm struct {
	CurrentPassword string `form:"currentPassword" validate:"required"`
	NewPassword     string `form:"newPassword" validate:"required,min=6,nefield=CurrentPassword"`
	ConfirmPassword string `form:"confirmPassword" validate:"required,eqfield=NewPassword"`
}

type passwordPage struct {
	Errors map[string]string
}

func (h *Handler) showPassword(w http.ResponseWriter, r *http.Request) {
	h.kit.Render(w, r, screen.Page{Name: "pages/account/password.html", Title: "Change Password", Data: passwordPage{}})
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := passwordForm{
		CurrentPassword: r.PostFormValue("currentPassword"),
		NewPassword:     r.PostFormValue("newPassword"),
		ConfirmPassword: r.PostFormValue("confirmPassword"),
	}
	page := screen.Page{Name: "pages/account/password.html", Title: "Change Password"}
	if errs := h.kit.Forms().Check(form); len(errs) > 0 {
		if _, ok := errs["confirmPassword"]; ok && form.ConfirmPassword != "" {
			errs["confirmPassword"] = "Passwords do not match"
		}
		page.Status = http.StatusUnprocessableEntity
		page.Data = passwordPage{Errors: errs}
		h.kit.Render(w, r, page)
		return
	}

	store := auth.StoreFromContext(r.Context())
	if store == nil {
		http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
		return
	}
	if err := store.UpdatePassword(r.Context(), form.CurrentPassword, form.NewPassword); err != nil {
		page.Data = passwordPage{}
		h.kit.Invalid(w, r, err, "Failed to update password", page)
		return
	}
	h.kit.Done(w, r, PasswordPath, "Password updated successfully")
}

type profileForm struct {
	Name          string `form:"name" validate:"required,min=2,max=100"`
	Phone         string `form:"phone" validate:"omitempty,max=20"`
	Qualification string `form:"qualification" validate:"max=200"`
	Address       string `form:"address" validate:"max=500"`
}

type profilePage struct {
	Role    string
	Viewer  auth.Identity
	Teacher *school.Teacher
	Student *school.Student
	Form    profileForm
	Errors  map[string]string
}

// Editable reports whether the profile form is shown.
func (p profilePage) Editable() bool { return p.Teacher != nil }

func (h *Handler) showProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
		return
	}
	page := profilePage{Role: string(id.Role), Viewer: id}
	var stale bool
	switch id.Role {
	case auth.RoleTeacher:
		teacher, wasStale, err := screen.Fetch(r.Context(), h.kit, screen.Key{Screen: "account.profile"}, "Failed to load profile", h.service.TeacherProfile)
		if err != nil {
			h.kit.Fail(w, r, err, "Failed to load profile", "/teacher")
			return
		}
		page.Teacher, stale = &teacher, wasStale
		page.Form = profileForm{
			Name:          teacher.DisplayName(),
			Phone:         teacher.User.Phone,
			Qualification: teacher.Qualification,
			Address:       teacher.Address,
		}
	case auth.RoleStudent:
		student, wasStale, err := screen.Fetch(r.Context(), h.kit, screen.Key{Screen: "account.profile"}, "Failed to load profile", h.service.StudentProfile)
		if err != nil {
			h.kit.Fail(w, r, err, "Failed to load profile", "/student")
			return
		}
		page.Student, stale = &student, wasStale
	}
	h.kit.Render(w, r, screen.Page{Name: "pages/account/profile.html", Title: "Profile", Stale: stale, Data: page})
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
		return
	}
	if id.Role != auth.RoleTeacher {
		h.kit.Reject(w, r, ProfilePath, "Only teachers can edit their profile here")
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := profileForm{
		Name:          strings.TrimSpace(r.PostFormValue("name")),
		Phone:         strings.TrimSpace(r.PostFormValue("phone")),
		Qualification: strings.TrimSpace(r.PostFormValue("qualification")),
		Address:       strings.TrimSpace(r.PostFormValue("address")),
	}
	page := profilePage{Role: string(id.Role), Viewer: id, Teacher: &school.Teacher{}, Form: form}
	p := screen.Page{Name: "pages/account/profile.html", Title: "Profile"}
	if errs := h.kit.Forms().Check(form); len(errs) > 0 {
		page.Errors = errs
		p.Status = http.StatusUnprocessableEntity
		p.Data = page
		h.kit.Render(w, r, p)
		return
	}
	in := ProfileInput{Name: form.Name, Phone: form.Phone, Qualification: form.Qualification, Address: form.Address}
	if _, err := h.service.UpdateTeacherProfile(r.Context(), in); err != nil {
		p.Data = page
		h.kit.Invalid(w, r, err, "Failed to update profile", p)
		return
	}
	if store := auth.StoreFromContext(r.Context()); store != nil {
		if _, err := store.Refresh(r.Context()); err != nil {
			h.kit.Logger().Warn("refresh identity after profile update", slog.Any("error", err))
		}
	}
	h.kit.Done(w, r, ProfilePath, "Profile updated successfully")
}
