// Package students serves the admin student register.
package students

import (
	"net/url"
	"strconv"

	"github.com/schoolhub/portal/internal/school"
	"github.com/schoolhub/portal/internal/screen"
)

// PageSize is the number of rows requested per list page.
const PageSize = 10

// Query narrows the student list.
type Query struct {
	Search string
	Class  string
	Page   int
	Limit  int
}

// Values encodes q as backend query parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Class != "" {
		v.Set("class", q.Class)
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit < 1 {
		limit = PageSize
	}
	v.Set("page", strconv.Itoa(page))
	v.Set("limit", strconv.Itoa(limit))
	return v
}

// QueryFrom reads list filters from a browser query string.
func QueryFrom(v url.Values) Query {
	return Query{
		Search: v.Get("search"),
		Class:  v.Get("class"),
		Page:   screen.IntParam(v, "page", 1),
	}
}

// List is one page of the register.
type List struct {
	Students   []school.Student  `json:"students"`
	Pagination screen.Pagination `json:"pagination"`
}

// Input is the body of a create or update request. Password is only sent
// when set so an update leaves the current one alone.
type Input struct {
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	Password    string  `json:"password,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	Class       string  `json:"class"`
	Section     string  `json:"section,omitempty"`
	RollNumber  string  `json:"rollNumber,omitempty"`
	DateOfBirth string  `json:"dateOfBirth,omitempty"`
	Gender      string  `json:"gender,omitempty"`
	ParentName  string  `json:"parentName,omitempty"`
	ParentPhone string  `json:"parentPhone,omitempty"`
	Address     string  `json:"address,omitempty"`
	TotalFee    float64 `json:"totalFee,omitempty"`
}

// Classes offered by the class filter and form.
var Classes = []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12"}

// Sections offered by the form.
var Sections = []string{"A", "B", "C", "D"}
