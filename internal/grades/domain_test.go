package grades

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLetterBoundaries(t *testing.T) {
	cases := map[float64]string{
		100: "A+", 90: "A+", 89.9: "A", 80: "A", 79: "B+", 70: "B+",
		69: "B", 60: "B", 59: "C", 50: "C", 49: "D", 40: "D", 39.5: "F", 0: "F",
	}
	for pct, want := range cases {
		assert.Equal(t, want, Letter(pct), "percent %v", pct)
	}
}

func TestVariant(t *testing.T) {
	assert.Equal(t, "success", Variant("A+"))
	assert.Equal(t, "success", Variant("A"))
	assert.Equal(t, "info", Variant("B+"))
	assert.Equal(t, "warning", Variant("C"))
	assert.Equal(t, "danger", Variant("D"))
	assert.Equal(t, "danger", Variant("F"))
	assert.Equal(t, "default", Variant("E"))
}

func TestReportDecodesStringAverages(t *testing.T) {
	raw := `{"gradesBySubject":[
		{"subject":"Physics","average":"71.50","grades":[{"subject":"Physics","marks":43,"maxMarks":60,"grade":"B+","semester":1}]},
		{"subject":"Mathematics","average":88,"grades":[]}
	],"overallAverage":"79.75"}`
	var r Report
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	assert.InDelta(t, 79.75, r.OverallAverage.Float(), 0.001)
	assert.Equal(t, "1", r.GradesBySubject[0].Grades[0].Semester.String())

	best, ok := Best(r.GradesBySubject)
	require.True(t, ok)
	assert.Equal(t, "Mathematics", best.Subject)

	_, ok = Best(nil)
	assert.False(t, ok)
}
