package trace

import (
	"encoding/json"

	"github.com/Kong/gojsondiff"
	"github.com/Kong/gojsondiff/formatter"
)

// RenderDiff formats the difference between a document's before/after
// JSON representations for a human reading verbose trace output, the
// same job the teacher's own sync/diff commands use
// github.com/Kong/gojsondiff for. It is purely cosmetic: the canonical
// patch algebra (pkg/diff, pkg/patch) is what the kernel actually
// reasons about, and RenderDiff never feeds back into it.
func RenderDiff(before, after []byte) (string, error) {
	var left, right map[string]interface{}
	if err := json.Unmarshal(before, &left); err != nil {
		return "", err
	}
	if err := json.Unmarshal(after, &right); err != nil {
		return "", err
	}

	d := gojsondiff.New().CompareObjects(left, right)
	if !d.Modified() {
		return "", nil
	}
	f := formatter.NewAsciiFormatter(left, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	return f.Format(d)
}
