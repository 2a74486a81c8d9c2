package train

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// ClassScore holds the per-class metrics of a classification report.
type ClassScore struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report summarizes predictions the way scikit-learn's
// classification_report does.
type Report struct {
	Classes     []string     `json:"classes"`
	Scores      []ClassScore `json:"scores"`
	Accuracy    float64      `json:"accuracy"`
	MacroAvg    ClassScore   `json:"macro_avg"`
	WeightedAvg ClassScore   `json:"weighted_avg"`

	// Confusion[i][j] counts samples of class i predicted as class j.
	Confusion [][]int `json:"confusion"`
}

// ClassificationReport computes per-class precision, recall, F1 and
// support. A zero denominator yields a zero score.
func ClassificationReport(classes []string, truth, pred []int) (*Report, error) {
	if len(truth) != len(pred) {
		return nil, fmt.Errorf("report: %d labels, %d predictions", len(truth), len(pred))
	}
	k := len(classes)
	r := &Report{Classes: classes, Scores: make([]ClassScore, k), Confusion: make([][]int, k)}
	for i := range r.Confusion {
		r.Confusion[i] = make([]int, k)
	}
	correct := 0
	for i := range truth {
		t, p := truth[i], pred[i]
		if t < 0 || t >= k || p < 0 || p >= k {
			return nil, fmt.Errorf("report: class index out of range at sample %d", i)
		}
		r.Confusion[t][p]++
		if t == p {
			correct++
		}
	}
	if len(truth) > 0 {
		r.Accuracy = float64(correct) / float64(len(truth))
	}

	total := len(truth)
	for c := 0; c < k; c++ {
		tp := r.Confusion[c][c]
		var predicted, support int
		for j := 0; j < k; j++ {
			predicted += r.Confusion[j][c]
			support += r.Confusion[c][j]
		}
		s := ClassScore{
			Precision: ratio(tp, predicted),
			Recall:    ratio(tp, support),
			Support:   support,
		}
		if s.Precision+s.Recall > 0 {
			s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
		}
		r.Scores[c] = s

		r.MacroAvg.Precision += s.Precision / float64(k)
		r.MacroAvg.Recall += s.Recall / float64(k)
		r.MacroAvg.F1 += s.F1 / float64(k)
		if total > 0 {
			w := float64(support) / float64(total)
			r.WeightedAvg.Precision += s.Precision * w
			r.WeightedAvg.Recall += s.Recall * w
			r.WeightedAvg.F1 += s.F1 * w
		}
	}
	r.MacroAvg.Support = total
	r.WeightedAvg.Support = total
	return r, nil
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// Render writes the report as a table.
func (r *Report) Render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"", "PRECISION", "RECALL", "F1-SCORE", "SUPPORT"})
	table.SetHeaderAlignment(tablewriter.ALIGN_RIGHT)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	row := func(name string, s ClassScore) []string {
		return []string{name, f2(s.Precision), f2(s.Recall), f2(s.F1), strconv.Itoa(s.Support)}
	}
	for i, c := range r.Classes {
		table.Append(row(c, r.Scores[i]))
	}
	table.Append([]string{"", "", "", "", ""})
	table.Append([]string{"accuracy", "", "", f2(r.Accuracy), strconv.Itoa(r.MacroAvg.Support)})
	table.Append(row("macro avg", r.MacroAvg))
	table.Append(row("weighted avg", r.WeightedAvg))
	table.Render()
}

func f2(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
