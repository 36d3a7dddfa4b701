package journal

import (
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/rustyeddy/volrisk/backtest"
	"github.com/rustyeddy/volrisk/diagnostics"
	"github.com/rustyeddy/volrisk/egarch"
	"github.com/rustyeddy/volrisk/risk"
	"github.com/rustyeddy/volrisk/walkforward"
)

// RunReport is everything the org report renders for one run. Fields that
// do not apply to the run kind stay nil.
type RunReport struct {
	Run         Run
	Fit         *egarch.Fit
	Reports     []backtest.Report
	Diagnostics *diagnostics.Summary
	Windows     []walkforward.WindowResult
	Stability   *walkforward.Stability
	Notes       []string
}

var orgFuncs = template.FuncMap{
	"mul100": func(x float64) float64 { return x * 100.0 },
	"label":  risk.LevelLabel,
	"date":   func(t time.Time) string { return t.Format(time.DateOnly) },
	"orTime": func(t time.Time) time.Time {
		if t.IsZero() {
			return time.Now()
		}
		return t
	},
	"stat": func(r backtest.Result) string {
		if !r.Defined() {
			return "-"
		}
		return fmt.Sprintf("%.4f", r.Statistic)
	},
	"pval": func(r backtest.Result) string {
		if !r.Defined() {
			return "-"
		}
		return fmt.Sprintf("%.4f", r.PValue)
	},
}

var orgTemplate = template.Must(template.New("run").Funcs(orgFuncs).Parse(RunOrgTemplate))

// WriteOrg renders r as an org-mode block.
func WriteOrg(w io.Writer, r RunReport) error {
	if err := orgTemplate.Execute(w, r); err != nil {
		return fmt.Errorf("render org report: %w", err)
	}
	return nil
}

const RunOrgTemplate = `
* VOLRISK {{if eq .Run.Kind "walkforward"}}WALK-FORWARD{{else}}FIT{{end}}: {{.Run.Index}}
:PROPERTIES:
:RUN_ID:      {{if .Run.RunID}}{{.Run.RunID}}{{else}}(run-id?){{end}}
:KIND:        {{.Run.Kind}}
:INDEX:       {{.Run.Index}}
:DATASET:     {{if .Run.Dataset}}{{.Run.Dataset}}{{else}}(dataset?){{end}}
:START_DATE:  {{date .Run.Start}}
:END_DATE:    {{date .Run.End}}
:OBS:         {{.Run.Observations}}
:STATUS:      {{.Run.Status}}
:CREATED:     [{{(orTime .Run.Created).Format "2006-01-02 Mon 15:04"}}]
:END:
{{- with .Fit}}

** Model
| Parameter | Estimate | Std. Error |
|-----------+----------+------------|
| mu        | {{printf "%.6f" .Params.Mu}} | {{with .Inference}}{{printf "%.6f" .StdErr.Mu}}{{else}}-{{end}} |
| omega     | {{printf "%.6f" .Params.Omega}} | {{with .Inference}}{{printf "%.6f" .StdErr.Omega}}{{else}}-{{end}} |
| alpha     | {{printf "%.6f" .Params.Alpha}} | {{with .Inference}}{{printf "%.6f" .StdErr.Alpha}}{{else}}-{{end}} |
| gamma     | {{printf "%.6f" .Params.Gamma}} | {{with .Inference}}{{printf "%.6f" .StdErr.Gamma}}{{else}}-{{end}} |
| beta      | {{printf "%.6f" .Params.Beta}} | {{with .Inference}}{{printf "%.6f" .StdErr.Beta}}{{else}}-{{end}} |
| nu        | {{printf "%.4f" .Params.Nu}} | {{with .Inference}}{{printf "%.4f" .StdErr.Nu}}{{else}}-{{end}} |

- Log-likelihood:   *{{printf "%.3f" .LogLikelihood}}*
- AIC / BIC:        *{{printf "%.3f" .AIC}}* / *{{printf "%.3f" .BIC}}*
- Iterations:       {{.Iterations}} ({{.Status}}, attempts {{.Attempts}})
{{- end}}
{{- range .Reports}}

** Backtest {{.Name}} ({{date .Start}} to {{date .End}})
| Level | Test | LR | df | p | Decision |
|-------+------+----+----+---+----------|
{{- range .Levels}}{{$lvl := label .Level}}{{range .Results}}
| {{$lvl}}% | {{.Test}} | {{stat .}} | {{.DF}} | {{pval .}} | {{.Decision}} |
{{- end}}{{end}}
{{- range .Levels}}
- VaR {{label .Level}}%: {{.Coverage.Exceptions}} exceptions in {{.Coverage.Observations}} ({{printf "%.2f" (mul100 .Coverage.ExceptionRate)}}%)
{{- end}}
{{- end}}
{{- with .Diagnostics}}

** Residual Diagnostics
| Test | Statistic | df | p |
|------+-----------+----+---|
{{- range .Tests}}
| {{.Name}} | {{printf "%.4f" .Statistic}} | {{.DF}} | {{printf "%.4f" .PValue}} |
{{- end}}
{{- end}}
{{- if .Windows}}

** Windows
| # | Train | Test | Status |
|---+-------+------+--------|
{{- range .Windows}}
| {{.Index}} | {{date .TrainFrom}} to {{date .TrainTo}} | [{{.TestStart}},{{.TestEnd}}) | {{if .OK}}ok{{else}}{{.Err}}{{end}} |
{{- end}}
{{- end}}
{{- with .Stability}}

** Stability ({{.Method}}, {{printf "%.2f" .Significance}})
{{- if .Break}}
- Break detected by *{{.BreakStat}}* at {{date .BreakDate}} (index {{.BreakIndex}})
{{- else}}
- No break detected
{{- end}}
{{- end}}

{{- if .Notes }}
** Notes
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}
`
