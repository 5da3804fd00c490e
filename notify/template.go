package notify

import "text/template"

// DefaultFailureTemplate returns template used for failed DAG run reports.
func DefaultFailureTemplate() *template.Template {
	body := `
Task [{{if .TaskId}}{{.TaskId}}{{end}}] in DAG [{{.DagId}}] (run {{.RunId}}) at {{.ExecTs}} has failed.
{{- if .TaskRunError}}
Error:
	{{.TaskRunError.Error}}
{{end}}
`
	return template.Must(template.New("default").Parse(body))
}
