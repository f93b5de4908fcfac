package server

import "html/template"

var pageTemplates = template.Must(template.New("layout").Parse(`
{{define "head"}}<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.}}</title></head>
<body>{{end}}

{{define "foot"}}</body>
</html>{{end}}

{{define "special"}}{{template "head" "Time machine"}}
<h1>Time machine</h1>
{{if .Notice}}<p class="notice">{{.Notice}}</p>{{end}}
{{if .Warnings}}<div class="warning">
<p>Some quick-pick dates could not be read:</p>
<ul>{{range .Warnings}}<li>{{.}}</li>{{end}}</ul>
</div>{{end}}
{{if .Current}}<p>You are currently viewing the wiki as it was on <strong>{{.Current}}</strong>.</p>
{{else}}<p>You are viewing the wiki as it is today.</p>{{end}}
<form method="post" action="/Special:TimeMachine">
<label for="date">Date (YYYY-MM-DD)</label>
<input type="date" id="date" name="date" value="{{.Current}}">
<input type="hidden" name="redirect" value="{{.Redirect}}">
<button type="submit">Travel</button>
</form>
{{if .Presets}}<form method="post" action="/Special:TimeMachine">
<select name="date">
{{range .Presets}}<option value="{{.Value}}">{{.Label}}</option>
{{end}}</select>
<input type="hidden" name="redirect" value="{{.Redirect}}">
<button type="submit">Quick pick</button>
</form>{{end}}
<p>Submit an empty date to return to the present.</p>
{{template "foot"}}{{end}}

{{define "article"}}{{template "head" .Title}}
{{if .Banner}}<div class="timemachine-banner"><p>{{.Banner.Text}}</p>
{{if .ServedByMove}}<p>The page then titled {{.Title}} has since been moved to {{.Display}}.</p>{{end}}
<p><a href="{{.Banner.Link}}">Link to this view</a></p>
<p><a href="/Special:TimeMachine">Change date</a></p></div>{{end}}
<h1>{{.Title}}</h1>
{{if .Placeholder}}<p class="missing">{{.Placeholder.Notice}}</p>
{{else if .RevisionID}}<p>Revision {{.RevisionID}} of {{.Display}}.</p>
{{else}}<p>Current revision of {{.Display}}.</p>{{end}}
{{if .Refused}}<p class="error">This action is not available: {{.Refused}}</p>{{end}}
{{template "foot"}}{{end}}
`))
