package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// CompletionData fills the completion email.
type CompletionData struct {
	JobID           string
	StartTime       time.Time
	EndTime         time.Time
	DurationSeconds float64
	DownloadURL     string
	FileType        string
	LinkTTL         time.Duration
}

// ExpiryDays is the link lifetime rounded down to whole days, at least 1.
func (d CompletionData) ExpiryDays() int {
	return max(int(d.LinkTTL/(24*time.Hour)), 1)
}

// FailureData fills the administrator failure email.
type FailureData struct {
	JobID   string
	Handler string
	Error   string
	Time    time.Time
}

var funcs = template.FuncMap{
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02 15:04:05 UTC")
	},
	"seconds": func(f float64) string { return fmt.Sprintf("%.2f", f) },
}

var completionTmpl = template.Must(template.New("completion").Funcs(funcs).Parse(`<html>
<body>
<h2>Gene analysis complete</h2>
<p>Your sequencing job <strong>{{.JobID}}</strong> finished successfully.</p>
<table>
<tr><td>Started</td><td>{{stamp .StartTime}}</td></tr>
<tr><td>Finished</td><td>{{stamp .EndTime}}</td></tr>
<tr><td>Duration</td><td>{{seconds .DurationSeconds}} seconds</td></tr>
</table>
<p><a href="{{.DownloadURL}}">Download results ({{.FileType}})</a></p>
<p>This link expires in {{.ExpiryDays}} days.</p>
</body>
</html>
`))

var failureTmpl = template.Must(template.New("failure").Funcs(funcs).Parse(`<html>
<body>
<h2>Gene analysis failure</h2>
<p>Job: <strong>{{if .JobID}}{{.JobID}}{{else}}unknown{{end}}</strong></p>
<p>Handler: {{.Handler}}</p>
<p>Time: {{stamp .Time}}</p>
<pre>{{.Error}}</pre>
</body>
</html>
`))

// CompletionMessage renders the email sent to the requester.
func CompletionMessage(from, to string, d CompletionData) (Message, error) {
	var b bytes.Buffer
	if err := completionTmpl.Execute(&b, d); err != nil {
		return Message{}, fmt.Errorf("render completion email: %w", err)
	}
	return Message{
		From:    from,
		To:      []string{to},
		Subject: "Gene analysis results - job " + d.JobID,
		HTML:    b.String(),
	}, nil
}

// FailureMessage renders the email sent to the administrator.
func FailureMessage(from, admin string, d FailureData) (Message, error) {
	var b bytes.Buffer
	if err := failureTmpl.Execute(&b, d); err != nil {
		return Message{}, fmt.Errorf("render failure email: %w", err)
	}
	subject := "Gene analysis failure"
	if d.JobID != "" {
		subject += " - job " + d.JobID
	}
	return Message{
		From:    from,
		To:      []string{admin},
		Subject: subject,
		HTML:    b.String(),
	}, nil
}

// FileType derives the display type from a result key suffix.
func FileType(key string) string {
	k := strings.TrimSuffix(strings.ToLower(key), ".gz")
	switch {
	case strings.HasSuffix(k, ".xls"):
		return "XLS"
	case strings.HasSuffix(k, ".csv"):
		return "CSV"
	}
	return "file"
}
