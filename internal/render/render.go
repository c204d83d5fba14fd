// Package render builds the email content for reminders, announcements and
// operator digests.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"path/filepath"
	"strings"
	textTemplate "text/template"
	"time"

	"github.com/tgcesports/notifier/internal/tournament"
)

//go:embed templates/*.html
var templatesFS embed.FS

// StartLayout is the start time format used in messages
const StartLayout = "Monday, January 2, 2006 at 3:04 PM"

// DateNotAvailable replaces a start time that cannot be parsed
const DateNotAvailable = "Date not available"

// Content is a rendered message
type Content struct {
	Subject string
	HTML    string
	Text    string
}

// DigestRecipient is one row of an operator digest
type DigestRecipient struct {
	Email string
	Name  string
}

type locale struct {
	code   string
	dir    string
	footer string
	titles map[string]string
	// subjects are text templates over subjectData
	subjects map[string]*textTemplate.Template
}

type subjectData struct {
	Tournament string
	Count      int
}

var locales = map[tournament.Language]locale{
	tournament.English: {
		code:   "en",
		dir:    "ltr",
		footer: "This is an automated message from The Game Company.",
		titles: map[string]string{
			"reminder":     "Tournament Reminder",
			"announcement": "A New Tournament Has Been Created!",
		},
		subjects: map[string]*textTemplate.Template{
			"reminder":            mustSubject("Tournament Reminder: {{.Tournament}}"),
			"announcement":        mustSubject("New Tournament Alert: {{.Tournament}}"),
			"reminder_digest":     mustSubject("Tournament Reminder: {{.Tournament}} ({{.Count}} participants)"),
			"announcement_digest": mustSubject("New Tournament Alert: {{.Tournament}} ({{.Count}} users)"),
		},
	},
	tournament.Arabic: {
		code:   "ar",
		dir:    "rtl",
		footer: "هذه رسالة تلقائية من شركة الألعاب.",
		titles: map[string]string{
			"reminder":     "تذكير بالبطولة",
			"announcement": "تم إنشاء بطولة جديدة!",
		},
		subjects: map[string]*textTemplate.Template{
			"reminder":     mustSubject("تذكير بالبطولة: {{.Tournament}}"),
			"announcement": mustSubject("بطولة جديدة: {{.Tournament}}"),
		},
	},
}

func mustSubject(s string) *textTemplate.Template {
	return textTemplate.Must(textTemplate.New("subject").Parse(s))
}

// Renderer renders the built-in templates
type Renderer struct {
	templates map[string]*template.Template
}

// New parses the embedded templates
func New() (*Renderer, error) {
	r := &Renderer{templates: make(map[string]*template.Template)}

	layout, err := template.ParseFS(templatesFS, "templates/layout.html")
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(templatesFS, "templates")
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == "layout.html" {
			continue
		}

		name := entry.Name()
		baseName := name[:len(name)-len(filepath.Ext(name))]

		tmpl, err := layout.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := tmpl.ParseFS(templatesFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		r.templates[baseName] = tmpl
	}

	return r, nil
}

type pageData struct {
	Lang         string
	Dir          string
	Title        string
	Footer       string
	Intro        string
	Name         string
	Tournament   string
	TournamentID string
	Discipline   string
	Start        string
	Opens        string
	Closes       string
	Recipients   []DigestRecipient
}

// Reminder renders a reminder for one participant in their language
func (r *Renderer) Reminder(t tournament.Tournament, name string, lang tournament.Language) (Content, error) {
	return r.render("reminder", lang, t, name)
}

// Announcement renders a registration announcement for one recipient
func (r *Renderer) Announcement(t tournament.Tournament, name string, lang tournament.Language) (Content, error) {
	return r.render("announcement", lang, t, name)
}

// ReminderDigest renders the operator message listing reminder recipients
func (r *Renderer) ReminderDigest(t tournament.Tournament, recipients []DigestRecipient) (Content, error) {
	return r.digest("reminder_digest", "The following participants are due a reminder:", t, recipients)
}

// AnnouncementDigest renders the operator message listing announcement recipients
func (r *Renderer) AnnouncementDigest(t tournament.Tournament, recipients []DigestRecipient) (Content, error) {
	return r.digest("announcement_digest", "A new tournament has been created!", t, recipients)
}

func (r *Renderer) render(kind string, lang tournament.Language, t tournament.Tournament, name string) (Content, error) {
	loc, ok := locales[lang]
	if !ok {
		loc = locales[tournament.English]
	}

	data := pageData{
		Lang:       loc.code,
		Dir:        loc.dir,
		Title:      loc.titles[kind],
		Footer:     loc.footer,
		Name:       name,
		Tournament: t.Name,
		Discipline: t.DisciplineName,
		Start:      FormatStart(t),
	}
	if _, closes, ok := t.RegistrationWindow(); ok {
		data.Closes = formatIn(closes, t)
	}

	return r.execute(kind+"."+loc.code, loc, kind, data, 0)
}

func (r *Renderer) digest(kind, intro string, t tournament.Tournament, recipients []DigestRecipient) (Content, error) {
	loc := locales[tournament.English]

	data := pageData{
		Lang:         loc.code,
		Dir:          loc.dir,
		Title:        "Operator digest: " + t.Name,
		Footer:       loc.footer,
		Intro:        intro,
		Tournament:   t.Name,
		TournamentID: t.ID,
		Start:        FormatStart(t),
		Recipients:   recipients,
	}
	if opens, closes, ok := t.RegistrationWindow(); ok {
		data.Opens = formatIn(opens, t)
		data.Closes = formatIn(closes, t)
	}

	return r.execute("digest.en", loc, kind, data, len(recipients))
}

func (r *Renderer) execute(page string, loc locale, kind string, data pageData, count int) (Content, error) {
	tmpl, ok := r.templates[page]
	if !ok {
		return Content{}, fmt.Errorf("template %s not found", page)
	}

	subjectTmpl, ok := loc.subjects[kind]
	if !ok {
		subjectTmpl = locales[tournament.English].subjects[kind]
	}

	var subject bytes.Buffer
	if err := subjectTmpl.Execute(&subject, subjectData{Tournament: data.Tournament, Count: count}); err != nil {
		return Content{}, fmt.Errorf("failed to render subject: %w", err)
	}

	var html bytes.Buffer
	if err := tmpl.ExecuteTemplate(&html, "layout.html", data); err != nil {
		return Content{}, fmt.Errorf("failed to render html: %w", err)
	}

	text, err := PlainText(html.String())
	if err != nil {
		return Content{}, fmt.Errorf("failed to render text: %w", err)
	}

	return Content{
		Subject: strings.TrimSpace(subject.String()),
		HTML:    html.String(),
		Text:    text,
	}, nil
}

// FormatStart formats the tournament start in its own timezone
func FormatStart(t tournament.Tournament) string {
	start, outcome := t.StartTime()
	if outcome != tournament.ParseOK {
		return DateNotAvailable
	}
	return formatIn(start, t)
}

func formatIn(ts time.Time, t tournament.Tournament) string {
	loc := t.Location()
	return ts.In(loc).Format(StartLayout) + " (" + loc.String() + ")"
}
