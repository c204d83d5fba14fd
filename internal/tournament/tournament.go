package tournament

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Language is a recipient's preferred language
type Language string

const (
	English Language = "english"
	Arabic  Language = "arabic"
)

// ParseLanguage maps a short code ("en", "ar") to a Language.
// Unknown or empty codes map to def.
func ParseLanguage(code string, def Language) Language {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "ar", "arabic":
		return Arabic
	case "en", "english":
		return English
	}
	if def == "" {
		return English
	}
	return def
}

// Tournament is a tournament as reported by the upstream backend
type Tournament struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	DisciplineName      string `json:"discipline_name,omitempty"`
	FullName            string `json:"full_name,omitempty"`
	Timezone            string `json:"timezone,omitempty"`
	RegistrationEnabled bool   `json:"registration_enabled"`
	RegistrationOpening string `json:"registration_opening,omitempty"`
	RegistrationClosing string `json:"registration_closing,omitempty"`
}

type rawTournament struct {
	ID                  json.RawMessage `json:"tournament_ID"`
	Name                string          `json:"name"`
	DisciplineName      string          `json:"disciplineName"`
	FullName            json.RawMessage `json:"full_name"`
	Timezone            string          `json:"timezone"`
	RegistrationEnabled bool            `json:"registration_enabled"`
	RegistrationOpening json.RawMessage `json:"registration_opening_datetime"`
	RegistrationClosing json.RawMessage `json:"registration_closing_datetime"`
}

// UnmarshalJSON decodes the upstream wire shape. Fields with unexpected
// types are kept empty instead of failing the whole payload.
func (t *Tournament) UnmarshalJSON(data []byte) error {
	var raw rawTournament
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	t.ID = rawID(raw.ID)
	t.Name = raw.Name
	t.DisciplineName = raw.DisciplineName
	t.FullName, _ = rawString(raw.FullName)
	t.Timezone = raw.Timezone
	t.RegistrationEnabled = raw.RegistrationEnabled
	t.RegistrationOpening, _ = rawString(raw.RegistrationOpening)
	t.RegistrationClosing, _ = rawString(raw.RegistrationClosing)
	return nil
}

// ParseOutcome describes whether a start time could be determined
type ParseOutcome int

const (
	ParseOK ParseOutcome = iota
	ParseMissing
	ParseInvalid
)

func (o ParseOutcome) String() string {
	switch o {
	case ParseOK:
		return "ok"
	case ParseMissing:
		return "missing"
	default:
		return "invalid"
	}
}

// StartTime derives the start from the first comma-separated segment of
// full_name. It never fails; callers exclude records whose outcome is not ParseOK.
func (t Tournament) StartTime() (time.Time, ParseOutcome) {
	if t.FullName == "" {
		return time.Time{}, ParseMissing
	}
	segment := strings.TrimSpace(strings.SplitN(t.FullName, ",", 2)[0])
	if segment == "" {
		return time.Time{}, ParseMissing
	}
	ts, ok := ParseTime(segment)
	if !ok {
		return time.Time{}, ParseInvalid
	}
	return ts, ParseOK
}

// RegistrationWindow returns the parsed registration opening and closing.
// ok is false when either bound is absent or unparsable.
func (t Tournament) RegistrationWindow() (opens, closes time.Time, ok bool) {
	opens, ok1 := ParseTime(t.RegistrationOpening)
	closes, ok2 := ParseTime(t.RegistrationClosing)
	return opens, closes, ok1 && ok2
}

// Location returns the tournament's timezone, UTC when absent or unknown
func (t Tournament) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02T15:04:05Z07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime parses the ISO-8601 forms the backend emits.
// Values without an offset are read as UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Participant is a registrant of one tournament
type Participant struct {
	Email        string   `json:"email"`
	Name         string   `json:"name"`
	LanguageCode string   `json:"language_code,omitempty"`
	Language     Language `json:"language"`
}

// Recipient is a candidate for an announcement
type Recipient struct {
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Language Language `json:"language"`
	Active   bool     `json:"active"`
}

// person is the union of participant, registration and user wire shapes
type person struct {
	Email                string `json:"email"`
	EmailAddress         string `json:"emailAddress"`
	Name                 string `json:"name"`
	UserName             string `json:"userName"`
	FullName             string `json:"fullName"`
	CustomUserIdentifier string `json:"custom_user_identifier"`
	Language             string `json:"language"`
	IsActive             *bool  `json:"isActive"`
}

func (p person) email() string {
	if p.Email != "" {
		return strings.TrimSpace(p.Email)
	}
	return strings.TrimSpace(p.EmailAddress)
}

func (p person) name() string {
	switch {
	case p.Name != "":
		return p.Name
	case p.FullName != "":
		return p.FullName
	default:
		return p.UserName
	}
}

func (p person) languageCode() string {
	if p.CustomUserIdentifier != "" {
		return p.CustomUserIdentifier
	}
	return p.Language
}

func (p person) participant(def Language) Participant {
	code := p.languageCode()
	return Participant{
		Email:        p.email(),
		Name:         p.name(),
		LanguageCode: code,
		Language:     ParseLanguage(code, def),
	}
}

func (p person) recipient(def Language) Recipient {
	return Recipient{
		Email:    p.email(),
		Name:     p.name(),
		Language: ParseLanguage(p.languageCode(), def),
		Active:   p.IsActive == nil || *p.IsActive,
	}
}

func rawString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func rawID(raw json.RawMessage) string {
	if s, ok := rawString(raw); ok {
		return s
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	return string(raw)
}
