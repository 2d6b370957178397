package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Calendar is a todo list selected for fetching
type Calendar struct {
	DisplayName string `toml:"display_name"`
	URL         string `toml:"url,omitempty"`
}

type Credentials struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type Account struct {
	ServerURL   string      `toml:"server_url"`
	Credentials Credentials `toml:"credentials"`
}

// Complete reports whether the account can be used to connect
func (a Account) Complete() bool {
	return a.ServerURL != "" && a.Credentials.Username != "" && a.Credentials.Password != ""
}

// Settings is the persisted state of the todo list view
type Settings struct {
	Show             int        `toml:"show"`             // Items shown before "more"
	RefreshInterval  int        `toml:"refresh_interval"` // Minutes
	DueTimeRange     int        `toml:"due_time_range"`   // Days ahead
	IncludeCompleted bool       `toml:"include_completed"`
	Account          Account    `toml:"account"`
	Calendars        []Calendar `toml:"calendars"`
}

// DefaultSettings returns the settings used before anything is configured
func DefaultSettings() Settings {
	return Settings{
		Show:            3,
		RefreshInterval: 5,
		DueTimeRange:    3,
	}
}

// Interval returns the refresh interval as a duration
func (s Settings) Interval() time.Duration {
	return time.Duration(s.RefreshInterval) * time.Minute
}

// Ready reports whether there is anything to fetch
func (s Settings) Ready() bool {
	return s.Account.Complete() && len(s.Calendars) > 0
}

// Selection fingerprints the inputs that invalidate a cached snapshot
func (s Settings) Selection() string {
	names := make([]string, 0, len(s.Calendars))
	for _, c := range s.Calendars {
		names = append(names, c.DisplayName+"\x00"+c.URL)
	}
	sort.Strings(names)

	h := sha256.New()
	fmt.Fprintf(h, "%s\x01%s\x01%s\x01%d\x01%t\x01%s",
		s.Account.ServerURL,
		s.Account.Credentials.Username,
		s.Account.Credentials.Password,
		s.DueTimeRange,
		s.IncludeCompleted,
		strings.Join(names, "\x01"),
	)
	return hex.EncodeToString(h.Sum(nil))
}
