package caldav

// Calendar is a calendar collection found on the server
type Calendar struct {
	DisplayName string
	URL         string // Collection path, relative to the server root
	Components  []string
}

// SupportsTodos reports whether the collection accepts VTODO objects.
// Servers that omit the component set accept everything.
func (c Calendar) SupportsTodos() bool {
	if len(c.Components) == 0 {
		return true
	}
	for _, comp := range c.Components {
		if comp == "VTODO" {
			return true
		}
	}
	return false
}

// Object is a calendar object as returned by a calendar-query
type Object struct {
	Calendar string // Collection the object was fetched from
	Location string // Object path
	ETag     string // Unquoted entity tag
	Data     string // iCalendar text
}
