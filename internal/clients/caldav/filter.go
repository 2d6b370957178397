package caldav

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/emersion/go-webdav/caldav"
)

// NamespaceCalDAV is the XML namespace of calendar-query filters (RFC 4791)
const NamespaceCalDAV = "urn:ietf:params:xml:ns:caldav"

// TimeFormat is the UTC timestamp layout used in time-range attributes.
const TimeFormat = "20060102T150405"

// Filter element names
const (
	ElemCompFilter   = "comp-filter"
	ElemPropFilter   = "prop-filter"
	ElemTimeRange    = "time-range"
	ElemIsNotDefined = "is-not-defined"
)

// Filter is one element of a calendar-query filter expression.
type Filter struct {
	Name     xml.Name
	Attrs    []xml.Attr
	Children []*Filter
}

func element(local string, attrs []xml.Attr, children ...*Filter) *Filter {
	return &Filter{
		Name:     xml.Name{Space: NamespaceCalDAV, Local: local},
		Attrs:    attrs,
		Children: children,
	}
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

// CompFilterOf selects components named name.
func CompFilterOf(name string, children ...*Filter) *Filter {
	return element(ElemCompFilter, []xml.Attr{attr("name", name)}, children...)
}

// PropFilterOf selects components by property name.
func PropFilterOf(name string, children ...*Filter) *Filter {
	return element(ElemPropFilter, []xml.Attr{attr("name", name)}, children...)
}

// TimeRange bounds a property or component. Zero times are left open.
func TimeRange(start, end time.Time) *Filter {
	var attrs []xml.Attr
	if !start.IsZero() {
		attrs = append(attrs, attr("start", FormatTime(start)))
	}
	if !end.IsZero() {
		attrs = append(attrs, attr("end", FormatTime(end)))
	}
	return element(ElemTimeRange, attrs)
}

// IsNotDefined matches when the enclosing property is absent.
func IsNotDefined() *Filter {
	return element(ElemIsNotDefined, nil)
}

// FormatTime formats t in UTC without separators.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// FormatStamp formats t as an iCalendar UTC date-time property value.
func FormatStamp(t time.Time) string {
	return FormatTime(t) + "Z"
}

// PendingFilter selects todos that are not completed and are due within
// dueWindowDays of now.
func PendingFilter(dueWindowDays int, now time.Time) *Filter {
	limit := now.AddDate(0, 0, dueWindowDays)
	return CompFilterOf("VCALENDAR",
		CompFilterOf("VTODO",
			PropFilterOf("COMPLETED", IsNotDefined()),
			PropFilterOf("DUE", TimeRange(time.Time{}, limit)),
		),
	)
}

// RecentlyCompletedFilter selects todos completed during the last day.
// It is sent as its own query; callers concatenate the results.
func RecentlyCompletedFilter(now time.Time) *Filter {
	return CompFilterOf("VCALENDAR",
		CompFilterOf("VTODO",
			PropFilterOf("COMPLETED", TimeRange(now.AddDate(0, 0, -1), time.Time{})),
		),
	)
}

// Attr returns the value of the attribute with the given local name.
func (f *Filter) Attr(local string) string {
	for _, a := range f.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// Child returns the first child element with the given local name whose
// name attribute equals name. An empty name matches any.
func (f *Filter) Child(local, name string) *Filter {
	for _, c := range f.Children {
		if c.Name.Local != local {
			continue
		}
		if name == "" || c.Attr("name") == name {
			return c
		}
	}
	return nil
}

// CompFilter converts the expression into the go-webdav query filter.
// The root must be a comp-filter.
func (f *Filter) CompFilter() (caldav.CompFilter, error) {
	if f == nil || f.Name.Local != ElemCompFilter {
		return caldav.CompFilter{}, fmt.Errorf("filter root must be %s", ElemCompFilter)
	}

	cf := caldav.CompFilter{Name: f.Attr("name")}
	for _, c := range f.Children {
		switch c.Name.Local {
		case ElemCompFilter:
			sub, err := c.CompFilter()
			if err != nil {
				return caldav.CompFilter{}, err
			}
			cf.Comps = append(cf.Comps, sub)
		case ElemPropFilter:
			pf, err := c.propFilter()
			if err != nil {
				return caldav.CompFilter{}, err
			}
			cf.Props = append(cf.Props, pf)
		case ElemTimeRange:
			start, end, err := c.timeRange()
			if err != nil {
				return caldav.CompFilter{}, err
			}
			cf.Start, cf.End = start, end
		case ElemIsNotDefined:
			cf.IsNotDefined = true
		default:
			return caldav.CompFilter{}, fmt.Errorf("unsupported element %s in %s", c.Name.Local, ElemCompFilter)
		}
	}
	return cf, nil
}

func (f *Filter) propFilter() (caldav.PropFilter, error) {
	pf := caldav.PropFilter{Name: f.Attr("name")}
	for _, c := range f.Children {
		switch c.Name.Local {
		case ElemTimeRange:
			start, end, err := c.timeRange()
			if err != nil {
				return caldav.PropFilter{}, err
			}
			pf.Start, pf.End = start, end
		case ElemIsNotDefined:
			pf.IsNotDefined = true
		default:
			return caldav.PropFilter{}, fmt.Errorf("unsupported element %s in %s", c.Name.Local, ElemPropFilter)
		}
	}
	return pf, nil
}

func (f *Filter) timeRange() (start, end time.Time, err error) {
	if v := f.Attr("start"); v != "" {
		if start, err = parseTime(v); err != nil {
			return
		}
	}
	if v := f.Attr("end"); v != "" {
		end, err = parseTime(v)
	}
	return
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, v)
	if err != nil {
		t, err = time.Parse(TimeFormat+"Z", v)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time-range %q: %w", v, err)
	}
	return t, nil
}
