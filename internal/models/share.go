package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// ShareReference is the credential pair sent with every share request.
type ShareReference struct {
	Token    string
	Password string
}

// Granularity is the top level unit a share exposes.
type Granularity string

const (
	GranularityStudy    Granularity = "study"
	GranularitySeries   Granularity = "series"
	GranularityInstance Granularity = "instance"
)

// UnmarshalJSON accepts the target type case-insensitively and rejects
// anything that is not a known granularity.
func (g *Granularity) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseGranularity(s)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case GranularityStudy, GranularitySeries, GranularityInstance:
		return g, nil
	default:
		return "", fmt.Errorf("unknown share type %q", s)
	}
}

type TargetRef struct {
	TargetID string `json:"targetId"`
}

// ShareDescriptor is what a share token resolves to.
type ShareDescriptor struct {
	Granularity Granularity `json:"targetType"`
	Targets     []TargetRef `json:"targets"`
}

// Filter narrows a share to specific series or instances. Empty sets do not
// filter anything.
type Filter struct {
	SeriesUIDs map[string]struct{}
	SOPUIDs    map[string]struct{}
}

// NewFilter builds a Filter from comma separated uid lists.
func NewFilter(seriesList, sopList string) Filter {
	return Filter{
		SeriesUIDs: SplitUIDs(seriesList),
		SOPUIDs:    SplitUIDs(sopList),
	}
}

func (f Filter) KeepSeries(uid string) bool {
	if len(f.SeriesUIDs) == 0 {
		return true
	}
	_, ok := f.SeriesUIDs[uid]
	return ok
}

func (f Filter) KeepSOP(uid string) bool {
	if len(f.SOPUIDs) == 0 {
		return true
	}
	_, ok := f.SOPUIDs[uid]
	return ok
}

// SplitUIDs turns "a, b,,c" into the set {a, b, c}.
func SplitUIDs(list string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, uid := range strings.Split(list, ",") {
		if uid = strings.TrimSpace(uid); uid != "" {
			set[uid] = struct{}{}
		}
	}
	return set
}

// Navigation is everything the loader reads from a viewer link.
type Navigation struct {
	BaseURL string
	Share   ShareReference
	Filter  Filter
}

// ParseShareURL reads a viewer link such as
// https://host/viewer?shareToken=abc&password=pw&SeriesInstanceUID=1.2,1.3
// The link's origin becomes the API base URL.
func ParseShareURL(raw string) (Navigation, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Navigation{}, fmt.Errorf("parsing share link: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Navigation{}, fmt.Errorf("share link %q is not absolute", raw)
	}

	q := u.Query()
	token := strings.TrimSpace(q.Get("shareToken"))
	if token == "" {
		return Navigation{}, fmt.Errorf("share link %q has no shareToken", raw)
	}

	return Navigation{
		BaseURL: u.Scheme + "://" + u.Host,
		Share: ShareReference{
			Token:    token,
			Password: q.Get("password"),
		},
		Filter: NewFilter(q.Get("SeriesInstanceUID"), q.Get("SOPInstanceUID")),
	}, nil
}
