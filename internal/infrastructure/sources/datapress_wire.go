package sources

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type dpPackage struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Title            looseString     `json:"title"`
	Notes            looseString     `json:"notes"`
	Author           looseString     `json:"author"`
	AuthorEmail      looseString     `json:"author_email"`
	Maintainer       looseString     `json:"maintainer"`
	MaintainerEmail  looseString     `json:"maintainer_email"`
	LicenseID        looseString     `json:"license_id"`
	LicenseTitle     looseString     `json:"license_title"`
	URL              looseString     `json:"url"`
	Version          looseString     `json:"version"`
	Type             string          `json:"type"`
	State            string          `json:"state"`
	Private          looseBool       `json:"private"`
	MetadataCreated  looseString     `json:"metadata_created"`
	MetadataModified looseString     `json:"metadata_modified"`
	OwnerOrg         string          `json:"owner_org"`
	Organization     *dpOrganization `json:"organization"`
	Tags             dpTags          `json:"tags"`
	Groups           []dpGroup       `json:"groups"`
	Resources        dpResources     `json:"resources"`
	Extras           []dpExtra       `json:"extras"`
}

type dpOrganization struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Title       looseString `json:"title"`
	Description looseString `json:"description"`
	ImageURL    looseString `json:"image_url"`
	Resources   dpResources `json:"resources"`
}

type dpGroup struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title"`
}

type dpExtra struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type dpResource struct {
	ID           string      `json:"id"`
	URL          looseString `json:"url"`
	Name         looseString `json:"name"`
	Description  looseString `json:"description"`
	Format       looseString `json:"format"`
	MimeType     looseString `json:"mimetype"`
	Created      looseString `json:"created"`
	LastModified looseString `json:"last_modified"`

	// populated from the export endpoint
	TemporalCoverageFrom looseString `json:"temporal_coverage_from"`
	TemporalCoverageTo   looseString `json:"temporal_coverage_to"`
}

// dpResources accepts either a list of resources or an object keyed by
// resource id. Object key order is preserved. A scalar reads as no
// resources.
type dpResources []dpResource

func (r *dpResources) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = nil
		return nil
	}

	if data[0] == '[' {
		var list []dpResource
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*r = list
		return nil
	}

	if data[0] != '{' {
		*r = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	var out dpResources
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("resources: unexpected key %v", tok)
		}
		var res dpResource
		if err := dec.Decode(&res); err != nil {
			return fmt.Errorf("resource %s: %w", key, err)
		}
		if res.ID == "" {
			res.ID = key
		}
		out = append(out, res)
	}
	*r = out
	return nil
}

// dpTags accepts plain strings or {"name": ...} objects. Anything but a
// list reads as no tags.
type dpTags []string

func (t *dpTags) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*t = nil
		return nil
	}
	out := make(dpTags, 0, len(raw))
	for _, item := range raw {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			out = append(out, name)
			continue
		}
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return fmt.Errorf("tag: %w", err)
		}
		out = append(out, obj.Name)
	}
	*t = out
	return nil
}

// dpPackageList keeps records raw so that one malformed record cannot
// fail the whole list.
type dpPackageList struct {
	Success bool              `json:"success"`
	Result  []json.RawMessage `json:"result"`
	Error   any               `json:"error"`
}

type dpExportPackage struct {
	ID                      string      `json:"id"`
	LondonSmallestGeography any         `json:"london_smallest_geography"`
	UpdateFrequency         any         `json:"update_frequency"`
	Resources               dpResources `json:"resources"`
}

type dpWhoAmI struct {
	Readonly struct {
		LibraryJwt string `json:"libraryJwt"`
	} `json:"readonly"`
}

func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	}
}
