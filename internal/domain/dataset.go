package domain

// CanonicalDataset is the source-independent dataset record the harvester
// writes into the catalog.
type CanonicalDataset struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Title            string        `json:"title"`
	Notes            string        `json:"notes"`
	Author           string        `json:"author"`
	AuthorEmail      string        `json:"author_email"`
	Maintainer       string        `json:"maintainer"`
	MaintainerEmail  string        `json:"maintainer_email"`
	LicenseID        string        `json:"license_id"`
	LicenseTitle     string        `json:"license_title"`
	URL              string        `json:"url"`
	Version          string        `json:"version"`
	Type             string        `json:"type,omitempty"`
	Private          bool          `json:"private"`
	MetadataCreated  string        `json:"metadata_created,omitempty"`
	MetadataModified string        `json:"metadata_modified,omitempty"`
	OwnerOrg         string        `json:"owner_org,omitempty"`
	Organization     *Organization `json:"organization,omitempty"`
	OrgLink          string        `json:"org_link,omitempty"`
	Tags             []Tag         `json:"tags"`
	Groups           []Group       `json:"groups"`
	Resources        []Resource    `json:"resources"`
	Extras           Extras        `json:"extras"`
	ContentHash      string        `json:"content_hash,omitempty"`
}

// Resource is a downloadable artifact of a dataset.
type Resource struct {
	ID           string            `json:"id"`
	URL          string            `json:"url"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Format       string            `json:"format"`
	MimeType     string            `json:"mimetype,omitempty"`
	Created      string            `json:"created,omitempty"`
	LastModified string            `json:"last_modified,omitempty"`
	Extras       map[string]string `json:"extras,omitempty"`
}

// Tag is a free-text keyword attached to a dataset.
type Tag struct {
	Name string `json:"name"`
}

// Group is a thematic collection a dataset may belong to.
type Group struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
}

// Organization is the publisher of a dataset.
type Organization struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Extras      Extras `json:"extras,omitempty"`
}

// HasTag reports whether a tag with the given name is present.
func (d CanonicalDataset) HasTag(name string) bool {
	for _, tag := range d.Tags {
		if tag.Name == name {
			return true
		}
	}
	return false
}

// HasGroup reports whether a group matching the id or name is present.
func (d CanonicalDataset) HasGroup(ref string) bool {
	for _, group := range d.Groups {
		if group.ID == ref || group.Name == ref {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stages can mutate records independently.
func (d CanonicalDataset) Clone() CanonicalDataset {
	out := d
	out.Tags = append([]Tag(nil), d.Tags...)
	out.Groups = append([]Group(nil), d.Groups...)
	out.Extras = d.Extras.Clone()
	if d.Organization != nil {
		org := *d.Organization
		org.Extras = d.Organization.Extras.Clone()
		out.Organization = &org
	}
	out.Resources = make([]Resource, len(d.Resources))
	for i, res := range d.Resources {
		out.Resources[i] = res
		if res.Extras != nil {
			out.Resources[i].Extras = make(map[string]string, len(res.Extras))
			for k, v := range res.Extras {
				out.Resources[i].Extras[k] = v
			}
		}
	}
	return out
}
