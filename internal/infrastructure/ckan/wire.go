package ckan

import (
	"encoding/json"
	"fmt"

	"CatalogHarvester/internal/domain"
)

type wireExtra struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type wireOrganization struct {
	ID          string      `json:"id,omitempty"`
	Name        string      `json:"name"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	ImageURL    string      `json:"image_url,omitempty"`
	Extras      []wireExtra `json:"extras,omitempty"`
}

func (o wireOrganization) toDomain() domain.Organization {
	return domain.Organization{
		ID:          o.ID,
		Name:        o.Name,
		Title:       o.Title,
		Description: o.Description,
		ImageURL:    o.ImageURL,
		Extras:      extrasToDomain(o.Extras),
	}
}

func organizationPayload(org domain.Organization) wireOrganization {
	return wireOrganization{
		ID:          org.ID,
		Name:        org.Name,
		Title:       org.Title,
		Description: org.Description,
		ImageURL:    org.ImageURL,
		Extras:      extrasFromDomain(org.Extras),
	}
}

type wireGroup struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
}

type wireTag struct {
	Name string `json:"name"`
}

// wirePackage is the package dict of the action API. The string fields
// listed without omitempty are always sent, empty or not.
type wirePackage struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Title            string            `json:"title"`
	Notes            string            `json:"notes"`
	Author           string            `json:"author"`
	AuthorEmail      string            `json:"author_email"`
	Maintainer       string            `json:"maintainer"`
	MaintainerEmail  string            `json:"maintainer_email"`
	LicenseID        string            `json:"license_id"`
	LicenseTitle     string            `json:"license_title"`
	URL              string            `json:"url"`
	Version          string            `json:"version"`
	Type             string            `json:"type,omitempty"`
	Private          bool              `json:"private"`
	OwnerOrg         string            `json:"owner_org,omitempty"`
	MetadataCreated  string            `json:"metadata_created,omitempty"`
	MetadataModified string            `json:"metadata_modified,omitempty"`
	Organization     *wireOrganization `json:"organization,omitempty"`
	Tags             []wireTag         `json:"tags"`
	Groups           []wireGroup       `json:"groups"`
	Resources        []wireResource    `json:"resources"`
	Extras           []wireExtra       `json:"extras"`
}

func fromDomain(ds domain.CanonicalDataset) wirePackage {
	pkg := wirePackage{
		ID:              ds.ID,
		Name:            ds.Name,
		Title:           ds.Title,
		Notes:           ds.Notes,
		Author:          ds.Author,
		AuthorEmail:     ds.AuthorEmail,
		Maintainer:      ds.Maintainer,
		MaintainerEmail: ds.MaintainerEmail,
		LicenseID:       ds.LicenseID,
		LicenseTitle:    ds.LicenseTitle,
		URL:             ds.URL,
		Version:         ds.Version,
		Type:            ds.Type,
		Private:         ds.Private,
		OwnerOrg:        ds.OwnerOrg,
		Tags:            make([]wireTag, 0, len(ds.Tags)),
		Groups:          make([]wireGroup, 0, len(ds.Groups)),
		Resources:       make([]wireResource, 0, len(ds.Resources)),
		Extras:          extrasFromDomain(ds.Extras),
	}
	if pkg.Extras == nil {
		pkg.Extras = []wireExtra{}
	}
	for _, t := range ds.Tags {
		pkg.Tags = append(pkg.Tags, wireTag{Name: t.Name})
	}
	for _, g := range ds.Groups {
		pkg.Groups = append(pkg.Groups, wireGroup{ID: g.ID, Name: g.Name})
	}
	for _, r := range ds.Resources {
		pkg.Resources = append(pkg.Resources, wireResource{Resource: r})
	}
	return pkg
}

func (p wirePackage) toDomain() domain.CanonicalDataset {
	ds := domain.CanonicalDataset{
		ID:               p.ID,
		Name:             p.Name,
		Title:            p.Title,
		Notes:            p.Notes,
		Author:           p.Author,
		AuthorEmail:      p.AuthorEmail,
		Maintainer:       p.Maintainer,
		MaintainerEmail:  p.MaintainerEmail,
		LicenseID:        p.LicenseID,
		LicenseTitle:     p.LicenseTitle,
		URL:              p.URL,
		Version:          p.Version,
		Type:             p.Type,
		Private:          p.Private,
		OwnerOrg:         p.OwnerOrg,
		MetadataCreated:  p.MetadataCreated,
		MetadataModified: p.MetadataModified,
		Extras:           extrasToDomain(p.Extras),
	}
	if p.Organization != nil {
		org := p.Organization.toDomain()
		ds.Organization = &org
	}
	for _, t := range p.Tags {
		ds.Tags = append(ds.Tags, domain.Tag{Name: t.Name})
	}
	for _, g := range p.Groups {
		ds.Groups = append(ds.Groups, domain.Group{ID: g.ID, Name: g.Name, Title: g.Title})
	}
	for _, r := range p.Resources {
		ds.Resources = append(ds.Resources, r.Resource)
	}
	ds.ContentHash, _ = ds.Extras.Get(domain.ExtraContentHash)
	return ds
}

// internalResourceKeys are maintained by the catalog and never surface as
// resource extras.
var internalResourceKeys = map[string]struct{}{
	"package_id": {}, "position": {}, "state": {}, "url_type": {}, "revision_id": {},
	"hash": {}, "size": {}, "cache_url": {}, "cache_last_updated": {}, "datastore_active": {},
	"metadata_modified": {}, "mimetype_inner": {}, "resource_type": {}, "tracking_summary": {},
}

// wireResource flattens Resource.Extras into top-level keys, the way the
// catalog stores arbitrary resource fields.
type wireResource struct {
	domain.Resource
}

var resourceFields = []string{"id", "url", "name", "description", "format", "mimetype", "created", "last_modified"}

func (r wireResource) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extras)+len(resourceFields))
	for k, v := range r.Extras {
		out[k] = v
	}
	set := func(key, value string, always bool) {
		if value != "" || always {
			out[key] = value
		}
	}
	set("id", r.ID, false)
	set("url", r.URL, true)
	set("name", r.Name, true)
	set("description", r.Description, false)
	set("format", r.Format, true)
	set("mimetype", r.MimeType, false)
	set("created", r.Created, false)
	set("last_modified", r.LastModified, false)
	return json.Marshal(out)
}

func (r *wireResource) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	str := func(key string) string {
		s, _ := raw[key].(string)
		return s
	}
	r.Resource = domain.Resource{
		ID:           str("id"),
		URL:          str("url"),
		Name:         str("name"),
		Description:  str("description"),
		Format:       str("format"),
		MimeType:     str("mimetype"),
		Created:      str("created"),
		LastModified: str("last_modified"),
	}
	for _, key := range resourceFields {
		delete(raw, key)
	}
	for key, value := range raw {
		if _, internal := internalResourceKeys[key]; internal {
			continue
		}
		s, ok := value.(string)
		if !ok || s == "" {
			continue
		}
		if r.Extras == nil {
			r.Extras = map[string]string{}
		}
		r.Extras[key] = s
	}
	return nil
}

func extrasFromDomain(extras domain.Extras) []wireExtra {
	if len(extras) == 0 {
		return nil
	}
	out := make([]wireExtra, 0, len(extras))
	for _, e := range extras {
		out = append(out, wireExtra{Key: e.Key, Value: e.Value})
	}
	return out
}

func extrasToDomain(extras []wireExtra) domain.Extras {
	var out domain.Extras
	for _, e := range extras {
		var value string
		switch v := e.Value.(type) {
		case nil:
		case string:
			value = v
		default:
			value = fmt.Sprint(v)
		}
		out = out.Upsert(e.Key, value)
	}
	return out
}
