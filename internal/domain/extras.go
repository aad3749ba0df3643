package domain

// Extra is a single free-form key/value attribute.
type Extra struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Extras is an ordered attribute list with unique keys.
type Extras []Extra

// Get returns the value stored under key.
func (e Extras) Get(key string) (string, bool) {
	for _, extra := range e {
		if extra.Key == key {
			return extra.Value, true
		}
	}
	return "", false
}

// Has reports whether key is present.
func (e Extras) Has(key string) bool {
	_, ok := e.Get(key)
	return ok
}

// Upsert replaces the value of an existing key in place or appends a new one.
func (e Extras) Upsert(key, value string) Extras {
	for i := range e {
		if e[i].Key == key {
			e[i].Value = value
			return e
		}
	}
	return append(e, Extra{Key: key, Value: value})
}

// SetDefault appends key only when it is absent.
func (e Extras) SetDefault(key, value string) Extras {
	if e.Has(key) {
		return e
	}
	return append(e, Extra{Key: key, Value: value})
}

// Remove drops key when present.
func (e Extras) Remove(key string) Extras {
	out := make(Extras, 0, len(e))
	for _, extra := range e {
		if extra.Key != key {
			out = append(out, extra)
		}
	}
	return out
}

// Dedupe collapses repeated keys keeping the last value at the first position.
func (e Extras) Dedupe() Extras {
	var out Extras
	for _, extra := range e {
		out = out.Upsert(extra.Key, extra.Value)
	}
	return out
}

// Clone returns an independent copy.
func (e Extras) Clone() Extras {
	if e == nil {
		return nil
	}
	return append(Extras(nil), e...)
}

// Map flattens the list into a map.
func (e Extras) Map() map[string]string {
	out := make(map[string]string, len(e))
	for _, extra := range e {
		out[extra.Key] = extra.Value
	}
	return out
}

// Well-known extras written by the harvester.
const (
	ExtraUpstreamURL              = "upstream_url"
	ExtraUpstreamMetadataCreated  = "upstream_metadata_created"
	ExtraUpstreamMetadataModified = "upstream_metadata_modified"
	ExtraContentHash              = "content_hash"
	ExtraHarvestObjectID          = "harvest_object_id"
	ExtraHarvestSourceID          = "harvest_source_id"
	ExtraHarvestSourceTitle       = "harvest_source_title"
	ExtraHarvestSourceFrequency   = "harvest_source_frequency"
	ExtraHarvestURL               = "harvest_url"
	ExtraDataQuality              = "data_quality"
	ExtraDatasetBoost             = "dataset_boost"
	ExtraWebsite                  = "Website"
)
