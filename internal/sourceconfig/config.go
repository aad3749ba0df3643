// Package sourceconfig parses and validates the JSON configuration object
// attached to each harvest source.
package sourceconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"CatalogHarvester/internal/domain"
)

// Remote entity policies for remote_orgs and remote_groups.
const (
	RemoteOnlyLocal = "only_local"
	RemoteCreate    = "create"
)

// Config is the per-source harvest configuration.
type Config struct {
	APIVersion                 *int           `json:"api_version"`
	DefaultTags                []domain.Tag   `json:"default_tags" validate:"dive"`
	DefaultGroups              []string       `json:"default_groups" validate:"dive,required"`
	DefaultExtras              map[string]any `json:"default_extras"`
	RemoteGroups               string         `json:"remote_groups" validate:"omitempty,oneof=only_local create"`
	RemoteOrgs                 string         `json:"remote_orgs" validate:"omitempty,oneof=only_local create"`
	OrganizationsFilterInclude []string       `json:"organizations_filter_include" validate:"excluded_with=OrganizationsFilterExclude"`
	OrganizationsFilterExclude []string       `json:"organizations_filter_exclude"`
	GroupsFilterInclude        []string       `json:"groups_filter_include" validate:"excluded_with=GroupsFilterExclude"`
	GroupsFilterExclude        []string       `json:"groups_filter_exclude"`
	User                       string         `json:"user"`
	ReadOnly                   bool           `json:"read_only"`
	DataPressAPIKey            string         `json:"datapress_api_key"`
	AppToken                   string         `json:"app_token"`
	HarvestPrivateDatasets     bool           `json:"harvest_private_datasets"`
	OverrideExtras             bool           `json:"override_extras"`
	Boroughs                   []string       `json:"boroughs"`
}

var fieldTypes = map[string]string{
	"api_version":                  "an integer",
	"default_tags":                 "a list of tag objects",
	"default_groups":               "a list of group names or ids",
	"default_extras":               "an object",
	"remote_groups":                "a string",
	"remote_orgs":                  "a string",
	"organizations_filter_include": "a list of strings",
	"organizations_filter_exclude": "a list of strings",
	"groups_filter_include":        "a list of strings",
	"groups_filter_exclude":        "a list of strings",
	"user":                         "a string",
	"read_only":                    "a boolean",
	"datapress_api_key":            "a string",
	"app_token":                    "a string",
	"harvest_private_datasets":     "a boolean",
	"override_extras":              "a boolean",
	"boroughs":                     "a list of strings",
}

var validate = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
})

// Parse decodes raw and checks types, enums and exclusive filters. An empty
// string yields the zero configuration.
func Parse(raw string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(raw) == "" {
		return cfg, nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, decodeError(err)
	}

	if err := validate().Struct(cfg); err != nil {
		return Config{}, translate(err)
	}
	return cfg, nil
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field, _, _ := strings.Cut(typeErr.Field, ".")
		if want, ok := fieldTypes[field]; ok {
			return domain.ConfigErrors{{Field: field, Message: "must be " + want}}
		}
		return domain.ConfigErrors{{Field: field, Message: err.Error()}}
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return domain.ConfigErrors{{Message: fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)}}
	}
	return domain.ConfigErrors{{Message: err.Error()}}
}

func translate(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.ConfigErrors{{Message: err.Error()}}
	}

	out := make(domain.ConfigErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Field()
		var msg string
		switch fe.Tag() {
		case "oneof":
			msg = "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
		case "excluded_with":
			msg = "cannot be combined with " + jsonName(fe.Param())
		case "required":
			msg = "must not contain empty values"
		default:
			msg = fmt.Sprintf("failed %s validation", fe.Tag())
		}
		out = append(out, &domain.ConfigError{Field: field, Message: msg})
	}
	return out
}

func jsonName(structField string) string {
	if f, ok := reflect.TypeOf(Config{}).FieldByName(structField); ok {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	}
	return structField
}

// Lookup is the catalog surface used for existence checks.
type Lookup interface {
	ShowGroup(ctx context.Context, ref string) (domain.Group, error)
	ShowUser(ctx context.Context, ref string) error
}

// Resolve checks that referenced groups and the user exist and returns the
// resolved default groups.
func (c Config) Resolve(ctx context.Context, lookup Lookup) ([]domain.Group, error) {
	var errs domain.ConfigErrors
	groups := make([]domain.Group, 0, len(c.DefaultGroups))

	for _, ref := range c.DefaultGroups {
		if lookup == nil {
			groups = append(groups, domain.Group{Name: ref})
			continue
		}
		group, err := lookup.ShowGroup(ctx, ref)
		if err != nil {
			if domain.IsNotFound(err) {
				errs = append(errs, &domain.ConfigError{Field: "default_groups", Message: fmt.Sprintf("group %s not found", ref)})
				continue
			}
			return nil, fmt.Errorf("lookup group %s: %w", ref, err)
		}
		groups = append(groups, group)
	}

	if c.User != "" && lookup != nil {
		if err := lookup.ShowUser(ctx, c.User); err != nil {
			if !domain.IsNotFound(err) {
				return nil, fmt.Errorf("lookup user %s: %w", c.User, err)
			}
			errs = append(errs, &domain.ConfigError{Field: "user", Message: fmt.Sprintf("user %s not found", c.User)})
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return groups, nil
}

// DefaultExtraValues renders default_extras as strings in key order.
// Numbers keep their JSON spelling; nested values are re-encoded as JSON.
func (c Config) DefaultExtraValues() domain.Extras {
	keys := make([]string, 0, len(c.DefaultExtras))
	for k := range c.DefaultExtras {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(domain.Extras, 0, len(keys))
	for _, k := range keys {
		out = out.Upsert(k, stringify(c.DefaultExtras[k]))
	}
	return out
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return fmt.Sprint(val)
		}
		return strings.TrimSpace(buf.String())
	}
}

// APIPath returns the action API prefix honoring api_version.
func (c Config) APIPath() string {
	if c.APIVersion == nil {
		return "/api/action/"
	}
	return fmt.Sprintf("/api/%d/action/", *c.APIVersion)
}
