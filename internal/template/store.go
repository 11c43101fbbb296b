package template

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

// Store looks up descriptors. Version 0 means the highest version. A missing
// descriptor is reported as common.ErrNotFound.
type Store interface {
	Get(ctx context.Context, orgID, templateID string, version int) (*entity.TemplateDescriptor, error)
}

var validColumnKeys = map[string]bool{
	"label": true, "length": true, "width": true, "thickness": true,
	"quantity": true, "material": true, "operations": true, "notes": true,
}

// FileStore serves descriptors loaded from a YAML file.
type FileStore struct {
	byKey map[string][]entity.TemplateDescriptor // org|id -> versions ascending
}

type fileDoc struct {
	Templates []entity.TemplateDescriptor `yaml:"templates"`
}

// LoadFile parses and validates a template YAML file.
func LoadFile(path string) (*FileStore, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	return ParseYAML(b)
}

// ParseYAML parses and validates template YAML.
func ParseYAML(b []byte) (*FileStore, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, common.NewAppError(common.CodeValidation, "templates yaml", err)
	}
	if err := Validate(doc.Templates); err != nil {
		return nil, err
	}
	s := &FileStore{byKey: map[string][]entity.TemplateDescriptor{}}
	for _, d := range doc.Templates {
		if ref, ok := FindMarker(d.ID); ok {
			d.ID = ref.ID
		}
		k := storeKey(d.OrgID, d.ID)
		s.byKey[k] = append(s.byKey[k], d)
	}
	for k := range s.byKey {
		v := s.byKey[k]
		sort.Slice(v, func(i, j int) bool { return v[i].Version < v[j].Version })
	}
	return s, nil
}

// Validate checks ids, versions, column keys and duplicates.
func Validate(ds []entity.TemplateDescriptor) error {
	v := common.NewValidator()
	seen := map[string]bool{}
	for i, d := range ds {
		at := fmt.Sprintf("templates[%d]", i)
		v.Field(at+".id", d.ID, common.Required)
		v.Field(at+".org_id", d.OrgID, common.Required, common.Identifier)
		if _, ok := FindMarker(d.ID); d.ID != "" && !ok {
			v.Field(at+".id", d.ID, common.Fail("must look like TPL-XXXX"))
		}
		v.Field(at+".version", d.Version, common.Positive)
		if len(d.Columns) == 0 {
			v.Field(at+".columns", len(d.Columns), common.Fail("at least one column is required"))
		}
		for j, c := range d.Columns {
			if !validColumnKeys[c.Key] {
				v.Field(fmt.Sprintf("%s.columns[%d].key", at, j), c.Key, common.Fail("unknown column key"))
			}
		}
		for j, sc := range d.Shortcodes {
			v.Field(fmt.Sprintf("%s.shortcodes[%d].code", at, j), sc.Code, common.Required)
		}
		k := fmt.Sprintf("%s|%s|%d", d.OrgID, strings.ToUpper(d.ID), d.Version)
		if seen[k] {
			v.Field(at, k, common.Fail("duplicate template version"))
		}
		seen[k] = true
	}
	return common.ValidateAndReturnError(v)
}

func (s *FileStore) Get(_ context.Context, orgID, templateID string, version int) (*entity.TemplateDescriptor, error) {
	versions := s.byKey[storeKey(orgID, strings.ToUpper(templateID))]
	if len(versions) == 0 {
		return nil, common.ErrNotFound
	}
	if version <= 0 {
		d := versions[len(versions)-1]
		return &d, nil
	}
	for _, d := range versions {
		if d.Version == version {
			return &d, nil
		}
	}
	return nil, common.ErrNotFound
}

// Count returns the number of loaded descriptors.
func (s *FileStore) Count() int {
	n := 0
	for _, v := range s.byKey {
		n += len(v)
	}
	return n
}

// Descriptors lists every loaded descriptor ordered by org, id and version.
func (s *FileStore) Descriptors() []entity.TemplateDescriptor {
	keys := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []entity.TemplateDescriptor
	for _, k := range keys {
		out = append(out, s.byKey[k]...)
	}
	return out
}

func storeKey(orgID, id string) string { return orgID + "|" + id }

// Chain asks each store in order and returns the first hit.
type Chain []Store

func (c Chain) Get(ctx context.Context, orgID, templateID string, version int) (*entity.TemplateDescriptor, error) {
	var errs []error
	for _, s := range c {
		if s == nil {
			continue
		}
		d, err := s.Get(ctx, orgID, templateID, version)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, common.ErrNotFound
}

// RequestCache memoizes lookups, misses included, for one request.
type RequestCache struct {
	next Store
	mu   sync.Mutex
	hits map[string]cached
}

type cached struct {
	d   *entity.TemplateDescriptor
	err error
}

func NewRequestCache(next Store) *RequestCache {
	return &RequestCache{next: next, hits: map[string]cached{}}
}

func (c *RequestCache) Get(ctx context.Context, orgID, templateID string, version int) (*entity.TemplateDescriptor, error) {
	k := fmt.Sprintf("%s|%s|%d", orgID, strings.ToUpper(templateID), version)
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.hits[k]; ok {
		return h.d, h.err
	}
	d, err := c.next.Get(ctx, orgID, templateID, version)
	if err == nil || errors.Is(err, common.ErrNotFound) {
		c.hits[k] = cached{d: d, err: err}
	}
	return d, err
}
