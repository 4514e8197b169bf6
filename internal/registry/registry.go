// Package registry maps a user-facing session tag to each store's native
// session id. Two-tier storage: a per-tag pointer file rewritten on every
// change (authoritative on read, since native ids can change mid-conversation
// on continuation) and a registry file holding all tags as the durable
// fallback.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Entry maps one session tag to its per-store native session ids.
type Entry struct {
	Tag       string            `json:"tag"`
	NativeIDs map[string]string `json:"nativeIds"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// registryFile is the durable all-tags document.
type registryFile struct {
	Entries map[string]*Entry `json:"entries"`
}

// Registry persists entries under dir: registry.json plus tags/<tag>.json
// pointer files.
type Registry struct {
	dir string
}

// New creates a registry rooted at dir.
func New(dir string) *Registry {
	return &Registry{dir: dir}
}

func (r *Registry) registryPath() string {
	return filepath.Join(r.dir, "registry.json")
}

func (r *Registry) pointerPath(tag string) string {
	return filepath.Join(r.dir, "tags", tag+".json")
}

// Get resolves a tag. The pointer file wins when present (it reflects the
// most recent write); the registry file is the fallback. Returns nil when
// the tag is unknown.
func (r *Registry) Get(tag string) (*Entry, error) {
	entry, err := r.readPointer(tag)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		return entry, nil
	}

	reg, err := r.readRegistry()
	if err != nil {
		return nil, err
	}
	return reg.Entries[tag], nil
}

// RegisterOrUpdate records (or replaces) the native session id a store uses
// for the tag. New tags get a fresh entry; the pointer file is rewritten
// after every change.
func (r *Registry) RegisterOrUpdate(tag, storeID, nativeSessionID string) (*Entry, error) {
	reg, err := r.readRegistry()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry := reg.Entries[tag]
	if entry == nil {
		// Prefer pointer state if the registry write was lost.
		if ptr, err := r.readPointer(tag); err == nil && ptr != nil {
			entry = ptr
		} else {
			entry = &Entry{Tag: tag, NativeIDs: map[string]string{}, CreatedAt: now}
		}
		reg.Entries[tag] = entry
	}
	if entry.NativeIDs == nil {
		entry.NativeIDs = map[string]string{}
	}
	entry.NativeIDs[storeID] = nativeSessionID
	entry.UpdatedAt = now

	if err := r.writeRegistry(reg); err != nil {
		return nil, err
	}
	if err := r.writePointer(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns all entries sorted by tag.
func (r *Registry) List() ([]*Entry, error) {
	reg, err := r.readRegistry()
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(reg.Entries))
	for _, e := range reg.Entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Tag < entries[j].Tag })
	return entries, nil
}

func (r *Registry) readPointer(tag string) (*Entry, error) {
	data, err := os.ReadFile(r.pointerPath(tag))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading pointer for tag %s: %w", tag, err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parsing pointer for tag %s: %w", tag, err)
	}
	return &entry, nil
}

func (r *Registry) writePointer(entry *Entry) error {
	path := r.pointerPath(entry.Tag)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating pointer directory: %w", err)
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding pointer for tag %s: %w", entry.Tag, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing pointer for tag %s: %w", entry.Tag, err)
	}
	return os.Rename(tmp, path)
}

func (r *Registry) readRegistry() (*registryFile, error) {
	data, err := os.ReadFile(r.registryPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &registryFile{Entries: map[string]*Entry{}}, nil
		}
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	var reg registryFile
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parsing registry: %w", err)
	}
	if reg.Entries == nil {
		reg.Entries = map[string]*Entry{}
	}
	return &reg, nil
}

func (r *Registry) writeRegistry(reg *registryFile) error {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}
	tmp := r.registryPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	return os.Rename(tmp, r.registryPath())
}
